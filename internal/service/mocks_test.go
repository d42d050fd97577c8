package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"spotex/internal/engine"
	"spotex/internal/models"
	"spotex/internal/notify"
	"spotex/internal/repository"
)

// ============ Mock OrderEngine ============

type MockEngine struct {
	submitted []engine.OrderRequest
	cancelled []int64
	bookDepth int

	order     *models.Order
	book      *models.OrderBook
	submitErr error
	cancelErr error
	bookErr   error
}

func (m *MockEngine) SubmitOrder(ctx context.Context, req engine.OrderRequest) (*models.Order, error) {
	m.submitted = append(m.submitted, req)
	if m.submitErr != nil {
		return m.order, m.submitErr
	}
	if m.order != nil {
		return m.order, nil
	}
	return &models.Order{
		ID:       1,
		OwnerID:  req.OwnerID,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Type:     req.Type,
		Quantity: req.Quantity,
		Price:    req.Price,
		Status:   models.OrderStatusOpen,
	}, nil
}

func (m *MockEngine) CancelOrder(ctx context.Context, ownerID, orderID int64) (*models.Order, error) {
	m.cancelled = append(m.cancelled, orderID)
	if m.cancelErr != nil {
		return nil, m.cancelErr
	}
	return &models.Order{ID: orderID, OwnerID: ownerID, Status: models.OrderStatusCancelled}, nil
}

func (m *MockEngine) GetOrderBook(ctx context.Context, symbol string, depth int) (*models.OrderBook, error) {
	m.bookDepth = depth
	if m.bookErr != nil {
		return nil, m.bookErr
	}
	if m.book != nil {
		return m.book, nil
	}
	return &models.OrderBook{Symbol: symbol}, nil
}

// ============ Recorder Notifier ============

type recorder struct {
	events []notify.Event
}

func (r *recorder) Publish(ctx context.Context, ev notify.Event) {
	r.events = append(r.events, ev)
}

// ============ Helpers ============

const feeAccount int64 = 1

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testSymbols(t *testing.T) *models.SymbolRegistry {
	t.Helper()
	reg, err := models.NewSymbolRegistry([]string{"BTC/USDT", "ETH/USDT", "ETH/BTC"})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func fund(t *testing.T, store repository.Store, owner int64, asset, amount string) {
	t.Helper()
	if err := store.Wallets().Credit(context.Background(), owner, asset, dec(amount)); err != nil {
		t.Fatalf("credit %d %s: %v", owner, asset, err)
	}
}

func balanceOf(t *testing.T, store repository.Store, owner int64, asset string) *models.Balance {
	t.Helper()
	b, err := store.Wallets().Get(context.Background(), owner, asset)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	return b
}
