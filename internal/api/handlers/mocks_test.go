package handlers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"spotex/internal/api/middleware"
	"spotex/internal/models"
	"spotex/internal/service"
)

// ErrMockDatabase - ошибка хранилища в моках
var ErrMockDatabase = errors.New("mock database error")

// ============ Mock Order Service ============

// MockOrderService мок для OrderServiceInterface
type MockOrderService struct {
	mu sync.Mutex

	placed    []*service.PlaceOrderRequest
	lastOwner int64
	listReq   *service.ListOrdersRequest
	tradesReq *service.ListTradesRequest

	order  *models.Order
	orders []*models.Order
	trades []*models.Trade
	err    error
}

func (m *MockOrderService) PlaceOrder(ctx context.Context, ownerID int64, req *service.PlaceOrderRequest) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placed = append(m.placed, req)
	m.lastOwner = ownerID
	if m.err != nil {
		return nil, m.err
	}
	return m.order, nil
}

func (m *MockOrderService) CancelOrder(ctx context.Context, ownerID, orderID int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastOwner = ownerID
	if m.err != nil {
		return nil, m.err
	}
	return &models.Order{ID: orderID, OwnerID: ownerID, Status: models.OrderStatusCancelled}, nil
}

func (m *MockOrderService) GetOrder(ctx context.Context, ownerID, orderID int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastOwner = ownerID
	if m.err != nil {
		return nil, m.err
	}
	return &models.Order{ID: orderID, OwnerID: ownerID, Status: models.OrderStatusOpen}, nil
}

func (m *MockOrderService) ListOrders(ctx context.Context, ownerID int64, req *service.ListOrdersRequest) ([]*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastOwner = ownerID
	m.listReq = req
	if m.err != nil {
		return nil, m.err
	}
	return m.orders, nil
}

func (m *MockOrderService) ListTrades(ctx context.Context, ownerID int64, req *service.ListTradesRequest) ([]*models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastOwner = ownerID
	m.tradesReq = req
	if m.err != nil {
		return nil, m.err
	}
	return m.trades, nil
}

// ============ Mock Wallet Service ============

// MockWalletService мок для WalletServiceInterface
type MockWalletService struct {
	lastAsset  string
	deposit    *service.DepositRequest
	withdrawal *service.WithdrawRequest
	balances   []*models.Balance
	err        error
}

func (m *MockWalletService) Deposit(ctx context.Context, ownerID int64, asset string, req *service.DepositRequest) (*models.Transfer, error) {
	m.lastAsset, m.deposit = asset, req
	if m.err != nil {
		return nil, m.err
	}
	return &models.Transfer{ID: 1, OwnerID: ownerID, Asset: asset, Type: models.TransferDeposit, Status: models.TransferCompleted}, nil
}

func (m *MockWalletService) Withdraw(ctx context.Context, ownerID int64, asset string, req *service.WithdrawRequest) (*models.Transfer, error) {
	m.lastAsset, m.withdrawal = asset, req
	if m.err != nil {
		return nil, m.err
	}
	return &models.Transfer{ID: 2, OwnerID: ownerID, Asset: asset, Type: models.TransferWithdrawal, Status: models.TransferCompleted}, nil
}

func (m *MockWalletService) GetBalances(ctx context.Context, ownerID int64) ([]*models.Balance, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.balances, nil
}

func (m *MockWalletService) GetBalance(ctx context.Context, ownerID int64, asset string) (*models.Balance, error) {
	m.lastAsset = asset
	if m.err != nil {
		return nil, m.err
	}
	return &models.Balance{OwnerID: ownerID, Asset: asset}, nil
}

func (m *MockWalletService) ListTransfers(ctx context.Context, ownerID int64, asset string, limit, offset int) ([]*models.Transfer, error) {
	m.lastAsset = asset
	if m.err != nil {
		return nil, m.err
	}
	return []*models.Transfer{}, nil
}

func (m *MockWalletService) WithdrawalFee(asset string) decimal.Decimal {
	return decimal.NewFromInt(1)
}

// ============ Mock Market Service ============

// MockMarketService мок для MarketServiceInterface
type MockMarketService struct {
	lastSymbol string
	lastDepth  int
	lastLimit  int
	err        error
}

func (m *MockMarketService) ListMarkets() []models.Symbol {
	return []models.Symbol{{Name: "BTCUSDT", Base: "BTC", Quote: "USDT"}}
}

func (m *MockMarketService) GetOrderBook(ctx context.Context, symbol string, depth int) (*models.OrderBook, error) {
	m.lastSymbol, m.lastDepth = symbol, depth
	if m.err != nil {
		return nil, m.err
	}
	return &models.OrderBook{Symbol: symbol, Bids: []models.PriceLevel{}, Asks: []models.PriceLevel{}}, nil
}

func (m *MockMarketService) RecentTrades(ctx context.Context, symbol string, limit int) ([]*models.PublicTrade, error) {
	m.lastSymbol, m.lastLimit = symbol, limit
	if m.err != nil {
		return nil, m.err
	}
	return []*models.PublicTrade{{ID: 1, Symbol: symbol}}, nil
}

func (m *MockMarketService) Ticker(ctx context.Context, symbol string) (*service.Ticker, error) {
	m.lastSymbol = symbol
	if m.err != nil {
		return nil, m.err
	}
	return &service.Ticker{MarketStats: models.MarketStats{Symbol: symbol, Trades: 3}}, nil
}

var (
	_ service.OrderServiceInterface  = (*MockOrderService)(nil)
	_ service.WalletServiceInterface = (*MockWalletService)(nil)
	_ service.MarketServiceInterface = (*MockMarketService)(nil)
)

// ============ Helpers ============

// newRequest собирает запрос с владельцем и переменными маршрута
func newRequest(method, target, body string, owner int64, vars map[string]string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if owner > 0 {
		req = req.WithContext(middleware.WithOwner(req.Context(), owner))
	}
	if vars != nil {
		req = mux.SetURLVars(req, vars)
	}
	return req
}

func decodeError(body *bytes.Buffer) ErrorResponse {
	var resp ErrorResponse
	json.NewDecoder(body).Decode(&resp)
	return resp
}
