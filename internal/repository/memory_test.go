package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"spotex/internal/models"
)

// ============================================================
// MemoryStore Tests
// ============================================================

func limitOrder(owner int64, side models.Side, qty, price string) *models.Order {
	return &models.Order{
		OwnerID:  owner,
		Symbol:   "BTCUSDT",
		Side:     side,
		Type:     models.OrderTypeLimit,
		Quantity: dec(qty),
		Price:    decimal.NewNullDecimal(dec(price)),
	}
}

// restingOrder создает ордер и переводит его в open
func restingOrder(t *testing.T, s *MemoryStore, o *models.Order) *models.Order {
	t.Helper()
	ctx := context.Background()
	if err := s.Orders().Create(ctx, o); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	opened, err := s.Orders().SetStatus(ctx, o.ID, models.OrderStatusOpen)
	if err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	return opened
}

func TestMemoryLedger_LockUnlock(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	w := s.Wallets()

	if err := w.Credit(ctx, 1, "USDT", dec("100")); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if err := w.Lock(ctx, 1, "USDT", dec("150")); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := w.Lock(ctx, 1, "USDT", dec("60")); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if err := w.Unlock(ctx, 1, "USDT", dec("61")); !errors.Is(err, ErrInvalidRelease) {
		t.Errorf("expected ErrInvalidRelease, got %v", err)
	}
	if err := w.Unlock(ctx, 1, "USDT", dec("20")); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}

	b, _ := w.Get(ctx, 1, "USDT")
	if !b.Available.Equal(dec("60")) || !b.Locked.Equal(dec("40")) {
		t.Errorf("expected 60/40, got %s/%s", b.Available, b.Locked)
	}

	// отсутствующий кошелёк
	empty, err := w.Get(ctx, 2, "BTC")
	if err != nil || !empty.Total().IsZero() {
		t.Errorf("expected zero balance, got %+v, %v", empty, err)
	}
}

func TestMemoryLedger_SettleIsAtomic(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	w := s.Wallets()

	_ = w.Credit(ctx, 1, "USDT", dec("100"))

	_, err := w.Settle(ctx, []models.BalanceDelta{
		{OwnerID: 1, Asset: "USDT", Available: dec("-50")},
		{OwnerID: 2, Asset: "USDT", Available: dec("50")},
		{OwnerID: 3, Asset: "BTC", Available: dec("-1")},
	})
	if !errors.Is(err, ErrNegativeBalance) {
		t.Fatalf("expected ErrNegativeBalance, got %v", err)
	}

	b1, _ := w.Get(ctx, 1, "USDT")
	b2, _ := w.Get(ctx, 2, "USDT")
	if !b1.Available.Equal(dec("100")) || !b2.Available.IsZero() {
		t.Errorf("partial settle leaked: %s / %s", b1.Available, b2.Available)
	}

	balances, err := w.Settle(ctx, []models.BalanceDelta{
		{OwnerID: 1, Asset: "USDT", Available: dec("-50")},
		{OwnerID: 2, Asset: "USDT", Available: dec("50")},
	})
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if len(balances) != 2 || !balances[1].Available.Equal(dec("50")) {
		t.Errorf("unexpected balances: %+v", balances)
	}
}

func TestMemoryStore_WithinTxRollback(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Wallets().Credit(ctx, 1, "USDT", dec("100"))

	wantErr := errors.New("abort")
	var orderID int64
	err := s.WithinTx(ctx, func(tx Tx) error {
		if err := tx.Wallets().Lock(ctx, 1, "USDT", dec("30")); err != nil {
			return err
		}
		o := limitOrder(1, models.SideBuy, "1", "30")
		o.LockedAmount = dec("30")
		if err := tx.Orders().Create(ctx, o); err != nil {
			return err
		}
		orderID = o.ID
		if err := tx.Trades().Create(ctx, &models.Trade{Symbol: "BTCUSDT", Quantity: dec("1"), Price: dec("1")}); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}

	b, _ := s.Wallets().Get(ctx, 1, "USDT")
	if !b.Available.Equal(dec("100")) || !b.Locked.IsZero() {
		t.Errorf("lock not rolled back: %s/%s", b.Available, b.Locked)
	}
	if _, err := s.Orders().GetByID(ctx, orderID); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("order must be rolled back, got %v", err)
	}
	if trades, _ := s.Trades().ListBySymbol(ctx, "BTCUSDT", 10); len(trades) != 0 {
		t.Errorf("trade must be rolled back, got %d", len(trades))
	}
}

func TestMemoryStore_WithinTxRollbackOnPanic(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Wallets().Credit(ctx, 1, "USDT", dec("100"))

	func() {
		defer func() { _ = recover() }()
		_ = s.WithinTx(ctx, func(tx Tx) error {
			_ = tx.Wallets().Lock(ctx, 1, "USDT", dec("100"))
			panic("boom")
		})
	}()

	b, _ := s.Wallets().Get(ctx, 1, "USDT")
	if !b.Available.Equal(dec("100")) {
		t.Errorf("lock not rolled back after panic: %s", b.Available)
	}

	// мьютекс должен быть освобождён
	if err := s.Wallets().Lock(ctx, 1, "USDT", dec("1")); err != nil {
		t.Errorf("store unusable after panic: %v", err)
	}
}

func TestMemoryStore_WithinTxCancelledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.WithinTx(ctx, func(tx Tx) error {
		t.Fatal("fn must not run")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestMemoryOrders_ListRestingPriceTimePriority(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a := restingOrder(t, s, limitOrder(1, models.SideSell, "1", "30100"))
	b := restingOrder(t, s, limitOrder(2, models.SideSell, "1", "30000"))
	c := restingOrder(t, s, limitOrder(3, models.SideSell, "1", "30000"))
	restingOrder(t, s, limitOrder(4, models.SideBuy, "1", "29000"))

	asks, err := s.Orders().ListResting(ctx, "BTCUSDT", models.SideSell, decimal.NullDecimal{}, 10)
	if err != nil {
		t.Fatalf("ListResting failed: %v", err)
	}

	want := []int64{b.ID, c.ID, a.ID}
	if len(asks) != len(want) {
		t.Fatalf("expected %d asks, got %d", len(want), len(asks))
	}
	for i, id := range want {
		if asks[i].ID != id {
			t.Errorf("position %d: expected order %d, got %d", i, id, asks[i].ID)
		}
	}

	// лимит цены отсекает дорогие заявки
	capped, _ := s.Orders().ListResting(ctx, "BTCUSDT", models.SideSell, decimal.NewNullDecimal(dec("30000")), 10)
	if len(capped) != 2 {
		t.Errorf("expected 2 asks at or below 30000, got %d", len(capped))
	}

	// пакет ограничен limit
	batch, _ := s.Orders().ListResting(ctx, "BTCUSDT", models.SideSell, decimal.NullDecimal{}, 1)
	if len(batch) != 1 || batch[0].ID != b.ID {
		t.Errorf("unexpected batch: %+v", batch)
	}
}

func TestMemoryOrders_FillLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	orders := s.Orders()

	o := restingOrder(t, s, limitOrder(1, models.SideSell, "1", "30000"))

	partial, err := orders.RecordFill(ctx, o.ID, dec("0.4"))
	if err != nil {
		t.Fatalf("RecordFill failed: %v", err)
	}
	if partial.Status != models.OrderStatusPartial {
		t.Errorf("expected partial, got %s", partial.Status)
	}

	if _, err := orders.RecordFill(ctx, o.ID, dec("0.7")); !errors.Is(err, ErrInvalidState) {
		t.Errorf("overfill must fail with ErrInvalidState, got %v", err)
	}

	filled, err := orders.RecordFill(ctx, o.ID, dec("0.6"))
	if err != nil {
		t.Fatalf("RecordFill failed: %v", err)
	}
	if filled.Status != models.OrderStatusFilled {
		t.Errorf("expected filled, got %s", filled.Status)
	}

	// исполненный ордер уходит из стакана
	asks, _ := orders.ListResting(ctx, "BTCUSDT", models.SideSell, decimal.NullDecimal{}, 10)
	if len(asks) != 0 {
		t.Errorf("filled order still resting: %+v", asks)
	}

	if _, err := orders.RecordFill(ctx, o.ID, dec("0.1")); !errors.Is(err, ErrInvalidState) {
		t.Errorf("fill of terminal order must fail, got %v", err)
	}
	if _, err := orders.RecordFill(ctx, 999, dec("0.1")); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestMemoryOrders_Cancel(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	orders := s.Orders()

	o := limitOrder(1, models.SideBuy, "1", "30000")
	o.LockedAmount = dec("30000")
	o = restingOrder(t, s, o)

	cancelled, released, err := orders.Cancel(ctx, o.ID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != models.OrderStatusCancelled || !cancelled.LockedAmount.IsZero() {
		t.Errorf("unexpected cancelled order: %+v", cancelled)
	}
	if !released.Equal(dec("30000")) {
		t.Errorf("expected released 30000, got %s", released)
	}

	if _, _, err := orders.Cancel(ctx, o.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second cancel must fail with ErrInvalidState, got %v", err)
	}

	pending := limitOrder(1, models.SideBuy, "1", "30000")
	_ = orders.Create(ctx, pending)
	if _, _, err := orders.Cancel(ctx, pending.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("pending order is not resting, got %v", err)
	}
}

func TestMemoryOrders_ReleaseLocked(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	o := limitOrder(1, models.SideBuy, "1", "100")
	o.LockedAmount = dec("100")
	_ = s.Orders().Create(ctx, o)

	if err := s.Orders().ReleaseLocked(ctx, o.ID, dec("101")); !errors.Is(err, ErrInvalidRelease) {
		t.Errorf("expected ErrInvalidRelease, got %v", err)
	}
	if err := s.Orders().ReleaseLocked(ctx, o.ID, dec("40")); err != nil {
		t.Fatalf("ReleaseLocked failed: %v", err)
	}

	got, _ := s.Orders().GetByID(ctx, o.ID)
	if !got.LockedAmount.Equal(dec("60")) {
		t.Errorf("expected locked 60, got %s", got.LockedAmount)
	}
}

func TestMemoryOrders_Depth(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	restingOrder(t, s, limitOrder(1, models.SideBuy, "1", "29000"))
	restingOrder(t, s, limitOrder(2, models.SideBuy, "0.5", "29500"))
	restingOrder(t, s, limitOrder(3, models.SideBuy, "2", "29000"))
	restingOrder(t, s, limitOrder(4, models.SideBuy, "1", "28000"))

	levels, err := s.Orders().Depth(ctx, "BTCUSDT", models.SideBuy, 2)
	if err != nil {
		t.Fatalf("Depth failed: %v", err)
	}
	if len(levels) != 2 {
		t.Fatalf("expected 2 levels, got %d", len(levels))
	}
	if !levels[0].Price.Equal(dec("29500")) || !levels[1].Price.Equal(dec("29000")) {
		t.Errorf("bids must be sorted by price desc: %+v", levels)
	}
	if !levels[1].Quantity.Equal(dec("3")) || levels[1].Orders != 2 {
		t.Errorf("unexpected aggregation: %+v", levels[1])
	}
}

func TestMemoryOrders_ListByOwnerAndPending(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = s.Orders().Create(ctx, limitOrder(1, models.SideBuy, "1", "100"))
	}
	restingOrder(t, s, limitOrder(1, models.SideSell, "1", "200"))
	_ = s.Orders().Create(ctx, limitOrder(2, models.SideBuy, "1", "100"))

	page, err := s.Orders().ListByOwner(ctx, 1, models.OrderFilter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("ListByOwner failed: %v", err)
	}
	if len(page) != 2 || page[0].ID <= page[1].ID {
		t.Errorf("expected 2 orders newest first, got %+v", page)
	}

	open, _ := s.Orders().ListByOwner(ctx, 1, models.OrderFilter{Status: models.OrderStatusOpen})
	if len(open) != 1 {
		t.Errorf("expected 1 open order, got %d", len(open))
	}

	pending, _ := s.Orders().ListPending(ctx)
	if len(pending) != 6 {
		t.Fatalf("expected 6 pending orders, got %d", len(pending))
	}
	for i := 1; i < len(pending); i++ {
		if pending[i-1].ID > pending[i].ID {
			t.Error("pending orders must be oldest first")
		}
	}
}

func TestMemoryTrades(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	start := time.Now().UTC().Add(-time.Minute)

	prices := []string{"100", "120", "90"}
	for i, p := range prices {
		err := s.Trades().Create(ctx, &models.Trade{
			Symbol:   "BTCUSDT",
			BuyerID:  1,
			SellerID: int64(2 + i),
			Quantity: dec("2"),
			Price:    dec(p),
		})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	_ = s.Trades().Create(ctx, &models.Trade{Symbol: "ETHUSDT", BuyerID: 5, SellerID: 6, Quantity: dec("1"), Price: dec("10")})

	recent, _ := s.Trades().ListBySymbol(ctx, "BTCUSDT", 2)
	if len(recent) != 2 || !recent[0].Price.Equal(dec("90")) {
		t.Errorf("expected newest BTCUSDT trades first, got %+v", recent)
	}

	mine, _ := s.Trades().ListByOwner(ctx, 3, models.TradeFilter{})
	if len(mine) != 1 || mine[0].SellerID != 3 {
		t.Errorf("unexpected owner trades: %+v", mine)
	}

	stats, err := s.Trades().Stats(ctx, "BTCUSDT", start)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Trades != 3 || !stats.High.Equal(dec("120")) || !stats.Low.Equal(dec("90")) || !stats.Last.Equal(dec("90")) {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if !stats.Open.Equal(dec("100")) {
		t.Errorf("expected open 100, got %s", stats.Open)
	}
	if !stats.Volume.Equal(dec("6")) || !stats.QuoteVolume.Equal(dec("620")) {
		t.Errorf("unexpected volume: %s / %s", stats.Volume, stats.QuoteVolume)
	}
}

func TestMemoryTransfers_DuplicateHash(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	tr := &models.Transfer{OwnerID: 1, Type: models.TransferDeposit, Asset: "BTC", Amount: dec("1"), TxHash: "0x01", Status: models.TransferCompleted}
	if err := s.Transfers().Create(ctx, tr); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	dup := *tr
	if err := s.Transfers().Create(ctx, &dup); !errors.Is(err, ErrDuplicateTransfer) {
		t.Errorf("expected ErrDuplicateTransfer, got %v", err)
	}

	list, _ := s.Transfers().ListByOwner(ctx, 1, models.TransferFilter{Asset: "BTC"})
	if len(list) != 1 {
		t.Errorf("expected 1 transfer, got %d", len(list))
	}
}
