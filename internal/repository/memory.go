package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"spotex/internal/models"
)

// ============================================================
// MemoryStore
// ============================================================

// MemoryStore - хранилище в памяти для разработки и тестов
//
// Все операции сериализуются одним мьютексом. WithinTx держит мьютекс
// на всё время fn и ведёт журнал отката: при ошибке изменения
// откатываются в обратном порядке. Внутри fn нельзя обращаться к
// методам самого MemoryStore, только к переданному Tx.
type MemoryStore struct {
	memScope

	mu        sync.Mutex
	wallets   map[models.BalanceKey]models.Balance
	orders    map[int64]*models.Order
	books     map[bookKey][]*models.Order
	trades    []*models.Trade
	transfers []*models.Transfer
	txHashes  map[string]struct{}

	nextOrderID    int64
	nextTradeID    int64
	nextTransferID int64
}

// bookKey - одна сторона стакана одной пары
type bookKey struct {
	symbol string
	side   models.Side
}

// NewMemoryStore создает пустое хранилище
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		wallets:  make(map[models.BalanceKey]models.Balance),
		orders:   make(map[int64]*models.Order),
		books:    make(map[bookKey][]*models.Order),
		txHashes: make(map[string]struct{}),
	}
	s.memScope = memScope{memRepo{s: s}}
	return s
}

// WithinTx выполняет fn под мьютексом; ошибка или паника откатывают изменения
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()

	if err := fn(memScope{memRepo{s: s, tx: tx}}); err != nil {
		return err
	}

	committed = true
	return nil
}

// run выполняет op в транзакции tx или, если tx == nil, в отдельной
func (s *MemoryStore) run(tx *memTx, op func(tx *memTx) error) error {
	if tx != nil {
		return op(tx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	local := &memTx{s: s}
	if err := op(local); err != nil {
		local.rollback()
		return err
	}
	return nil
}

// memTx - журнал отката
type memTx struct {
	s    *MemoryStore
	undo []func()
}

func (t *memTx) onRollback(fn func()) {
	t.undo = append(t.undo, fn)
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) setBalance(b models.Balance) {
	s := t.s
	key := models.BalanceKey{OwnerID: b.OwnerID, Asset: b.Asset}
	prev, existed := s.wallets[key]
	s.wallets[key] = b

	t.onRollback(func() {
		if existed {
			s.wallets[key] = prev
		} else {
			delete(s.wallets, key)
		}
	})
}

func (t *memTx) putOrder(o *models.Order) {
	s := t.s
	prev, existed := s.orders[o.ID]
	var saved models.Order
	if existed {
		saved = *prev
	}
	s.storeOrder(o)

	id := o.ID
	t.onRollback(func() {
		if existed {
			s.storeOrder(&saved)
		} else {
			s.dropOrder(id)
		}
	})
}

// storeOrder сохраняет копию ордера и поддерживает индекс стакана
func (s *MemoryStore) storeOrder(o *models.Order) {
	if cur, ok := s.orders[o.ID]; ok && cur.IsResting() {
		s.unindex(cur)
	}
	stored := o.Clone()
	s.orders[o.ID] = stored
	if stored.IsResting() {
		s.index(stored)
	}
}

func (s *MemoryStore) dropOrder(id int64) {
	if cur, ok := s.orders[id]; ok {
		if cur.IsResting() {
			s.unindex(cur)
		}
		delete(s.orders, id)
	}
}

// bookPriority: лучшая цена первой, при равной цене - раньше созданный
func bookPriority(a, b *models.Order) bool {
	if !a.Price.Decimal.Equal(b.Price.Decimal) {
		if a.Side == models.SideBuy {
			return a.Price.Decimal.GreaterThan(b.Price.Decimal)
		}
		return a.Price.Decimal.LessThan(b.Price.Decimal)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (s *MemoryStore) index(o *models.Order) {
	key := bookKey{o.Symbol, o.Side}
	book := s.books[key]
	i := sort.Search(len(book), func(i int) bool { return !bookPriority(book[i], o) })
	book = append(book, nil)
	copy(book[i+1:], book[i:])
	book[i] = o
	s.books[key] = book
}

func (s *MemoryStore) unindex(o *models.Order) {
	key := bookKey{o.Symbol, o.Side}
	book := s.books[key]
	i := sort.Search(len(book), func(i int) bool { return !bookPriority(book[i], o) })
	for ; i < len(book); i++ {
		if book[i].ID == o.ID {
			s.books[key] = append(book[:i], book[i+1:]...)
			return
		}
	}
}

// ============================================================
// Репозитории поверх MemoryStore
// ============================================================

type memRepo struct {
	s  *MemoryStore
	tx *memTx
}

func (r memRepo) run(op func(tx *memTx) error) error {
	return r.s.run(r.tx, op)
}

type memScope struct {
	r memRepo
}

func (m memScope) Wallets() Ledger          { return memLedger{m.r} }
func (m memScope) Orders() OrderStore       { return memOrders{m.r} }
func (m memScope) Trades() TradeStore       { return memTrades{m.r} }
func (m memScope) Transfers() TransferStore { return memTransfers{m.r} }

// ---------- Ledger ----------

type memLedger struct {
	memRepo
}

func (l memLedger) balance(ownerID int64, asset string) models.Balance {
	if b, ok := l.s.wallets[models.BalanceKey{OwnerID: ownerID, Asset: asset}]; ok {
		return b
	}
	return models.Balance{OwnerID: ownerID, Asset: asset}
}

func (l memLedger) Get(ctx context.Context, ownerID int64, asset string) (*models.Balance, error) {
	var out models.Balance
	err := l.run(func(tx *memTx) error {
		out = l.balance(ownerID, asset)
		return nil
	})
	return &out, err
}

func (l memLedger) ListByOwner(ctx context.Context, ownerID int64) ([]*models.Balance, error) {
	var out []*models.Balance
	err := l.run(func(tx *memTx) error {
		for key, b := range l.s.wallets {
			if key.OwnerID == ownerID {
				b := b
				out = append(out, &b)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, err
}

func (l memLedger) Lock(ctx context.Context, ownerID int64, asset string, amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	return l.run(func(tx *memTx) error {
		b := l.balance(ownerID, asset)
		if b.Available.LessThan(amount) {
			return ErrInsufficientBalance
		}
		b.Available = b.Available.Sub(amount)
		b.Locked = b.Locked.Add(amount)
		b.UpdatedAt = time.Now().UTC()
		tx.setBalance(b)
		return nil
	})
}

func (l memLedger) Unlock(ctx context.Context, ownerID int64, asset string, amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	return l.run(func(tx *memTx) error {
		b := l.balance(ownerID, asset)
		if b.Locked.LessThan(amount) {
			return ErrInvalidRelease
		}
		b.Available = b.Available.Add(amount)
		b.Locked = b.Locked.Sub(amount)
		b.UpdatedAt = time.Now().UTC()
		tx.setBalance(b)
		return nil
	})
}

func (l memLedger) Credit(ctx context.Context, ownerID int64, asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return l.run(func(tx *memTx) error {
		b := l.balance(ownerID, asset)
		b.Available = b.Available.Add(amount)
		b.UpdatedAt = time.Now().UTC()
		tx.setBalance(b)
		return nil
	})
}

func (l memLedger) Debit(ctx context.Context, ownerID int64, asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return l.run(func(tx *memTx) error {
		b := l.balance(ownerID, asset)
		if b.Available.LessThan(amount) {
			return ErrInsufficientBalance
		}
		b.Available = b.Available.Sub(amount)
		b.UpdatedAt = time.Now().UTC()
		tx.setBalance(b)
		return nil
	})
}

func (l memLedger) Settle(ctx context.Context, deltas []models.BalanceDelta) ([]*models.Balance, error) {
	merged := models.MergeDeltas(deltas)
	var out []*models.Balance

	err := l.run(func(tx *memTx) error {
		now := time.Now().UTC()
		next := make([]models.Balance, 0, len(merged))

		// сначала проверяем все изменения, затем применяем
		for _, d := range merged {
			if d.Available.IsZero() && d.Locked.IsZero() {
				continue
			}
			b := l.balance(d.OwnerID, d.Asset)
			b.Available = b.Available.Add(d.Available)
			b.Locked = b.Locked.Add(d.Locked)
			if b.Available.IsNegative() || b.Locked.IsNegative() {
				return fmt.Errorf("%w: owner %d asset %s", ErrNegativeBalance, d.OwnerID, d.Asset)
			}
			b.UpdatedAt = now
			next = append(next, b)
		}

		for i := range next {
			tx.setBalance(next[i])
			b := next[i]
			out = append(out, &b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ---------- OrderStore ----------

type memOrders struct {
	memRepo
}

func (m memOrders) get(id int64) (*models.Order, error) {
	o, ok := m.s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

func (m memOrders) Create(ctx context.Context, order *models.Order) error {
	return m.run(func(tx *memTx) error {
		m.s.nextOrderID++
		order.ID = m.s.nextOrderID
		if order.Status == "" {
			order.Status = models.OrderStatusPending
		}
		order.CreatedAt = time.Now().UTC()
		order.UpdatedAt = order.CreatedAt
		tx.putOrder(order)
		return nil
	})
}

func (m memOrders) GetByID(ctx context.Context, id int64) (*models.Order, error) {
	var out *models.Order
	err := m.run(func(tx *memTx) error {
		o, err := m.get(id)
		if err != nil {
			return err
		}
		out = o.Clone()
		return nil
	})
	return out, err
}

func (m memOrders) RecordFill(ctx context.Context, id int64, quantity decimal.Decimal) (*models.Order, error) {
	if !quantity.IsPositive() {
		return nil, fmt.Errorf("%w: fill quantity must be positive", ErrInvalidState)
	}

	var out *models.Order
	err := m.run(func(tx *memTx) error {
		o, err := m.get(id)
		if err != nil {
			return err
		}
		if o.Status.IsTerminal() {
			return fmt.Errorf("%w: order %d is %s", ErrInvalidState, id, o.Status)
		}

		filled := o.FilledQuantity.Add(quantity)
		if filled.GreaterThan(o.Quantity) {
			return fmt.Errorf("%w: fill exceeds quantity of order %d", ErrInvalidState, id)
		}

		out = o.Clone()
		out.FilledQuantity = filled
		out.Status = models.OrderStatusPartial
		if filled.Equal(o.Quantity) {
			out.Status = models.OrderStatusFilled
		}
		out.UpdatedAt = time.Now().UTC()
		tx.putOrder(out)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out.Clone(), nil
}

func (m memOrders) ReleaseLocked(ctx context.Context, id int64, amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	return m.run(func(tx *memTx) error {
		o, err := m.get(id)
		if err != nil {
			return err
		}
		if o.LockedAmount.LessThan(amount) {
			return ErrInvalidRelease
		}
		updated := o.Clone()
		updated.LockedAmount = o.LockedAmount.Sub(amount)
		updated.UpdatedAt = time.Now().UTC()
		tx.putOrder(updated)
		return nil
	})
}

func (m memOrders) SetStatus(ctx context.Context, id int64, status models.OrderStatus) (*models.Order, error) {
	var out *models.Order
	err := m.run(func(tx *memTx) error {
		o, err := m.get(id)
		if err != nil {
			return err
		}
		if !models.CanTransition(o.Status, status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidState, o.Status, status)
		}
		out = o.Clone()
		out.Status = status
		out.UpdatedAt = time.Now().UTC()
		tx.putOrder(out)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out.Clone(), nil
}

func (m memOrders) Cancel(ctx context.Context, id int64) (*models.Order, decimal.Decimal, error) {
	var out *models.Order
	var released decimal.Decimal
	err := m.run(func(tx *memTx) error {
		o, err := m.get(id)
		if err != nil {
			return err
		}
		if !o.IsResting() {
			return fmt.Errorf("%w: order %d is %s", ErrInvalidState, id, o.Status)
		}
		released = o.LockedAmount
		out = o.Clone()
		out.Status = models.OrderStatusCancelled
		out.LockedAmount = decimal.Zero
		out.UpdatedAt = time.Now().UTC()
		tx.putOrder(out)
		return nil
	})
	if err != nil {
		return nil, decimal.Zero, err
	}
	return out.Clone(), released, nil
}

func (m memOrders) ListResting(ctx context.Context, symbol string, side models.Side, limitPrice decimal.NullDecimal, limit int) ([]*models.Order, error) {
	var out []*models.Order
	err := m.run(func(tx *memTx) error {
		for _, o := range m.s.books[bookKey{symbol, side}] {
			if len(out) >= limit {
				break
			}
			if limitPrice.Valid {
				p := o.Price.Decimal
				if side == models.SideSell && p.GreaterThan(limitPrice.Decimal) {
					break
				}
				if side == models.SideBuy && p.LessThan(limitPrice.Decimal) {
					break
				}
			}
			out = append(out, o.Clone())
		}
		return nil
	})
	return out, err
}

func (m memOrders) Depth(ctx context.Context, symbol string, side models.Side, levels int) ([]models.PriceLevel, error) {
	result := make([]models.PriceLevel, 0, levels)
	err := m.run(func(tx *memTx) error {
		for _, o := range m.s.books[bookKey{symbol, side}] {
			n := len(result)
			if n > 0 && result[n-1].Price.Equal(o.Price.Decimal) {
				result[n-1].Quantity = result[n-1].Quantity.Add(o.Remaining())
				result[n-1].Orders++
				continue
			}
			if n >= levels {
				break
			}
			result = append(result, models.PriceLevel{Price: o.Price.Decimal, Quantity: o.Remaining(), Orders: 1})
		}
		return nil
	})
	return result, err
}

func (m memOrders) ListByOwner(ctx context.Context, ownerID int64, filter models.OrderFilter) ([]*models.Order, error) {
	limit, offset := pageBounds(filter.Limit, filter.Offset)

	var all []*models.Order
	err := m.run(func(tx *memTx) error {
		for _, o := range m.s.orders {
			if o.OwnerID != ownerID {
				continue
			}
			if filter.Symbol != "" && o.Symbol != filter.Symbol {
				continue
			}
			if filter.Status != "" && o.Status != filter.Status {
				continue
			}
			all = append(all, o.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	return paginate(all, limit, offset), nil
}

func (m memOrders) ListPending(ctx context.Context) ([]*models.Order, error) {
	var out []*models.Order
	err := m.run(func(tx *memTx) error {
		for _, o := range m.s.orders {
			if o.Status == models.OrderStatusPending {
				out = append(out, o.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

// ---------- TradeStore ----------

type memTrades struct {
	memRepo
}

func (m memTrades) Create(ctx context.Context, trade *models.Trade) error {
	return m.run(func(tx *memTx) error {
		s := m.s
		s.nextTradeID++
		trade.ID = s.nextTradeID
		if trade.CreatedAt.IsZero() {
			trade.CreatedAt = time.Now().UTC()
		}

		n := len(s.trades)
		stored := *trade
		s.trades = append(s.trades, &stored)
		tx.onRollback(func() { s.trades = s.trades[:n] })
		return nil
	})
}

// newestTrades обходит сделки от последней к первой
func (m memTrades) newestTrades(match func(t *models.Trade) bool, limit, offset int) []*models.Trade {
	var out []*models.Trade
	skipped := 0
	for i := len(m.s.trades) - 1; i >= 0 && len(out) < limit; i-- {
		t := m.s.trades[i]
		if !match(t) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		c := *t
		out = append(out, &c)
	}
	return out
}

func (m memTrades) ListByOwner(ctx context.Context, ownerID int64, filter models.TradeFilter) ([]*models.Trade, error) {
	limit, offset := pageBounds(filter.Limit, filter.Offset)

	var out []*models.Trade
	err := m.run(func(tx *memTx) error {
		out = m.newestTrades(func(t *models.Trade) bool {
			if t.BuyerID != ownerID && t.SellerID != ownerID {
				return false
			}
			return filter.Symbol == "" || t.Symbol == filter.Symbol
		}, limit, offset)
		return nil
	})
	return out, err
}

func (m memTrades) ListBySymbol(ctx context.Context, symbol string, limit int) ([]*models.Trade, error) {
	limit, _ = pageBounds(limit, 0)

	var out []*models.Trade
	err := m.run(func(tx *memTx) error {
		out = m.newestTrades(func(t *models.Trade) bool { return t.Symbol == symbol }, limit, 0)
		return nil
	})
	return out, err
}

func (m memTrades) Stats(ctx context.Context, symbol string, since time.Time) (*models.MarketStats, error) {
	stats := &models.MarketStats{Symbol: symbol, Since: since}
	err := m.run(func(tx *memTx) error {
		// сделки лежат в порядке id; при равном времени первая открывает, последняя закрывает
		var openAt, lastAt time.Time
		for _, t := range m.s.trades {
			if t.Symbol != symbol || t.CreatedAt.Before(since) {
				continue
			}
			if stats.Trades == 0 || t.CreatedAt.Before(openAt) {
				stats.Open, openAt = t.Price, t.CreatedAt
			}
			if stats.Trades == 0 || !t.CreatedAt.Before(lastAt) {
				stats.Last, lastAt = t.Price, t.CreatedAt
			}
			if stats.Trades == 0 || t.Price.GreaterThan(stats.High) {
				stats.High = t.Price
			}
			if stats.Trades == 0 || t.Price.LessThan(stats.Low) {
				stats.Low = t.Price
			}
			stats.Trades++
			stats.Volume = stats.Volume.Add(t.Quantity)
			stats.QuoteVolume = stats.QuoteVolume.Add(t.Value())
		}
		return nil
	})
	return stats, err
}

// ---------- TransferStore ----------

type memTransfers struct {
	memRepo
}

func (m memTransfers) Create(ctx context.Context, transfer *models.Transfer) error {
	return m.run(func(tx *memTx) error {
		s := m.s
		if _, dup := s.txHashes[transfer.TxHash]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateTransfer, transfer.TxHash)
		}

		s.nextTransferID++
		transfer.ID = s.nextTransferID
		transfer.CreatedAt = time.Now().UTC()

		n := len(s.transfers)
		stored := *transfer
		s.transfers = append(s.transfers, &stored)
		s.txHashes[transfer.TxHash] = struct{}{}

		hash := transfer.TxHash
		tx.onRollback(func() {
			s.transfers = s.transfers[:n]
			delete(s.txHashes, hash)
		})
		return nil
	})
}

func (m memTransfers) ListByOwner(ctx context.Context, ownerID int64, filter models.TransferFilter) ([]*models.Transfer, error) {
	limit, offset := pageBounds(filter.Limit, filter.Offset)

	var out []*models.Transfer
	err := m.run(func(tx *memTx) error {
		skipped := 0
		for i := len(m.s.transfers) - 1; i >= 0 && len(out) < limit; i-- {
			t := m.s.transfers[i]
			if t.OwnerID != ownerID || (filter.Asset != "" && t.Asset != filter.Asset) {
				continue
			}
			if skipped < offset {
				skipped++
				continue
			}
			c := *t
			out = append(out, &c)
		}
		return nil
	})
	return out, err
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
