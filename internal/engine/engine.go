package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"spotex/internal/models"
	"spotex/internal/notify"
	"spotex/internal/repository"
	"spotex/pkg/utils"
)

// Значения по умолчанию
const (
	DefaultMatchBatch = 100
	DefaultBookDepth  = 20

	// сколько уровней ask просматривается при оценке резерва рыночной покупки
	marketEstimateLevels = 1000
)

// Config - параметры движка
type Config struct {
	// Доля комиссии продавца от объёма сделки в котируемой валюте
	FeeRate decimal.Decimal
	// Счёт, на который зачисляются комиссии
	FeeAccountID int64
	// Сколько встречных ордеров читается за один запрос
	MatchBatch int
	// Глубина снимка стакана для событий orderbook, 0 = не публиковать
	BookDepth int
}

// OrderRequest - заявка на новый ордер
type OrderRequest struct {
	OwnerID  int64
	Symbol   string
	Side     models.Side
	Type     models.OrderType
	Quantity decimal.Decimal
	Price    decimal.NullDecimal
}

type commandKind int

const (
	cmdPlace commandKind = iota
	cmdCancel
)

// command - элемент очереди. reply == nil у команд восстановления.
type command struct {
	kind     commandKind
	orderID  int64
	ownerID  int64
	enqueued time.Time
	reply    chan outcome
}

type outcome struct {
	order *models.Order
	err   error
}

// Engine - торговое ядро
//
// Все изменяющие команды проходят через одну очередь и обрабатываются
// одной горутиной Run: в каждый момент матчится не более одного ордера.
// Резервирование средств при приёме ордера выполняется в вызывающей
// горутине, до постановки в очередь.
//
// Поток данных:
// SubmitOrder → Lock + Create (tx) → Queue → Run → match (tx) → commit → Notifier
type Engine struct {
	store    repository.Store
	symbols  *models.SymbolRegistry
	notifier notify.Notifier
	cfg      Config
	logger   *utils.Logger

	queue    *Queue[command]
	running  atomic.Bool
	stopped  chan struct{}
	stopOnce sync.Once
}

// New создаёт движок. Run нужно запустить отдельно.
func New(store repository.Store, symbols *models.SymbolRegistry, notifier notify.Notifier, cfg Config, logger *utils.Logger) (*Engine, error) {
	if store == nil {
		return nil, errors.New("engine: store is required")
	}
	if symbols == nil {
		return nil, errors.New("engine: symbol registry is required")
	}
	if cfg.FeeRate.IsNegative() || cfg.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("engine: fee rate must be in [0, 1), got %s", cfg.FeeRate)
	}
	if cfg.MatchBatch <= 0 {
		cfg.MatchBatch = DefaultMatchBatch
	}
	if cfg.BookDepth < 0 {
		cfg.BookDepth = 0
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = utils.L()
	}

	return &Engine{
		store:    store,
		symbols:  symbols,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.WithComponent("engine"),
		queue:    NewQueue[command](),
		stopped:  make(chan struct{}),
	}, nil
}

// Run обрабатывает очередь до отмены ctx
//
// Перед первой командой из очереди дообрабатываются ордера, оставшиеся
// в статусе pending после прошлой остановки (средства уже зарезервированы).
// Ордера, не успевшие пройти матчинг к моменту остановки, остаются pending
// и будут подобраны при следующем запуске.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.stopOnce.Do(func() { close(e.stopped) })

	if err := e.recoverPending(ctx); err != nil {
		return err
	}

	e.logger.Info("engine started")
	for {
		cmd, err := e.queue.Pop(ctx)
		if err != nil {
			e.logger.Info("engine stopped", utils.Status(err.Error()))
			return nil
		}
		UpdateQueueDepth(e.queue.Len())
		RecordQueueWait(time.Since(cmd.enqueued))

		order, err := e.execute(ctx, cmd)
		if cmd.reply != nil {
			cmd.reply <- outcome{order: order, err: err}
		}
	}
}

func (e *Engine) recoverPending(ctx context.Context) error {
	pending, err := e.store.Orders().ListPending(ctx)
	if err != nil {
		return fmt.Errorf("list pending orders: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	e.logger.Info("recovering pending orders", utils.Status(fmt.Sprintf("%d pending", len(pending))))
	for _, o := range pending {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := e.place(ctx, o.ID); err != nil {
			e.logger.Warn("pending order recovery failed", utils.OrderID(o.ID), utils.Status(err.Error()))
		}
	}
	return nil
}

func (e *Engine) execute(ctx context.Context, cmd command) (*models.Order, error) {
	switch cmd.kind {
	case cmdPlace:
		return e.place(ctx, cmd.orderID)
	case cmdCancel:
		return e.cancel(ctx, cmd.ownerID, cmd.orderID)
	default:
		return nil, fmt.Errorf("unknown command %d", cmd.kind)
	}
}

// enqueue ставит команду и ждёт результата
func (e *Engine) enqueue(ctx context.Context, cmd command) (*models.Order, error) {
	cmd.enqueued = time.Now()
	cmd.reply = make(chan outcome, 1)
	e.queue.Push(cmd)
	UpdateQueueDepth(e.queue.Len())

	select {
	case res := <-cmd.reply:
		return res.order, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.stopped:
		return nil, ErrEngineStopped
	}
}

// QueueLen возвращает число команд, ожидающих обработки
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Symbols возвращает реестр торговых пар
func (e *Engine) Symbols() *models.SymbolRegistry {
	return e.symbols
}

// ============================================================
// Внешние операции
// ============================================================

// SubmitOrder проверяет заявку, резервирует средства, сохраняет ордер
// и ждёт результата матчинга
//
// Ошибки валидации и нехватки средств возвращаются до любых изменений.
// Если ctx отменён во время ожидания, ордер всё равно будет обработан.
func (e *Engine) SubmitOrder(ctx context.Context, req OrderRequest) (*models.Order, error) {
	sym, err := e.validate(req)
	if err != nil {
		RecordRejected("validation")
		return nil, err
	}

	lockAmount, err := e.reservation(ctx, sym, req)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		OwnerID:        req.OwnerID,
		Symbol:         sym.Name,
		Side:           req.Side,
		Type:           req.Type,
		Quantity:       req.Quantity,
		Price:          req.Price,
		FilledQuantity: decimal.Zero,
		LockedAmount:   lockAmount,
		Status:         models.OrderStatusPending,
	}

	var balance *models.Balance
	err = e.store.WithinTx(ctx, func(tx repository.Tx) error {
		if err := tx.Wallets().Lock(ctx, req.OwnerID, sym.LockAsset(req.Side), lockAmount); err != nil {
			return err
		}
		if err := tx.Orders().Create(ctx, order); err != nil {
			return err
		}
		b, err := tx.Wallets().Get(ctx, req.OwnerID, sym.LockAsset(req.Side))
		balance = b
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientBalance) {
			RecordRejected("insufficient_balance")
		}
		return nil, fmt.Errorf("reserve funds: %w", err)
	}

	RecordSubmitted(sym.Name, string(req.Side), string(req.Type))
	e.logger.Debug("order accepted",
		utils.OrderID(order.ID),
		utils.UserID(order.OwnerID),
		utils.Symbol(order.Symbol),
		utils.Side(string(order.Side)),
		utils.Quantity(order.Quantity),
		utils.Amount(lockAmount),
	)

	e.notifier.Publish(ctx, notify.OrderUpdate(order.Clone()))
	if balance != nil && lockAmount.IsPositive() {
		e.notifier.Publish(ctx, notify.BalanceUpdate(balance))
	}

	return e.enqueue(ctx, command{kind: cmdPlace, orderID: order.ID})
}

// CancelOrder отменяет лимитный ордер владельца
//
// Отмена сериализуется через очередь вместе с матчингом.
func (e *Engine) CancelOrder(ctx context.Context, ownerID, orderID int64) (*models.Order, error) {
	if ownerID <= 0 || orderID <= 0 {
		return nil, ErrOrderNotFound
	}
	return e.enqueue(ctx, command{kind: cmdCancel, ownerID: ownerID, orderID: orderID})
}

// GetOrderBook возвращает агрегированный стакан: bids по убыванию, asks по возрастанию
func (e *Engine) GetOrderBook(ctx context.Context, symbol string, depth int) (*models.OrderBook, error) {
	sym, ok := e.symbols.Lookup(symbol)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSymbolNotFound, symbol)
	}
	return e.snapshot(ctx, e.store, sym.Name, depth)
}

func (e *Engine) snapshot(ctx context.Context, tx repository.Tx, symbol string, depth int) (*models.OrderBook, error) {
	if depth <= 0 {
		depth = DefaultBookDepth
	}

	bids, err := tx.Orders().Depth(ctx, symbol, models.SideBuy, depth)
	if err != nil {
		return nil, fmt.Errorf("load bids: %w", err)
	}
	asks, err := tx.Orders().Depth(ctx, symbol, models.SideSell, depth)
	if err != nil {
		return nil, fmt.Errorf("load asks: %w", err)
	}

	return &models.OrderBook{
		Symbol:    symbol,
		Bids:      bids,
		Asks:      asks,
		Timestamp: time.Now().UTC(),
	}, nil
}

// ============================================================
// Валидация и резервирование
// ============================================================

func (e *Engine) validate(req OrderRequest) (models.Symbol, error) {
	if req.OwnerID <= 0 {
		return models.Symbol{}, fmt.Errorf("%w: owner is required", ErrInvalidOrder)
	}

	sym, ok := e.symbols.Lookup(req.Symbol)
	if !ok {
		return models.Symbol{}, fmt.Errorf("%w: %q", ErrSymbolNotFound, req.Symbol)
	}

	if !req.Side.Valid() {
		return sym, fmt.Errorf("%w: side must be buy or sell", ErrInvalidOrder)
	}
	if !req.Type.Valid() {
		return sym, fmt.Errorf("%w: type must be market or limit", ErrInvalidOrder)
	}
	if err := utils.ValidateAmount(req.Quantity); err != nil {
		return sym, fmt.Errorf("%w: quantity: %v", ErrInvalidOrder, err)
	}

	switch req.Type {
	case models.OrderTypeLimit:
		if !req.Price.Valid {
			return sym, fmt.Errorf("%w: limit order requires a price", ErrInvalidOrder)
		}
		if err := utils.ValidateAmount(req.Price.Decimal); err != nil {
			return sym, fmt.Errorf("%w: price: %v", ErrInvalidOrder, err)
		}
	case models.OrderTypeMarket:
		if req.Price.Valid {
			return sym, fmt.Errorf("%w: market order must not have a price", ErrInvalidOrder)
		}
	}

	return sym, nil
}

// reservation считает сумму к блокировке
//
// Продажа блокирует объём в базовом активе, лимитная покупка - price × quantity.
// Для рыночной покупки цена неизвестна: резерв оценивается проходом по текущему
// стакану ask на запрошенный объём. Если ликвидности нет, резерв нулевой и ордер
// будет отменён при матчинге.
func (e *Engine) reservation(ctx context.Context, sym models.Symbol, req OrderRequest) (decimal.Decimal, error) {
	if req.Side == models.SideSell {
		return req.Quantity, nil
	}
	if req.Type == models.OrderTypeLimit {
		return req.Price.Decimal.Mul(req.Quantity), nil
	}

	levels, err := e.store.Orders().Depth(ctx, sym.Name, models.SideSell, marketEstimateLevels)
	if err != nil {
		return decimal.Zero, fmt.Errorf("estimate market cost: %w", err)
	}

	asks := make([]utils.OrderBookLevel, len(levels))
	for i, l := range levels {
		asks[i] = utils.OrderBookLevel{Price: l.Price, Volume: l.Quantity}
	}
	cost, _ := utils.SimulateMarketBuy(asks, req.Quantity)
	return cost, nil
}
