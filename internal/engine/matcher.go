package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"spotex/internal/models"
	"spotex/internal/notify"
	"spotex/internal/repository"
	"spotex/pkg/utils"
)

// matchResult - всё, что изменилось при обработке одного ордера.
// Публикуется только после коммита.
type matchResult struct {
	taker    *models.Order
	makers   []*models.Order
	trades   []*models.Trade
	balances map[models.BalanceKey]*models.Balance
	book     *models.OrderBook
	skipped  bool
}

func newMatchResult() *matchResult {
	return &matchResult{balances: make(map[models.BalanceKey]*models.Balance)}
}

// touchMaker запоминает последнее состояние встречного ордера
func (r *matchResult) touchMaker(o *models.Order) {
	for i, m := range r.makers {
		if m.ID == o.ID {
			r.makers[i] = o
			return
		}
	}
	r.makers = append(r.makers, o)
}

func (r *matchResult) setBalances(balances ...*models.Balance) {
	for _, b := range balances {
		if b != nil {
			r.balances[models.BalanceKey{OwnerID: b.OwnerID, Asset: b.Asset}] = b
		}
	}
}

// ============================================================
// Размещение
// ============================================================

// place матчит ордер в одной транзакции
//
// Обрабатываются только ордера в статусе pending: повторная команда для уже
// обработанного ордера возвращает его текущее состояние. При ошибке транзакция
// откатывается целиком и выполняется компенсация. Отмена ctx компенсацию не
// запускает: ордер остаётся pending до следующего запуска.
func (e *Engine) place(ctx context.Context, orderID int64) (*models.Order, error) {
	start := time.Now()

	var res *matchResult
	err := e.store.WithinTx(ctx, func(tx repository.Tx) error {
		taker, err := tx.Orders().GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if taker.Status != models.OrderStatusPending {
			res = &matchResult{taker: taker, skipped: true}
			return nil
		}

		sym, ok := e.symbols.Lookup(taker.Symbol)
		if !ok {
			return fmt.Errorf("%w: %q", ErrSymbolNotFound, taker.Symbol)
		}

		res, err = e.match(ctx, tx, sym, taker)
		return err
	})

	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return e.compensate(ctx, orderID, err)
	}
	if res.skipped {
		return res.taker, nil
	}

	RecordMatch(res.taker.Symbol, string(res.taker.Status), time.Since(start))
	e.logger.Debug("order processed",
		utils.OrderID(res.taker.ID),
		utils.Symbol(res.taker.Symbol),
		utils.Status(string(res.taker.Status)),
		utils.Quantity(res.taker.FilledQuantity),
		utils.Latency(time.Since(start)),
	)

	e.publish(ctx, res)
	return res.taker, nil
}

// match проходит по встречным ордерам в порядке (цена, время, id)
func (e *Engine) match(ctx context.Context, tx repository.Tx, sym models.Symbol, taker *models.Order) (*matchResult, error) {
	res := newMatchResult()

	limitPrice := decimal.NullDecimal{}
	if taker.Type == models.OrderTypeLimit {
		limitPrice = taker.Price
	}
	marketBuy := taker.Type == models.OrderTypeMarket && taker.Side == models.SideBuy

	exhausted := false
	for !exhausted && taker.Remaining().IsPositive() {
		batch, err := tx.Orders().ListResting(ctx, sym.Name, taker.Side.Opposite(), limitPrice, e.cfg.MatchBatch)
		if err != nil {
			return nil, fmt.Errorf("load resting orders: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		for _, maker := range batch {
			price := maker.Price.Decimal
			// пачка отсортирована по цене: дальше пересечений нет
			if !taker.Crosses(price) {
				exhausted = true
				break
			}
			qty := utils.MinDecimal(taker.Remaining(), maker.Remaining())

			// рыночная покупка не тратит больше зарезервированного
			if marketBuy {
				qty = utils.MinDecimal(qty, utils.AffordableQuantity(taker.LockedAmount, price))
				if !qty.IsPositive() {
					exhausted = true
					break
				}
			}

			updatedTaker, updatedMaker, err := e.fill(ctx, tx, sym, taker, maker, qty, price, res)
			if err != nil {
				return nil, err
			}
			taker = updatedTaker
			res.touchMaker(updatedMaker)

			if !taker.Remaining().IsPositive() {
				break
			}
		}

		if len(batch) < e.cfg.MatchBatch {
			break
		}
	}

	taker, err := e.finalize(ctx, tx, sym, taker, res)
	if err != nil {
		return nil, err
	}
	res.taker = taker

	if e.cfg.BookDepth > 0 && (len(res.trades) > 0 || taker.IsResting()) {
		book, err := e.snapshot(ctx, tx, sym.Name, e.cfg.BookDepth)
		if err != nil {
			return nil, err
		}
		res.book = book
	}

	return res, nil
}

// fill исполняет qty по цене maker'а и проводит расчёт
//
// Изменения кошельков:
//   - покупатель, quote: locked -= committed, available += committed - value
//   - покупатель, base:  available += qty
//   - продавец, base:    locked -= qty
//   - продавец, quote:   available += value - fee
//   - счёт комиссий:     available += fee
//
// committed - часть резерва покупателя под этот объём: его лимитная цена × qty,
// для рыночной покупки - фактическая стоимость.
func (e *Engine) fill(ctx context.Context, tx repository.Tx, sym models.Symbol, taker, maker *models.Order, qty, price decimal.Decimal, res *matchResult) (*models.Order, *models.Order, error) {
	buy, sell := taker, maker
	if taker.Side == models.SideSell {
		buy, sell = maker, taker
	}

	value := price.Mul(qty)
	fee := utils.TruncateAmount(value.Mul(e.cfg.FeeRate))
	committed := value
	if buy.Type == models.OrderTypeLimit {
		committed = buy.Price.Decimal.Mul(qty)
	}

	orders := tx.Orders()
	if err := orders.ReleaseLocked(ctx, buy.ID, committed); err != nil {
		return nil, nil, fmt.Errorf("release buy order %d: %w", buy.ID, err)
	}
	if err := orders.ReleaseLocked(ctx, sell.ID, qty); err != nil {
		return nil, nil, fmt.Errorf("release sell order %d: %w", sell.ID, err)
	}

	filledBuy, err := orders.RecordFill(ctx, buy.ID, qty)
	if err != nil {
		return nil, nil, fmt.Errorf("fill buy order %d: %w", buy.ID, err)
	}
	filledSell, err := orders.RecordFill(ctx, sell.ID, qty)
	if err != nil {
		return nil, nil, fmt.Errorf("fill sell order %d: %w", sell.ID, err)
	}

	trade := &models.Trade{
		Symbol:      sym.Name,
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		BuyerID:     buy.OwnerID,
		SellerID:    sell.OwnerID,
		TakerSide:   taker.Side,
		Quantity:    qty,
		Price:       price,
		Fee:         fee,
	}
	if err := tx.Trades().Create(ctx, trade); err != nil {
		return nil, nil, fmt.Errorf("record trade: %w", err)
	}

	deltas := []models.BalanceDelta{
		{OwnerID: buy.OwnerID, Asset: sym.Quote, Available: committed.Sub(value), Locked: committed.Neg()},
		{OwnerID: buy.OwnerID, Asset: sym.Base, Available: qty},
		{OwnerID: sell.OwnerID, Asset: sym.Base, Locked: qty.Neg()},
		{OwnerID: sell.OwnerID, Asset: sym.Quote, Available: value.Sub(fee)},
	}
	if fee.IsPositive() {
		deltas = append(deltas, models.BalanceDelta{OwnerID: e.cfg.FeeAccountID, Asset: sym.Quote, Available: fee})
	}

	balances, err := tx.Wallets().Settle(ctx, deltas)
	if err != nil {
		return nil, nil, fmt.Errorf("settle trade: %w", err)
	}

	res.trades = append(res.trades, trade)
	res.setBalances(balances...)

	if taker.Side == models.SideBuy {
		return filledBuy, filledSell, nil
	}
	return filledSell, filledBuy, nil
}

// finalize выставляет итоговый статус taker'а и возвращает неиспользованный резерв
//
// Лимитный остаток встаёт в стакан (open без исполнений, partial с ними).
// Рыночный остаток не хранится: partial если было исполнение, иначе cancelled,
// резерв возвращается владельцу.
func (e *Engine) finalize(ctx context.Context, tx repository.Tx, sym models.Symbol, taker *models.Order, res *matchResult) (*models.Order, error) {
	orders := tx.Orders()

	var err error
	if taker.Status == models.OrderStatusPending {
		next := models.OrderStatusOpen
		if taker.Type == models.OrderTypeMarket {
			next = models.OrderStatusCancelled
		}
		if taker, err = orders.SetStatus(ctx, taker.ID, next); err != nil {
			return nil, fmt.Errorf("set status %s: %w", next, err)
		}
	}

	if taker.IsResting() || !taker.LockedAmount.IsPositive() {
		return taker, nil
	}

	leftover := taker.LockedAmount
	asset := sym.LockAsset(taker.Side)
	if err := orders.ReleaseLocked(ctx, taker.ID, leftover); err != nil {
		return nil, fmt.Errorf("release leftover: %w", err)
	}
	if err := tx.Wallets().Unlock(ctx, taker.OwnerID, asset, leftover); err != nil {
		return nil, fmt.Errorf("unlock leftover: %w", err)
	}

	balance, err := tx.Wallets().Get(ctx, taker.OwnerID, asset)
	if err != nil {
		return nil, err
	}
	res.setBalances(balance)

	return orders.GetByID(ctx, taker.ID)
}

// compensate отменяет ордер после неудачного матчинга и возвращает весь его резерв
func (e *Engine) compensate(ctx context.Context, orderID int64, cause error) (*models.Order, error) {
	RecordSettlementFailure()
	e.logger.Error("matching failed, cancelling order",
		utils.OrderID(orderID),
		utils.Status(cause.Error()),
	)

	var cancelled *models.Order
	var balance *models.Balance
	err := e.store.WithinTx(ctx, func(tx repository.Tx) error {
		o, err := tx.Orders().GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status.IsTerminal() {
			cancelled = o
			return nil
		}

		sym, ok := e.symbols.Lookup(o.Symbol)
		if !ok {
			return fmt.Errorf("%w: %q", ErrSymbolNotFound, o.Symbol)
		}
		asset := sym.LockAsset(o.Side)

		if err := tx.Orders().ReleaseLocked(ctx, o.ID, o.LockedAmount); err != nil {
			return err
		}
		if err := tx.Wallets().Unlock(ctx, o.OwnerID, asset, o.LockedAmount); err != nil {
			return err
		}
		if cancelled, err = tx.Orders().SetStatus(ctx, o.ID, models.OrderStatusCancelled); err != nil {
			return err
		}
		balance, err = tx.Wallets().Get(ctx, o.OwnerID, asset)
		return err
	})
	if err != nil {
		e.logger.Error("compensation failed", utils.OrderID(orderID), utils.Status(err.Error()))
		return nil, fmt.Errorf("%w: %v", ErrSettlementFailed, cause)
	}

	RecordMatch(cancelled.Symbol, string(cancelled.Status), 0)
	e.notifier.Publish(ctx, notify.OrderUpdate(cancelled))
	if balance != nil {
		e.notifier.Publish(ctx, notify.BalanceUpdate(balance))
	}

	return cancelled, fmt.Errorf("%w: %v", ErrSettlementFailed, cause)
}

// ============================================================
// Отмена
// ============================================================

func (e *Engine) cancel(ctx context.Context, ownerID, orderID int64) (*models.Order, error) {
	var (
		cancelled *models.Order
		balance   *models.Balance
		book      *models.OrderBook
	)

	err := e.store.WithinTx(ctx, func(tx repository.Tx) error {
		o, err := tx.Orders().GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if o.OwnerID != ownerID {
			return ErrOrderNotFound
		}

		sym, ok := e.symbols.Lookup(o.Symbol)
		if !ok {
			return fmt.Errorf("%w: %q", ErrSymbolNotFound, o.Symbol)
		}

		var released decimal.Decimal
		if cancelled, released, err = tx.Orders().Cancel(ctx, orderID); err != nil {
			return err
		}
		asset := sym.LockAsset(o.Side)
		if err := tx.Wallets().Unlock(ctx, ownerID, asset, released); err != nil {
			return err
		}
		if balance, err = tx.Wallets().Get(ctx, ownerID, asset); err != nil {
			return err
		}

		if e.cfg.BookDepth > 0 {
			book, err = e.snapshot(ctx, tx, sym.Name, e.cfg.BookDepth)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	e.logger.Debug("order cancelled", utils.OrderID(orderID), utils.UserID(ownerID))
	RecordMatch(cancelled.Symbol, string(cancelled.Status), 0)

	e.notifier.Publish(ctx, notify.OrderUpdate(cancelled))
	e.notifier.Publish(ctx, notify.BalanceUpdate(balance))
	if book != nil {
		e.notifier.Publish(ctx, notify.BookSnapshot(book))
	}

	return cancelled, nil
}

// ============================================================
// Уведомления
// ============================================================

func (e *Engine) publish(ctx context.Context, res *matchResult) {
	e.notifier.Publish(ctx, notify.OrderUpdate(res.taker))
	for _, m := range res.makers {
		e.notifier.Publish(ctx, notify.OrderUpdate(m))
	}

	for _, t := range res.trades {
		RecordTrade(t.Symbol, t.Quantity.InexactFloat64())
		e.logger.Debug("trade executed",
			utils.TradeID(t.ID),
			utils.Symbol(t.Symbol),
			utils.Price(t.Price),
			utils.Quantity(t.Quantity),
		)
		e.notifier.Publish(ctx, notify.TradeExecution(t))
	}

	keys := make([]models.BalanceKey, 0, len(res.balances))
	for k := range res.balances {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].OwnerID != keys[j].OwnerID {
			return keys[i].OwnerID < keys[j].OwnerID
		}
		return keys[i].Asset < keys[j].Asset
	})
	for _, k := range keys {
		e.notifier.Publish(ctx, notify.BalanceUpdate(res.balances[k]))
	}

	if res.book != nil {
		e.notifier.Publish(ctx, notify.BookSnapshot(res.book))
	}
}
