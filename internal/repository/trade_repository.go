package repository

import (
	"context"
	"fmt"
	"time"

	"spotex/internal/models"
)

// TradeRepository - журнал сделок (таблица trades)
//
// Сделка пишется один раз и больше не изменяется.
type TradeRepository struct {
	q Querier
}

// NewTradeRepository создает новый экземпляр репозитория
func NewTradeRepository(q Querier) *TradeRepository {
	return &TradeRepository{q: q}
}

const tradeColumns = `id, symbol, buy_order_id, sell_order_id, buyer_id, seller_id, taker_side, quantity, price, fee, created_at`

// Create записывает сделку
func (r *TradeRepository) Create(ctx context.Context, trade *models.Trade) error {
	query := `
		INSERT INTO trades (symbol, buy_order_id, sell_order_id, buyer_id, seller_id, taker_side, quantity, price, fee, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	if trade.CreatedAt.IsZero() {
		trade.CreatedAt = time.Now().UTC()
	}

	return r.q.QueryRowContext(ctx, query,
		trade.Symbol,
		trade.BuyOrderID,
		trade.SellOrderID,
		trade.BuyerID,
		trade.SellerID,
		trade.TakerSide,
		trade.Quantity,
		trade.Price,
		trade.Fee,
		trade.CreatedAt,
	).Scan(&trade.ID)
}

// ListByOwner возвращает сделки, где пользователь был покупателем или продавцом
func (r *TradeRepository) ListByOwner(ctx context.Context, ownerID int64, filter models.TradeFilter) ([]*models.Trade, error) {
	limit, offset := pageBounds(filter.Limit, filter.Offset)

	args := []any{ownerID}
	where := "(buyer_id = $1 OR seller_id = $1)"
	if filter.Symbol != "" {
		args = append(args, filter.Symbol)
		where += fmt.Sprintf(" AND symbol = $%d", len(args))
	}
	args = append(args, limit, offset)

	query := fmt.Sprintf(`SELECT %s FROM trades WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		tradeColumns, where, len(args)-1, len(args))

	return r.queryTrades(ctx, query, args...)
}

// ListBySymbol возвращает последние сделки по паре
func (r *TradeRepository) ListBySymbol(ctx context.Context, symbol string, limit int) ([]*models.Trade, error) {
	limit, _ = pageBounds(limit, 0)

	query := `SELECT ` + tradeColumns + ` FROM trades WHERE symbol = $1 ORDER BY created_at DESC, id DESC LIMIT $2`
	return r.queryTrades(ctx, query, symbol, limit)
}

// Stats считает агрегаты по сделкам пары начиная с since
//
// last берётся по последней сделке периода. Без сделок все суммы нулевые.
func (r *TradeRepository) Stats(ctx context.Context, symbol string, since time.Time) (*models.MarketStats, error) {
	query := `
		SELECT COUNT(*),
			COALESCE(MAX(price), 0),
			COALESCE(MIN(price), 0),
			COALESCE(SUM(quantity), 0),
			COALESCE(SUM(quantity * price), 0),
			COALESCE((SELECT price FROM trades WHERE symbol = $1 AND created_at >= $2 ORDER BY created_at ASC, id ASC LIMIT 1), 0),
			COALESCE((SELECT price FROM trades WHERE symbol = $1 AND created_at >= $2 ORDER BY created_at DESC, id DESC LIMIT 1), 0)
		FROM trades
		WHERE symbol = $1 AND created_at >= $2`

	stats := &models.MarketStats{Symbol: symbol, Since: since}
	err := r.q.QueryRowContext(ctx, query, symbol, since).Scan(
		&stats.Trades,
		&stats.High,
		&stats.Low,
		&stats.Volume,
		&stats.QuoteVolume,
		&stats.Open,
		&stats.Last,
	)
	if err != nil {
		return nil, err
	}

	return stats, nil
}

func (r *TradeRepository) queryTrades(ctx context.Context, query string, args ...any) ([]*models.Trade, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		t := &models.Trade{}
		err := rows.Scan(
			&t.ID,
			&t.Symbol,
			&t.BuyOrderID,
			&t.SellOrderID,
			&t.BuyerID,
			&t.SellerID,
			&t.TakerSide,
			&t.Quantity,
			&t.Price,
			&t.Fee,
			&t.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return trades, nil
}
