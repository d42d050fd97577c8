package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"spotex/internal/models"
)

// OrderRepository - работа с таблицей orders
type OrderRepository struct {
	q Querier
}

// NewOrderRepository создает новый экземпляр репозитория
func NewOrderRepository(q Querier) *OrderRepository {
	return &OrderRepository{q: q}
}

const orderColumns = `id, owner_id, symbol, side, type, quantity, price, filled_quantity, locked_amount, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	o := &models.Order{}
	err := row.Scan(
		&o.ID,
		&o.OwnerID,
		&o.Symbol,
		&o.Side,
		&o.Type,
		&o.Quantity,
		&o.Price,
		&o.FilledQuantity,
		&o.LockedAmount,
		&o.Status,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// Create создает запись об ордере
//
// Пустой статус трактуется как pending, id и время проставляются здесь.
func (r *OrderRepository) Create(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (owner_id, symbol, side, type, quantity, price, filled_quantity, locked_amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	if order.Status == "" {
		order.Status = models.OrderStatusPending
	}
	order.CreatedAt = time.Now().UTC()
	order.UpdatedAt = order.CreatedAt

	return r.q.QueryRowContext(ctx, query,
		order.OwnerID,
		order.Symbol,
		order.Side,
		order.Type,
		order.Quantity,
		order.Price,
		order.FilledQuantity,
		order.LockedAmount,
		order.Status,
		order.CreatedAt,
		order.UpdatedAt,
	).Scan(&order.ID)
}

// GetByID возвращает ордер по ID
func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	return order, nil
}

// RecordFill добавляет исполненный объём и переводит статус в partial/filled
//
// Переполнение (filled > quantity) и исполнение терминального ордера
// отсекаются условием WHERE и возвращают ErrInvalidState.
func (r *OrderRepository) RecordFill(ctx context.Context, id int64, quantity decimal.Decimal) (*models.Order, error) {
	if !quantity.IsPositive() {
		return nil, fmt.Errorf("%w: fill quantity must be positive", ErrInvalidState)
	}

	query := `
		UPDATE orders
		SET filled_quantity = filled_quantity + $2,
			status = CASE WHEN filled_quantity + $2 = quantity THEN 'filled' ELSE 'partial' END,
			updated_at = $3
		WHERE id = $1
			AND status IN ('pending', 'open', 'partial')
			AND filled_quantity + $2 <= quantity
		RETURNING ` + orderColumns

	order, err := scanOrder(r.q.QueryRowContext(ctx, query, id, quantity, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.missReason(ctx, id)
		}
		return nil, err
	}

	return order, nil
}

// ReleaseLocked уменьшает locked_amount ордера
func (r *OrderRepository) ReleaseLocked(ctx context.Context, id int64, amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	if amount.IsNegative() {
		return ErrInvalidAmount
	}

	query := `
		UPDATE orders
		SET locked_amount = locked_amount - $2, updated_at = $3
		WHERE id = $1 AND locked_amount >= $2`

	result, err := r.q.ExecContext(ctx, query, id, amount, time.Now().UTC())
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		exists, err := r.exists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return ErrOrderNotFound
		}
		return ErrInvalidRelease
	}

	return nil
}

// SetStatus переводит ордер в новый статус, если переход разрешён
func (r *OrderRepository) SetStatus(ctx context.Context, id int64, status models.OrderStatus) (*models.Order, error) {
	sources := models.SourceStatuses(status)
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no transition into %s", ErrInvalidState, status)
	}

	query := `
		UPDATE orders
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = ANY($4)
		RETURNING ` + orderColumns

	order, err := scanOrder(r.q.QueryRowContext(ctx, query, id, status, time.Now().UTC(), pq.Array(sources)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.missReason(ctx, id)
		}
		return nil, err
	}

	return order, nil
}

// Cancel отменяет ордер, стоящий в стакане
//
// Строка блокируется FOR UPDATE до конца транзакции вызывающего.
// Возвращает обновлённый ордер и сумму, которую нужно вернуть в available.
func (r *OrderRepository) Cancel(ctx context.Context, id int64) (*models.Order, decimal.Decimal, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	order, err := scanOrder(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, decimal.Zero, ErrOrderNotFound
		}
		return nil, decimal.Zero, err
	}

	if !order.IsResting() {
		return nil, decimal.Zero, fmt.Errorf("%w: order %d is %s", ErrInvalidState, id, order.Status)
	}

	released := order.LockedAmount

	update := `
		UPDATE orders
		SET status = 'cancelled', locked_amount = 0, updated_at = $2
		WHERE id = $1
		RETURNING ` + orderColumns

	cancelled, err := scanOrder(r.q.QueryRowContext(ctx, update, id, time.Now().UTC()))
	if err != nil {
		return nil, decimal.Zero, err
	}

	return cancelled, released, nil
}

// ListResting возвращает ордера стакана одной стороны в порядке исполнения
//
// Для продаж: цена по возрастанию, затем время. Для покупок: цена по убыванию.
// Строки блокируются до конца транзакции матчинга.
func (r *OrderRepository) ListResting(ctx context.Context, symbol string, side models.Side, limitPrice decimal.NullDecimal, limit int) ([]*models.Order, error) {
	priceOrder, priceCmp := "ASC", "<="
	if side == models.SideBuy {
		priceOrder, priceCmp = "DESC", ">="
	}

	args := []any{symbol, side}
	where := `symbol = $1 AND side = $2 AND type = 'limit' AND status IN ('open', 'partial')`
	if limitPrice.Valid {
		args = append(args, limitPrice.Decimal)
		where += fmt.Sprintf(" AND price %s $%d", priceCmp, len(args))
	}
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT %s FROM orders WHERE %s ORDER BY price %s, created_at ASC, id ASC LIMIT $%d FOR UPDATE`,
		orderColumns, where, priceOrder, len(args))

	return r.queryOrders(ctx, query, args...)
}

// Depth агрегирует стакан по ценовым уровням
func (r *OrderRepository) Depth(ctx context.Context, symbol string, side models.Side, levels int) ([]models.PriceLevel, error) {
	priceOrder := "ASC"
	if side == models.SideBuy {
		priceOrder = "DESC"
	}

	query := fmt.Sprintf(`
		SELECT price, SUM(quantity - filled_quantity), COUNT(*)
		FROM orders
		WHERE symbol = $1 AND side = $2 AND type = 'limit' AND status IN ('open', 'partial')
		GROUP BY price
		ORDER BY price %s
		LIMIT $3`, priceOrder)

	rows, err := r.q.QueryContext(ctx, query, symbol, side, levels)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]models.PriceLevel, 0, levels)
	for rows.Next() {
		var level models.PriceLevel
		if err := rows.Scan(&level.Price, &level.Quantity, &level.Orders); err != nil {
			return nil, err
		}
		result = append(result, level)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// ListByOwner возвращает ордера пользователя, новые первыми
func (r *OrderRepository) ListByOwner(ctx context.Context, ownerID int64, filter models.OrderFilter) ([]*models.Order, error) {
	limit, offset := pageBounds(filter.Limit, filter.Offset)

	conditions := []string{"owner_id = $1"}
	args := []any{ownerID}

	if filter.Symbol != "" {
		args = append(args, filter.Symbol)
		conditions = append(conditions, fmt.Sprintf("symbol = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM orders WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		orderColumns, strings.Join(conditions, " AND "), len(args)-1, len(args))

	return r.queryOrders(ctx, query, args...)
}

// ListPending возвращает ордера, принятые, но не обработанные движком
func (r *OrderRepository) ListPending(ctx context.Context) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE status = 'pending' ORDER BY created_at ASC, id ASC`
	return r.queryOrders(ctx, query)
}

func (r *OrderRepository) queryOrders(ctx context.Context, query string, args ...any) ([]*models.Order, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

func (r *OrderRepository) exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

// missReason объясняет, почему условный UPDATE не затронул строку
func (r *OrderRepository) missReason(ctx context.Context, id int64) error {
	exists, err := r.exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return ErrOrderNotFound
	}
	return ErrInvalidState
}
