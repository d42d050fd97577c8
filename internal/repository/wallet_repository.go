package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"spotex/internal/models"
)

// Коды ошибок PostgreSQL, которые переводятся в ошибки домена
const (
	pgCheckViolation  = "23514"
	pgUniqueViolation = "23505"
)

// WalletRepository - работа с таблицей wallets
//
// Одна строка на пару (owner_id, asset). Строка создаётся при первом
// зачислении, отсутствие строки равносильно нулевому балансу.
type WalletRepository struct {
	q Querier
}

// NewWalletRepository создает новый экземпляр репозитория
func NewWalletRepository(q Querier) *WalletRepository {
	return &WalletRepository{q: q}
}

const walletColumns = `owner_id, asset, available, locked, updated_at`

// Get возвращает баланс пользователя по активу
func (r *WalletRepository) Get(ctx context.Context, ownerID int64, asset string) (*models.Balance, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE owner_id = $1 AND asset = $2`

	b := &models.Balance{}
	err := r.q.QueryRowContext(ctx, query, ownerID, asset).Scan(
		&b.OwnerID, &b.Asset, &b.Available, &b.Locked, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.Balance{OwnerID: ownerID, Asset: asset}, nil
		}
		return nil, err
	}

	return b, nil
}

// ListByOwner возвращает все балансы пользователя, отсортированные по активу
func (r *WalletRepository) ListByOwner(ctx context.Context, ownerID int64) ([]*models.Balance, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE owner_id = $1 ORDER BY asset`

	rows, err := r.q.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []*models.Balance
	for rows.Next() {
		b := &models.Balance{}
		if err := rows.Scan(&b.OwnerID, &b.Asset, &b.Available, &b.Locked, &b.UpdatedAt); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return balances, nil
}

// Lock резервирует средства: available -> locked
//
// Условие available >= amount проверяется в самом UPDATE,
// поэтому два конкурентных резервирования не уведут баланс в минус.
func (r *WalletRepository) Lock(ctx context.Context, ownerID int64, asset string, amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	if amount.IsNegative() {
		return ErrInvalidAmount
	}

	query := `
		UPDATE wallets
		SET available = available - $3, locked = locked + $3, updated_at = $4
		WHERE owner_id = $1 AND asset = $2 AND available >= $3`

	return r.execExpectOne(ctx, ErrInsufficientBalance, query, ownerID, asset, amount, time.Now().UTC())
}

// Unlock возвращает средства из резерва: locked -> available
func (r *WalletRepository) Unlock(ctx context.Context, ownerID int64, asset string, amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	if amount.IsNegative() {
		return ErrInvalidAmount
	}

	query := `
		UPDATE wallets
		SET available = available + $3, locked = locked - $3, updated_at = $4
		WHERE owner_id = $1 AND asset = $2 AND locked >= $3`

	return r.execExpectOne(ctx, ErrInvalidRelease, query, ownerID, asset, amount, time.Now().UTC())
}

// Credit зачисляет средства на available, создавая кошелёк при необходимости
func (r *WalletRepository) Credit(ctx context.Context, ownerID int64, asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	query := `
		INSERT INTO wallets (owner_id, asset, available, locked, updated_at)
		VALUES ($1, $2, $3, 0, $4)
		ON CONFLICT (owner_id, asset)
		DO UPDATE SET available = wallets.available + EXCLUDED.available, updated_at = EXCLUDED.updated_at`

	_, err := r.q.ExecContext(ctx, query, ownerID, asset, amount, time.Now().UTC())
	return err
}

// Debit списывает средства с available
func (r *WalletRepository) Debit(ctx context.Context, ownerID int64, asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	query := `
		UPDATE wallets
		SET available = available - $3, updated_at = $4
		WHERE owner_id = $1 AND asset = $2 AND available >= $3`

	return r.execExpectOne(ctx, ErrInsufficientBalance, query, ownerID, asset, amount, time.Now().UTC())
}

// Settle применяет изменения балансов одной транзакцией
//
// Изменения по одному кошельку схлопываются, кошельки обновляются в
// порядке (owner_id, asset): два параллельных расчёта берут блокировки
// строк в одном порядке и не встают в deadlock.
// Если репозиторий создан поверх *sql.DB, транзакция открывается здесь же.
func (r *WalletRepository) Settle(ctx context.Context, deltas []models.BalanceDelta) ([]*models.Balance, error) {
	merged := models.MergeDeltas(deltas)

	db, ok := r.q.(*sql.DB)
	if !ok {
		return applyDeltas(ctx, r.q, merged)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin settle tx: %w", err)
	}

	balances, err := applyDeltas(ctx, tx, merged)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit settle tx: %w", err)
	}

	return balances, nil
}

func applyDeltas(ctx context.Context, q Querier, deltas []models.BalanceDelta) ([]*models.Balance, error) {
	update := `
		UPDATE wallets
		SET available = available + $3, locked = locked + $4, updated_at = $5
		WHERE owner_id = $1 AND asset = $2
		RETURNING available, locked`

	upsert := `
		INSERT INTO wallets (owner_id, asset, available, locked, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (owner_id, asset)
		DO UPDATE SET available = wallets.available + EXCLUDED.available,
			locked = wallets.locked + EXCLUDED.locked,
			updated_at = EXCLUDED.updated_at
		RETURNING available, locked`

	now := time.Now().UTC()
	balances := make([]*models.Balance, 0, len(deltas))

	for _, d := range deltas {
		if d.Available.IsZero() && d.Locked.IsZero() {
			continue
		}

		b := &models.Balance{OwnerID: d.OwnerID, Asset: d.Asset, UpdatedAt: now}
		err := q.QueryRowContext(ctx, update, d.OwnerID, d.Asset, d.Available, d.Locked, now).
			Scan(&b.Available, &b.Locked)

		// Кошелька ещё нет: создать можно только с неотрицательными полями
		if errors.Is(err, sql.ErrNoRows) {
			if d.Available.IsNegative() || d.Locked.IsNegative() {
				return nil, fmt.Errorf("%w: owner %d asset %s", ErrNegativeBalance, d.OwnerID, d.Asset)
			}
			err = q.QueryRowContext(ctx, upsert, d.OwnerID, d.Asset, d.Available, d.Locked, now).
				Scan(&b.Available, &b.Locked)
		}
		if err != nil {
			return nil, translateWalletError(err)
		}

		if b.Available.IsNegative() || b.Locked.IsNegative() {
			return nil, fmt.Errorf("%w: owner %d asset %s", ErrNegativeBalance, d.OwnerID, d.Asset)
		}

		balances = append(balances, b)
	}

	return balances, nil
}

// execExpectOne выполняет UPDATE и возвращает onMiss, если строка не затронута
func (r *WalletRepository) execExpectOne(ctx context.Context, onMiss error, query string, args ...any) error {
	result, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return translateWalletError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return onMiss
	}

	return nil
}

// translateWalletError переводит срабатывание CHECK (available >= 0, locked >= 0)
// в ErrNegativeBalance
func translateWalletError(err error) error {
	if isPgError(err, pgCheckViolation) {
		return fmt.Errorf("%w: %v", ErrNegativeBalance, err)
	}
	return err
}

func isPgError(err error, code string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == code
}
