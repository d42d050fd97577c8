package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ============================================================
// PostgresStore
// ============================================================

// scope - репозитории поверх одного Querier (*sql.DB или *sql.Tx)
type scope struct {
	q Querier
}

func (s scope) Wallets() Ledger          { return NewWalletRepository(s.q) }
func (s scope) Orders() OrderStore       { return NewOrderRepository(s.q) }
func (s scope) Trades() TradeStore       { return NewTradeRepository(s.q) }
func (s scope) Transfers() TransferStore { return NewTransferRepository(s.q) }

// PostgresStore - хранилище поверх PostgreSQL
type PostgresStore struct {
	scope
	db *sql.DB
}

// NewPostgresStore создает хранилище над открытым пулом соединений
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{scope: scope{q: db}, db: db}
}

// WithinTx выполняет fn в транзакции
//
// Ошибка или паника внутри fn откатывают транзакцию. Ошибка отката
// не заменяет исходную ошибку fn.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(scope{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// ============================================================
// Схема
// ============================================================

// schema - DDL хранилища, каждое выражение идемпотентно
//
// CHECK на балансах и filled_quantity дублируют проверки кода:
// при ошибке в коде транзакция упадёт, а не запишет невозможное состояние.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS wallets (
		owner_id BIGINT NOT NULL,
		asset VARCHAR(16) NOT NULL,
		available NUMERIC(36, 18) NOT NULL DEFAULT 0 CHECK (available >= 0),
		locked NUMERIC(36, 18) NOT NULL DEFAULT 0 CHECK (locked >= 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (owner_id, asset)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id BIGSERIAL PRIMARY KEY,
		owner_id BIGINT NOT NULL,
		symbol VARCHAR(32) NOT NULL,
		side VARCHAR(4) NOT NULL CHECK (side IN ('buy', 'sell')),
		type VARCHAR(8) NOT NULL CHECK (type IN ('market', 'limit')),
		quantity NUMERIC(36, 18) NOT NULL CHECK (quantity > 0),
		price NUMERIC(36, 18),
		filled_quantity NUMERIC(36, 18) NOT NULL DEFAULT 0,
		locked_amount NUMERIC(36, 18) NOT NULL DEFAULT 0 CHECK (locked_amount >= 0),
		status VARCHAR(16) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (filled_quantity >= 0 AND filled_quantity <= quantity),
		CHECK ((type = 'market' AND price IS NULL) OR (type = 'limit' AND price > 0))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_book
		ON orders (symbol, side, price, created_at, id)
		WHERE type = 'limit' AND status IN ('open', 'partial')`,
	`CREATE INDEX IF NOT EXISTS idx_orders_owner ON orders (owner_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_pending ON orders (created_at) WHERE status = 'pending'`,
	`CREATE TABLE IF NOT EXISTS trades (
		id BIGSERIAL PRIMARY KEY,
		symbol VARCHAR(32) NOT NULL,
		buy_order_id BIGINT NOT NULL REFERENCES orders(id),
		sell_order_id BIGINT NOT NULL REFERENCES orders(id),
		buyer_id BIGINT NOT NULL,
		seller_id BIGINT NOT NULL,
		taker_side VARCHAR(4) NOT NULL,
		quantity NUMERIC(36, 18) NOT NULL CHECK (quantity > 0),
		price NUMERIC(36, 18) NOT NULL CHECK (price > 0),
		fee NUMERIC(36, 18) NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades (symbol, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_buyer ON trades (buyer_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_seller ON trades (seller_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS transfers (
		id BIGSERIAL PRIMARY KEY,
		owner_id BIGINT NOT NULL,
		type VARCHAR(16) NOT NULL,
		asset VARCHAR(16) NOT NULL,
		amount NUMERIC(36, 18) NOT NULL CHECK (amount > 0),
		fee NUMERIC(36, 18) NOT NULL DEFAULT 0,
		address TEXT NOT NULL DEFAULT '',
		tx_hash VARCHAR(80) NOT NULL UNIQUE,
		status VARCHAR(16) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transfers_owner ON transfers (owner_id, created_at DESC)`,
}

// Migrate создает таблицы и индексы, если их ещё нет
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Tables возвращает имена таблиц в порядке, безопасном для TRUNCATE/DROP
func Tables() []string {
	return []string{"trades", "transfers", "orders", "wallets"}
}
