package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"spotex/internal/models"
)

// Ошибки хранилища
var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidRelease      = errors.New("release exceeds locked amount")
	ErrInvalidState        = errors.New("invalid order state")
	ErrNegativeBalance     = errors.New("balance would become negative")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrDuplicateTransfer   = errors.New("transfer with this tx hash already exists")
)

// Ограничения пагинации
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// Querier - общее подмножество *sql.DB и *sql.Tx
//
// Репозитории работают поверх Querier, поэтому один и тот же код
// выполняется как в автокоммите, так и внутри транзакции.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Ledger - балансы пользователей (available / locked по каждому активу)
type Ledger interface {
	// Get возвращает баланс; отсутствующий кошелёк = нулевой баланс
	Get(ctx context.Context, ownerID int64, asset string) (*models.Balance, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]*models.Balance, error)

	// Lock переносит amount из available в locked
	Lock(ctx context.Context, ownerID int64, asset string, amount decimal.Decimal) error
	// Unlock возвращает amount из locked в available
	Unlock(ctx context.Context, ownerID int64, asset string, amount decimal.Decimal) error

	Credit(ctx context.Context, ownerID int64, asset string, amount decimal.Decimal) error
	Debit(ctx context.Context, ownerID int64, asset string, amount decimal.Decimal) error

	// Settle атомарно применяет набор изменений и возвращает итоговые балансы.
	// Если хотя бы одно поле уходит в минус, не применяется ничего.
	Settle(ctx context.Context, deltas []models.BalanceDelta) ([]*models.Balance, error)
}

// OrderStore - ордера и их жизненный цикл
type OrderStore interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id int64) (*models.Order, error)

	// RecordFill увеличивает filled_quantity и пересчитывает статус
	RecordFill(ctx context.Context, id int64, quantity decimal.Decimal) (*models.Order, error)
	// ReleaseLocked уменьшает зарезервированную под ордер сумму
	ReleaseLocked(ctx context.Context, id int64, amount decimal.Decimal) error
	SetStatus(ctx context.Context, id int64, status models.OrderStatus) (*models.Order, error)
	// Cancel отменяет лимитный ордер в стакане и возвращает сумму к разблокировке
	Cancel(ctx context.Context, id int64) (*models.Order, decimal.Decimal, error)

	// ListResting возвращает встречные ордера в порядке приоритета (цена, время).
	// limitPrice ограничивает цену: для продаж сверху, для покупок снизу.
	ListResting(ctx context.Context, symbol string, side models.Side, limitPrice decimal.NullDecimal, limit int) ([]*models.Order, error)
	Depth(ctx context.Context, symbol string, side models.Side, levels int) ([]models.PriceLevel, error)

	ListByOwner(ctx context.Context, ownerID int64, filter models.OrderFilter) ([]*models.Order, error)
	ListPending(ctx context.Context) ([]*models.Order, error)
}

// TradeStore - журнал сделок
type TradeStore interface {
	Create(ctx context.Context, trade *models.Trade) error
	ListByOwner(ctx context.Context, ownerID int64, filter models.TradeFilter) ([]*models.Trade, error)
	ListBySymbol(ctx context.Context, symbol string, limit int) ([]*models.Trade, error)
	// Stats - агрегаты по сделкам пары начиная с since
	Stats(ctx context.Context, symbol string, since time.Time) (*models.MarketStats, error)
}

// TransferStore - история депозитов и выводов
type TransferStore interface {
	Create(ctx context.Context, transfer *models.Transfer) error
	ListByOwner(ctx context.Context, ownerID int64, filter models.TransferFilter) ([]*models.Transfer, error)
}

// Tx - набор репозиториев, разделяющих одну транзакцию
type Tx interface {
	Wallets() Ledger
	Orders() OrderStore
	Trades() TradeStore
	Transfers() TransferStore
}

// Store - хранилище целиком
//
// Методы Tx на самом Store работают в автокоммите,
// WithinTx выполняет fn в одной транзакции: ошибка fn откатывает всё.
type Store interface {
	Tx
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// pageBounds нормализует limit/offset выборки
func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
