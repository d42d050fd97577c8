package service

import (
	"context"

	"github.com/shopspring/decimal"

	"spotex/internal/engine"
	"spotex/internal/models"
)

// OrderEngine - операции торгового ядра, которыми пользуются сервисы
type OrderEngine interface {
	SubmitOrder(ctx context.Context, req engine.OrderRequest) (*models.Order, error)
	CancelOrder(ctx context.Context, ownerID, orderID int64) (*models.Order, error)
	GetOrderBook(ctx context.Context, symbol string, depth int) (*models.OrderBook, error)
}

// Проверяем, что движок реализует интерфейс
var _ OrderEngine = (*engine.Engine)(nil)

// ============ Интерфейсы сервисов для Dependency Injection ============

// OrderServiceInterface определяет интерфейс сервиса ордеров
type OrderServiceInterface interface {
	PlaceOrder(ctx context.Context, ownerID int64, req *PlaceOrderRequest) (*models.Order, error)
	CancelOrder(ctx context.Context, ownerID, orderID int64) (*models.Order, error)
	GetOrder(ctx context.Context, ownerID, orderID int64) (*models.Order, error)
	ListOrders(ctx context.Context, ownerID int64, req *ListOrdersRequest) ([]*models.Order, error)
	ListTrades(ctx context.Context, ownerID int64, req *ListTradesRequest) ([]*models.Trade, error)
}

// WalletServiceInterface определяет интерфейс сервиса кошельков
type WalletServiceInterface interface {
	Deposit(ctx context.Context, ownerID int64, asset string, req *DepositRequest) (*models.Transfer, error)
	Withdraw(ctx context.Context, ownerID int64, asset string, req *WithdrawRequest) (*models.Transfer, error)
	GetBalances(ctx context.Context, ownerID int64) ([]*models.Balance, error)
	GetBalance(ctx context.Context, ownerID int64, asset string) (*models.Balance, error)
	ListTransfers(ctx context.Context, ownerID int64, asset string, limit, offset int) ([]*models.Transfer, error)
	WithdrawalFee(asset string) decimal.Decimal
}

// MarketServiceInterface определяет интерфейс сервиса рыночных данных
type MarketServiceInterface interface {
	ListMarkets() []models.Symbol
	GetOrderBook(ctx context.Context, symbol string, depth int) (*models.OrderBook, error)
	RecentTrades(ctx context.Context, symbol string, limit int) ([]*models.PublicTrade, error)
	Ticker(ctx context.Context, symbol string) (*Ticker, error)
}

// Проверяем, что реальные сервисы реализуют интерфейсы
var _ OrderServiceInterface = (*OrderService)(nil)
var _ WalletServiceInterface = (*WalletService)(nil)
var _ MarketServiceInterface = (*MarketService)(nil)
