package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"spotex/internal/engine"
	"spotex/internal/models"
	"spotex/internal/repository"
	"spotex/pkg/utils"
)

// Ошибки сервисов
var (
	ErrInvalidOwner   = errors.New("owner id must be positive")
	ErrUnknownSymbol  = errors.New("unknown symbol")
	ErrUnknownAsset   = errors.New("unknown asset")
	ErrInvalidRequest = errors.New("invalid request")
)

// PlaceOrderRequest - запрос на размещение ордера.
// Числа передаются строками, чтобы не терять точность при разборе JSON.
type PlaceOrderRequest struct {
	Symbol   string `json:"symbol" validate:"required,symbol"`
	Side     string `json:"side" validate:"oneof=buy sell"`
	Type     string `json:"type" validate:"oneof=limit market"`
	Quantity string `json:"quantity" validate:"amount"`
	Price    string `json:"price,omitempty" validate:"required_if=Type limit,excluded_if=Type market,omitempty,amount"`
}

// Validate нормализует запрос и собирает все ошибки полей разом
func (r *PlaceOrderRequest) Validate() (engine.OrderRequest, error) {
	norm := PlaceOrderRequest{
		Symbol:   strings.TrimSpace(r.Symbol),
		Side:     strings.ToLower(strings.TrimSpace(r.Side)),
		Type:     strings.ToLower(strings.TrimSpace(r.Type)),
		Quantity: strings.TrimSpace(r.Quantity),
		Price:    strings.TrimSpace(r.Price),
	}
	if errs := utils.ValidateStruct(&norm); errs.HasErrors() {
		return engine.OrderRequest{}, fmt.Errorf("%w: %w", ErrInvalidRequest, errs)
	}

	req := engine.OrderRequest{
		Symbol:   norm.Symbol,
		Side:     models.Side(norm.Side),
		Type:     models.OrderType(norm.Type),
		Quantity: decimal.RequireFromString(norm.Quantity),
	}
	if norm.Price != "" {
		req.Price = decimal.NewNullDecimal(decimal.RequireFromString(norm.Price))
	}
	return req, nil
}

// ListOrdersRequest - фильтр списка ордеров
type ListOrdersRequest struct {
	Symbol string
	Status string
	Limit  int
	Offset int
}

// ListTradesRequest - фильтр истории сделок
type ListTradesRequest struct {
	Symbol string
	Limit  int
	Offset int
}

// OrderService - ордера пользователя поверх торгового ядра.
//
// Изменения (размещение, отмена) идут через очередь движка,
// чтения - напрямую в хранилище.
type OrderService struct {
	engine  OrderEngine
	store   repository.Store
	symbols *models.SymbolRegistry
	logger  *utils.Logger
}

// NewOrderService создает новый экземпляр OrderService
func NewOrderService(eng OrderEngine, store repository.Store, symbols *models.SymbolRegistry, logger *utils.Logger) *OrderService {
	if logger == nil {
		logger = utils.L()
	}
	return &OrderService{
		engine:  eng,
		store:   store,
		symbols: symbols,
		logger:  logger.WithComponent("order_service"),
	}
}

// PlaceOrder проверяет запрос и передаёт ордер движку.
//
// Возвращает ордер после обработки в очереди: filled, partial, open
// или cancelled (рыночный ордер без ликвидности).
func (s *OrderService) PlaceOrder(ctx context.Context, ownerID int64, req *PlaceOrderRequest) (*models.Order, error) {
	if ownerID <= 0 {
		return nil, ErrInvalidOwner
	}
	orderReq, err := req.Validate()
	if err != nil {
		return nil, err
	}
	orderReq.OwnerID = ownerID

	order, err := s.engine.SubmitOrder(ctx, orderReq)
	if err != nil {
		if !errors.Is(err, engine.ErrSettlementFailed) {
			return nil, err
		}
		s.logger.Error("order cancelled after settlement failure",
			utils.UserID(ownerID), utils.Symbol(orderReq.Symbol), utils.Status(err.Error()))
		return order, err
	}
	return order, nil
}

// CancelOrder отменяет ордер владельца
func (s *OrderService) CancelOrder(ctx context.Context, ownerID, orderID int64) (*models.Order, error) {
	if ownerID <= 0 {
		return nil, ErrInvalidOwner
	}
	return s.engine.CancelOrder(ctx, ownerID, orderID)
}

// GetOrder возвращает ордер. Чужой ордер неотличим от несуществующего.
func (s *OrderService) GetOrder(ctx context.Context, ownerID, orderID int64) (*models.Order, error) {
	if ownerID <= 0 {
		return nil, ErrInvalidOwner
	}
	order, err := s.store.Orders().GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.OwnerID != ownerID {
		return nil, repository.ErrOrderNotFound
	}
	return order, nil
}

// ListOrders возвращает ордера владельца, новые сверху
func (s *OrderService) ListOrders(ctx context.Context, ownerID int64, req *ListOrdersRequest) ([]*models.Order, error) {
	if ownerID <= 0 {
		return nil, ErrInvalidOwner
	}

	filter := models.OrderFilter{Limit: req.Limit, Offset: req.Offset}
	if req.Symbol != "" {
		sym, ok := s.symbols.Lookup(req.Symbol)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, req.Symbol)
		}
		filter.Symbol = sym.Name
	}
	if req.Status != "" {
		status := models.OrderStatus(strings.ToLower(req.Status))
		if !status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, req.Status)
		}
		filter.Status = status
	}

	orders, err := s.store.Orders().ListByOwner(ctx, ownerID, filter)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []*models.Order{}
	}
	return orders, nil
}

// ListTrades возвращает сделки, в которых владелец был покупателем или продавцом
func (s *OrderService) ListTrades(ctx context.Context, ownerID int64, req *ListTradesRequest) ([]*models.Trade, error) {
	if ownerID <= 0 {
		return nil, ErrInvalidOwner
	}

	filter := models.TradeFilter{Limit: req.Limit, Offset: req.Offset}
	if req.Symbol != "" {
		sym, ok := s.symbols.Lookup(req.Symbol)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, req.Symbol)
		}
		filter.Symbol = sym.Name
	}

	trades, err := s.store.Trades().ListByOwner(ctx, ownerID, filter)
	if err != nil {
		return nil, err
	}
	if trades == nil {
		trades = []*models.Trade{}
	}
	return trades, nil
}
