package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"spotex/internal/service"
)

// OrderHandler отвечает за ордера и сделки пользователя
//
// Endpoints:
// - POST /api/v1/orders          - размещение ордера
// - GET /api/v1/orders           - список ордеров (?symbol=&status=&limit=&offset=)
// - GET /api/v1/orders/{id}      - ордер по ID
// - DELETE /api/v1/orders/{id}   - отмена ордера
// - GET /api/v1/trades           - история сделок (?symbol=&limit=&offset=)
type OrderHandler struct {
	orderService service.OrderServiceInterface
}

// NewOrderHandler создает новый OrderHandler с внедрением зависимостей
func NewOrderHandler(orderService service.OrderServiceInterface) *OrderHandler {
	return &OrderHandler{
		orderService: orderService,
	}
}

// PlaceOrder размещает ордер
// POST /api/v1/orders
//
// Request Body:
//
//	{
//	  "symbol": "BTCUSDT",
//	  "side": "buy",
//	  "type": "limit",
//	  "quantity": "0.5",
//	  "price": "30000"
//	}
//
// Response:
// - 201 Created: ордер после обработки движком
// - 400 Bad Request: невалидные параметры
// - 422 Unprocessable Entity: недостаточно средств
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFrom(w, r)
	if !ok {
		return
	}

	var req service.PlaceOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	order, err := h.orderService.PlaceOrder(r.Context(), owner, &req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, order)
}

// GetOrders возвращает ордера пользователя
// GET /api/v1/orders
func (h *OrderHandler) GetOrders(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFrom(w, r)
	if !ok {
		return
	}
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	orders, err := h.orderService.ListOrders(r.Context(), owner, &service.ListOrdersRequest{
		Symbol: query.Get("symbol"),
		Status: query.Get("status"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, ListResponse{Items: orders, Count: len(orders), Limit: limit, Offset: offset})
}

// GetOrder возвращает ордер по ID
// GET /api/v1/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFrom(w, r)
	if !ok {
		return
	}
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	order, err := h.orderService.GetOrder(r.Context(), owner, id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, order)
}

// CancelOrder отменяет ордер
// DELETE /api/v1/orders/{id}
//
// Response:
// - 200 OK: отменённый ордер
// - 404 Not Found: ордер не найден или чужой
// - 409 Conflict: ордер уже исполнен или отменён
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFrom(w, r)
	if !ok {
		return
	}
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	order, err := h.orderService.CancelOrder(r.Context(), owner, id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, order)
}

// GetTrades возвращает сделки пользователя
// GET /api/v1/trades
func (h *OrderHandler) GetTrades(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFrom(w, r)
	if !ok {
		return
	}
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}

	trades, err := h.orderService.ListTrades(r.Context(), owner, &service.ListTradesRequest{
		Symbol: r.URL.Query().Get("symbol"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, ListResponse{Items: trades, Count: len(trades), Limit: limit, Offset: offset})
}

func orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, "invalid_id", "Invalid order ID", "ID must be a positive number")
		return 0, false
	}
	return id, true
}

