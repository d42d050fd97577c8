package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	jsoniter "github.com/json-iterator/go"

	"spotex/internal/api/middleware"
	"spotex/internal/engine"
	"spotex/internal/repository"
	"spotex/internal/service"
	"spotex/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// максимальный размер тела запроса
const maxBodySize = 1 << 16

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints
type ErrorResponse struct {
	Error   string                  `json:"error"`
	Code    string                  `json:"code,omitempty"`
	Details string                  `json:"details,omitempty"`
	Fields  []utils.ValidationError `json:"fields,omitempty"`
}

// ListResponse - страница элементов
type ListResponse struct {
	Items  interface{} `json:"items"`
	Count  int         `json:"count"`
	Limit  int         `json:"limit,omitempty"`
	Offset int         `json:"offset,omitempty"`
}

// respondWithJSON отправляет JSON ответ
func respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondWithError отправляет JSON ответ с ошибкой
func respondWithError(w http.ResponseWriter, statusCode int, code, message, details string) {
	respondWithJSON(w, statusCode, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

// handleServiceError переводит ошибки сервисов и ядра в HTTP статусы
func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, engine.ErrInvalidOrder),
		errors.Is(err, repository.ErrInvalidAmount):
		resp := ErrorResponse{Error: "Invalid request", Code: "invalid_request", Details: err.Error()}
		var verrs utils.ValidationErrors
		if errors.As(err, &verrs) {
			resp.Fields = verrs
		}
		respondWithJSON(w, http.StatusBadRequest, resp)

	case errors.Is(err, service.ErrInvalidOwner):
		respondWithError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid owner", "")

	case errors.Is(err, service.ErrUnknownSymbol), errors.Is(err, engine.ErrSymbolNotFound):
		respondWithError(w, http.StatusNotFound, "symbol_not_found", "Symbol not found", err.Error())

	case errors.Is(err, service.ErrUnknownAsset):
		respondWithError(w, http.StatusNotFound, "asset_not_found", "Asset not found", err.Error())

	case errors.Is(err, repository.ErrOrderNotFound):
		respondWithError(w, http.StatusNotFound, "order_not_found", "Order not found", "")

	case errors.Is(err, repository.ErrInsufficientBalance):
		respondWithError(w, http.StatusUnprocessableEntity, "insufficient_balance", "Insufficient balance", err.Error())

	case errors.Is(err, repository.ErrInvalidState):
		respondWithError(w, http.StatusConflict, "invalid_state", "Order cannot be changed in its current state", "")

	case errors.Is(err, repository.ErrDuplicateTransfer):
		respondWithError(w, http.StatusConflict, "duplicate_transfer", "Transfer with this tx hash already exists", "")

	case errors.Is(err, engine.ErrSettlementFailed):
		respondWithError(w, http.StatusInternalServerError, "settlement_failed", "Order cancelled: settlement failed", "")

	case errors.Is(err, engine.ErrEngineStopped):
		respondWithError(w, http.StatusServiceUnavailable, "engine_unavailable", "Matching engine is not running", "")

	case errors.Is(err, context.DeadlineExceeded):
		respondWithError(w, http.StatusGatewayTimeout, "timeout", "Request timed out", "")

	default:
		utils.L().WithComponent("http").Error("unhandled service error", utils.Status(err.Error()))
		respondWithError(w, http.StatusInternalServerError, "internal_error", "Internal server error", "")
	}
}

// decodeBody читает JSON тело запроса в dst
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_json", "Invalid request body", err.Error())
		return false
	}
	return true
}

// ownerFrom достаёт владельца, проставленный middleware.Owner
func ownerFrom(w http.ResponseWriter, r *http.Request) (int64, bool) {
	owner, ok := middleware.OwnerID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid X-User-ID header", "")
	}
	return owner, ok
}

// queryInt разбирает неотрицательный целый параметр, пустой = def
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return v, nil
}

// pagination читает limit и offset. Верхнюю границу limit ограничивает хранилище.
func pagination(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	var err error
	if limit, err = queryInt(r, "limit", 0); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_limit", "Invalid limit", err.Error())
		return 0, 0, false
	}
	if offset, err = queryInt(r, "offset", 0); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_offset", "Invalid offset", err.Error())
		return 0, 0, false
	}
	return limit, offset, true
}
