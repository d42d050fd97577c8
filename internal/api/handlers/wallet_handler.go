package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"spotex/internal/models"
	"spotex/internal/service"
)

// WalletHandler отвечает за балансы и переводы
//
// Endpoints:
// - GET /api/v1/wallets                       - все балансы
// - GET /api/v1/wallets/{asset}               - баланс актива
// - POST /api/v1/wallets/{asset}/deposit      - зачисление
// - POST /api/v1/wallets/{asset}/withdraw     - вывод
// - GET /api/v1/wallets/{asset}/transfers     - история переводов
type WalletHandler struct {
	walletService service.WalletServiceInterface
}

// NewWalletHandler создает новый WalletHandler
func NewWalletHandler(walletService service.WalletServiceInterface) *WalletHandler {
	return &WalletHandler{
		walletService: walletService,
	}
}

// BalancesResponse - ответ со списком балансов
type BalancesResponse struct {
	Balances []*models.Balance `json:"balances"`
}

// GetBalances возвращает все кошельки пользователя
// GET /api/v1/wallets
func (h *WalletHandler) GetBalances(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFrom(w, r)
	if !ok {
		return
	}

	balances, err := h.walletService.GetBalances(r.Context(), owner)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, BalancesResponse{Balances: balances})
}

// GetBalance возвращает баланс актива
// GET /api/v1/wallets/{asset}
func (h *WalletHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFrom(w, r)
	if !ok {
		return
	}

	balance, err := h.walletService.GetBalance(r.Context(), owner, mux.Vars(r)["asset"])
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, balance)
}

// Deposit зачисляет средства
// POST /api/v1/wallets/{asset}/deposit
//
// Request Body:
//
//	{"amount": "1.5", "tx_hash": "0x..."}
//
// Response:
// - 201 Created: проведённый перевод
// - 409 Conflict: tx_hash уже использован
func (h *WalletHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFrom(w, r)
	if !ok {
		return
	}

	var req service.DepositRequest
	if !decodeBody(w, r, &req) {
		return
	}

	transfer, err := h.walletService.Deposit(r.Context(), owner, mux.Vars(r)["asset"], &req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, transfer)
}

// Withdraw выводит средства
// POST /api/v1/wallets/{asset}/withdraw
//
// Request Body:
//
//	{"amount": "0.5", "address": "bc1q..."}
//
// Response:
// - 201 Created: проведённый перевод с комиссией
// - 422 Unprocessable Entity: не хватает amount + комиссия
func (h *WalletHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFrom(w, r)
	if !ok {
		return
	}

	var req service.WithdrawRequest
	if !decodeBody(w, r, &req) {
		return
	}

	transfer, err := h.walletService.Withdraw(r.Context(), owner, mux.Vars(r)["asset"], &req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, transfer)
}

// GetTransfers возвращает историю переводов актива
// GET /api/v1/wallets/{asset}/transfers
func (h *WalletHandler) GetTransfers(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFrom(w, r)
	if !ok {
		return
	}
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}

	transfers, err := h.walletService.ListTransfers(r.Context(), owner, mux.Vars(r)["asset"], limit, offset)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, ListResponse{Items: transfers, Count: len(transfers), Limit: limit, Offset: offset})
}
