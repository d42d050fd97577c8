package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"spotex/internal/models"
	"spotex/internal/service"
)

// MarketHandler - публичные рыночные данные, владелец не требуется
//
// Endpoints:
// - GET /api/v1/markets                       - торгуемые пары
// - GET /api/v1/markets/{symbol}/orderbook    - стакан (?depth=)
// - GET /api/v1/markets/{symbol}/trades       - последние сделки (?limit=)
// - GET /api/v1/markets/{symbol}/ticker       - сводка за 24 часа
type MarketHandler struct {
	marketService service.MarketServiceInterface
}

// NewMarketHandler создает новый MarketHandler
func NewMarketHandler(marketService service.MarketServiceInterface) *MarketHandler {
	return &MarketHandler{
		marketService: marketService,
	}
}

// MarketsResponse - список торгуемых пар
type MarketsResponse struct {
	Markets []models.Symbol `json:"markets"`
}

// GetMarkets возвращает торгуемые пары
// GET /api/v1/markets
func (h *MarketHandler) GetMarkets(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, MarketsResponse{Markets: h.marketService.ListMarkets()})
}

// GetOrderBook возвращает снимок стакана
// GET /api/v1/markets/{symbol}/orderbook?depth=20
func (h *MarketHandler) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	depth, err := queryInt(r, "depth", 0)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_depth", "Invalid depth", err.Error())
		return
	}

	book, err := h.marketService.GetOrderBook(r.Context(), mux.Vars(r)["symbol"], depth)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, book)
}

// GetTrades возвращает последние сделки пары
// GET /api/v1/markets/{symbol}/trades?limit=50
func (h *MarketHandler) GetTrades(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_limit", "Invalid limit", err.Error())
		return
	}

	trades, err := h.marketService.RecentTrades(r.Context(), mux.Vars(r)["symbol"], limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, ListResponse{Items: trades, Count: len(trades), Limit: limit})
}

// GetTicker возвращает сводку по паре
// GET /api/v1/markets/{symbol}/ticker
func (h *MarketHandler) GetTicker(w http.ResponseWriter, r *http.Request) {
	ticker, err := h.marketService.Ticker(r.Context(), mux.Vars(r)["symbol"])
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, ticker)
}
