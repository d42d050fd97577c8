package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"spotex/internal/models"
	"spotex/internal/service"
)

// ============ MarketHandler Tests ============

func TestMarketHandler_GetMarkets(t *testing.T) {
	handler := NewMarketHandler(&MockMarketService{})

	w := httptest.NewRecorder()
	handler.GetMarkets(w, newRequest(http.MethodGet, "/api/v1/markets", "", 0, nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp MarketsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Markets) != 1 || resp.Markets[0].Name != "BTCUSDT" {
		t.Errorf("unexpected markets %+v", resp.Markets)
	}
}

func TestMarketHandler_GetOrderBook(t *testing.T) {
	t.Run("passes depth", func(t *testing.T) {
		mockSvc := &MockMarketService{}
		handler := NewMarketHandler(mockSvc)

		w := httptest.NewRecorder()
		handler.GetOrderBook(w, newRequest(http.MethodGet, "/api/v1/markets/BTCUSDT/orderbook?depth=5", "", 0,
			map[string]string{"symbol": "BTCUSDT"}))

		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if mockSvc.lastDepth != 5 || mockSvc.lastSymbol != "BTCUSDT" {
			t.Errorf("depth=%d symbol=%s", mockSvc.lastDepth, mockSvc.lastSymbol)
		}
		var book models.OrderBook
		if err := json.NewDecoder(w.Body).Decode(&book); err != nil {
			t.Fatal(err)
		}
		if book.Symbol != "BTCUSDT" {
			t.Errorf("symbol = %s", book.Symbol)
		}
	})

	t.Run("invalid depth", func(t *testing.T) {
		handler := NewMarketHandler(&MockMarketService{})

		w := httptest.NewRecorder()
		handler.GetOrderBook(w, newRequest(http.MethodGet, "/api/v1/markets/BTCUSDT/orderbook?depth=x", "", 0,
			map[string]string{"symbol": "BTCUSDT"}))

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})

	t.Run("unknown symbol", func(t *testing.T) {
		handler := NewMarketHandler(&MockMarketService{err: service.ErrUnknownSymbol})

		w := httptest.NewRecorder()
		handler.GetOrderBook(w, newRequest(http.MethodGet, "/api/v1/markets/DOGE/orderbook", "", 0,
			map[string]string{"symbol": "DOGE"}))

		if w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}
	})
}

func TestMarketHandler_GetTrades(t *testing.T) {
	mockSvc := &MockMarketService{}
	handler := NewMarketHandler(mockSvc)

	w := httptest.NewRecorder()
	handler.GetTrades(w, newRequest(http.MethodGet, "/api/v1/markets/ETHUSDT/trades?limit=3", "", 0,
		map[string]string{"symbol": "ETHUSDT"}))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if mockSvc.lastLimit != 3 {
		t.Errorf("limit = %d", mockSvc.lastLimit)
	}
}

func TestMarketHandler_GetTicker(t *testing.T) {
	handler := NewMarketHandler(&MockMarketService{})

	w := httptest.NewRecorder()
	handler.GetTicker(w, newRequest(http.MethodGet, "/api/v1/markets/BTCUSDT/ticker", "", 0,
		map[string]string{"symbol": "BTCUSDT"}))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var ticker service.Ticker
	if err := json.NewDecoder(w.Body).Decode(&ticker); err != nil {
		t.Fatal(err)
	}
	if ticker.Symbol != "BTCUSDT" || ticker.Trades != 3 {
		t.Errorf("unexpected ticker %+v", ticker)
	}
}
