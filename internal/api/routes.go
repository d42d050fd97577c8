package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"spotex/internal/api/handlers"
	"spotex/internal/api/middleware"
	"spotex/internal/service"
	"spotex/internal/websocket"
	"spotex/pkg/ratelimit"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	OrderService  service.OrderServiceInterface
	WalletService service.WalletServiceInterface
	MarketService service.MarketServiceInterface
	Hub           *websocket.Hub

	// RateLimiter ограничивает частоту пользовательских запросов (nil = без лимита)
	RateLimiter *ratelimit.KeyedLimiter

	// CORSOrigins - разрешённые origins (nil = middleware.DefaultOrigins)
	CORSOrigins []string

	// Health возвращает nil, если сервис готов принимать запросы
	Health func() error

	// QueueLen - глубина очереди движка, отдаётся в X-Queue-Depth
	QueueLen func() int
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /orders/                       (X-User-ID)
//	│   ├── POST /           - разместить ордер
//	│   ├── GET /            - список ордеров
//	│   ├── GET /{id}        - ордер
//	│   └── DELETE /{id}     - отменить ордер
//	├── GET /trades                    (X-User-ID) - история сделок
//	├── /wallets/                      (X-User-ID)
//	│   ├── GET /                      - балансы
//	│   ├── GET /{asset}               - баланс актива
//	│   ├── POST /{asset}/deposit      - депозит
//	│   ├── POST /{asset}/withdraw     - вывод
//	│   └── GET /{asset}/transfers     - история переводов
//	└── /markets/                      (публичные)
//	    ├── GET /                      - пары
//	    ├── GET /{symbol}/orderbook    - стакан
//	    ├── GET /{symbol}/trades       - последние сделки
//	    └── GET /{symbol}/ticker       - сводка 24h
//
// /ws/stream - WebSocket (X-User-ID опционален)
// /health, /metrics
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. Owner (только для пользовательских маршрутов)
// 5. RateLimit (пользовательские маршруты, если задан RateLimiter)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS(deps.CORSOrigins))

	api := router.PathPrefix("/api/v1").Subrouter()

	// Публичные рыночные данные
	if deps.MarketService != nil {
		marketHandler := handlers.NewMarketHandler(deps.MarketService)
		api.HandleFunc("/markets", marketHandler.GetMarkets).Methods("GET")
		api.HandleFunc("/markets/{symbol}/orderbook", marketHandler.GetOrderBook).Methods("GET")
		api.HandleFunc("/markets/{symbol}/trades", marketHandler.GetTrades).Methods("GET")
		api.HandleFunc("/markets/{symbol}/ticker", marketHandler.GetTicker).Methods("GET")
	}

	// Пользовательские маршруты требуют X-User-ID
	user := api.NewRoute().Subrouter()
	user.Use(middleware.Owner)
	if deps.RateLimiter != nil {
		user.Use(middleware.RateLimit(deps.RateLimiter))
	}

	if deps.OrderService != nil {
		orderHandler := handlers.NewOrderHandler(deps.OrderService)
		user.HandleFunc("/orders", orderHandler.PlaceOrder).Methods("POST")
		user.HandleFunc("/orders", orderHandler.GetOrders).Methods("GET")
		user.HandleFunc("/orders/{id}", orderHandler.GetOrder).Methods("GET")
		user.HandleFunc("/orders/{id}", orderHandler.CancelOrder).Methods("DELETE")
		user.HandleFunc("/trades", orderHandler.GetTrades).Methods("GET")
	}

	if deps.WalletService != nil {
		walletHandler := handlers.NewWalletHandler(deps.WalletService)
		user.HandleFunc("/wallets", walletHandler.GetBalances).Methods("GET")
		user.HandleFunc("/wallets/{asset}", walletHandler.GetBalance).Methods("GET")
		user.HandleFunc("/wallets/{asset}/deposit", walletHandler.Deposit).Methods("POST")
		user.HandleFunc("/wallets/{asset}/withdraw", walletHandler.Withdraw).Methods("POST")
		user.HandleFunc("/wallets/{asset}/transfers", walletHandler.GetTransfers).Methods("GET")
	}

	// WebSocket route
	if deps.Hub != nil {
		hub := deps.Hub
		router.Handle("/ws/stream", middleware.OptionalOwner(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner, _ := middleware.OwnerID(r.Context())
			websocket.ServeWS(hub, owner, w, r)
		}))).Methods("GET")
	}

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if deps.Health != nil {
			if err := deps.Health(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		if deps.QueueLen != nil {
			w.Header().Set("X-Queue-Depth", strconv.Itoa(deps.QueueLen()))
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Preflight: mux вызывает middleware только для совпавшего маршрута,
	// иначе OPTIONS получил бы 405 до CORS
	router.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return router
}
