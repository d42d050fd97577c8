//go:build integration

// Package integration contains integration tests for the exchange core.
//
// These tests verify the interaction between components on a real PostgreSQL:
// - API tests: full HTTP request cycle down to the ledger
// - WebSocket tests: events produced by the engine reach subscribers
// - Database tests: schema, transactions, concurrent ledger updates
//
// Run with: go test -tags=integration ./tests/integration/...
package integration

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"spotex/internal/api"
	"spotex/internal/engine"
	"spotex/internal/models"
	"spotex/internal/notify"
	"spotex/internal/repository"
	"spotex/internal/service"
	"spotex/internal/websocket"
)

// feeAccountID - счёт комиссий в тестовом окружении
const feeAccountID int64 = 1

var testSymbols = []string{"BTC/USDT", "ETH/USDT", "ETH/BTC"}

// TestConfig contains configuration for integration tests
type TestConfig struct {
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
}

// TestServer encapsulates all components needed for integration testing
type TestServer struct {
	DB      *sql.DB
	Store   *repository.PostgresStore
	Symbols *models.SymbolRegistry
	Engine  *engine.Engine
	Hub     *websocket.Hub
	Server  *httptest.Server
	Cleanup func()
}

// getTestConfig returns configuration from environment variables or defaults
func getTestConfig() TestConfig {
	return TestConfig{
		DBHost:     getEnv("TEST_DB_HOST", "localhost"),
		DBPort:     getEnv("TEST_DB_PORT", "5432"),
		DBName:     getEnv("TEST_DB_NAME", "spotex_test"),
		DBUser:     getEnv("TEST_DB_USER", "postgres"),
		DBPassword: getEnv("TEST_DB_PASSWORD", "postgres"),
		DBSSLMode:  getEnv("TEST_DB_SSLMODE", "disable"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// SetupTestDB opens a database with a fresh schema, skipping the test when
// PostgreSQL is not reachable
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	config := getTestConfig()

	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.DBHost, config.DBPort, config.DBUser, config.DBPassword, config.DBName, config.DBSSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Skipf("Skipping integration test: cannot open database: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		t.Skipf("Skipping integration test: cannot ping database: %v", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := repository.Migrate(context.Background(), db); err != nil {
		db.Close()
		t.Fatalf("migrate: %v", err)
	}
	truncateTables(t, db)

	t.Cleanup(func() {
		truncateTables(t, db)
		db.Close()
	})
	return db
}

// truncateTables очищает все таблицы и сбрасывает последовательности
func truncateTables(t *testing.T, db *sql.DB) {
	t.Helper()
	for _, table := range repository.Tables() {
		if _, err := db.Exec(fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", table)); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
}

// SetupTestServer creates a complete test server with all components
func SetupTestServer(t *testing.T) *TestServer {
	t.Helper()
	db := SetupTestDB(t)

	symbols, err := models.NewSymbolRegistry(testSymbols)
	if err != nil {
		t.Fatal(err)
	}
	store := repository.NewPostgresStore(db)

	hub := websocket.NewHub(symbols, nil)
	go hub.Run()

	eng, err := engine.New(store, symbols, notify.Fanout{hub}, engine.Config{
		FeeRate:      decimal.RequireFromString("0.001"),
		FeeAccountID: feeAccountID,
		BookDepth:    10,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	engineDone := make(chan struct{})
	go func() {
		eng.Run(ctx)
		close(engineDone)
	}()

	router := api.SetupRoutes(&api.Dependencies{
		OrderService:  service.NewOrderService(eng, store, symbols, nil),
		WalletService: service.NewWalletService(store, symbols, hub, feeAccountID, nil),
		MarketService: service.NewMarketService(eng, store, symbols),
		Hub:           hub,
		Health:        db.Ping,
		QueueLen:      eng.QueueLen,
	})
	server := httptest.NewServer(router)

	ts := &TestServer{
		DB:      db,
		Store:   store,
		Symbols: symbols,
		Engine:  eng,
		Hub:     hub,
		Server:  server,
	}
	ts.Cleanup = func() {
		server.Close()
		cancel()
		<-engineDone
		hub.Stop()
	}
	t.Cleanup(ts.Cleanup)
	return ts
}

// Do отправляет JSON запрос от имени owner (0 = анонимно) и декодирует ответ в out
func (ts *TestServer) Do(t *testing.T, method, path string, owner int64, body, out interface{}) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if owner > 0 {
		req.Header.Set("X-User-ID", strconv.FormatInt(owner, 10))
	}

	resp, err := ts.Server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

// Deposit зачисляет средства через API
func (ts *TestServer) Deposit(t *testing.T, owner int64, asset, amount string) {
	t.Helper()
	status := ts.Do(t, http.MethodPost, "/api/v1/wallets/"+asset+"/deposit", owner,
		service.DepositRequest{Amount: amount}, nil)
	if status != http.StatusCreated {
		t.Fatalf("deposit %s %s for %d: status %d", amount, asset, owner, status)
	}
}

// Place размещает ордер через API
func (ts *TestServer) Place(t *testing.T, owner int64, req service.PlaceOrderRequest) (*models.Order, int) {
	t.Helper()
	var order models.Order
	status := ts.Do(t, http.MethodPost, "/api/v1/orders", owner, req, &order)
	return &order, status
}

// Balance читает баланс напрямую из ledger
func (ts *TestServer) Balance(t *testing.T, owner int64, asset string) *models.Balance {
	t.Helper()
	b, err := ts.Store.Wallets().Get(context.Background(), owner, asset)
	if err != nil {
		t.Fatalf("get balance %d/%s: %v", owner, asset, err)
	}
	return b
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertBalance(t *testing.T, b *models.Balance, available, locked string) {
	t.Helper()
	if !b.Available.Equal(dec(available)) || !b.Locked.Equal(dec(locked)) {
		t.Errorf("%d/%s: available=%s locked=%s, want %s/%s",
			b.OwnerID, b.Asset, b.Available, b.Locked, available, locked)
	}
}
