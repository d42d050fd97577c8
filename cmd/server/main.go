package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"spotex/internal/api"
	"spotex/internal/config"
	"spotex/internal/engine"
	"spotex/internal/models"
	"spotex/internal/notify"
	"spotex/internal/repository"
	"spotex/internal/service"
	"spotex/internal/websocket"
	"spotex/pkg/ratelimit"
	"spotex/pkg/retry"
	"spotex/pkg/utils"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		Development: cfg.Logging.Development,
	})
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("server exited")
}

func run(cfg *config.Config, logger *utils.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	symbols, err := models.NewSymbolRegistry(cfg.Engine.Symbols)
	if err != nil {
		return fmt.Errorf("invalid SYMBOLS: %w", err)
	}

	// Хранилище
	store, health, closeStore, err := initStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// WebSocket hub
	hub := websocket.NewHub(symbols, logger)
	hub.AllowOrigins(cfg.Server.CORSOrigins)
	go hub.Run()
	defer hub.Stop()

	// Подписчики событий: WebSocket всегда, Kafka при наличии брокеров
	notifiers := notify.Fanout{hub}
	if cfg.Kafka.Enabled() {
		kafka := notify.NewKafkaPublisher(notify.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BufferSize:   cfg.Kafka.BufferSize,
			WriteTimeout: cfg.Kafka.WriteTimeout,
		}, logger)
		defer func() {
			if err := kafka.Close(); err != nil {
				logger.Warn("kafka publisher close failed", zap.Error(err))
			}
		}()
		notifiers = append(notifiers, kafka)
		logger.Info("kafka publishing enabled",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic))
	}

	// Торговое ядро
	eng, err := engine.New(store, symbols, notifiers, engine.Config{
		FeeRate:      cfg.Engine.FeeRate,
		FeeAccountID: cfg.Engine.FeeAccountID,
		MatchBatch:   cfg.Engine.MatchBatchSize,
		BookDepth:    cfg.Engine.BookEventDepth,
	}, logger)
	if err != nil {
		return err
	}

	engineCtx, stopEngine := context.WithCancel(context.Background())
	engineDone := make(chan error, 1)
	go func() {
		engineDone <- eng.Run(engineCtx)
	}()

	// Сервисы
	deps := &api.Dependencies{
		OrderService:  service.NewOrderService(eng, store, symbols, logger),
		WalletService: service.NewWalletService(store, symbols, notifiers, cfg.Engine.FeeAccountID, logger),
		MarketService: service.NewMarketService(eng, store, symbols),
		Hub:           hub,
		Health:        health,
		QueueLen:      eng.QueueLen,
		CORSOrigins:   cfg.Server.CORSOrigins,
	}

	if cfg.Server.RateLimitRPS > 0 {
		limiter := ratelimit.NewKeyedLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
		go limiter.RunSweeper(engineCtx, time.Minute)
		deps.RateLimiter = limiter
	}

	// HTTP сервер
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.SetupRoutes(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			zap.String("addr", server.Addr),
			zap.Bool("https", cfg.Server.UseHTTPS),
			zap.Strings("symbols", cfg.Engine.Symbols))

		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down server")
	case err := <-serverErr:
		runErr = fmt.Errorf("http server: %w", err)
	case err := <-engineDone:
		// движок не должен завершаться сам
		runErr = fmt.Errorf("engine stopped: %w", err)
		engineDone <- err
	}

	// Graceful shutdown: сначала перестаём принимать запросы, затем
	// останавливаем движок. Неисполненные команды остаются pending.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}

	stopEngine()
	select {
	case err := <-engineDone:
		if err != nil && runErr == nil {
			runErr = err
		}
	case <-shutdownCtx.Done():
		logger.Warn("engine did not stop in time")
	}

	return runErr
}

// initStore открывает хранилище согласно STORAGE_DRIVER
//
// Возвращает store, проверку готовности для /health и функцию закрытия.
func initStore(ctx context.Context, cfg *config.Config, logger *utils.Logger) (repository.Store, func() error, func(), error) {
	if cfg.Engine.StorageDriver == "memory" {
		logger.Warn("using in-memory storage, data will be lost on restart")
		return repository.NewMemoryStore(), nil, func() {}, nil
	}

	db, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	if cfg.Database.AutoMigrate {
		if err := repository.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		logger.Info("database schema is up to date")
	}

	health := func() error {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	}
	closeDB := func() {
		if err := db.Close(); err != nil {
			logger.Warn("database close failed", zap.Error(err))
		}
	}
	return repository.NewPostgresStore(db), health, closeDB, nil
}

// initDatabase создает подключение к базе данных
//
// Postgres может подниматься позже сервиса, поэтому ping повторяется с backoff.
func initDatabase(ctx context.Context, cfg *config.Config, logger *utils.Logger) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	policy := retry.DatabaseConfig()
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Warn("database not ready",
			zap.String("dsn", cfg.Database.DSNWithoutPassword()),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)
	}
	err = retry.Do(ctx, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			// таймаут одного ping не должен прерывать повторы
			return fmt.Errorf("ping: %v", err)
		}
		return nil
	}, policy)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("connected to database", zap.String("dsn", cfg.Database.DSNWithoutPassword()))
	return db, nil
}
