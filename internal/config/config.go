package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Engine   EngineConfig
	Kafka    KafkaConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port            int
	Host            string
	UseHTTPS        bool
	CertFile        string
	KeyFile         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Лимит запросов на одного пользователя (0 = выключен)
	RateLimitRPS   float64
	RateLimitBurst float64

	// CORSOrigins - разрешённые origins браузерных клиентов (пусто = localhost)
	CORSOrigins []string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver       string
	Host         string
	Port         int
	Name         string
	User         string
	Password     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

// EngineConfig - настройки торгового ядра
type EngineConfig struct {
	// Хранилище: postgres или memory (для разработки и тестов)
	StorageDriver string

	// Комиссия со стороны продавца, доля от объёма сделки в котируемой валюте
	FeeRate decimal.Decimal

	// Счёт, на который зачисляются комиссии
	FeeAccountID int64

	// Торговые пары в формате BASE/QUOTE через запятую
	Symbols []string

	// Размер страницы встречных ордеров при матчинге
	MatchBatchSize int

	// Глубина стакана в событиях orderbook (0 = не публиковать)
	BookEventDepth int
}

// KafkaConfig - публикация событий в Kafka (пустой Brokers = выключено)
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BufferSize   int
	WriteTimeout time.Duration
}

// Enabled возвращает true если указан хотя бы один брокер
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level       string
	Format      string
	Output      string
	Development bool
}

// Load загружает конфигурацию из переменных окружения
//
// Если рядом лежит .env, значения из него подхватываются,
// но не перекрывают уже установленные переменные окружения.
func Load() (*Config, error) {
	// Отсутствие .env - нормальная ситуация
	_ = godotenv.Load()

	feeRate, err := getEnvAsDecimal("FEE_RATE", decimal.RequireFromString("0.001"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS:        getEnvAsBool("USE_HTTPS", false),
			CertFile:        getEnv("CERT_FILE", ""),
			KeyFile:         getEnv("KEY_FILE", ""),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
			RateLimitRPS:    getEnvAsFloat("RATE_LIMIT_RPS", 20),
			RateLimitBurst:  getEnvAsFloat("RATE_LIMIT_BURST", 40),
			CORSOrigins:     getEnvAsList("CORS_ALLOWED_ORIGINS", nil),
		},
		Database: DatabaseConfig{
			Driver:       getEnv("DB_DRIVER", "postgres"),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			Name:         getEnv("DB_NAME", "spotex"),
			User:         getEnv("DB_USER", "user"),
			Password:     getEnv("DB_PASSWORD", "password"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			AutoMigrate:  getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Engine: EngineConfig{
			StorageDriver:  strings.ToLower(getEnv("STORAGE_DRIVER", "postgres")),
			FeeRate:        feeRate,
			FeeAccountID:   int64(getEnvAsInt("FEE_ACCOUNT_ID", 1)),
			Symbols:        getEnvAsList("SYMBOLS", []string{"BTC/USDT", "ETH/USDT", "ETH/BTC"}),
			MatchBatchSize: getEnvAsInt("MATCH_BATCH_SIZE", 100),
			BookEventDepth: getEnvAsInt("BOOK_EVENT_DEPTH", 20),
		},
		Kafka: KafkaConfig{
			Brokers:      getEnvAsList("KAFKA_BROKERS", nil),
			Topic:        getEnv("KAFKA_TOPIC", "exchange.events"),
			BufferSize:   getEnvAsInt("KAFKA_BUFFER_SIZE", 4096),
			WriteTimeout: getEnvAsDuration("KAFKA_WRITE_TIMEOUT", 5*time.Second),
		},
		Logging: LoggingConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Format:      getEnv("LOG_FORMAT", "json"),
			Output:      getEnv("LOG_OUTPUT", ""),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	if err := cfg.validateEngine(); err != nil {
		return nil, err
	}

	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateEngine проверяет параметры торгового ядра
func (c *Config) validateEngine() error {
	switch c.Engine.StorageDriver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("STORAGE_DRIVER must be postgres or memory, got %q", c.Engine.StorageDriver)
	}

	if c.Engine.FeeRate.IsNegative() || c.Engine.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("FEE_RATE must be in [0, 1), got %s", c.Engine.FeeRate)
	}

	if c.Engine.FeeAccountID <= 0 {
		return fmt.Errorf("FEE_ACCOUNT_ID must be positive, got %d", c.Engine.FeeAccountID)
	}

	if len(c.Engine.Symbols) == 0 {
		return fmt.Errorf("SYMBOLS must list at least one trading pair")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Engine.MatchBatchSize < 1 {
		return fmt.Errorf("MATCH_BATCH_SIZE must be positive, got %d", c.Engine.MatchBatchSize)
	}

	if c.Engine.BookEventDepth < 0 {
		return fmt.Errorf("BOOK_EVENT_DEPTH cannot be negative, got %d", c.Engine.BookEventDepth)
	}

	if c.Kafka.Enabled() && c.Kafka.BufferSize < 1 {
		return fmt.Errorf("KAFKA_BUFFER_SIZE must be positive, got %d", c.Kafka.BufferSize)
	}

	if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST cannot be negative")
	}

	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_BURST must be at least 1 when rate limit is on, got %v", c.Server.RateLimitBurst)
	}

	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive, got %v", c.Server.ShutdownTimeout)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDecimal в отличие от остальных не глотает ошибку разбора:
// опечатка в денежном параметре должна останавливать запуск
func getEnvAsDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s must be a decimal number, got %q", key, valueStr)
	}
	return value, nil
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
