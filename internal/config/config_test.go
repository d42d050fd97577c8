package config

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Load
// ============================================================

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "")
	t.Setenv("FEE_RATE", "")
	t.Setenv("SYMBOLS", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Engine.StorageDriver != "postgres" {
		t.Errorf("expected postgres storage, got %s", cfg.Engine.StorageDriver)
	}
	if !cfg.Engine.FeeRate.Equal(decimal.RequireFromString("0.001")) {
		t.Errorf("expected fee rate 0.001, got %s", cfg.Engine.FeeRate)
	}
	if len(cfg.Engine.Symbols) != 3 {
		t.Errorf("expected 3 default symbols, got %v", cfg.Engine.Symbols)
	}
	if cfg.Kafka.Enabled() {
		t.Error("kafka must be disabled without brokers")
	}
	if cfg.Server.RateLimitRPS != 20 || cfg.Server.RateLimitBurst != 40 {
		t.Errorf("unexpected rate limit %v/%v", cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "Memory")
	t.Setenv("FEE_RATE", "0.002")
	t.Setenv("FEE_ACCOUNT_ID", "99")
	t.Setenv("SYMBOLS", "BTC/USDT, SOL/USDT ,")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("KAFKA_WRITE_TIMEOUT", "2s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.spotex.io, ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Engine.StorageDriver != "memory" {
		t.Errorf("expected memory storage, got %s", cfg.Engine.StorageDriver)
	}
	if !cfg.Engine.FeeRate.Equal(decimal.RequireFromString("0.002")) {
		t.Errorf("expected fee rate 0.002, got %s", cfg.Engine.FeeRate)
	}
	if cfg.Engine.FeeAccountID != 99 {
		t.Errorf("expected fee account 99, got %d", cfg.Engine.FeeAccountID)
	}
	if strings.Join(cfg.Engine.Symbols, "|") != "BTC/USDT|SOL/USDT" {
		t.Errorf("unexpected symbols: %v", cfg.Engine.Symbols)
	}
	if !cfg.Kafka.Enabled() || len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("unexpected brokers: %v", cfg.Kafka.Brokers)
	}
	if cfg.Kafka.WriteTimeout != 2*time.Second {
		t.Errorf("expected 2s write timeout, got %v", cfg.Kafka.WriteTimeout)
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "https://app.spotex.io" {
		t.Errorf("unexpected CORS origins: %v", cfg.Server.CORSOrigins)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		errPart string
	}{
		{"unknown storage", "STORAGE_DRIVER", "redis", "STORAGE_DRIVER"},
		{"malformed fee", "FEE_RATE", "abc", "FEE_RATE"},
		{"negative fee", "FEE_RATE", "-0.1", "FEE_RATE"},
		{"fee of 100%", "FEE_RATE", "1", "FEE_RATE"},
		{"zero fee account", "FEE_ACCOUNT_ID", "0", "FEE_ACCOUNT_ID"},
		{"bad port", "SERVER_PORT", "70000", "SERVER_PORT"},
		{"zero batch", "MATCH_BATCH_SIZE", "0", "MATCH_BATCH_SIZE"},
		{"negative depth", "BOOK_EVENT_DEPTH", "-1", "BOOK_EVENT_DEPTH"},
		{"negative rate limit", "RATE_LIMIT_RPS", "-5", "RATE_LIMIT_RPS"},
		{"fractional burst", "RATE_LIMIT_BURST", "0.5", "RATE_LIMIT_BURST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			if err == nil {
				t.Fatalf("expected error for %s=%s", tt.key, tt.value)
			}
			if !strings.Contains(err.Error(), tt.errPart) {
				t.Errorf("error %q does not mention %s", err, tt.errPart)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "secret", Name: "spotex", SSLMode: "disable"}

	if !strings.Contains(d.DSN(), "password=secret") {
		t.Errorf("DSN must contain password: %s", d.DSN())
	}
	if strings.Contains(d.DSNWithoutPassword(), "secret") {
		t.Errorf("DSNWithoutPassword leaks password: %s", d.DSNWithoutPassword())
	}
}
