// Package retry повторяет операции с экспоненциальной задержкой.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Config параметры повторов
//
// Задержка перед попыткой n (с нуля): BaseDelay * Factor^n, не больше MaxDelay,
// затем сдвиг на ±Jitter долей.
type Config struct {
	Attempts  int // всего попыток, включая первую; <= 0 - пока не отменён ctx
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Factor    float64
	Jitter    float64 // 0..1

	// Retryable решает, повторять ли ошибку. nil = IsRetryable
	Retryable func(error) bool

	// OnRetry вызывается перед ожиданием очередной попытки
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DatabaseConfig - ожидание Postgres при старте сервиса
func DatabaseConfig() Config {
	return Config{
		Attempts:  8,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  10 * time.Second,
		Factor:    2,
		Jitter:    0.2,
	}
}

// PublishConfig - публикация события в брокер.
// Задержки короткие, чтобы не копить очередь публикации.
func PublishConfig() Config {
	return Config{
		Attempts:  3,
		BaseDelay: 50 * time.Millisecond,
		MaxDelay:  time.Second,
		Factor:    2,
		Jitter:    0.1,
	}
}

func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = 100 * time.Millisecond
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.Factor < 1 {
		c.Factor = 2
	}
	switch {
	case c.Jitter < 0:
		c.Jitter = 0
	case c.Jitter > 1:
		c.Jitter = 1
	}
	if c.Retryable == nil {
		c.Retryable = IsRetryable
	}
	return c
}

// backoff возвращает задержку после неудачной попытки attempt
func (c Config) backoff(attempt int) time.Duration {
	d := float64(c.BaseDelay)
	for i := 0; i < attempt && d < float64(c.MaxDelay); i++ {
		d *= c.Factor
	}
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	if c.Jitter > 0 {
		d += d * c.Jitter * (2*rand.Float64() - 1)
	}
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

// Do вызывает op, пока она не вернёт nil, ошибку без повтора
// или не закончатся попытки. Возвращает последнюю ошибку op;
// ошибку ctx только если op ни разу не вызывалась.
func Do(ctx context.Context, op func() error, cfg Config) error {
	cfg = cfg.withDefaults()

	var lastErr error
	for attempt := 0; cfg.Attempts <= 0 || attempt < cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				return err
			}
			return lastErr
		}

		lastErr = op()
		if lastErr == nil || !cfg.Retryable(lastErr) {
			return lastErr
		}
		if cfg.Attempts > 0 && attempt == cfg.Attempts-1 {
			break
		}

		wait := cfg.backoff(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, lastErr, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		}
	}
	return lastErr
}

// ====================================================================
// Классификация
// ====================================================================

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent помечает ошибку как неповторяемую. errors.Is/As видят исходную ошибку.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsRetryable: nil, ошибки контекста и Permanent не повторяются.
// Ошибки с методом Temporary() решают сами, остальные повторяются.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	var temp interface{ Temporary() bool }
	if errors.As(err, &temp) {
		return temp.Temporary()
	}
	return true
}
