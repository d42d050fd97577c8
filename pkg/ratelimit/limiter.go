package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter - Token Bucket для ограничения частоты запросов одного клиента
//
// Ведро пополняется со скоростью rate токенов/сек до ёмкости burst,
// каждый запрос забирает один токен.
//
// Использование:
//
//	limiter := NewRateLimiter(10, 20) // 10 req/sec, burst 20
//	if limiter.Allow() { ... }        // неблокирующая проверка
type RateLimiter struct {
	rate       float64
	burst      float64
	tokens     float64
	lastRefill time.Time
	mu         sync.Mutex
}

// NewRateLimiter создаёт ведро с полным запасом токенов.
// burst берётся как есть: ёмкость меньше rate допустима.
func NewRateLimiter(rate, burst float64) *RateLimiter {
	if rate <= 0 {
		rate = 10
	}
	if burst <= 0 {
		burst = rate * 2
	}

	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     burst,
		lastRefill: time.Now(),
	}
}

// refill вызывается под lock'ом
func (rl *RateLimiter) refill(now time.Time) {
	rl.tokens += now.Sub(rl.lastRefill).Seconds() * rl.rate
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}
	rl.lastRefill = now
}

// Allow забирает токен без ожидания
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill(time.Now())
	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// Wait блокирует до получения токена или отмены контекста
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		rl.refill(time.Now())
		if rl.tokens >= 1 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
		rl.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// RetryAfter - время до появления следующего токена
func (rl *RateLimiter) RetryAfter() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill(time.Now())
	if rl.tokens >= 1 {
		return 0
	}
	return time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
}

// Tokens возвращает текущее количество токенов
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill(time.Now())
	return rl.tokens
}

// full сообщает, что ведро полное и его можно выбросить
func (rl *RateLimiter) full(now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill(now)
	return rl.tokens >= rl.burst
}

// ============================================================
// KeyedLimiter - отдельное ведро на каждого владельца
// ============================================================

// KeyedLimiter выдаёт каждому ключу (owner_id) собственное ведро
//
// Ведра создаются лениво. Полные ведра удаляются при Sweep:
// повторное создание даст тот же результат.
type KeyedLimiter struct {
	rate    float64
	burst   float64
	buckets map[int64]*RateLimiter
	mu      sync.Mutex
}

// NewKeyedLimiter создаёт limiter с одинаковыми параметрами для всех ключей
func NewKeyedLimiter(rate, burst float64) *KeyedLimiter {
	probe := NewRateLimiter(rate, burst)
	return &KeyedLimiter{
		rate:    probe.rate,
		burst:   probe.burst,
		buckets: make(map[int64]*RateLimiter),
	}
}

// Get возвращает ведро ключа, создавая его при необходимости
func (kl *KeyedLimiter) Get(key int64) *RateLimiter {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	rl, ok := kl.buckets[key]
	if !ok {
		rl = NewRateLimiter(kl.rate, kl.burst)
		kl.buckets[key] = rl
	}
	return rl
}

// Allow забирает токен из ведра ключа
func (kl *KeyedLimiter) Allow(key int64) bool {
	return kl.Get(key).Allow()
}

// Len - количество активных ведер
func (kl *KeyedLimiter) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.buckets)
}

// Sweep удаляет полные ведра и возвращает их количество
func (kl *KeyedLimiter) Sweep() int {
	now := time.Now()

	kl.mu.Lock()
	defer kl.mu.Unlock()

	removed := 0
	for key, rl := range kl.buckets {
		if rl.full(now) {
			delete(kl.buckets, key)
			removed++
		}
	}
	return removed
}

// RunSweeper периодически вызывает Sweep до отмены ctx
func (kl *KeyedLimiter) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			kl.Sweep()
		case <-ctx.Done():
			return
		}
	}
}
