package middleware

import (
	"math"
	"net/http"
	"strconv"

	"spotex/pkg/ratelimit"
	"spotex/pkg/utils"
)

// RateLimit ограничивает частоту запросов одного владельца
//
// Должен стоять после Owner: запросы без владельца пропускаются.
// При превышении отвечает 429 с заголовком Retry-After в секундах.
func RateLimit(limiter *ratelimit.KeyedLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner, ok := OwnerID(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			bucket := limiter.Get(owner)
			if !bucket.Allow() {
				retryAfter := int(math.Ceil(bucket.RetryAfter().Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				utils.L().WithComponent("http").Debug("rate limited",
					utils.UserID(owner),
					utils.RequestID(RequestID(r.Context())),
				)

				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"Too many requests","code":"rate_limited"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
