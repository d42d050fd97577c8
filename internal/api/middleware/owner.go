package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
)

// OwnerHeader - идентификатор пользователя, проставляемый API gateway
const OwnerHeader = "X-User-ID"

// OwnerID возвращает владельца запроса из контекста
func OwnerID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(ownerIDKey).(int64)
	return id, ok && id > 0
}

// WithOwner кладёт владельца в контекст
func WithOwner(ctx context.Context, ownerID int64) context.Context {
	return context.WithValue(ctx, ownerIDKey, ownerID)
}

// Owner требует заголовок X-User-ID с положительным числом.
// Без него запрос отклоняется с 401.
func Owner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(OwnerHeader)), 10, 64)
		if err != nil || id <= 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"Missing or invalid X-User-ID header","code":"unauthorized"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), id)))
	})
}

// OptionalOwner принимает запросы без заголовка (анонимный поток WebSocket)
func OptionalOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(OwnerHeader)), 10, 64); err == nil && id > 0 {
			r = r.WithContext(WithOwner(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
