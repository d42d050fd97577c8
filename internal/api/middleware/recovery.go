package middleware

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"spotex/pkg/utils"
)

// Recovery - middleware для восстановления после паники в handlers
//
// Логирует panic со stack trace и отвечает 500 в формате ErrorResponse.
// Детали паники клиенту не отдаются.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}

				utils.L().WithComponent("http").Error("panic in handler",
					utils.RequestID(RequestID(r.Context())),
					zap.Any("panic", err),
					zap.String("path", r.URL.Path),
					zap.ByteString("stack", debug.Stack()),
				)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error":"Internal server error","code":"internal_error"}`))
			}
		}()

		next.ServeHTTP(w, r)
	})
}
