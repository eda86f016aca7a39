package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/salepoint/salepoint/pkg/errors"
	"github.com/salepoint/salepoint/pkg/httputil"
)

// Recovery converts panics into 500 responses and logs the stack trace.
func Recovery(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.ErrorContext(r.Context(), "panic recovered",
						slog.Any("panic", rec),
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.String("stack", string(debug.Stack())),
					)
					httputil.WriteError(w, r, errors.Internal(fmt.Errorf("panic: %v", rec)), log)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
