package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/pribylovaa/go-auth-service/internal/pkg/log"
)

// Logging кладёт request-scoped логгер (request_id, method, path) в контекст
// и после ответа пишет одну строку msg="http" со статусом и длительностью.
func Logging(l *slog.Logger) Middleware {
	if l == nil {
		l = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqLogger := l.With(
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			if rid := RequestIDFrom(r.Context()); rid != "" {
				reqLogger = reqLogger.With(slog.String("request_id", rid))
			}

			ctx := log.Into(r.Context(), reqLogger)
			r = r.WithContext(ctx)

			sw := newStatusWriter(w)
			start := time.Now()

			next.ServeHTTP(sw, r)

			reqLogger.LogAttrs(ctx, slog.LevelInfo, "http",
				slog.Int("status", sw.code()),
				slog.Duration("dur", time.Since(start)),
				slog.Int("bytes", sw.count),
			)
		})
	}
}
