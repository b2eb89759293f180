package middleware

import (
	"net/http"

	"github.com/gorilla/mux"

	"perpdex/pkg/ratelimit"
)

// RateLimit - middleware защиты торгового API от шторма запросов
//
// Один глобальный Token Bucket на процесс: лимит защищает matching
// и леджер, а не отдельного клиента. Переполнение даёт 429 с
// Retry-After, health и metrics не лимитируются.
func RateLimit(limiter *ratelimit.RateLimiter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			if !limiter.Allow() {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
