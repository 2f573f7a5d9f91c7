package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit creates per-IP rate limiting middleware for unauthenticated routes.
func RateLimit(requestLimit int, windowLength time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestLimit,
		windowLength,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(limitExceeded(windowLength)),
	)
}

// UserRateLimit creates per-user rate limiting middleware. It must run after Auth.
func UserRateLimit(requestLimit int, windowLength time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestLimit,
		windowLength,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if userID := GetUserID(r.Context()); userID != "" {
				return "user:" + userID, nil
			}
			return "ip:" + r.RemoteAddr, nil
		}),
		httprate.WithLimitHandler(limitExceeded(windowLength)),
	)
}

func limitExceeded(window time.Duration) http.HandlerFunc {
	retry := strconv.Itoa(int(window.Seconds()))
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", retry)
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limit exceeded","retry_after":` + retry + `}`))
	}
}
