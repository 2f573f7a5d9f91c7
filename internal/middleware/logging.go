package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/anand-san/murmur/pkg/logger"
	"github.com/anand-san/murmur/pkg/metrics"
)

const (
	// CorrelationIDKey is the context key for correlation ID.
	CorrelationIDKey ContextKey = "correlation_id"
)

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Flush lets SSE handlers flush through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Logging creates request logging middleware.
func Logging(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			correlationID := r.Header.Get("X-Correlation-ID")
			if correlationID == "" {
				correlationID = uuid.NewString()
			}

			wrapped := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			wrapped.Header().Set("X-Correlation-ID", correlationID)

			// Auth fills the slot further down the chain.
			slot := &requestIdentity{}
			ctx := context.WithValue(r.Context(), CorrelationIDKey, correlationID)
			ctx = context.WithValue(ctx, identityKey, slot)
			r = r.WithContext(ctx)

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)

			log.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.Int64("bytes", wrapped.written),
				zap.Duration("duration", duration),
				zap.String("correlation_id", correlationID),
				zap.String("user_id", slot.userID),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("user_agent", r.UserAgent()),
			)

			metrics.RecordRequest(r.Method, routePattern(r), strconv.Itoa(wrapped.statusCode), duration.Seconds())
		})
	}
}

type requestIdentity struct {
	userID string
}

const identityKey ContextKey = "request_identity"

// recordIdentity stores the user id where Logging can read it after the handler returns.
func recordIdentity(ctx context.Context, userID string) {
	if slot, ok := ctx.Value(identityKey).(*requestIdentity); ok {
		slot.userID = userID
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// GetCorrelationID gets correlation ID from context.
func GetCorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return v
	}
	return ""
}
