package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// correlationHeader carries the request correlation id on the wire.
const correlationHeader = "X-Correlation-ID"

// correlationIDKey is the context key for correlation ID.
type correlationIDKey struct{}

// CorrelationID creates a middleware that adds a correlation ID to each request.
// If the request already has a X-Correlation-ID header, it uses that value.
// Otherwise, it generates a new one.
//
// For event submissions the request-scoped id covers only the HTTP exchange;
// once a fingerprint exists, handlers and workers log under the fingerprint
// so one event traces across both processes.
func CorrelationID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := r.Header.Get(correlationHeader)

			if correlationID == "" {
				correlationID = uuid.NewString()
			}

			w.Header().Set(correlationHeader, correlationID)

			ctx := context.WithValue(r.Context(), correlationIDKey{}, correlationID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetCorrelationID extracts the correlation ID from the request context.
func GetCorrelationID(ctx context.Context) string {
	if correlationID, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return correlationID
	}

	return "unknown"
}
