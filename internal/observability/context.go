package observability

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// CorrelationIDHeader is the HTTP header used to carry the request
// correlation ID in both directions.
const CorrelationIDHeader = "X-Correlation-ID"

// GenerateCorrelationID creates a new correlation ID of the form
// req-<16 hex chars>.
func GenerateCorrelationID() string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "req-" + hex[:16]
}

// WithCorrelationID returns a context carrying the given correlation ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID returns the correlation ID bound to the context, or ""
// if none is set.
func CorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(correlationIDKey).(string); ok {
		return v
	}
	return ""
}

// CorrelationIDOrDash returns the bound correlation ID, or "-" when the
// context carries none. Log records always include one of the two.
func CorrelationIDOrDash(ctx context.Context) string {
	if id := CorrelationID(ctx); id != "" {
		return id
	}
	return "-"
}
