package logging

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const requestIDKey contextKey = "relay_request_id"

// NewRequestID generates a unique identifier for a dispatch request.
func NewRequestID() string {
	return uuid.New().String()
}

// WithRequestID attaches a request identifier to the context so downstream
// components can correlate their log lines with one dispatch.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFrom extracts the request identifier from the context.
// Returns an empty string when none is attached.
func RequestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// DetachContext creates a context that won't be cancelled when parent is.
// Log and bookkeeping writes that must survive request cancellation use it.
func DetachContext(parent context.Context) context.Context {
	return context.WithoutCancel(parent)
}
