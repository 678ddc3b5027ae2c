package logging

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type contextKey string

const (
	reqIDKey   contextKey = "req_id"
	traceIDKey contextKey = "trace_id"
)

// NewRequestContext attaches fresh req_id and trace_id values to the context.
// Every log record emitted through FromContext carries both ids.
func NewRequestContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, reqIDKey, uuid.NewString())
	return context.WithValue(ctx, traceIDKey, uuid.NewString())
}

// WithTraceID overrides the trace id, used when a caller propagates its own.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// ReqID returns the request id from the context, or empty string.
func ReqID(ctx context.Context) string {
	if v, ok := ctx.Value(reqIDKey).(string); ok {
		return v
	}
	return ""
}

// TraceID returns the trace id from the context, or empty string.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// FromContext returns a logger with request-scoped ids attached.
// Falls back to the default logger when the context carries no ids.
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	if id := ReqID(ctx); id != "" {
		logger = logger.With(slog.String("req_id", id))
	}
	if id := TraceID(ctx); id != "" {
		logger = logger.With(slog.String("trace_id", id))
	}
	return logger
}
