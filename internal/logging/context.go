package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	apiCodeKey ctxKey = iota
	invocationIDKey
)

// WithAPICode returns a context with the interface code set.
func WithAPICode(ctx context.Context, code string) context.Context {
	return context.WithValue(ctx, apiCodeKey, code)
}

// WithInvocationID returns a context with the pipeline invocation ID set.
func WithInvocationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, invocationIDKey, id)
}

// APICode extracts the interface code from the context, or "" if absent.
func APICode(ctx context.Context) string {
	v, _ := ctx.Value(apiCodeKey).(string)
	return v
}

// InvocationID extracts the invocation ID from the context, or "" if absent.
func InvocationID(ctx context.Context) string {
	v, _ := ctx.Value(invocationIDKey).(string)
	return v
}

// WithIDs sets both correlation IDs on the context at once.
func WithIDs(ctx context.Context, apiCode, invocationID string) context.Context {
	ctx = WithAPICode(ctx, apiCode)
	ctx = WithInvocationID(ctx, invocationID)
	return ctx
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation IDs from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := APICode(ctx); v != "" {
		r.AddAttrs(slog.String("api_code", v))
	}
	if v := InvocationID(ctx); v != "" {
		r.AddAttrs(slog.String("invocation_id", v))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
