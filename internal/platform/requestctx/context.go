// Package requestctx carries per-request values (the scoped logger, trace
// metadata and the checkout idempotency key) between middleware and handlers.
package requestctx

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	traceKey
	idempotencyKey
)

var noopLogger = zap.NewNop()

// TraceInfo is the trace a request belongs to.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// Resource is the Cloud Logging trace resource name, or "" when the project
// or trace is unknown.
func (t TraceInfo) Resource() string {
	if t.ProjectID == "" || t.TraceID == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/traces/%s", t.ProjectID, t.TraceID)
}

// CloudTraceHeader renders t as an X-Cloud-Trace-Context value.
func (t TraceInfo) CloudTraceHeader() string {
	if t.TraceID == "" || t.SpanID == "" {
		return ""
	}
	option := "0"
	if t.Sampled {
		option = "1"
	}
	return t.TraceID + "/" + t.SpanID + ";o=" + option
}

func lookup[T any](ctx context.Context, key ctxKey) (T, bool) {
	var zero T
	if ctx == nil {
		return zero, false
	}
	v, ok := ctx.Value(key).(T)
	return v, ok
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// WithLogger scopes logger to ctx. A nil logger stores the no-op logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(orBackground(ctx), loggerKey, logger)
}

// Logger returns the request logger, or the no-op logger outside a request.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := lookup[*zap.Logger](ctx, loggerKey); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger is the logger Logger falls back to.
func NoopLogger() *zap.Logger { return noopLogger }

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return context.WithValue(orBackground(ctx), traceKey, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	return lookup[TraceInfo](ctx, traceKey)
}

// TraceID returns the current trace id or "".
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithIdempotencyKey records the client's Idempotency-Key for the request.
// Blank keys leave ctx unchanged.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	key = strings.TrimSpace(key)
	if key == "" {
		return orBackground(ctx)
	}
	return context.WithValue(orBackground(ctx), idempotencyKey, key)
}

// IdempotencyKey returns the key recorded by WithIdempotencyKey.
func IdempotencyKey(ctx context.Context) (string, bool) {
	return lookup[string](ctx, idempotencyKey)
}
