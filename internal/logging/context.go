// internal/logging/context.go
package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields returns the correlation fields every context-aware log call
// carries: the active span, the invocation's request ID and the CLI command
// that started it.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}
	if command := CommandFromContext(ctx); command != "" {
		fields = append(fields, zap.String("cli.command", command))
	}

	return fields
}

type (
	requestCtxKey struct{}
	commandCtxKey struct{}
	loggerCtxKey  struct{}
)

// RequestIDFromContext returns the ID set by WithRequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithRequestID tags ctx with the ID of one embedkit invocation. The CLI
// generates a UUID per run, logs it as request.id and sends the same value
// to SageMaker as the InferenceId, so endpoint-side logs can be joined with
// ours. Empty IDs are ignored.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// CommandFromContext returns the command path set by WithCommand, or "".
func CommandFromContext(ctx context.Context) string {
	if c, ok := ctx.Value(commandCtxKey{}).(string); ok {
		return c
	}
	return ""
}

// WithCommand tags ctx with the CLI command path, e.g. "embedkit embed".
func WithCommand(ctx context.Context, command string) context.Context {
	if command == "" {
		return ctx
	}
	return context.WithValue(ctx, commandCtxKey{}, command)
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
