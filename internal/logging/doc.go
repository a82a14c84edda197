// Package logging provides structured logging with OpenTelemetry integration.
//
// The Logger wraps Zap with:
//   - a custom Trace level (-2, below Debug)
//   - stdout and/or OpenTelemetry output (otelzap bridge)
//   - automatic context fields (trace_id, span_id, request.id)
//
// Usage:
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRequestID(ctx, "req-42")
//	logger.Info(ctx, "documents embedded", zap.Int("count", n))
//
// Tests use NewTestLogger, which records entries through zaptest/observer.
//
// Logger is safe for concurrent use. Child loggers (With, Named) do not
// affect their parent.
package logging
