// Package logging provides structured logging correlated with
// OpenTelemetry spans, emitted directly from the connection-handling path
// rather than through an HTTP middleware chain.
package logging

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger wraps structured logging with OpenTelemetry integration.
// Automatically correlates logs with distributed traces for observability.
type Logger struct {
    slogger *slog.Logger
    tracer  trace.Tracer
}

// New creates a structured logger with OpenTelemetry integration,
// configured for JSON output so logs can be parsed and correlated.
func New(service string) *Logger {
    handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
        Level:     slog.LevelDebug,
        AddSource: true,
        ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
            if a.Key == slog.TimeKey {
                a.Key = "timestamp"
            }
            return a
        },
    })

    return &Logger{
        slogger: slog.New(handler),
        tracer:  otel.Tracer(service),
    }
}

// Debug logs a debug-level message with trace correlation.
func (l *Logger) Debug(ctx context.Context, msg string, attrs ...slog.Attr) {
    l.logWithTrace(ctx, slog.LevelDebug, msg, attrs...)
}

// Info logs an informational message with trace correlation.
func (l *Logger) Info(ctx context.Context, msg string, attrs ...slog.Attr) {
    l.logWithTrace(ctx, slog.LevelInfo, msg, attrs...)
}

// Warn logs a warning message with trace correlation. Used for error
// paths that abort a single request (partial writes, origin read errors,
// oversize bodies) without surfacing to the client.
func (l *Logger) Warn(ctx context.Context, msg string, attrs ...slog.Attr) {
    l.logWithTrace(ctx, slog.LevelWarn, msg, attrs...)
}

// Error logs an error message, marking the active span as failed.
func (l *Logger) Error(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
    if err != nil {
        attrs = append(attrs, slog.String("error", err.Error()))
        if span := trace.SpanFromContext(ctx); span.IsRecording() {
            span.SetStatus(codes.Error, err.Error())
            span.RecordError(err)
        }
    }
    l.logWithTrace(ctx, slog.LevelError, msg, attrs...)
}

// Fatal logs a fatal error and terminates the process. Reserved for
// process-level failures such as a listener bind error.
func (l *Logger) Fatal(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
    if err != nil {
        attrs = append(attrs, slog.String("error", err.Error()))
    }
    l.logWithTrace(ctx, slog.LevelError, msg, attrs...)
    os.Exit(1)
}

func (l *Logger) logWithTrace(ctx context.Context, level slog.Level, msg string, attrs ...slog.Attr) {
    span := trace.SpanFromContext(ctx)
    if span.SpanContext().IsValid() {
        attrs = append(attrs,
            slog.String("trace_id", span.SpanContext().TraceID().String()),
            slog.String("span_id", span.SpanContext().SpanID().String()),
        )
    }

    attrs = append(attrs, slog.Time("timestamp", time.Now()))
    l.slogger.LogAttrs(ctx, level, msg, attrs...)
}

// StartSpan creates a new OpenTelemetry span, for tracing one connection's
// lifetime through cache lookup, origin dial, and streaming.
func (l *Logger) StartSpan(ctx context.Context, operationName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
    return l.tracer.Start(ctx, operationName, trace.WithAttributes(attrs...))
}

// WithFields returns a new Logger with pre-configured attributes attached
// to every subsequent entry, without modifying the receiver.
func (l *Logger) WithFields(attrs ...slog.Attr) *Logger {
    anyAttrs := make([]any, len(attrs))
    for i, a := range attrs {
        anyAttrs[i] = a
    }
    return &Logger{
        slogger: l.slogger.With(anyAttrs...),
        tracer:  l.tracer,
    }
}

// LogRequest emits one structured line per proxied request: method,
// request-target, outcome status, cache result, bytes streamed, and
// duration.
func (l *Logger) LogRequest(ctx context.Context, method, target string, status int, cacheResult string, bytes int64, duration time.Duration) {
    l.Info(ctx, "request completed",
        slog.String("method", method),
        slog.String("target", target),
        slog.Int("status", status),
        slog.String("cache_result", cacheResult),
        slog.Int64("bytes", bytes),
        slog.Duration("duration", duration),
    )
}
