// Package telemetry builds the ambient logging and tracing surface of
// TENON. cmd/tenon builds its logger here and is the only holder of one;
// components under internal/ take no logger. Components that trace carry
// an optional otel tracer, resolved through TracerOrNoop, which falls back
// to the global otel tracer when none is set.
package telemetry

import (
	"context"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// NewLogger builds a JSON-handler slog.Logger writing to w. Tests typically
// pass io.Discard or a bytes.Buffer; cmd/tenon passes os.Stderr.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// NoopLogger returns a logger that discards everything, for components in
// tests that don't care about log output.
func NoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewTracerProvider builds an in-process tracer provider with no exporter
// wired — spans are created and ended but not shipped anywhere unless a
// caller registers an exporter via options. This keeps the core's
// instrumentation real (genuine otel spans a host can later export) without
// the core ever deciding where traces go. No span attribute feeds into
// risk signal computation; traces are operator telemetry, not risk input.
func NewTracerProvider(opts ...trace.TracerProviderOption) *trace.TracerProvider {
	return trace.NewTracerProvider(opts...)
}

// Tracer returns a named tracer from the given provider, or the global
// no-op tracer if provider is nil.
func Tracer(provider *trace.TracerProvider, name string) oteltrace.Tracer {
	if provider == nil {
		return otel.Tracer(name)
	}
	return provider.Tracer(name)
}

// StartSpan is a small convenience wrapper so call sites don't need to
// import otel/trace directly just to start a span with a component name.
func StartSpan(ctx context.Context, tracer oteltrace.Tracer, spanName string) (context.Context, oteltrace.Span) {
	return tracer.Start(ctx, spanName)
}

// TracerOrNoop returns tracer, or the named global no-op tracer when
// tracer is nil. Components store the resolved result so a zero-valued
// struct literal in a test never reaches a nil Tracer.Start call.
func TracerOrNoop(tracer oteltrace.Tracer, name string) oteltrace.Tracer {
	if tracer == nil {
		return otel.Tracer(name)
	}
	return tracer
}
