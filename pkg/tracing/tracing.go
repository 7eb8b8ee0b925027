// Package tracing sets up OpenTelemetry spans around connecting, taring, analysing and uploading.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "critforce"

// Config selects the span exporter.  Exporter is "stdout" or "noop".
type Config struct {
	Enabled  bool
	Exporter string
}

// Setup installs the global tracer provider and returns its shutdown function.  A disabled config installs a
// noop provider.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	noopShutdown := func(context.Context) error { return nil }

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return noopShutdown, nil
	}

	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.Exporter {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
	case "noop", "":
		otel.SetTracerProvider(noop.NewTracerProvider())
		return noopShutdown, nil
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", cfg.Exporter)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// StartSpan starts a named span from the global provider
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// End records err on the span, if any, then ends it.  Use with a named error return:
// defer func() { tracing.End(span, err) }()
func End(span trace.Span, err error) {
	switch err {
	case nil:
		span.SetStatus(codes.Ok, "")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// String is a convenience for attribute.String
func String(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// Float is a convenience for attribute.Float64
func Float(key string, value float64) attribute.KeyValue {
	return attribute.Float64(key, value)
}

// Int is a convenience for attribute.Int
func Int(key string, value int) attribute.KeyValue {
	return attribute.Int(key, value)
}
