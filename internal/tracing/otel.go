// Package tracing exports supplementary OpenTelemetry spans for tool
// invocations (the stdio transport starts one per request; a span helper
// for resource operations exists but no caller uses it), parallel to (not a replacement for)
// internal/trace's bounded, redacting, round-trip-serializable call tree -
// OTel has no notion of a size-bounded tree or redaction-at-close, so the
// two coexist: internal/trace is the source of truth the storage backend
// persists, this package is what an external collector sees.
//
// Grounded directly on the teacher's pkg/mcp/tracing/otel.go, narrowed
// from its MCP-protocol-shaped span helpers (TraceRequest/TracePromptOperation)
// to the invocation/resource shape this service actually has.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the OTLP exporter.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Endpoint       string
	UseHTTP        bool
	Headers        map[string]string
	Insecure       bool
}

// Exporter wraps an OpenTelemetry tracer bound to the toolmesh service
// resource.
type Exporter struct {
	tracer trace.Tracer
}

// NewExporter initializes the OTLP exporter and tracer provider. The
// returned shutdown func must be called on process exit to flush
// pending spans.
func NewExporter(ctx context.Context, cfg Config) (*Exporter, func(context.Context) error, error) {
	var exporter *otlptrace.Exporter
	var err error

	if cfg.UseHTTP {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	} else {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("creating trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
		resource.WithHost(),
		resource.WithProcess(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("creating trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer := tp.Tracer(cfg.ServiceName, trace.WithInstrumentationVersion(cfg.ServiceVersion))
	shutdown := func(ctx context.Context) error { return tp.Shutdown(ctx) }

	return &Exporter{tracer: tracer}, shutdown, nil
}

// TraceInvocation starts a span covering one tool invocation.
func (e *Exporter) TraceInvocation(ctx context.Context, toolName, requestID string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, fmt.Sprintf("invoke %s", toolName),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("toolmesh.tool.name", toolName),
			attribute.String("toolmesh.request.id", requestID),
		),
	)
}

// TraceResourceOp starts a span covering one pooled resource operation
// (acquire/release/probe).
func (e *Exporter) TraceResourceOp(ctx context.Context, op, resourceName string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, fmt.Sprintf("resource %s: %s", op, resourceName),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("toolmesh.resource.operation", op),
			attribute.String("toolmesh.resource.name", resourceName),
		),
	)
}

// WithSpan runs fn inside a span, recording its error and status.
func (e *Exporter) WithSpan(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := e.tracer.Start(ctx, name)
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// RecordOutcome sets a span's success/failure status. The stdio transport
// calls it right after Invoke returns, by which point the invoker has
// already closed the matching internal/trace node.
func RecordOutcome(span trace.Span, success bool, err error) {
	if success {
		span.SetStatus(codes.Ok, "")
		return
	}
	msg := "invocation failed"
	if err != nil {
		msg = err.Error()
		span.RecordError(err)
	}
	span.SetStatus(codes.Error, msg)
}
