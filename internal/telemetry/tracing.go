package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/codex-k8s/compute-mcp-server"

// TracingConfig configures span export.
type TracingConfig struct {
	// Enabled turns exporting on.
	Enabled bool
	// Endpoint is the OTLP gRPC collector address.
	Endpoint string
	// ServiceName is reported as service.name.
	ServiceName string
	// ServiceVersion is reported as service.version.
	ServiceVersion string
}

// Tracer wraps an OpenTelemetry tracer. When disabled, spans are no-ops and
// nothing is propagated. A nil *Tracer behaves as disabled.
type Tracer struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	provider   *sdktrace.TracerProvider
	enabled    bool
}

// NewTracer builds a tracer exporting spans over OTLP gRPC when enabled.
func NewTracer(ctx context.Context, cfg TracingConfig) (*Tracer, error) {
	if !cfg.Enabled {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer(instrumentationName)}, nil
	}

	res := resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	)

	opts := []otlptracegrpc.Option{otlptracegrpc.WithInsecure()}
	if cfg.Endpoint != "" {
		opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	propagator := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	otel.SetTextMapPropagator(propagator)

	return &Tracer{
		tracer:     provider.Tracer(instrumentationName),
		propagator: propagator,
		provider:   provider,
		enabled:    true,
	}, nil
}

// Enabled reports whether spans are exported.
func (t *Tracer) Enabled() bool {
	return t != nil && t.enabled
}

// StartSpan starts a span with the given attributes.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if !t.Enabled() {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err (when set) and ends the span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// InjectProcessEnv adds trace context variables (TRACEPARENT, TRACESTATE,
// BAGGAGE) to a process environment.
func (t *Tracer) InjectProcessEnv(ctx context.Context, env []string) []string {
	if !t.Enabled() {
		return env
	}
	carrier := envCarrier{}
	t.propagator.Inject(ctx, carrier)
	for key, value := range carrier {
		env = append(env, key+"="+value)
	}
	return env
}

// HTTPHandler wraps next with otelhttp instrumentation when enabled.
func (t *Tracer) HTTPHandler(next http.Handler, operation string) http.Handler {
	if !t.Enabled() {
		return next
	}
	return otelhttp.NewHandler(next, operation)
}

// Shutdown flushes pending spans.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if !t.Enabled() || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// envCarrier maps propagation keys to upper-case environment variable names.
type envCarrier map[string]string

func (c envCarrier) Get(key string) string {
	return c[strings.ToUpper(key)]
}

func (c envCarrier) Set(key, value string) {
	c[strings.ToUpper(key)] = value
}

func (c envCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for key := range c {
		keys = append(keys, key)
	}
	return keys
}
