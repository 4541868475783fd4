// Package observability provides Prometheus metrics and OpenTelemetry tracing
// for the exercise clients and servers.
package observability

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/nowucca/introducing-mcp/pkg/config"
)

// TracingConfig configures OpenTelemetry tracing
type TracingConfig struct {
	// Service identification
	ServiceName    string
	ServiceVersion string

	// Exporter configuration
	ExporterType ExporterType
	Endpoint     string // OTLP endpoint
	Insecure     bool

	// Sampling configuration
	SampleRate  float64  // 0.0 to 1.0
	NeverSample []string // method names to never sample

	// SpanExporter overrides ExporterType and exports synchronously
	SpanExporter sdktrace.SpanExporter
}

// ExporterType defines the type of trace exporter
type ExporterType string

const (
	// ExporterTypeOTLPGRPC exports traces via OTLP over gRPC
	ExporterTypeOTLPGRPC ExporterType = "otlp-grpc"

	// ExporterTypeOTLPHTTP exports traces via OTLP over HTTP
	ExporterTypeOTLPHTTP ExporterType = "otlp-http"

	// ExporterTypeNoop records nothing
	ExporterTypeNoop ExporterType = "noop"
)

// TracingConfigFrom converts loaded settings into a TracingConfig. Without
// SampleAll a quarter of traces are kept and pings are never traced.
func TracingConfigFrom(cfg config.TracingConfig, service, version string) TracingConfig {
	tc := TracingConfig{
		ServiceName:    service,
		ServiceVersion: version,
		ExporterType:   ExporterType(cfg.Exporter),
		Endpoint:       cfg.Endpoint,
		Insecure:       true,
		SampleRate:     1.0,
	}
	if !cfg.SampleAll {
		tc.SampleRate = 0.25
		tc.NeverSample = []string{"ping"}
	}
	return tc
}

// TracingProvider creates the spans around MCP methods, tool calls and plan steps
type TracingProvider struct {
	config   TracingConfig
	tracer   trace.Tracer
	mu       sync.Mutex
	shutdown func(context.Context) error
}

// NewTracingProvider creates a tracing provider. The noop exporter yields a
// provider whose spans are never recorded.
func NewTracingProvider(config TracingConfig) (*TracingProvider, error) {
	if config.ServiceName == "" {
		config.ServiceName = "introducing-mcp"
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = "unknown"
	}
	if config.ExporterType == "" {
		config.ExporterType = ExporterTypeNoop
	}

	if config.SpanExporter == nil && config.ExporterType == ExporterTypeNoop {
		return &TracingProvider{config: config, tracer: noop.NewTracerProvider().Tracer("introducing-mcp")}, nil
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
	)

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(createSampler(config)),
	}
	if config.SpanExporter != nil {
		opts = append(opts, sdktrace.WithSyncer(config.SpanExporter))
	} else {
		exporter, err := createExporter(config)
		if err != nil {
			return nil, fmt.Errorf("failed to create exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	return &TracingProvider{
		config:   config,
		tracer:   tp.Tracer("introducing-mcp"),
		shutdown: tp.Shutdown,
	}, nil
}

// NewNoopTracing returns a provider that records nothing
func NewNoopTracing() *TracingProvider {
	tp, _ := NewTracingProvider(TracingConfig{ExporterType: ExporterTypeNoop})
	return tp
}

func createExporter(config TracingConfig) (sdktrace.SpanExporter, error) {
	switch config.ExporterType {
	case ExporterTypeOTLPGRPC:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.Endpoint)}
		if config.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	case ExporterTypeOTLPHTTP:
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(config.Endpoint)}
		if config.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", config.ExporterType)
	}
}

func createSampler(config TracingConfig) sdktrace.Sampler {
	if len(config.NeverSample) > 0 {
		never := make(map[string]struct{}, len(config.NeverSample))
		for _, m := range config.NeverSample {
			never[m] = struct{}{}
		}
		return &methodSampler{defaultRate: config.SampleRate, neverSample: never}
	}
	return rateSampler(config.SampleRate)
}

func rateSampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Tracer exposes the underlying tracer
func (tp *TracingProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// StartMethodSpan starts a span for an MCP method
func (tp *TracingProvider) StartMethodSpan(ctx context.Context, method string, kind trace.SpanKind) (context.Context, trace.Span) {
	return tp.tracer.Start(ctx, "mcp."+method,
		trace.WithSpanKind(kind),
		trace.WithAttributes(
			attribute.String("mcp.method", method),
			attribute.String("mcp.service", tp.config.ServiceName),
		))
}

// StartToolSpan starts a span for one tool execution
func (tp *TracingProvider) StartToolSpan(ctx context.Context, tool string) (context.Context, trace.Span) {
	return tp.tracer.Start(ctx, "mcp.tool."+tool,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("mcp.method", "tools/call"),
			attribute.String("mcp.tool", tool),
		))
}

// EndSpan records err (if any) and ends span
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Shutdown flushes and stops the exporter
func (tp *TracingProvider) Shutdown(ctx context.Context) error {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if tp.shutdown == nil {
		return nil
	}
	err := tp.shutdown(ctx)
	tp.shutdown = nil
	return err
}

// methodSampler drops spans for selected methods
type methodSampler struct {
	defaultRate float64
	neverSample map[string]struct{}
}

func (ms *methodSampler) ShouldSample(params sdktrace.SamplingParameters) sdktrace.SamplingResult {
	method := params.Name
	for _, attr := range params.Attributes {
		if attr.Key == "mcp.method" {
			method = attr.Value.AsString()
			break
		}
	}
	if _, ok := ms.neverSample[method]; ok {
		return sdktrace.SamplingResult{Decision: sdktrace.Drop}
	}
	return rateSampler(ms.defaultRate).ShouldSample(params)
}

func (ms *methodSampler) Description() string {
	return fmt.Sprintf("MethodSampler{defaultRate=%.2f}", ms.defaultRate)
}
