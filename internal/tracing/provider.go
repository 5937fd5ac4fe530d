// Package tracing provides OpenTelemetry initialization, one client span per
// recorded operation and W3C trace context propagation.
package tracing

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/torosent/crankbench/internal/config"
)

const instrumentationName = "github.com/torosent/crankbench"

// Attribute keys set on the resource and on record spans.
const (
	AttrRunID     = attribute.Key("crankbench.run_id")
	AttrTest      = attribute.Key("crankbench.test")
	AttrServerURL = attribute.Key("crankbench.server_url")
	AttrCycle     = attribute.Key("crankbench.cycle")
	AttrCVUs      = attribute.Key("crankbench.cvus")
	AttrThreadID  = attribute.Key("crankbench.thread_id")
	AttrOutcome   = attribute.Key("crankbench.outcome")
)

// Run identifies the bench whose operations are traced. The same values are
// written in the configuration of the result log, so a trace backend query on
// the run id finds the spans of one report.
type Run struct {
	ID        string
	TestName  string
	ServerURL string
	Version   string
}

func (r Run) attributes() []attribute.KeyValue {
	var attrs []attribute.KeyValue
	add := func(k attribute.Key, v string) {
		if v != "" {
			attrs = append(attrs, k.String(v))
		}
	}
	add(AttrRunID, r.ID)
	add(AttrTest, r.TestName)
	add(AttrServerURL, r.ServerURL)
	if r.Version != "" {
		attrs = append(attrs, semconv.ServiceVersion(r.Version))
	}
	return attrs
}

// Provider owns the tracer provider of one bench.
type Provider struct {
	tp        *sdktrace.TracerProvider
	tracer    trace.Tracer
	propagate bool
	run       Run
}

// Init builds the provider of run. Without an exporter endpoint, from cfg or
// OTEL_EXPORTER_OTLP_ENDPOINT, spans are dropped but trace context may still
// be propagated.
func Init(ctx context.Context, cfg config.TracingConfig, run Run) (*Provider, error) {
	if !cfg.Enabled() {
		return &Provider{run: run}, nil
	}
	endpoint := firstNonEmpty(cfg.Endpoint, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if endpoint == "" {
		return &Provider{propagate: cfg.ShouldPropagate(), run: run}, nil
	}

	sampler, err := newSampler(cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	res, err := NewResource(ctx, firstNonEmpty(cfg.ServiceName, os.Getenv("OTEL_SERVICE_NAME"), "crankbench"), run)
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}
	exporter, err := newExporter(ctx, cfg, endpoint)
	if err != nil {
		return nil, fmt.Errorf("tracing exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{
		tp:        tp,
		tracer:    newTracer(tp, run),
		propagate: cfg.ShouldPropagate(),
		run:       run,
	}, nil
}

// NewResource describes the traced bench: the service plus the run identity.
func NewResource(ctx context.Context, serviceName string, run Run) (*resource.Resource, error) {
	attrs := append([]attribute.KeyValue{semconv.ServiceName(serviceName)}, run.attributes()...)
	return resource.New(ctx, resource.WithAttributes(attrs...))
}

// newTracer scopes the tracer to the run, so exporters that drop resource
// attributes still carry the run id.
func newTracer(tp trace.TracerProvider, run Run) trace.Tracer {
	opts := []trace.TracerOption{}
	if run.Version != "" {
		opts = append(opts, trace.WithInstrumentationVersion(run.Version))
	}
	if run.ID != "" {
		opts = append(opts, trace.WithInstrumentationAttributes(AttrRunID.String(run.ID)))
	}
	return tp.Tracer(instrumentationName, opts...)
}

// newSampler samples a share of the root spans. Records nested in a sampled
// test record follow their parent.
func newSampler(rate float64) (sdktrace.Sampler, error) {
	var root sdktrace.Sampler
	switch {
	case rate < 0 || rate > 1:
		return nil, fmt.Errorf("tracing sample_rate must be between 0.0 and 1.0, got %g", rate)
	case rate == 0:
		root = sdktrace.NeverSample()
	case rate == 1:
		root = sdktrace.AlwaysSample()
	default:
		root = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(root), nil
}

// Tracer returns the run tracer, or a no-op tracer when spans are not exported.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return noop.NewTracerProvider().Tracer(instrumentationName)
	}
	return p.tracer
}

// Run returns the identity the provider was built for.
func (p *Provider) Run() Run {
	if p == nil {
		return Run{}
	}
	return p.run
}

// ShouldPropagate reports whether W3C trace headers go on outgoing requests.
func (p *Provider) ShouldPropagate() bool {
	return p != nil && p.propagate
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

func newExporter(ctx context.Context, cfg config.TracingConfig, endpoint string) (sdktrace.SpanExporter, error) {
	switch protocol := strings.ToLower(firstNonEmpty(cfg.Protocol, "grpc")); protocol {
	case "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.Insecure {
			opts = append(opts,
				otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
				otlptracegrpc.WithInsecure(),
			)
		}
		return otlptracegrpc.New(ctx, opts...)
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q: use \"grpc\" or \"http\"", protocol)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
