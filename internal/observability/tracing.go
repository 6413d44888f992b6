package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/multisystem-simulator/internal/logging"
)

// Span exporters understood by InitTracing.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

const (
	defaultServiceName  = "multisystem-simulator"
	defaultOTLPEndpoint = "localhost:4317"
)

// TracingConfig selects where simulator spans go.
type TracingConfig struct {
	// Exporter is ExporterNone, ExporterStdout or ExporterOTLP. Empty means
	// ExporterNone.
	Exporter    string
	ServiceName string
	// Endpoint is the collector address for ExporterOTLP.
	Endpoint string
	// SampleRatio is the fraction of root spans kept, in [0, 1].
	SampleRatio float64

	// Output receives ExporterStdout spans; nil means os.Stderr so span
	// dumps do not mix with run summaries.
	Output io.Writer

	// RunID, when set, is attached to every span's resource.
	RunID string
}

// TracingConfigFromEnv reads SIM_TRACING_ENABLED, SIM_TRACING_EXPORTER,
// SIM_TRACING_SERVICE_NAME, SIM_TRACING_SAMPLE_RATIO and
// SIM_TRACING_OTLP_ENDPOINT. Tracing stays off unless SIM_TRACING_ENABLED
// is "true".
func TracingConfigFromEnv() TracingConfig {
	return tracingConfigFrom(os.Getenv)
}

func tracingConfigFrom(getenv func(string) string) TracingConfig {
	cfg := TracingConfig{
		Exporter:    ExporterNone,
		ServiceName: getenv("SIM_TRACING_SERVICE_NAME"),
		Endpoint:    getenv("SIM_TRACING_OTLP_ENDPOINT"),
		SampleRatio: 1,
	}
	if strings.EqualFold(getenv("SIM_TRACING_ENABLED"), "true") {
		cfg.Exporter = strings.ToLower(getenv("SIM_TRACING_EXPORTER"))
		if cfg.Exporter == "" {
			cfg.Exporter = ExporterStdout
		}
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultServiceName
	}
	if raw := getenv("SIM_TRACING_SAMPLE_RATIO"); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil && parsed >= 0 && parsed <= 1 {
			cfg.SampleRatio = parsed
		}
	}
	return cfg
}

// Disabled reports whether no spans will be exported.
func (c TracingConfig) Disabled() bool {
	return c.Exporter == "" || strings.EqualFold(c.Exporter, ExporterNone)
}

// Validate checks the exporter name and the sample ratio.
func (c TracingConfig) Validate() error {
	switch strings.ToLower(c.Exporter) {
	case "", ExporterNone, ExporterStdout, ExporterOTLP, "otlpgrpc":
	default:
		return fmt.Errorf("unsupported tracing exporter: %s", c.Exporter)
	}
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("tracing sample ratio %v outside [0, 1]", c.SampleRatio)
	}
	return nil
}

// rootSampler honours the parent decision and samples new traces at
// SampleRatio.
func (c TracingConfig) rootSampler() (sdktrace.Sampler, string) {
	switch {
	case c.SampleRatio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample()), "parentbased_always_on"
	case c.SampleRatio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample()), "parentbased_always_off"
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SampleRatio)),
			fmt.Sprintf("parentbased_traceidratio_%0.2f", c.SampleRatio)
	}
}

// InitTracing installs the global tracer provider and propagators for cfg.
// The returned function flushes pending spans.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	log = logging.OrNoop(log)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Disabled() {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Debug(ctx, "tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	service := cfg.ServiceName
	if service == "" {
		service = defaultServiceName
	}
	attrs := []attribute.KeyValue{
		attribute.String("service.name", service),
		attribute.String("service.namespace", "sim"),
	}
	if cfg.RunID != "" {
		attrs = append(attrs, attribute.String("sim.run_id", cfg.RunID))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	sampler, samplerName := cfg.rootSampler()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("service_name", service),
		logging.String("sampler", samplerName))
	return tp.Shutdown, nil
}

func newSpanExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	if strings.EqualFold(cfg.Exporter, ExporterStdout) {
		out := cfg.Output
		if out == nil {
			out = os.Stderr
		}
		return stdouttrace.New(
			stdouttrace.WithWriter(out),
			stdouttrace.WithPrettyPrint(),
			stdouttrace.WithoutTimestamps(),
		)
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultOTLPEndpoint
	}
	return otlptrace.New(ctx, otlptracegrpc.NewClient(
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	))
}

// ShutdownWithTimeout flushes spans through shutdown, giving up after five
// seconds. Failures are logged, not returned.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	log = logging.OrNoop(log)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}
