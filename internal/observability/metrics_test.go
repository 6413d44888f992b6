package observability

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/multisystem-simulator/core"
	"github.com/signalsfoundry/multisystem-simulator/medium"
	"github.com/signalsfoundry/multisystem-simulator/transport"
)

// Compile-time checks for the recorder interfaces the collector serves.
var (
	_ transport.StatsRecorder = (*SimCollector)(nil)
	_ core.SetupRecorder      = (*SimCollector)(nil)
	_ medium.MacRecorder      = (*SimCollector)(nil)
)

func newCollector(t *testing.T) (*SimCollector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	collector, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}
	return collector, reg
}

func TestTransportRecorder(t *testing.T) {
	c, _ := newCollector(t)

	c.PacketSent("n1", 100)
	c.PacketSent("n1", 50)
	c.PacketDelivered("n2", true)
	c.PacketDelivered("n2", false)
	c.PacketDelivered("n2", false)
	c.PacketDropped("n2", transport.DropNoReceiver)

	if got := testutil.ToFloat64(c.PacketsSent.WithLabelValues("n1")); got != 2 {
		t.Fatalf("transport_packets_sent_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.BytesSent.WithLabelValues("n1")); got != 150 {
		t.Fatalf("transport_bytes_sent_total = %v, want 150", got)
	}
	if got := testutil.ToFloat64(c.PacketsDelivered.WithLabelValues("n2", BindWildcard)); got != 1 {
		t.Fatalf("wildcard deliveries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.PacketsDelivered.WithLabelValues("n2", BindExact)); got != 2 {
		t.Fatalf("exact deliveries = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.PacketsDropped.WithLabelValues("n2", transport.DropNoReceiver)); got != 1 {
		t.Fatalf("drops = %v, want 1", got)
	}
}

func TestSetupAndMacRecorders(t *testing.T) {
	c, _ := newCollector(t)

	c.InterfaceConfigured("n1", core.TechWave)
	c.InterfaceConfigured("n2", core.TechWave)
	c.InterfaceConfigured("n2", core.TechWired)
	c.AntennasAssigned("n1", 3)
	c.AntennasAssigned("n1", 4)
	c.MacFrame("n1", "wlan0", medium.DirectionSent)
	c.SetScenarioNodes(2)

	if got := testutil.ToFloat64(c.InterfacesConfigured.WithLabelValues("wave")); got != 2 {
		t.Fatalf("interfaces_configured_total{wave} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.NodeAntennas.WithLabelValues("n1")); got != 4 {
		t.Fatalf("node_antennas{n1} = %v, want 4", got)
	}
	if got := testutil.ToFloat64(c.MacFrames.WithLabelValues("n1", "wlan0", "tx")); got != 1 {
		t.Fatalf("mac_frames_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.ScenarioNodes); got != 2 {
		t.Fatalf("scenario_nodes = %v, want 2", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *SimCollector
	c.PacketSent("n", 1)
	c.PacketDelivered("n", true)
	c.PacketDropped("n", "x")
	c.InterfaceConfigured("n", core.TechLTE)
	c.AntennasAssigned("n", 1)
	c.MacFrame("n", "i", "tx")
	c.SetScenarioNodes(1)
	c.SetSimTime(1)
	c.ObserveRun(time.Second)
	if c.Gatherer() != prometheus.DefaultGatherer {
		t.Fatalf("nil collector gatherer should fall back to the default")
	}
}

func TestRegisterTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}
	second, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("second NewSimCollector: %v", err)
	}
	second.PacketSent("n1", 10)
	if got := testutil.ToFloat64(first.PacketsSent.WithLabelValues("n1")); got != 1 {
		t.Fatalf("shared counter = %v, want 1", got)
	}
}

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	c, reg := newCollector(t)

	interceptor := c.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	_, err := interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}
	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.Unavailable, "draining")
	})

	if got := testutil.ToFloat64(c.RPCRequests.WithLabelValues("Health", "Check", "OK")); got != 1 {
		t.Fatalf("sim_rpc_requests_total{OK} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.RPCRequests.WithLabelValues("Health", "Check", "Unavailable")); got != 1 {
		t.Fatalf("sim_rpc_requests_total{Unavailable} = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "sim_rpc_request_duration_seconds", map[string]string{
		"service": "Health",
		"method":  "Check",
	}); count != 2 {
		t.Fatalf("sim_rpc_request_duration_seconds sample_count = %d, want 2", count)
	}
}

func TestRunMetrics(t *testing.T) {
	c, reg := newCollector(t)
	c.SetSimTime(12.5)
	c.ObserveRun(20 * time.Millisecond)

	if got := testutil.ToFloat64(c.SimTime); got != 12.5 {
		t.Fatalf("sim_time_seconds = %v, want 12.5", got)
	}
	if count := histogramSampleCount(t, reg, "sim_run_wall_seconds", nil); count != 1 {
		t.Fatalf("sim_run_wall_seconds sample_count = %d, want 1", count)
	}
}

func TestMetricsHandlerExposesSimMetrics(t *testing.T) {
	c, _ := newCollector(t)
	c.PacketSent("n1", 10)
	c.PacketDelivered("n1", true)
	c.PacketDropped("n1", transport.DropShortPacket)
	c.InterfaceConfigured("n1", core.TechDot11)
	c.AntennasAssigned("n1", 1)
	c.MacFrame("n1", "if0", medium.DirectionReceived)
	c.SetScenarioNodes(3)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"transport_packets_sent_total",
		"transport_packets_delivered_total",
		"transport_packets_dropped_total",
		"interfaces_configured_total",
		"node_antennas",
		"scenario_nodes 3",
		"mac_frames_total",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
}

func TestSplitMethod(t *testing.T) {
	cases := map[string][2]string{
		"":                             {"unknown", "unknown"},
		"/grpc.health.v1.Health/Check": {"Health", "Check"},
		"Svc/Do":                       {"Svc", "Do"},
		"nomethod":                     {"unknown", "unknown"},
	}
	for in, want := range cases {
		svc, method := SplitMethod(in)
		if svc != want[0] || method != want[1] {
			t.Fatalf("SplitMethod(%q) = %s, %s; want %s, %s", in, svc, method, want[0], want[1])
		}
	}
}

func TestTracingConfigFromEnv(t *testing.T) {
	env := map[string]string{
		"SIM_TRACING_ENABLED":      "TRUE",
		"SIM_TRACING_EXPORTER":     "OTLP",
		"SIM_TRACING_SAMPLE_RATIO": "0.25",
	}
	cfg := tracingConfigFrom(func(k string) string { return env[k] })
	if cfg.Disabled() || cfg.Exporter != ExporterOTLP || cfg.SampleRatio != 0.25 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.ServiceName != "multisystem-simulator" {
		t.Fatalf("ServiceName = %q, want default", cfg.ServiceName)
	}

	cfg = tracingConfigFrom(func(k string) string {
		switch k {
		case "SIM_TRACING_SAMPLE_RATIO":
			return "7"
		case "SIM_TRACING_EXPORTER":
			return "otlp"
		}
		return ""
	})
	if !cfg.Disabled() || cfg.Exporter != ExporterNone || cfg.SampleRatio != 1 {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestTracingConfigValidate(t *testing.T) {
	good := []TracingConfig{
		{},
		{Exporter: ExporterNone, SampleRatio: 0.5},
		{Exporter: "STDOUT", SampleRatio: 1},
		{Exporter: ExporterOTLP},
	}
	for _, cfg := range good {
		if err := cfg.Validate(); err != nil {
			t.Fatalf("Validate(%+v): %v", cfg, err)
		}
	}
	bad := []TracingConfig{
		{Exporter: "zipkin"},
		{Exporter: ExporterStdout, SampleRatio: -0.1},
		{Exporter: ExporterStdout, SampleRatio: 1.5},
	}
	for _, cfg := range bad {
		if err := cfg.Validate(); err == nil {
			t.Fatalf("Validate(%+v) succeeded, want error", cfg)
		}
	}
}

func TestRootSamplerFollowsRatio(t *testing.T) {
	cases := map[float64]string{
		1:    "parentbased_always_on",
		0:    "parentbased_always_off",
		0.25: "parentbased_traceidratio_0.25",
	}
	for ratio, want := range cases {
		if _, got := (TracingConfig{SampleRatio: ratio}).rootSampler(); got != want {
			t.Fatalf("rootSampler(%v) = %q, want %q", ratio, got, want)
		}
	}
}

func TestInitTracingStdout(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingConfig{
		Exporter: ExporterStdout, ServiceName: "test", SampleRatio: 1, Output: &buf, RunID: "run-42",
	}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	defer InitTracing(context.Background(), TracingConfig{}, nil)

	tracer := otel.Tracer("test")
	_, span := tracer.Start(context.Background(), "node.setup")
	span.End()
	ShutdownWithTimeout(context.Background(), shutdown, nil)

	out := buf.String()
	if !strings.Contains(out, "node.setup") {
		t.Fatalf("stdout exporter output missing span: %q", out)
	}
	if !strings.Contains(out, "sim.run_id") || !strings.Contains(out, "run-42") {
		t.Fatalf("stdout exporter output missing run id: %q", out)
	}
}

func TestInitTracingNeverSampleDropsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingConfig{
		Exporter: ExporterStdout, SampleRatio: 0, Output: &buf,
	}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	defer InitTracing(context.Background(), TracingConfig{}, nil)

	_, span := otel.Tracer("test").Start(context.Background(), "dropped")
	span.End()
	ShutdownWithTimeout(context.Background(), shutdown, nil)

	if strings.Contains(buf.String(), "dropped") {
		t.Fatalf("unsampled span exported: %q", buf.String())
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	if _, err := InitTracing(context.Background(), TracingConfig{Exporter: "zipkin"}, nil); err == nil {
		t.Fatalf("expected error for unsupported exporter")
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
