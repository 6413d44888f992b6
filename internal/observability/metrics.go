package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/multisystem-simulator/core"
)

// Bind label values for transport_packets_delivered_total.
const (
	BindWildcard = "wildcard"
	BindExact    = "exact"
)

// SimCollector bundles Prometheus metrics for a simulation run and
// provides helpers to wire them into gRPC servers and HTTP handlers. It
// implements transport.StatsRecorder, core.SetupRecorder and
// medium.MacRecorder.
type SimCollector struct {
	gatherer prometheus.Gatherer

	PacketsSent      *prometheus.CounterVec
	BytesSent        *prometheus.CounterVec
	PacketsDelivered *prometheus.CounterVec
	PacketsDropped   *prometheus.CounterVec

	InterfacesConfigured *prometheus.CounterVec
	NodeAntennas         *prometheus.GaugeVec
	ScenarioNodes        prometheus.Gauge
	MacFrames            *prometheus.CounterVec

	SimTime     prometheus.Gauge
	RunDuration prometheus.Histogram

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec
}

// NewSimCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &SimCollector{gatherer: gatherer}
	var err error

	counters := []struct {
		dst    **prometheus.CounterVec
		name   string
		help   string
		labels []string
	}{
		{&c.PacketsSent, "transport_packets_sent_total", "Datagrams handed to the network layer by the transport demultiplexer.", []string{"node"}},
		{&c.BytesSent, "transport_bytes_sent_total", "Bytes handed to the network layer, transport header included.", []string{"node"}},
		{&c.PacketsDelivered, "transport_packets_delivered_total", "Datagrams delivered to a bound receiver, labeled by bind kind.", []string{"node", "bind"}},
		{&c.PacketsDropped, "transport_packets_dropped_total", "Datagrams dropped by the transport demultiplexer, labeled by reason.", []string{"node", "reason"}},
		{&c.InterfacesConfigured, "interfaces_configured_total", "Interfaces built during node setup, labeled by technology tag.", []string{"technology"}},
		{&c.MacFrames, "mac_frames_total", "Link-layer frames, labeled by direction (tx, rx, drop).", []string{"node", "interface", "direction"}},
		{&c.RPCRequests, "sim_rpc_requests_total", "Total number of handled RPCs, labeled by service, method, and gRPC status code.", []string{"service", "method", "code"}},
	}
	for _, def := range counters {
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: def.name, Help: def.help}, def.labels)
		if *def.dst, err = register(reg, vec, def.name); err != nil {
			return nil, err
		}
	}

	antennas := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "node_antennas",
		Help: "Antennas numbered on each node after interface setup.",
	}, []string{"node"})
	if c.NodeAntennas, err = register(reg, antennas, "node_antennas"); err != nil {
		return nil, err
	}

	if c.ScenarioNodes, err = register[prometheus.Gauge](reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scenario_nodes",
		Help: "Number of nodes in the running scenario.",
	}), "scenario_nodes"); err != nil {
		return nil, err
	}

	if c.SimTime, err = register[prometheus.Gauge](reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_time_seconds",
		Help: "Current simulation time of the event loop.",
	}), "sim_time_seconds"); err != nil {
		return nil, err
	}
	if c.RunDuration, err = register[prometheus.Histogram](reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_run_wall_seconds",
		Help:    "Wall-clock duration of event loop runs.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	}), "sim_run_wall_seconds"); err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sim_rpc_request_duration_seconds",
		Help:    "RPC latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"service", "method"})
	if c.RPCDurations, err = register(reg, durations, "sim_rpc_request_duration_seconds"); err != nil {
		return nil, err
	}
	return c, nil
}

// PacketSent implements transport.StatsRecorder.
func (c *SimCollector) PacketSent(nodeID string, bytes int) {
	if c == nil {
		return
	}
	c.PacketsSent.WithLabelValues(nodeID).Inc()
	c.BytesSent.WithLabelValues(nodeID).Add(float64(bytes))
}

// PacketDelivered implements transport.StatsRecorder.
func (c *SimCollector) PacketDelivered(nodeID string, wildcard bool) {
	if c == nil {
		return
	}
	bind := BindExact
	if wildcard {
		bind = BindWildcard
	}
	c.PacketsDelivered.WithLabelValues(nodeID, bind).Inc()
}

// PacketDropped implements transport.StatsRecorder.
func (c *SimCollector) PacketDropped(nodeID string, reason string) {
	if c == nil {
		return
	}
	c.PacketsDropped.WithLabelValues(nodeID, reason).Inc()
}

// InterfaceConfigured implements core.SetupRecorder.
func (c *SimCollector) InterfaceConfigured(_ string, tech core.Technology) {
	if c == nil {
		return
	}
	c.InterfacesConfigured.WithLabelValues(string(tech)).Inc()
}

// AntennasAssigned implements core.SetupRecorder.
func (c *SimCollector) AntennasAssigned(nodeID string, count int) {
	if c == nil {
		return
	}
	c.NodeAntennas.WithLabelValues(nodeID).Set(float64(count))
}

// MacFrame implements medium.MacRecorder.
func (c *SimCollector) MacFrame(nodeID, interfaceID, direction string) {
	if c == nil {
		return
	}
	c.MacFrames.WithLabelValues(nodeID, interfaceID, direction).Inc()
}

// SetScenarioNodes sets the scenario_nodes gauge.
func (c *SimCollector) SetScenarioNodes(n int) {
	if c == nil || c.ScenarioNodes == nil {
		return
	}
	c.ScenarioNodes.Set(float64(n))
}

// SetSimTime updates the sim_time_seconds gauge.
func (c *SimCollector) SetSimTime(seconds float64) {
	if c == nil || c.SimTime == nil {
		return
	}
	c.SimTime.Set(seconds)
}

// ObserveRun records the wall-clock duration of one event loop run.
func (c *SimCollector) ObserveRun(d time.Duration) {
	if c == nil || c.RunDuration == nil {
		return
	}
	c.RunDuration.Observe(d.Seconds())
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *SimCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, code).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}

		return resp, err
	}
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimCollector) Gatherer() prometheus.Gatherer {
	if c == nil || c.gatherer == nil {
		return prometheus.DefaultGatherer
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.Gatherer(), promhttp.HandlerOpts{})
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

// register adds col to reg, reusing an equivalent collector that is
// already registered under the same name.
func register[C prometheus.Collector](reg prometheus.Registerer, col C, name string) (C, error) {
	err := reg.Register(col)
	if err == nil {
		return col, nil
	}
	var zero C
	var are prometheus.AlreadyRegisteredError
	if !errors.As(err, &are) {
		return zero, err
	}
	if existing, ok := are.ExistingCollector.(C); ok {
		return existing, nil
	}
	return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
}
