package app

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/iti/rngstream"

	"github.com/signalsfoundry/multisystem-simulator/core"
	"github.com/signalsfoundry/multisystem-simulator/internal/logging"
	"github.com/signalsfoundry/multisystem-simulator/model"
	"github.com/signalsfoundry/multisystem-simulator/timectrl"
)

const (
	DefaultTrafficInterval = 100 * timectrl.MilliSecond
	DefaultPacketSizeBytes = 100

	seqBytes = 8

	// btpHeaderSize is destination port plus destination port info.
	btpHeaderSize = 4
)

// Parameter key prefixes per broadcast application kind. Each kind reads
// <prefix>-traffic-start-time, -traffic-interval, -traffic-end-time,
// -traffic-jitter and -packet-size-bytes at interface scope.
var broadcastPrefixes = map[string]string{
	core.AppDsrcBsm:      "its-bsm-app",
	core.AppItsBroadcast: "its-broadcast-app",
	core.AppDot15:        "dot15-app",
	core.AppT109:         "t109-app",
}

// Stats are per-application packet counters.
type Stats struct {
	Sent     uint64
	Received uint64
	Dropped  uint64

	// LastSequence is the highest sequence number received per source node.
	LastSequence map[string]uint64
}

func (s Stats) clone() Stats {
	out := s
	out.LastSequence = make(map[string]uint64, len(s.LastSequence))
	for k, v := range s.LastSequence {
		out.LastSequence[k] = v
	}
	return out
}

// record counts a received payload, dropping runts.
func (s *Stats) record(data []byte, fromNode string) {
	if len(data) < seqBytes {
		s.Dropped++
		return
	}
	if seq := binary.BigEndian.Uint64(data); seq > s.LastSequence[fromNode] {
		s.LastSequence[fromNode] = seq
	}
	s.Received++
}

type trafficConfig struct {
	start, interval, end, jitter timectrl.Time
	size                         int
}

func readTrafficConfig(in core.AppBuildInput) (trafficConfig, error) {
	prefix, ok := broadcastPrefixes[in.Kind]
	if !ok {
		return trafficConfig{}, fmt.Errorf("unknown broadcast application kind %q", in.Kind)
	}
	db, node, iface := in.Params, in.NodeID, in.InterfaceID

	var cfg trafficConfig
	var err error
	if cfg.start, err = db.ReadTimeOr(prefix+"-traffic-start-time", 0, node, iface); err != nil {
		return cfg, err
	}
	if cfg.interval, err = db.ReadTimeOr(prefix+"-traffic-interval", DefaultTrafficInterval, node, iface); err != nil {
		return cfg, err
	}
	if cfg.end, err = db.ReadTimeOr(prefix+"-traffic-end-time", 0, node, iface); err != nil {
		return cfg, err
	}
	if cfg.jitter, err = db.ReadTimeOr(prefix+"-traffic-jitter", 0, node, iface); err != nil {
		return cfg, err
	}
	if cfg.size, err = db.ReadIntOr(prefix+"-packet-size-bytes", DefaultPacketSizeBytes, node, iface); err != nil {
		return cfg, err
	}
	if cfg.interval <= 0 {
		return cfg, fmt.Errorf("%s-traffic-interval must be positive", prefix)
	}
	if cfg.size < seqBytes {
		cfg.size = seqBytes
	}
	return cfg, nil
}

func (c trafficConfig) ticker(clock timectrl.SimClock, rand *rngstream.RngStream) ticker {
	t := ticker{clock: clock, start: c.start, interval: c.interval, end: c.end}
	if c.jitter > 0 && rand != nil {
		jitter := c.jitter
		t.jitter = func() timectrl.Time {
			return timectrl.FromSeconds(rand.RandU01() * jitter.Seconds())
		}
	}
	return t
}

func (c trafficConfig) payload(seq uint64) []byte {
	data := make([]byte, c.size)
	binary.BigEndian.PutUint64(data, seq)
	return data
}

func appID(in core.AppBuildInput) string {
	return in.NodeID + "/" + in.InterfaceID + "/" + in.Kind
}

// BroadcastApp periodically broadcasts sequence-numbered payloads over a
// helper layer and counts what it hears from other nodes. Port-addressed
// helpers (BTP) get a destination port header and filter on it.
type BroadcastApp struct {
	id     string
	nodeID string
	kind   string
	port   uint16

	transport core.HelperLayer
	clock     timectrl.SimClock
	rand      *rngstream.RngStream
	logger    logging.Logger
	cfg       trafficConfig

	seq   uint64
	stats Stats
}

// NewBroadcastApp reads the kind's traffic parameters and attaches to
// in.Transport.
func NewBroadcastApp(in core.AppBuildInput) (*BroadcastApp, error) {
	if in.Transport == nil {
		return nil, fmt.Errorf("%s application needs a helper layer", in.Kind)
	}
	cfg, err := readTrafficConfig(in)
	if err != nil {
		return nil, err
	}
	a := &BroadcastApp{
		id:        appID(in),
		nodeID:    in.NodeID,
		kind:      in.Kind,
		port:      in.DestinationPort,
		transport: in.Transport,
		clock:     in.Clock,
		rand:      in.Rand,
		logger:    logging.OrNoop(in.Logger),
		cfg:       cfg,
		stats:     Stats{LastSequence: make(map[string]uint64)},
	}
	in.Transport.SetReceiver(a)
	return a, nil
}

func (a *BroadcastApp) ApplicationID() string { return a.id }
func (a *BroadcastApp) Kind() string          { return a.kind }
func (a *BroadcastApp) Stats() Stats          { return a.stats.clone() }

// Start schedules the traffic.
func (a *BroadcastApp) Start(ctx context.Context) error {
	if a.clock == nil {
		return fmt.Errorf("%s: no clock", a.id)
	}
	a.logger.Info(ctx, "broadcast application started",
		logging.String("app_id", a.id),
		logging.String("start", a.cfg.start.String()),
		logging.String("interval", a.cfg.interval.String()),
	)
	a.cfg.ticker(a.clock, a.rand).run(func(timectrl.Time) { a.send() })
	return nil
}

func (a *BroadcastApp) send() {
	a.seq++
	pkt := model.NewPacket(a.cfg.payload(a.seq))
	if a.port != 0 {
		header := make([]byte, btpHeaderSize)
		binary.BigEndian.PutUint16(header, a.port)
		pkt.AddHeader(header)
	}
	if err := a.transport.Send(pkt); err != nil {
		a.stats.Dropped++
		a.logger.Debug(context.Background(), "broadcast send failed", logging.String("app_id", a.id), logging.Err(err))
		return
	}
	a.stats.Sent++
}

// ReceiveFrame implements core.FrameReceiver.
func (a *BroadcastApp) ReceiveFrame(pkt *model.Packet, fromNode string) {
	if a.port != 0 {
		data := pkt.Bytes()
		if len(data) < btpHeaderSize || binary.BigEndian.Uint16(data) != a.port {
			a.stats.Dropped++
			return
		}
		_ = pkt.DeleteHeader(btpHeaderSize)
	}
	a.stats.record(pkt.Bytes(), fromNode)
}
