package medium

import (
	"context"
	"fmt"

	"github.com/iti/rngstream"

	"github.com/signalsfoundry/multisystem-simulator/core"
	"github.com/signalsfoundry/multisystem-simulator/internal/logging"
	"github.com/signalsfoundry/multisystem-simulator/model"
	"github.com/signalsfoundry/multisystem-simulator/network"
	"github.com/signalsfoundry/multisystem-simulator/timectrl"
)

// MAC parameters, read at interface scope.
const (
	ParamMacMaxBackoff  = "mac-max-backoff"
	ParamMacDatarateBps = "mac-datarate-bps"
)

const (
	DefaultMacMaxBackoff  = timectrl.MilliSecond
	DefaultMacDatarateBps = 6e6

	// Non-IP frames waiting for the channel.
	maxPendingFrames = network.DefaultQueueCapacity
)

// Directions reported to a MacRecorder.
const (
	DirectionSent     = "tx"
	DirectionReceived = "rx"
	DirectionDropped  = "drop"
)

// MacRecorder receives per-frame accounting.
type MacRecorder interface {
	MacFrame(nodeID, interfaceID, direction string)
}

// MacOptions are shared by all MACs built through MacBuilders.
type MacOptions struct {
	Recorder MacRecorder
}

// Mac is a random-backoff broadcast MAC used for every wireless
// technology. It transmits through the first antenna of its interface and
// listens on all of them. IP datagrams come from the network-layer output
// queue; helper and dedicated-application frames come through SendFrame
// and go out first.
type Mac struct {
	nodeID      string
	interfaceID string
	ifIndex     int
	tech        core.Technology

	clock    timectrl.SimClock
	network  core.NetworkLayer
	rand     *rngstream.RngStream
	logger   logging.Logger
	recorder MacRecorder

	maxBackoff  timectrl.Time
	datarateBps float64

	ports     []*Port
	pending   []Frame
	receivers map[string]core.FrameReceiver
	busy      bool
	stats     core.MacStatistics
}

// NewMac builds a MAC from the interface's build input. Every antenna must
// be attached to a Channel from this package.
func NewMac(in core.MacBuildInput, opts MacOptions) (*Mac, error) {
	maxBackoff, err := in.Params.ReadTimeOr(ParamMacMaxBackoff, DefaultMacMaxBackoff, in.NodeID, in.InterfaceID)
	if err != nil {
		return nil, err
	}
	datarate, err := in.Params.ReadFloatOr(ParamMacDatarateBps, DefaultMacDatarateBps, in.NodeID, in.InterfaceID)
	if err != nil {
		return nil, err
	}
	if datarate <= 0 {
		return nil, fmt.Errorf("%s must be positive, got %v", ParamMacDatarateBps, datarate)
	}
	if maxBackoff < 0 {
		return nil, fmt.Errorf("%s must not be negative, got %v", ParamMacMaxBackoff, maxBackoff)
	}

	m := &Mac{
		nodeID:      in.NodeID,
		interfaceID: in.InterfaceID,
		ifIndex:     in.InterfaceIndex,
		tech:        in.Technology,
		clock:       in.Clock,
		network:     in.Network,
		rand:        in.Rand,
		logger:      logging.OrNoop(in.Logger).With(logging.String("node_id", in.NodeID), logging.String("interface_id", in.InterfaceID)),
		recorder:    opts.Recorder,
		maxBackoff:  maxBackoff,
		datarateBps: datarate,
		receivers:   make(map[string]core.FrameReceiver),
	}

	for _, binding := range in.Antennas {
		for _, pi := range []core.PropagationInterface{binding.Propagation, binding.UplinkPropagation} {
			if pi == nil {
				continue
			}
			port, ok := pi.(*Port)
			if !ok {
				return nil, fmt.Errorf("antenna %s: unsupported propagation interface %T", binding.ID, pi)
			}
			m.ports = append(m.ports, port)
		}
	}
	for _, port := range m.ports {
		port.SetSink(m)
	}
	return m, nil
}

// MacBuilders returns a builder for every wireless technology.
func MacBuilders(opts MacOptions) map[core.Technology]core.MacBuilder {
	out := make(map[core.Technology]core.MacBuilder)
	for _, tech := range core.WirelessTechnologies() {
		out[tech] = func(_ context.Context, in core.MacBuildInput) (core.MacLayer, error) {
			return NewMac(in, opts)
		}
	}
	return out
}

func (m *Mac) Technology() core.Technology          { return m.tech }
func (m *Mac) Statistics() core.MacStatistics       { return m.stats }
func (m *Mac) InterfaceIndex() int                  { return m.ifIndex }
func (m *Mac) Ports() []*Port                       { return append([]*Port(nil), m.ports...) }
func (m *Mac) NetworkLayerQueueChangeNotification() { m.kick() }

// SendFrame queues a non-IP frame.
func (m *Mac) SendFrame(kind string, pkt *model.Packet) error {
	if kind == "" || kind == FrameKindIP {
		return fmt.Errorf("invalid frame kind %q", kind)
	}
	if len(m.pending) >= maxPendingFrames {
		m.drop()
		return network.ErrQueueFull
	}
	m.pending = append(m.pending, Frame{Kind: kind, FromNode: m.nodeID, Packet: pkt})
	m.kick()
	return nil
}

// SetFrameReceiver routes received frames of kind to r. A nil r removes
// the route.
func (m *Mac) SetFrameReceiver(kind string, r core.FrameReceiver) {
	if r == nil {
		delete(m.receivers, kind)
		return
	}
	m.receivers[kind] = r
}

func (m *Mac) hasWork() bool {
	if len(m.pending) > 0 {
		return true
	}
	q := m.network.OutputQueue(m.ifIndex)
	return q != nil && !q.IsEmpty()
}

// kick starts a backoff if the MAC is idle and has something to send.
func (m *Mac) kick() {
	if m.busy || !m.hasWork() {
		return
	}
	m.busy = true
	m.clock.ScheduleAfter(m.backoff(), func(timectrl.Time) { m.transmitNext() })
}

func (m *Mac) backoff() timectrl.Time {
	if m.rand == nil || m.maxBackoff == 0 {
		return 0
	}
	return timectrl.FromSeconds(m.rand.RandU01() * m.maxBackoff.Seconds())
}

func (m *Mac) airtime(bytes int) timectrl.Time {
	return timectrl.FromSeconds(float64(bytes*8) / m.datarateBps)
}

func (m *Mac) nextFrame() (Frame, bool) {
	if len(m.pending) > 0 {
		f := m.pending[0]
		m.pending[0] = Frame{}
		m.pending = m.pending[1:]
		return f, true
	}
	q := m.network.OutputQueue(m.ifIndex)
	if q == nil {
		return Frame{}, false
	}
	d, ok := q.Dequeue()
	if !ok {
		return Frame{}, false
	}
	pkt := d.Packet
	d.Packet = nil
	return Frame{Kind: FrameKindIP, FromNode: m.nodeID, Packet: pkt, Datagram: d}, true
}

func (m *Mac) transmitNext() {
	f, ok := m.nextFrame()
	if !ok {
		m.busy = false
		return
	}
	if len(m.ports) == 0 {
		m.drop()
		m.busy = false
		m.kick()
		return
	}

	airtime := m.airtime(f.Packet.LengthBytes())
	reached := m.ports[0].Transmit(f, airtime)
	m.stats.FramesSent++
	m.stats.BytesSent += uint64(f.Packet.LengthBytes())
	m.record(DirectionSent)
	m.logger.Debug(context.Background(), "mac frame sent",
		logging.String("kind", f.Kind),
		logging.Int("receivers", reached),
	)

	m.clock.ScheduleAfter(airtime, func(timectrl.Time) {
		m.busy = false
		m.kick()
	})
}

// ReceiveFromChannel implements FrameSink.
func (m *Mac) ReceiveFromChannel(_ *Port, f Frame) {
	if f.Kind == FrameKindIP {
		if q := m.network.OutputQueue(m.ifIndex); q != nil {
			if _, dedicated := q.(network.NoNetworkQueue); dedicated {
				m.drop()
				return
			}
		}
		m.received()
		d := f.Datagram
		d.Packet = f.Packet
		m.network.ReceivePacketFromMac(m.ifIndex, d)
		return
	}

	r, ok := m.receivers[f.Kind]
	if !ok {
		m.drop()
		return
	}
	m.received()
	r.ReceiveFrame(f.Packet, f.FromNode)
}

func (m *Mac) received() {
	m.stats.FramesReceived++
	m.record(DirectionReceived)
}

func (m *Mac) drop() {
	m.stats.FramesDropped++
	m.record(DirectionDropped)
}

func (m *Mac) record(direction string) {
	if m.recorder != nil {
		m.recorder.MacFrame(m.nodeID, m.interfaceID, direction)
	}
}
