package app

import (
	"context"
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/signalsfoundry/multisystem-simulator/internal/logging"
	"github.com/signalsfoundry/multisystem-simulator/model"
	"github.com/signalsfoundry/multisystem-simulator/network"
	"github.com/signalsfoundry/multisystem-simulator/params"
	"github.com/signalsfoundry/multisystem-simulator/timectrl"
	"github.com/signalsfoundry/multisystem-simulator/transport"
)

// UDP traffic parameters, read at node scope.
const (
	ParamCbrDestination     = "cbr-destination"
	ParamCbrDestinationPort = "cbr-destination-port"
	ParamCbrSourcePort      = "cbr-source-port"
	ParamCbrInterval        = "cbr-interval"
	ParamCbrPayloadBytes    = "cbr-payload-bytes"
	ParamCbrStartTime       = "cbr-start-time"
	ParamCbrEndTime         = "cbr-end-time"
	ParamCbrPriority        = "cbr-priority"
	ParamUDPSinkPort        = "udp-sink-port"

	DefaultCbrSourcePort = 49152
)

// Transport is the part of the transport protocol the UDP applications
// use.
type Transport interface {
	SendPacket(pkt *model.Packet, srcPort uint16, dst netip.Addr, dstPort uint16, priority model.PacketPriority) error
	OpenPort(port uint16, addr netip.Addr, r transport.Receiver) error
}

// CbrConfig configures a constant-bit-rate UDP source.
type CbrConfig struct {
	NodeID          string
	Destination     netip.Addr
	DestinationPort uint16
	SourcePort      uint16
	Interval        timectrl.Time
	PayloadBytes    int
	Start           timectrl.Time
	End             timectrl.Time
	Priority        model.PacketPriority
}

// CbrApp sends a fixed-size datagram every Interval.
type CbrApp struct {
	cfg       CbrConfig
	clock     timectrl.SimClock
	transport Transport
	logger    logging.Logger

	seq   uint64
	stats Stats
}

// NewCbrApp validates cfg.
func NewCbrApp(cfg CbrConfig, clock timectrl.SimClock, tp Transport, logger logging.Logger) (*CbrApp, error) {
	if !cfg.Destination.IsValid() {
		return nil, fmt.Errorf("node %s: cbr destination not set", cfg.NodeID)
	}
	if cfg.DestinationPort == 0 {
		return nil, fmt.Errorf("node %s: cbr destination port not set", cfg.NodeID)
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("node %s: cbr interval must be positive", cfg.NodeID)
	}
	if cfg.PayloadBytes < seqBytes {
		cfg.PayloadBytes = seqBytes
	}
	if cfg.SourcePort == 0 {
		cfg.SourcePort = DefaultCbrSourcePort
	}
	return &CbrApp{cfg: cfg, clock: clock, transport: tp, logger: logging.OrNoop(logger)}, nil
}

// NewCbrAppFromParams builds the node's CBR source. It returns nil when
// cbr-destination is not set.
func NewCbrAppFromParams(nodeID string, db *params.Database, clock timectrl.SimClock, tp Transport, logger logging.Logger) (*CbrApp, error) {
	text, err := db.ReadString(ParamCbrDestination, nodeID, "")
	if err != nil {
		return nil, nil
	}
	dst, err := netip.ParseAddr(text)
	if err != nil {
		return nil, fmt.Errorf("node %s: %s %q: %w", nodeID, ParamCbrDestination, text, params.ErrBadValue)
	}

	cfg := CbrConfig{NodeID: nodeID, Destination: dst}
	if cfg.DestinationPort, err = readPort(db, ParamCbrDestinationPort, 0, nodeID); err != nil {
		return nil, err
	}
	if cfg.SourcePort, err = readPort(db, ParamCbrSourcePort, DefaultCbrSourcePort, nodeID); err != nil {
		return nil, err
	}
	if cfg.Interval, err = db.ReadTimeOr(ParamCbrInterval, timectrl.Second, nodeID, ""); err != nil {
		return nil, err
	}
	if cfg.PayloadBytes, err = db.ReadIntOr(ParamCbrPayloadBytes, DefaultPacketSizeBytes, nodeID, ""); err != nil {
		return nil, err
	}
	if cfg.Start, err = db.ReadTimeOr(ParamCbrStartTime, 0, nodeID, ""); err != nil {
		return nil, err
	}
	if cfg.End, err = db.ReadTimeOr(ParamCbrEndTime, 0, nodeID, ""); err != nil {
		return nil, err
	}
	prio, err := db.ReadIntOr(ParamCbrPriority, 0, nodeID, "")
	if err != nil {
		return nil, err
	}
	if prio < 0 || prio > 0xFF {
		return nil, fmt.Errorf("node %s: %s %d: %w", nodeID, ParamCbrPriority, prio, params.ErrBadValue)
	}
	cfg.Priority = model.PacketPriority(prio)
	return NewCbrApp(cfg, clock, tp, logger)
}

func readPort(db *params.Database, key string, def int, nodeID string) (uint16, error) {
	n, err := db.ReadIntOr(key, def, nodeID, "")
	if err != nil {
		return 0, err
	}
	if n < 0 || n > 0xFFFF {
		return 0, fmt.Errorf("node %s: %s %d: %w", nodeID, key, n, params.ErrBadValue)
	}
	return uint16(n), nil
}

func (a *CbrApp) ApplicationID() string {
	return fmt.Sprintf("%s/cbr/%s:%d", a.cfg.NodeID, a.cfg.Destination, a.cfg.DestinationPort)
}

func (a *CbrApp) Stats() Stats { return a.stats.clone() }

// Start schedules the traffic.
func (a *CbrApp) Start(ctx context.Context) error {
	a.logger.Info(ctx, "cbr application started",
		logging.String("app_id", a.ApplicationID()),
		logging.String("interval", a.cfg.Interval.String()),
		logging.Int("payload_bytes", a.cfg.PayloadBytes),
	)
	t := ticker{clock: a.clock, start: a.cfg.Start, interval: a.cfg.Interval, end: a.cfg.End}
	t.run(func(timectrl.Time) { a.send() })
	return nil
}

func (a *CbrApp) send() {
	a.seq++
	data := make([]byte, a.cfg.PayloadBytes)
	binary.BigEndian.PutUint64(data, a.seq)
	err := a.transport.SendPacket(model.NewPacket(data), a.cfg.SourcePort, a.cfg.Destination, a.cfg.DestinationPort, a.cfg.Priority)
	if err != nil {
		a.stats.Dropped++
		a.logger.Debug(context.Background(), "cbr send failed", logging.String("app_id", a.ApplicationID()), logging.Err(err))
		return
	}
	a.stats.Sent++
}

// Sink counts datagrams arriving on a UDP port bound to every local
// address.
type Sink struct {
	nodeID    string
	port      uint16
	transport Transport
	logger    logging.Logger

	bytes uint64
	stats Stats
}

// NewSink returns a sink for port; it binds on Start.
func NewSink(nodeID string, port uint16, tp Transport, logger logging.Logger) *Sink {
	return &Sink{
		nodeID:    nodeID,
		port:      port,
		transport: tp,
		logger:    logging.OrNoop(logger),
		stats:     Stats{LastSequence: make(map[string]uint64)},
	}
}

// NewSinkFromParams returns the node's sink, or nil when udp-sink-port is
// not set.
func NewSinkFromParams(nodeID string, db *params.Database, tp Transport, logger logging.Logger) (*Sink, error) {
	if !db.Exists(ParamUDPSinkPort, nodeID, "") {
		return nil, nil
	}
	port, err := readPort(db, ParamUDPSinkPort, 0, nodeID)
	if err != nil {
		return nil, err
	}
	return NewSink(nodeID, port, tp, logger), nil
}

func (s *Sink) ApplicationID() string { return fmt.Sprintf("%s/sink/%d", s.nodeID, s.port) }
func (s *Sink) Stats() Stats          { return s.stats.clone() }
func (s *Sink) Bytes() uint64         { return s.bytes }

// Start binds the port.
func (s *Sink) Start(ctx context.Context) error {
	if err := s.transport.OpenPort(s.port, network.AnyAddress, s); err != nil {
		return err
	}
	s.logger.Info(ctx, "udp sink listening", logging.String("app_id", s.ApplicationID()))
	return nil
}

// ReceivePacket implements transport.Receiver. Sequence numbers are kept
// per source address.
func (s *Sink) ReceivePacket(pkt *model.Packet, src netip.Addr, _ uint16, _ netip.Addr, _ model.PacketPriority) {
	s.bytes += uint64(pkt.LengthBytes())
	s.stats.record(pkt.Bytes(), src.String())
}
