// Package transport implements the UDP-like transport protocol: a fixed
// header on the way down and a (port, address) demultiplexer on the way up.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/signalsfoundry/multisystem-simulator/internal/logging"
	"github.com/signalsfoundry/multisystem-simulator/model"
	"github.com/signalsfoundry/multisystem-simulator/network"
)

// ProtocolNumberUDP is the IP protocol number the demultiplexer registers.
const ProtocolNumberUDP uint8 = 17

var (
	ErrPortInUse       = errors.New("port already open")
	ErrPacketTooLarge  = errors.New("packet too large for transport header")
	ErrNotConnected    = errors.New("transport not connected to a network layer")
	ErrInvalidReceiver = errors.New("nil receiver")
)

// Drop reasons reported to StatsRecorder.
const (
	DropNoReceiver  = "no_receiver"
	DropShortPacket = "short_packet"
)

// Receiver is an application bound to a port.
type Receiver interface {
	ReceivePacket(pkt *model.Packet, src netip.Addr, srcPort uint16, dst netip.Addr, trafficClass model.PacketPriority)
}

// ReceiverFunc adapts a function to Receiver.
type ReceiverFunc func(pkt *model.Packet, src netip.Addr, srcPort uint16, dst netip.Addr, trafficClass model.PacketPriority)

func (f ReceiverFunc) ReceivePacket(pkt *model.Packet, src netip.Addr, srcPort uint16, dst netip.Addr, trafficClass model.PacketPriority) {
	f(pkt, src, srcPort, dst, trafficClass)
}

// NetworkLayer is the part of network.Layer the protocol uses.
type NetworkLayer interface {
	RegisterPacketHandlerForProtocol(protocol uint8, h network.ProtocolHandler)
	ReceivePacketFromUpperLayerWithSource(pkt *model.Packet, src, dst netip.Addr, protocol uint8, priority model.PacketPriority) error
	NetworkAddress(ifIndex int) netip.Addr
	SubnetPrefix(ifIndex int) netip.Prefix
}

// StatsRecorder observes protocol traffic. Implementations must be cheap.
type StatsRecorder interface {
	PacketSent(nodeID string, bytes int)
	PacketDelivered(nodeID string, wildcard bool)
	PacketDropped(nodeID string, reason string)
}

// PortKey identifies a bound receiver. Address is network.AnyAddress for a
// wildcard bind.
type PortKey struct {
	Port    uint16
	Address netip.Addr
}

// Options configures a Protocol.
type Options struct {
	Logger logging.Logger
	Stats  StatsRecorder
}

// Stats are cumulative protocol counters.
type Stats struct {
	Sent      uint64
	Delivered uint64
	Dropped   uint64
}

// Protocol is one node's transport demultiplexer. It is driven by the
// event loop and not safe for concurrent use.
type Protocol struct {
	nodeID    string
	network   NetworkLayer
	receivers map[PortKey]Receiver
	log       logging.Logger
	recorder  StatsRecorder
	stats     Stats
}

// NewProtocol returns a protocol with no open ports.
func NewProtocol(nodeID string, opts Options) *Protocol {
	return &Protocol{
		nodeID:    nodeID,
		receivers: make(map[PortKey]Receiver),
		log:       logging.OrNoop(opts.Logger).With(logging.String("node", nodeID)),
		recorder:  opts.Stats,
	}
}

// ConnectToNetworkLayer registers the protocol for ProtocolNumberUDP and
// records nl as the send path.
func (p *Protocol) ConnectToNetworkLayer(nl NetworkLayer) {
	p.network = nl
	nl.RegisterPacketHandlerForProtocol(ProtocolNumberUDP, p)
}

// OpenPort binds r to (port, addr). Use network.AnyAddress to receive on
// every address.
func (p *Protocol) OpenPort(port uint16, addr netip.Addr, r Receiver) error {
	if r == nil {
		return ErrInvalidReceiver
	}
	key := PortKey{Port: port, Address: network.NormalizeBindAddress(addr)}
	if _, exists := p.receivers[key]; exists {
		return fmt.Errorf("%w: %d on %s", ErrPortInUse, port, describeBind(key.Address))
	}
	p.receivers[key] = r
	return nil
}

// ClosePort removes the binding for (port, addr) if present.
func (p *Protocol) ClosePort(port uint16, addr netip.Addr) {
	delete(p.receivers, PortKey{Port: port, Address: network.NormalizeBindAddress(addr)})
}

// IsPortOpen reports whether (port, addr) is bound.
func (p *Protocol) IsPortOpen(port uint16, addr netip.Addr) bool {
	_, ok := p.receivers[PortKey{Port: port, Address: network.NormalizeBindAddress(addr)}]
	return ok
}

// Stats returns a snapshot of the protocol counters.
func (p *Protocol) Stats() Stats { return p.stats }

// SendPacket sends pkt with the source address chosen by the network layer.
func (p *Protocol) SendPacket(pkt *model.Packet, srcPort uint16, dst netip.Addr, dstPort uint16, priority model.PacketPriority) error {
	return p.SendPacketWithSource(pkt, network.AnyAddress, srcPort, dst, dstPort, priority)
}

// SendPacketWithSource prepends the header and hands pkt to the network
// layer with an explicit source address.
func (p *Protocol) SendPacketWithSource(pkt *model.Packet, src netip.Addr, srcPort uint16, dst netip.Addr, dstPort uint16, priority model.PacketPriority) error {
	if p.network == nil {
		return ErrNotConnected
	}
	total := pkt.LengthBytes() + HeaderSize
	if total > MaxPacketLength {
		return fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, total)
	}
	pkt.AddHeader(Header{SourcePort: srcPort, DestinationPort: dstPort, Length: uint16(total)}.Marshal())

	p.stats.Sent++
	if p.recorder != nil {
		p.recorder.PacketSent(p.nodeID, total)
	}
	p.log.Debug(context.Background(), "transport send",
		logging.String("packet_id", pkt.ID),
		logging.Int("source_port", int(srcPort)),
		logging.String("destination", dst.String()),
		logging.Int("destination_port", int(dstPort)),
		logging.Int("bytes", total))

	return p.network.ReceivePacketFromUpperLayerWithSource(pkt, src, dst, ProtocolNumberUDP, priority)
}

// ReceivePacketFromNetworkLayer strips the header and delivers pkt. A
// receiver bound to the port's wildcard address always gets the packet.
// Otherwise broadcast and multicast destinations are looked up as the
// receiving interface's own address; loopback datagrams are looked up
// as addressed. Packets nobody listens for are
// dropped without error.
func (p *Protocol) ReceivePacketFromNetworkLayer(pkt *model.Packet, src, dst netip.Addr, trafficClass model.PacketPriority, ifIndex int) {
	h, err := ParseHeader(pkt.Bytes())
	if err != nil {
		p.drop(pkt, DropShortPacket, err)
		return
	}
	if err := pkt.DeleteHeader(HeaderSize); err != nil {
		p.drop(pkt, DropShortPacket, err)
		return
	}

	if r, ok := p.receivers[PortKey{Port: h.DestinationPort, Address: network.AnyAddress}]; ok {
		p.deliver(r, true, pkt, src, h.SourcePort, dst, trafficClass)
		return
	}

	lookup := dst.Unmap()
	if p.network != nil && ifIndex >= 0 && network.IsBroadcastOrMulticast(lookup, p.network.SubnetPrefix(ifIndex)) {
		lookup = p.network.NetworkAddress(ifIndex)
	}
	if r, ok := p.receivers[PortKey{Port: h.DestinationPort, Address: lookup}]; ok {
		p.deliver(r, false, pkt, src, h.SourcePort, dst, trafficClass)
		return
	}

	p.drop(pkt, DropNoReceiver, nil,
		logging.Int("destination_port", int(h.DestinationPort)),
		logging.String("destination", dst.String()))
}

func (p *Protocol) deliver(r Receiver, wildcard bool, pkt *model.Packet, src netip.Addr, srcPort uint16, dst netip.Addr, tc model.PacketPriority) {
	p.stats.Delivered++
	if p.recorder != nil {
		p.recorder.PacketDelivered(p.nodeID, wildcard)
	}
	r.ReceivePacket(pkt, src, srcPort, dst, tc)
}

func (p *Protocol) drop(pkt *model.Packet, reason string, err error, fields ...logging.Field) {
	p.stats.Dropped++
	if p.recorder != nil {
		p.recorder.PacketDropped(p.nodeID, reason)
	}
	fields = append(fields, logging.String("packet_id", pkt.ID), logging.String("reason", reason))
	if err != nil {
		fields = append(fields, logging.Err(err))
	}
	p.log.Debug(context.Background(), "transport drop", fields...)
}

func describeBind(addr netip.Addr) string {
	if addr == network.AnyAddress {
		return "any address"
	}
	return addr.String()
}
