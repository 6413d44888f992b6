// Package network is the per-node network layer. It owns the interface
// table, routes datagrams from upper layers onto interface output queues
// and dispatches inbound datagrams to registered protocol handlers.
package network

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/signalsfoundry/multisystem-simulator/internal/logging"
	"github.com/signalsfoundry/multisystem-simulator/model"
	"github.com/signalsfoundry/multisystem-simulator/params"
	"github.com/signalsfoundry/multisystem-simulator/timectrl"
)

const (
	ParamNetworkInterfaces = "network-interfaces"
	ParamNetworkAddress    = "network-address"

	// DefaultQueueCapacity bounds each interface's output queue.
	DefaultQueueCapacity = 256

	// LoopbackInterfaceIndex is the interface index handlers see for
	// datagrams sent to a 127.0.0.0/8 address. It indexes no interface.
	LoopbackInterfaceIndex = -1
)

var (
	ErrNoRoute          = errors.New("no route to destination")
	ErrNoMac            = errors.New("interface has no MAC layer")
	ErrUnknownInterface = errors.New("unknown interface")
)

// Mac is what the network layer needs from a link layer: a nudge whenever
// the interface output queue changes.
type Mac interface {
	NetworkLayerQueueChangeNotification()
}

// ProtocolHandler receives datagrams for one IP protocol number.
type ProtocolHandler interface {
	ReceivePacketFromNetworkLayer(pkt *model.Packet, src, dst netip.Addr, trafficClass model.PacketPriority, ifIndex int)
}

// Options configures a Layer.
type Options struct {
	Logger        logging.Logger
	QueueCapacity int           // default DefaultQueueCapacity
	QueueMaxDelay timectrl.Time // zero disables expiry
}

// Stats are cumulative network-layer counters.
type Stats struct {
	Sent      uint64
	Delivered uint64
	Dropped   uint64
}

type netInterface struct {
	id     string
	prefix netip.Prefix
	mac    Mac
	queue  OutputQueue
}

// Layer is a node's network layer. Like the rest of a node it is driven
// by the single event loop and is not safe for concurrent use.
type Layer struct {
	nodeID string
	clock  timectrl.SimClock
	log    logging.Logger
	opts   Options

	interfaces []*netInterface
	handlers   map[uint8]ProtocolHandler
	stats      Stats
}

// NewLayer returns a layer with no interfaces.
func NewLayer(nodeID string, clock timectrl.SimClock, opts Options) *Layer {
	if opts.QueueCapacity == 0 {
		opts.QueueCapacity = DefaultQueueCapacity
	}
	return &Layer{
		nodeID:   nodeID,
		clock:    clock,
		log:      logging.OrNoop(opts.Logger).With(logging.String("node", nodeID)),
		opts:     opts,
		handlers: make(map[uint8]ProtocolHandler),
	}
}

// NewLayerFromParams builds the interface table from network-interfaces
// and each interface's network-address (CIDR, optional).
func NewLayerFromParams(nodeID string, db *params.Database, clock timectrl.SimClock, opts Options) (*Layer, error) {
	l := NewLayer(nodeID, clock, opts)

	ids, err := db.ReadTokens(ParamNetworkInterfaces, nodeID, "")
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, dup := l.LookupInterfaceIndex(id); dup {
			return nil, fmt.Errorf("node %s: interface %q listed twice in %s", nodeID, id, ParamNetworkInterfaces)
		}
		var prefix netip.Prefix
		if text, err := db.ReadString(ParamNetworkAddress, nodeID, id); err == nil {
			prefix, err = netip.ParsePrefix(text)
			if err != nil {
				return nil, fmt.Errorf("node %s interface %s: %s %q: %w", nodeID, id, ParamNetworkAddress, text, params.ErrBadValue)
			}
		}
		l.AddInterface(id, prefix)
	}
	return l, nil
}

// NodeID returns the owning node's id.
func (l *Layer) NodeID() string { return l.nodeID }

// AddInterface appends an interface with a default FIFO output queue and
// returns its index.
func (l *Layer) AddInterface(id string, prefix netip.Prefix) int {
	l.interfaces = append(l.interfaces, &netInterface{
		id:     id,
		prefix: prefix,
		queue:  NewFIFOQueue(l.clock, l.opts.QueueCapacity, l.opts.QueueMaxDelay),
	})
	return len(l.interfaces) - 1
}

// NumberOfInterfaces returns the size of the interface table.
func (l *Layer) NumberOfInterfaces() int { return len(l.interfaces) }

func (l *Layer) iface(i int) *netInterface {
	if i < 0 || i >= len(l.interfaces) {
		panic(fmt.Sprintf("network: interface index %d out of range [0, %d)", i, len(l.interfaces)))
	}
	return l.interfaces[i]
}

// InterfaceID returns the id of interface i.
func (l *Layer) InterfaceID(i int) string { return l.iface(i).id }

// LookupInterfaceIndex finds an interface by id.
func (l *Layer) LookupInterfaceIndex(id string) (int, bool) {
	for i, ifc := range l.interfaces {
		if ifc.id == id {
			return i, true
		}
	}
	return -1, false
}

// NetworkAddress returns the unicast address of interface i. It is invalid
// when the interface has no address.
func (l *Layer) NetworkAddress(i int) netip.Addr { return l.iface(i).prefix.Addr() }

// SubnetPrefix returns the configured prefix of interface i.
func (l *Layer) SubnetPrefix(i int) netip.Prefix { return l.iface(i).prefix }

// SetInterfaceMacLayer installs the MAC for interface i.
func (l *Layer) SetInterfaceMacLayer(i int, mac Mac) { l.iface(i).mac = mac }

// MacLayer returns the MAC of interface i, or nil.
func (l *Layer) MacLayer(i int) Mac { return l.iface(i).mac }

// SetInterfaceOutputQueue replaces the output queue of interface i.
func (l *Layer) SetInterfaceOutputQueue(i int, q OutputQueue) { l.iface(i).queue = q }

// OutputQueue returns the output queue of interface i.
func (l *Layer) OutputQueue(i int) OutputQueue { return l.iface(i).queue }

// RegisterPacketHandlerForProtocol routes inbound datagrams with the given
// protocol number to h. A later registration replaces an earlier one.
func (l *Layer) RegisterPacketHandlerForProtocol(protocol uint8, h ProtocolHandler) {
	l.handlers[protocol] = h
}

// Stats returns a snapshot of the layer counters.
func (l *Layer) Stats() Stats { return l.stats }

func (l *Layer) isOwnAddress(addr netip.Addr) (int, bool) {
	for i, ifc := range l.interfaces {
		if ifc.prefix.IsValid() && ifc.prefix.Addr() == addr {
			return i, true
		}
	}
	return -1, false
}

// ReceivePacketFromUpperLayer sends pkt with the outgoing interface's
// address as source.
func (l *Layer) ReceivePacketFromUpperLayer(pkt *model.Packet, dst netip.Addr, protocol uint8, priority model.PacketPriority) error {
	return l.ReceivePacketFromUpperLayerWithSource(pkt, AnyAddress, dst, protocol, priority)
}

// ReceivePacketFromUpperLayerWithSource routes pkt. Local destinations are
// looped back on the next event; limited broadcast and multicast go out on
// every interface that accepts generic traffic; anything else goes to the
// first interface whose prefix contains dst.
func (l *Layer) ReceivePacketFromUpperLayerWithSource(pkt *model.Packet, src, dst netip.Addr, protocol uint8, priority model.PacketPriority) error {
	dst = dst.Unmap()

	if dst.IsLoopback() {
		l.loopback(pkt, dst, dst, protocol, priority, LoopbackInterfaceIndex)
		return nil
	}
	if i, ok := l.isOwnAddress(dst); ok {
		l.loopback(pkt, dst, dst, protocol, priority, i)
		return nil
	}

	if dst.IsMulticast() || dst == limitedBroadcast {
		sent := false
		for i := range l.interfaces {
			err := l.enqueue(i, pkt.Clone(), src, dst, protocol, priority)
			if errors.Is(err, ErrDedicatedInterface) || errors.Is(err, ErrNoMac) {
				continue
			}
			if err != nil {
				return err
			}
			sent = true
		}
		if !sent {
			return fmt.Errorf("node %s: %w for %s", l.nodeID, ErrNoRoute, dst)
		}
		return nil
	}

	for i, ifc := range l.interfaces {
		if ifc.prefix.IsValid() && ifc.prefix.Contains(dst) {
			return l.enqueue(i, pkt, src, dst, protocol, priority)
		}
	}
	l.stats.Dropped++
	return fmt.Errorf("node %s: %w for %s", l.nodeID, ErrNoRoute, dst)
}

func (l *Layer) enqueue(i int, pkt *model.Packet, src, dst netip.Addr, protocol uint8, priority model.PacketPriority) error {
	ifc := l.interfaces[i]
	if ifc.mac == nil {
		return fmt.Errorf("node %s interface %s: %w", l.nodeID, ifc.id, ErrNoMac)
	}
	if src == AnyAddress {
		src = ifc.prefix.Addr()
	}
	err := ifc.queue.Insert(Datagram{
		Packet:      pkt,
		Source:      src,
		Destination: dst,
		Protocol:    protocol,
		Priority:    priority,
	})
	if err != nil {
		l.stats.Dropped++
		return fmt.Errorf("node %s interface %s: %w", l.nodeID, ifc.id, err)
	}
	l.stats.Sent++
	ifc.mac.NetworkLayerQueueChangeNotification()
	return nil
}

func (l *Layer) loopback(pkt *model.Packet, src, dst netip.Addr, protocol uint8, priority model.PacketPriority, ifIndex int) {
	l.stats.Sent++
	if l.clock == nil {
		l.dispatch(pkt, src, dst, protocol, priority, ifIndex)
		return
	}
	l.clock.ScheduleAfter(timectrl.ZeroTime, func(timectrl.Time) {
		l.dispatch(pkt, src, dst, protocol, priority, ifIndex)
	})
}

// ReceivePacketFromMac accepts a datagram that arrived on interface
// ifIndex. Datagrams not addressed to this node are dropped.
func (l *Layer) ReceivePacketFromMac(ifIndex int, d Datagram) {
	ifc := l.iface(ifIndex)
	dst := d.Destination.Unmap()

	_, own := l.isOwnAddress(dst)
	if !own && !IsBroadcastOrMulticast(dst, ifc.prefix) {
		l.stats.Dropped++
		l.log.Debug(context.Background(), "datagram not addressed to node",
			logging.String("interface", ifc.id), logging.String("destination", dst.String()))
		return
	}
	l.dispatch(d.Packet, d.Source, dst, d.Protocol, d.Priority, ifIndex)
}

func (l *Layer) dispatch(pkt *model.Packet, src, dst netip.Addr, protocol uint8, priority model.PacketPriority, ifIndex int) {
	h, ok := l.handlers[protocol]
	if !ok {
		l.stats.Dropped++
		l.log.Debug(context.Background(), "no handler for protocol", logging.Int("protocol", int(protocol)))
		return
	}
	l.stats.Delivered++
	h.ReceivePacketFromNetworkLayer(pkt, src, dst, priority, ifIndex)
}
