package core

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/signalsfoundry/multisystem-simulator/internal/logging"
	"github.com/signalsfoundry/multisystem-simulator/params"
	"github.com/signalsfoundry/multisystem-simulator/timectrl"
)

// ParamMacProtocol selects an interface's technology.
const ParamMacProtocol = "mac-protocol"

// SetupRecorder observes interface setup, typically for metrics.
type SetupRecorder interface {
	InterfaceConfigured(nodeID string, tech Technology)
	AntennasAssigned(nodeID string, count int)
}

// NodeConfig carries what a node needs before its interfaces are built.
type NodeConfig struct {
	ID       string
	Seed     uint64
	Params   *params.Database
	Clock    timectrl.SimClock
	Network  NetworkLayer
	Mobility MobilityModel
	Apps     ApplicationContainer
	Logger   logging.Logger
	Recorder SetupRecorder
}

// Node owns the interface slots of one simulated node and its antenna
// numbering. Slots are indexed like the network layer's interface table.
type Node struct {
	mu sync.RWMutex

	id       string
	seed     uint64
	params   *params.Database
	clock    timectrl.SimClock
	network  NetworkLayer
	mobility MobilityModel
	apps     ApplicationContainer
	log      logging.Logger
	recorder SetupRecorder

	slots            []*InterfaceSlot
	antennasByNumber []*AntennaBinding
	numbered         bool
}

// NewNode returns a node with no interfaces built. A nil mobility model
// places the node at the origin.
func NewNode(cfg NodeConfig) *Node {
	mobility := cfg.Mobility
	if mobility == nil {
		mobility = &StaticMobility{}
	}
	return &Node{
		id:       cfg.ID,
		seed:     cfg.Seed,
		params:   cfg.Params,
		clock:    cfg.Clock,
		network:  cfg.Network,
		mobility: mobility,
		apps:     cfg.Apps,
		log:      logging.OrNoop(cfg.Logger).With(logging.String("node", cfg.ID)),
		recorder: cfg.Recorder,
	}
}

func (n *Node) ID() string               { return n.id }
func (n *Node) Seed() uint64             { return n.seed }
func (n *Node) Mobility() MobilityModel  { return n.mobility }
func (n *Node) Network() NetworkLayer    { return n.network }
func (n *Node) Params() *params.Database { return n.params }

// SetupInterfaces builds every interface of the network layer in index
// order and then numbers the antennas. It returns the first
// ConfigurationError; the node must not be used after a failure.
func (n *Node) SetupInterfaces(ctx context.Context, factory *InterfaceFactory) error {
	ctx, span := startSpan(ctx, "core.Node.SetupInterfaces", attribute.String("node.id", n.id))
	defer span.End()

	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.slots) > 0 || n.numbered {
		err := configErrorf(n.id, "", ErrAntennaNumbersAssigned, "interfaces already set up")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	count := n.network.NumberOfInterfaces()
	slots := make([]*InterfaceSlot, 0, count)
	for i := 0; i < count; i++ {
		slot, err := n.setupInterface(ctx, factory, i, slots)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			n.log.Error(ctx, "interface setup failed", logging.Int("index", i), logging.Err(err))
			return err
		}
		slots = append(slots, slot)
	}
	n.slots = slots

	if err := n.completeAntennaNumberAssignmentLocked(); err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.Int("node.antennas", len(n.antennasByNumber)))
	return nil
}

func (n *Node) setupInterface(ctx context.Context, factory *InterfaceFactory, index int, built []*InterfaceSlot) (*InterfaceSlot, error) {
	ifaceID := n.network.InterfaceID(index)

	raw, err := n.params.ReadString(ParamMacProtocol, n.id, ifaceID)
	if err != nil {
		return nil, configErrorf(n.id, ifaceID, ErrMissingParameter, "%s", ParamMacProtocol)
	}
	tech, ok := ParseTechnology(raw)
	if !ok {
		return nil, configErrorf(n.id, ifaceID, ErrUnknownTechnology, "%q for node %s", raw, n.id)
	}

	switch tech {
	case TechNone:
		return &InterfaceSlot{ID: ifaceID, Index: index, Technology: tech}, nil
	case TechWired:
		if err := factory.setupWired(ctx, n.id, index); err != nil {
			return nil, asConfigError(n.id, ifaceID, err)
		}
		return &InterfaceSlot{ID: ifaceID, Index: index, Technology: tech}, nil
	}

	slot, err := factory.Build(ctx, &BuildContext{
		Node:               n,
		Index:              index,
		InterfaceID:        ifaceID,
		Technology:         tech,
		antennasBeforeSlot: countAntennas(built),
	})
	if err != nil {
		return nil, asConfigError(n.id, ifaceID, err)
	}
	if slot.Mac != nil {
		n.network.SetInterfaceMacLayer(index, slot.Mac)
	}
	if n.recorder != nil {
		n.recorder.InterfaceConfigured(n.id, tech)
	}
	n.log.Info(ctx, "interface configured",
		logging.String("interface", ifaceID),
		logging.String("technology", string(tech)),
		logging.Int("antennas", len(slot.Antennas)))
	return slot, nil
}

func countAntennas(slots []*InterfaceSlot) int {
	total := 0
	for _, s := range slots {
		total += len(s.Antennas)
	}
	return total
}

// CompleteAntennaNumberAssignment numbers every antenna 0..N-1 in
// interface order, then in order within each interface. Numbers are
// assigned once; a second call fails with ErrAntennaNumbersAssigned.
// SetupInterfaces calls it itself.
func (n *Node) CompleteAntennaNumberAssignment() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.completeAntennaNumberAssignmentLocked()
}

func (n *Node) completeAntennaNumberAssignmentLocked() error {
	if n.numbered {
		return configErrorf(n.id, "", ErrAntennaNumbersAssigned, "")
	}
	var all []*AntennaBinding
	for _, slot := range n.slots {
		for _, b := range slot.Antennas {
			b.number = len(all)
			all = append(all, b)
		}
	}
	n.antennasByNumber = all
	n.numbered = true
	if n.recorder != nil {
		n.recorder.AntennasAssigned(n.id, len(all))
	}
	return nil
}

// Interfaces returns the slots in index order.
func (n *Node) Interfaces() []*InterfaceSlot {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]*InterfaceSlot(nil), n.slots...)
}

// Interface returns the slot at index.
func (n *Node) Interface(index int) (*InterfaceSlot, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if index < 0 || index >= len(n.slots) {
		return nil, false
	}
	return n.slots[index], true
}

// NumberOfAntennas returns how many antennas have been numbered.
func (n *Node) NumberOfAntennas() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.antennasByNumber)
}

func (n *Node) findAntenna(id string) *AntennaBinding {
	for _, slot := range n.slots {
		for _, b := range slot.Antennas {
			if b.ID == id {
				return b
			}
		}
	}
	return nil
}

// HasAntenna reports whether an antenna with id exists.
func (n *Node) HasAntenna(id string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.findAntenna(id) != nil
}

// AntennaNumber returns the number of the antenna with id.
func (n *Node) AntennaNumber(id string) (int, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	b := n.findAntenna(id)
	if b == nil {
		return UnassignedAntennaNumber, configErrorf(n.id, "", ErrAntennaNotFound, "id %q", id)
	}
	return b.number, nil
}

// AntennaByNumber returns the binding numbered number.
func (n *Node) AntennaByNumber(number int) (*AntennaBinding, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if number < 0 || number >= len(n.antennasByNumber) {
		return nil, configErrorf(n.id, "", ErrAntennaNotFound, "number %d of %d", number, len(n.antennasByNumber))
	}
	return n.antennasByNumber[number], nil
}

// AntennaModel returns the model of antenna number.
func (n *Node) AntennaModel(number int) (AntennaModel, error) {
	b, err := n.AntennaByNumber(number)
	if err != nil {
		return nil, err
	}
	return b.Model, nil
}

// AntennaLocation returns where antenna number is at now.
func (n *Node) AntennaLocation(number int, now timectrl.Time) (Vec3, error) {
	b, err := n.AntennaByNumber(number)
	if err != nil {
		return Vec3{}, err
	}
	return b.Mobility.PositionAt(now), nil
}

func (n *Node) String() string {
	return fmt.Sprintf("node %s (%d interfaces)", n.id, len(n.slots))
}
