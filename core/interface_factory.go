package core

import (
	"context"

	"github.com/iti/rngstream"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/multisystem-simulator/internal/logging"
)

const tracerName = "github.com/signalsfoundry/multisystem-simulator/core"

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// BuildContext is what an InterfaceBuilder gets for one interface.
type BuildContext struct {
	Node        *Node
	Index       int
	InterfaceID string
	Technology  Technology

	Collaborators *Collaborators

	antennasBeforeSlot int
}

// NodeID returns the owning node's id.
func (b *BuildContext) NodeID() string { return b.Node.id }

// NextAntennaIndex is the propagation index the next antenna of this
// interface gets: antennas already on the node plus those on slot.
func (b *BuildContext) NextAntennaIndex(slot *InterfaceSlot) int {
	return b.antennasBeforeSlot + len(slot.Antennas)
}

// NewRandStream returns a random stream for a sub-object of the
// interface, seeded from the node seed, node id, interface id and name.
func (b *BuildContext) NewRandStream(name string) *rngstream.RngStream {
	return NewSeededStream(b.Node.seed, b.Node.id, b.InterfaceID, name)
}

// Logger returns a logger annotated with the interface.
func (b *BuildContext) Logger() logging.Logger {
	return b.Node.log.With(logging.String("interface", b.InterfaceID))
}

// InterfaceBuilder builds the stack of one technology.
type InterfaceBuilder func(ctx context.Context, b *BuildContext) (*InterfaceSlot, error)

// InterfaceFactory maps technology tags to builders.
type InterfaceFactory struct {
	collab   Collaborators
	builders map[Technology]InterfaceBuilder
}

// NewInterfaceFactory registers the default builder for every wireless
// technology. The MAC, helper and application builders in collab decide
// what actually gets built.
func NewInterfaceFactory(collab Collaborators) *InterfaceFactory {
	if collab.Macs == nil {
		collab.Macs = map[Technology]MacBuilder{}
	}
	if collab.Helpers == nil {
		collab.Helpers = map[string]HelperBuilder{}
	}
	if collab.Apps == nil {
		collab.Apps = map[string]AppBuilder{}
	}
	if collab.Patterns == nil {
		collab.Patterns = NewAntennaPatternDatabase()
	}

	f := &InterfaceFactory{
		collab:   collab,
		builders: make(map[Technology]InterfaceBuilder),
	}
	for tech, builder := range defaultBuilders() {
		f.builders[tech] = builder
	}
	return f
}

// Register replaces the builder for tech.
func (f *InterfaceFactory) Register(tech Technology, builder InterfaceBuilder) {
	f.builders[tech] = builder
}

// Collaborators returns the factory's collaborator set.
func (f *InterfaceFactory) Collaborators() *Collaborators { return &f.collab }

// Build runs the builder registered for b.Technology.
func (f *InterfaceFactory) Build(ctx context.Context, b *BuildContext) (*InterfaceSlot, error) {
	ctx, span := startSpan(ctx, "core.InterfaceFactory.Build",
		attribute.String("node.id", b.Node.id),
		attribute.String("interface.id", b.InterfaceID),
		attribute.String("interface.technology", string(b.Technology)),
	)
	defer span.End()

	builder, ok := f.builders[b.Technology]
	if !ok {
		err := configErrorf(b.Node.id, b.InterfaceID, ErrNoBuilder, "technology %s", b.Technology)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if b.Collaborators == nil {
		b.Collaborators = &f.collab
	}

	slot, err := builder(ctx, b)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("interface.antennas", len(slot.Antennas)))
	return slot, nil
}

func (f *InterfaceFactory) setupWired(ctx context.Context, nodeID string, index int) error {
	if f.collab.WiredSetup == nil {
		return nil
	}
	return f.collab.WiredSetup(ctx, nodeID, index)
}
