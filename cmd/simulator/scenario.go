package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/signalsfoundry/multisystem-simulator/app"
	"github.com/signalsfoundry/multisystem-simulator/core"
	"github.com/signalsfoundry/multisystem-simulator/internal/logging"
	"github.com/signalsfoundry/multisystem-simulator/internal/observability"
	"github.com/signalsfoundry/multisystem-simulator/kb"
	"github.com/signalsfoundry/multisystem-simulator/medium"
	"github.com/signalsfoundry/multisystem-simulator/model"
	"github.com/signalsfoundry/multisystem-simulator/network"
	"github.com/signalsfoundry/multisystem-simulator/params"
	"github.com/signalsfoundry/multisystem-simulator/timectrl"
	"github.com/signalsfoundry/multisystem-simulator/transport"
)

// simNode is one built node with its protocol stack.
type simNode struct {
	def       model.NodeDefinition
	node      *core.Node
	network   *network.Layer
	transport *transport.Protocol
	apps      *app.Container
}

// scenario is everything built from one parameter file.
type scenario struct {
	clock     *timectrl.TimeController
	store     *kb.KnowledgeBase
	collector *observability.SimCollector
	log       logging.Logger
	nodes     []*simNode
}

// buildScenario creates every node in db in sorted order.
func buildScenario(ctx context.Context, db *params.Database, tick timectrl.Time, collector *observability.SimCollector, log logging.Logger) (*scenario, error) {
	log = logging.OrNoop(log)
	clock := timectrl.NewTimeController(nil, tick)

	store := kb.NewKnowledgeBase()
	if err := store.Load(db); err != nil {
		return nil, err
	}

	maxRange, err := db.ReadFloatOr(medium.ParamChannelMaxRangeMeters, 0, "", "")
	if err != nil {
		return nil, err
	}
	patterns, err := core.NewAntennaPatternDatabaseFromParams(db)
	if err != nil {
		return nil, err
	}

	channels := medium.NewChannelSet(clock, maxRange)
	if db.Exists(medium.ParamChannelMinLinkGainDBi, "", "") {
		minGain, err := db.ReadFloat(medium.ParamChannelMinLinkGainDBi, "", "")
		if err != nil {
			return nil, err
		}
		channels.SetMinLinkGainDBi(minGain)
	}

	s := &scenario{clock: clock, store: store, collector: collector, log: log}
	factory := core.NewInterfaceFactory(core.Collaborators{
		Channels: channels,
		Patterns: patterns,
		Macs:     medium.MacBuilders(medium.MacOptions{Recorder: collector}),
		Helpers:  medium.HelperBuilders(),
		Apps:     app.Builders(),
		WiredSetup: func(ctx context.Context, nodeID string, ifIndex int) error {
			log.Debug(ctx, "wired interface left to the network layer",
				logging.String("node_id", nodeID), logging.Int("interface_index", ifIndex))
			return nil
		},
	})

	for _, def := range store.ListNodes() {
		nodeLog := log.With(logging.String("node_id", def.ID))
		layer, err := network.NewLayerFromParams(def.ID, db, clock, network.Options{Logger: nodeLog})
		if err != nil {
			return nil, err
		}
		tp := transport.NewProtocol(def.ID, transport.Options{Logger: nodeLog, Stats: collector})
		tp.ConnectToNetworkLayer(layer)
		apps := app.NewContainer(def.ID)

		node := core.NewNode(core.NodeConfig{
			ID:       def.ID,
			Seed:     def.Seed,
			Params:   db,
			Clock:    clock,
			Network:  layer,
			Mobility: core.NewMobilityModel(def),
			Apps:     apps,
			Logger:   nodeLog,
			Recorder: collector,
		})
		if err := node.SetupInterfaces(ctx, factory); err != nil {
			return nil, err
		}

		sink, err := app.NewSinkFromParams(def.ID, db, tp, nodeLog)
		if err != nil {
			return nil, err
		}
		if sink != nil {
			apps.AddApp(sink)
		}
		cbr, err := app.NewCbrAppFromParams(def.ID, db, clock, tp, nodeLog)
		if err != nil {
			return nil, err
		}
		if cbr != nil {
			apps.AddApp(cbr)
		}

		s.nodes = append(s.nodes, &simNode{
			def:       def,
			node:      node,
			network:   layer,
			transport: tp,
			apps:      apps,
		})
	}
	collector.SetScenarioNodes(len(s.nodes))
	return s, nil
}

// start starts every node's applications.
func (s *scenario) start(ctx context.Context) error {
	for _, n := range s.nodes {
		if err := n.apps.StartAll(ctx); err != nil {
			return err
		}
	}
	return nil
}

// run drives the event loop until simulation time passes until.
func (s *scenario) run(until timectrl.Time) {
	s.clock.AddListener(func(now timectrl.Time) { s.collector.SetSimTime(now.Seconds()) })
	s.clock.Run(until)
	s.collector.SetSimTime(s.clock.Now().Seconds())
}

type statser interface {
	Stats() app.Stats
}

// writeSummary prints one row per node and one per application.
func (s *scenario) writeSummary(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tINTERFACES\tANTENNAS\tNET SENT\tNET DELIVERED\tNET DROPPED\tUDP SENT\tUDP DELIVERED\tUDP DROPPED")
	for _, n := range s.nodes {
		ns, ts := n.network.Stats(), n.transport.Stats()
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			n.def.ID, len(n.node.Interfaces()), n.node.NumberOfAntennas(),
			ns.Sent, ns.Delivered, ns.Dropped, ts.Sent, ts.Delivered, ts.Dropped)
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "APPLICATION\tSENT\tRECEIVED\tDROPPED\tSOURCES")
	for _, n := range s.nodes {
		for _, a := range n.apps.Apps() {
			st, ok := a.(statser)
			if !ok {
				continue
			}
			stats := st.Stats()
			sources := make([]string, 0, len(stats.LastSequence))
			for src := range stats.LastSequence {
				sources = append(sources, src)
			}
			sort.Strings(sources)
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%v\n", a.ApplicationID(), stats.Sent, stats.Received, stats.Dropped, sources)
		}
	}
	return tw.Flush()
}
