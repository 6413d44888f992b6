package app

import (
	"context"
	"fmt"

	"github.com/iti/rngstream"

	"github.com/signalsfoundry/multisystem-simulator/core"
	"github.com/signalsfoundry/multisystem-simulator/internal/logging"
	"github.com/signalsfoundry/multisystem-simulator/model"
	"github.com/signalsfoundry/multisystem-simulator/timectrl"
)

// T109FrameKind tags T109 frames on the MAC.
const T109FrameKind = "t109"

// T109App broadcasts directly on its interface's MAC. The interface
// carries no network traffic.
type T109App struct {
	id     string
	clock  timectrl.SimClock
	rand   *rngstream.RngStream
	logger logging.Logger
	cfg    trafficConfig

	mac    core.MacLayer
	sender core.FrameSender

	seq   uint64
	stats Stats
}

// NewT109App reads the t109-app-* traffic parameters.
func NewT109App(in core.AppBuildInput) (*T109App, error) {
	in.Kind = core.AppT109
	cfg, err := readTrafficConfig(in)
	if err != nil {
		return nil, err
	}
	return &T109App{
		id:     appID(in),
		clock:  in.Clock,
		rand:   in.Rand,
		logger: logging.OrNoop(in.Logger),
		cfg:    cfg,
		stats:  Stats{LastSequence: make(map[string]uint64)},
	}, nil
}

func (a *T109App) ApplicationID() string { return a.id }
func (a *T109App) Stats() Stats          { return a.stats.clone() }

// SetMac implements core.MacOwner. MACs that cannot carry frames leave the
// application without a sender; Start reports it.
func (a *T109App) SetMac(mac core.MacLayer) {
	a.mac = mac
	sender, ok := mac.(core.FrameSender)
	if !ok {
		return
	}
	a.sender = sender
	sender.SetFrameReceiver(T109FrameKind, core.FrameReceiverFunc(a.receive))
}

// Start schedules the traffic.
func (a *T109App) Start(ctx context.Context) error {
	if a.sender == nil {
		return fmt.Errorf("%s: MAC %T cannot send frames", a.id, a.mac)
	}
	if a.clock == nil {
		return fmt.Errorf("%s: no clock", a.id)
	}
	a.logger.Info(ctx, "t109 application started", logging.String("app_id", a.id))
	a.cfg.ticker(a.clock, a.rand).run(func(timectrl.Time) { a.send() })
	return nil
}

func (a *T109App) send() {
	a.seq++
	if err := a.sender.SendFrame(T109FrameKind, model.NewPacket(a.cfg.payload(a.seq))); err != nil {
		a.stats.Dropped++
		return
	}
	a.stats.Sent++
}

func (a *T109App) receive(pkt *model.Packet, fromNode string) {
	a.stats.record(pkt.Bytes(), fromNode)
}
