package medium

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/multisystem-simulator/core"
	"github.com/signalsfoundry/multisystem-simulator/internal/logging"
	"github.com/signalsfoundry/multisystem-simulator/model"
)

// Helper is a stackable side-channel layer. It sends its own payloads and
// those of layers stacked on it as frames of kind Name on the layer below.
// A one-byte length and the upper layer's kind prefix every frame; a zero
// length marks the helper's own payload.
type Helper struct {
	name   string
	nodeID string
	lower  core.FrameSender
	logger logging.Logger

	receiver core.FrameReceiver
	upper    map[string]core.FrameReceiver

	sent, received, dropped uint64
}

// HelperStats are per-helper counters.
type HelperStats struct {
	Sent     uint64
	Received uint64
	Dropped  uint64
}

// NewHelper stacks a helper named name on lower.
func NewHelper(name, nodeID string, lower core.FrameSender, logger logging.Logger) (*Helper, error) {
	if name == "" || len(name) > 0xFF {
		return nil, fmt.Errorf("invalid helper name %q", name)
	}
	if lower == nil {
		return nil, fmt.Errorf("helper %s: nil lower layer", name)
	}
	h := &Helper{
		name:   name,
		nodeID: nodeID,
		lower:  lower,
		logger: logging.OrNoop(logger),
		upper:  make(map[string]core.FrameReceiver),
	}
	lower.SetFrameReceiver(name, h)
	return h, nil
}

// HelperBuilders returns builders for the helper layers interface setup
// stacks.
func HelperBuilders() map[string]core.HelperBuilder {
	build := func(_ context.Context, in core.HelperBuildInput) (core.HelperLayer, error) {
		return NewHelper(in.Name, in.NodeID, in.Lower, in.Logger)
	}
	return map[string]core.HelperBuilder{
		core.HelperDot15Transport: build,
		core.HelperWSMP:           build,
		core.HelperGeoNet:         build,
		core.HelperBTP:            build,
	}
}

func (h *Helper) HelperName() string               { return h.name }
func (h *Helper) SetReceiver(r core.FrameReceiver) { h.receiver = r }
func (h *Helper) Stats() HelperStats               { return HelperStats{h.sent, h.received, h.dropped} }

// Send transmits the helper's own payload.
func (h *Helper) Send(pkt *model.Packet) error {
	return h.send("", pkt)
}

// SendFrame carries a frame for a layer stacked on this helper.
func (h *Helper) SendFrame(kind string, pkt *model.Packet) error {
	if kind == "" || len(kind) > 0xFF {
		return fmt.Errorf("helper %s: invalid frame kind %q", h.name, kind)
	}
	return h.send(kind, pkt)
}

// SetFrameReceiver routes frames from the upper layer kind to r.
func (h *Helper) SetFrameReceiver(kind string, r core.FrameReceiver) {
	if r == nil {
		delete(h.upper, kind)
		return
	}
	h.upper[kind] = r
}

func (h *Helper) send(kind string, pkt *model.Packet) error {
	header := make([]byte, 0, 1+len(kind))
	header = append(header, byte(len(kind)))
	header = append(header, kind...)
	pkt.AddHeader(header)
	if err := h.lower.SendFrame(h.name, pkt); err != nil {
		h.dropped++
		return err
	}
	h.sent++
	return nil
}

// ReceiveFrame implements core.FrameReceiver for the layer below.
func (h *Helper) ReceiveFrame(pkt *model.Packet, fromNode string) {
	data := pkt.Bytes()
	if len(data) < 1 || len(data) < 1+int(data[0]) {
		h.dropped++
		return
	}
	kind := string(data[1 : 1+int(data[0])])
	if err := pkt.DeleteHeader(1 + len(kind)); err != nil {
		h.dropped++
		return
	}

	r := h.receiver
	if kind != "" {
		r = h.upper[kind]
	}
	if r == nil {
		h.dropped++
		h.logger.Debug(context.Background(), "helper frame without receiver",
			logging.String("helper", h.name), logging.String("kind", kind), logging.String("from", fromNode))
		return
	}
	h.received++
	r.ReceiveFrame(pkt, fromNode)
}
