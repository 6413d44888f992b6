package medium

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/multisystem-simulator/core"
	"github.com/signalsfoundry/multisystem-simulator/model"
)

// loopSender hands every frame straight back to the receiver registered
// for its kind.
type loopSender struct {
	receivers map[string]core.FrameReceiver
	kinds     []string
}

func newLoopSender() *loopSender {
	return &loopSender{receivers: map[string]core.FrameReceiver{}}
}

func (l *loopSender) SendFrame(kind string, pkt *model.Packet) error {
	l.kinds = append(l.kinds, kind)
	if r, ok := l.receivers[kind]; ok {
		r.ReceiveFrame(pkt.Clone(), "peer")
	}
	return nil
}

func (l *loopSender) SetFrameReceiver(kind string, r core.FrameReceiver) { l.receivers[kind] = r }

func TestHelperStacking(t *testing.T) {
	mac := newLoopSender()
	geonet, err := NewHelper(core.HelperGeoNet, "n1", mac, nil)
	require.NoError(t, err)
	btp, err := NewHelper(core.HelperBTP, "n1", geonet, nil)
	require.NoError(t, err)

	var geoPayloads, btpPayloads []string
	geonet.SetReceiver(core.FrameReceiverFunc(func(pkt *model.Packet, _ string) {
		geoPayloads = append(geoPayloads, string(pkt.Bytes()))
	}))
	btp.SetReceiver(core.FrameReceiverFunc(func(pkt *model.Packet, from string) {
		require.Equal(t, "peer", from)
		btpPayloads = append(btpPayloads, string(pkt.Bytes()))
	}))

	require.NoError(t, btp.Send(model.NewPacket([]byte("cam"))))
	require.NoError(t, geonet.Send(model.NewPacket([]byte("beacon"))))

	require.Equal(t, []string{"geonet", "geonet"}, mac.kinds)
	require.Equal(t, []string{"cam"}, btpPayloads)
	require.Equal(t, []string{"beacon"}, geoPayloads)
	require.Equal(t, HelperStats{Sent: 2, Received: 2}, geonet.Stats())
	require.Equal(t, HelperStats{Sent: 1, Received: 1}, btp.Stats())
}

func TestHelperWireFormat(t *testing.T) {
	mac := newLoopSender()
	h, err := NewHelper(core.HelperWSMP, "n1", mac, nil)
	require.NoError(t, err)

	pkt := model.NewPacket([]byte{0xAA})
	require.NoError(t, h.SendFrame("app", pkt))
	require.Equal(t, []byte{3, 'a', 'p', 'p', 0xAA}, pkt.Bytes())

	pkt = model.NewPacket([]byte{0xBB})
	require.NoError(t, h.Send(pkt))
	require.Equal(t, []byte{0, 0xBB}, pkt.Bytes())
}

func TestHelperDropsMalformedAndUnrouted(t *testing.T) {
	mac := newLoopSender()
	h, err := NewHelper(core.HelperDot15Transport, "n1", mac, nil)
	require.NoError(t, err)

	h.ReceiveFrame(model.NewPacket(nil), "x")
	h.ReceiveFrame(model.NewPacket([]byte{5, 'a'}), "x")
	h.ReceiveFrame(model.NewPacket([]byte{1, 'z', 0}), "x")
	h.ReceiveFrame(model.NewPacket([]byte{0, 1}), "x")
	require.Equal(t, uint64(4), h.Stats().Dropped)

	_, err = NewHelper("", "n1", mac, nil)
	require.Error(t, err)
	_, err = NewHelper("x", "n1", nil, nil)
	require.Error(t, err)
	require.Error(t, h.SendFrame("", model.NewPacket(nil)))
}

func TestHelperBuildersCoverStackedLayers(t *testing.T) {
	b := HelperBuilders()
	for _, name := range []string{core.HelperDot15Transport, core.HelperWSMP, core.HelperGeoNet, core.HelperBTP} {
		build, ok := b[name]
		require.True(t, ok, name)
		h, err := build(context.Background(), core.HelperBuildInput{NodeID: "n1", Name: name, Lower: newLoopSender()})
		require.NoError(t, err)
		require.Equal(t, name, h.HelperName())
	}
}
