package medium

import (
	"context"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/multisystem-simulator/core"
	"github.com/signalsfoundry/multisystem-simulator/model"
	"github.com/signalsfoundry/multisystem-simulator/network"
	"github.com/signalsfoundry/multisystem-simulator/params"
	"github.com/signalsfoundry/multisystem-simulator/timectrl"
)

type delivered struct {
	pkt *model.Packet
	src netip.Addr
	dst netip.Addr
}

type handlerFunc func(pkt *model.Packet, src, dst netip.Addr, tc model.PacketPriority, ifIndex int)

func (f handlerFunc) ReceivePacketFromNetworkLayer(pkt *model.Packet, src, dst netip.Addr, tc model.PacketPriority, ifIndex int) {
	f(pkt, src, dst, tc, ifIndex)
}

type frameCounter map[string]int

func (c frameCounter) MacFrame(_, _, direction string) { c[direction]++ }

type testNode struct {
	node  *core.Node
	layer *network.Layer
	got   []delivered
}

type world struct {
	clock    *timectrl.TimeController
	db       *params.Database
	factory  *core.InterfaceFactory
	recorder frameCounter
}

func newWorld() *world {
	clock := timectrl.NewTimeController(nil, 0)
	recorder := frameCounter{}
	return &world{
		clock:    clock,
		db:       params.New(),
		recorder: recorder,
		factory: core.NewInterfaceFactory(core.Collaborators{
			Channels: NewChannelSet(clock, 0),
			Macs:     MacBuilders(MacOptions{Recorder: recorder}),
			Helpers:  HelperBuilders(),
		}),
	}
}

// addNode builds a node with a single interface "if0" at 10.0.0.<host>/24.
func (w *world) addNode(t *testing.T, id string, host byte, x float64) *testNode {
	t.Helper()
	tn := &testNode{layer: network.NewLayer(id, w.clock, network.Options{})}
	tn.layer.AddInterface("if0", netip.PrefixFrom(netip.AddrFrom4([4]byte{10, 0, 0, host}), 24))
	tn.layer.RegisterPacketHandlerForProtocol(17, handlerFunc(func(pkt *model.Packet, src, dst netip.Addr, _ model.PacketPriority, _ int) {
		tn.got = append(tn.got, delivered{pkt: pkt, src: src, dst: dst})
	}))
	tn.node = core.NewNode(core.NodeConfig{
		ID:       id,
		Seed:     uint64(host),
		Params:   w.db,
		Clock:    w.clock,
		Network:  tn.layer,
		Mobility: &core.StaticMobility{Position: core.Vec3{X: x}},
	})
	require.NoError(t, tn.node.SetupInterfaces(context.Background(), w.factory))
	return tn
}

func TestMacCarriesDatagramsBetweenNodes(t *testing.T) {
	w := newWorld()
	w.db.SetGlobal(core.ParamMacProtocol, "dot11")
	w.db.SetGlobal(ParamMacDatarateBps, "8000") // 1 byte per ms

	a := w.addNode(t, "a", 1, 0)
	b := w.addNode(t, "b", 2, 10)

	mac, ok := a.layer.MacLayer(0).(*Mac)
	require.True(t, ok)
	require.Equal(t, core.TechDot11, mac.Technology())

	dst := netip.MustParseAddr("10.0.0.2")
	require.NoError(t, a.layer.ReceivePacketFromUpperLayer(model.NewPacket(make([]byte, 10)), dst, 17, 0))
	require.NoError(t, a.layer.ReceivePacketFromUpperLayer(model.NewPacket(make([]byte, 20)), dst, 17, 0))
	w.clock.Run(timectrl.Second)

	require.Len(t, b.got, 2)
	require.Equal(t, 10, b.got[0].pkt.LengthBytes())
	require.Equal(t, 20, b.got[1].pkt.LengthBytes())
	require.Equal(t, netip.MustParseAddr("10.0.0.1"), b.got[0].src)
	require.Empty(t, a.got)

	require.Equal(t, uint64(2), mac.Statistics().FramesSent)
	require.Equal(t, uint64(30), mac.Statistics().BytesSent)
	require.Equal(t, 2, w.recorder[DirectionSent])
	require.Equal(t, 2, w.recorder[DirectionReceived])
}

func TestMacBackoffBoundsTransmissionStart(t *testing.T) {
	w := newWorld()
	w.db.SetGlobal(core.ParamMacProtocol, "aloha")
	w.db.SetGlobal(ParamMacMaxBackoff, "5ms")

	a := w.addNode(t, "a", 1, 0)
	b := w.addNode(t, "b", 2, 0)

	var at timectrl.Time
	b.layer.RegisterPacketHandlerForProtocol(17, handlerFunc(func(*model.Packet, netip.Addr, netip.Addr, model.PacketPriority, int) {
		at = w.clock.Now()
	}))
	require.NoError(t, a.layer.ReceivePacketFromUpperLayer(model.NewPacket([]byte{1}), netip.MustParseAddr("10.0.0.255"), 17, 0))
	w.clock.Run(timectrl.Second)

	require.Greater(t, at, timectrl.ZeroTime)
	require.LessOrEqual(t, at, 6*timectrl.MilliSecond)
}

func TestMacRoutesHelperFrames(t *testing.T) {
	w := newWorld()
	w.db.SetGlobal(core.ParamMacProtocol, "wave")
	w.db.SetGlobal(core.ParamWaveDeviceNames, "dev0")
	w.db.SetGlobal(core.ParamWavePhySupportChannels, "172 178")

	a := w.addNode(t, "a", 1, 0)
	b := w.addNode(t, "b", 2, 50)

	slotA, _ := a.node.Interface(0)
	slotB, _ := b.node.Interface(0)
	wsmpA, ok := slotA.Helper(core.HelperWSMP)
	require.True(t, ok)
	wsmpB, ok := slotB.Helper(core.HelperWSMP)
	require.True(t, ok)

	var from []string
	wsmpB.SetReceiver(core.FrameReceiverFunc(func(pkt *model.Packet, fromNode string) {
		require.Equal(t, []byte("bsm"), pkt.Bytes())
		from = append(from, fromNode)
	}))
	require.NoError(t, wsmpA.Send(model.NewPacket([]byte("bsm"))))
	w.clock.Run(timectrl.Second)

	require.Equal(t, []string{"a"}, from)
	require.Empty(t, b.got)
}

func TestMacDropsUnroutedFrames(t *testing.T) {
	w := newWorld()
	w.db.SetGlobal(core.ParamMacProtocol, "dot11ah")

	a := w.addNode(t, "a", 1, 0)
	b := w.addNode(t, "b", 2, 0)

	macA := a.layer.MacLayer(0).(*Mac)
	macB := b.layer.MacLayer(0).(*Mac)
	require.NoError(t, macA.SendFrame("t109", model.NewPacket([]byte{1})))
	require.Error(t, macA.SendFrame(FrameKindIP, model.NewPacket(nil)))
	w.clock.Run(timectrl.Second)

	require.Equal(t, uint64(1), macB.Statistics().FramesDropped)
	require.Equal(t, 1, w.recorder[DirectionDropped])

	var got int
	macB.SetFrameReceiver("t109", core.FrameReceiverFunc(func(*model.Packet, string) { got++ }))
	require.NoError(t, macA.SendFrame("t109", model.NewPacket([]byte{2})))
	w.clock.Run(2 * timectrl.Second)
	require.Equal(t, 1, got)
}

func TestNewMacValidatesParameters(t *testing.T) {
	db := params.New()
	db.SetGlobal(ParamMacDatarateBps, "0")
	_, err := NewMac(core.MacBuildInput{NodeID: "n", InterfaceID: "if0", Params: db}, MacOptions{})
	require.Error(t, err)

	db.SetGlobal(ParamMacDatarateBps, "1e6")
	db.SetGlobal(ParamMacMaxBackoff, "soon")
	_, err = NewMac(core.MacBuildInput{NodeID: "n", InterfaceID: "if0", Params: db}, MacOptions{})
	require.ErrorIs(t, err, params.ErrBadValue)

	db.SetGlobal(ParamMacMaxBackoff, "1ms")
	_, err = NewMac(core.MacBuildInput{
		NodeID: "n", InterfaceID: "if0", Params: db,
		Antennas: []*core.AntennaBinding{{ID: "if0", Propagation: foreignPort{}}},
	}, MacOptions{})
	require.Error(t, err)
}

func TestNewMacLeavesPortsUntouchedOnError(t *testing.T) {
	clock := timectrl.NewTimeController(nil, 0)
	ch := NewChannelSet(clock, 0).Channel(core.TechDot11, "c0")
	pi, err := ch.Attach("n", 0, &core.OmniAntennaModel{}, &core.StaticMobility{})
	require.NoError(t, err)
	port := pi.(*Port)

	db := params.New()
	db.SetGlobal(ParamMacMaxBackoff, "1ms")
	_, err = NewMac(core.MacBuildInput{
		NodeID: "n", InterfaceID: "if0", Params: db,
		Antennas: []*core.AntennaBinding{
			{ID: "if0", Propagation: port},
			{ID: "if0-1", Propagation: foreignPort{}},
		},
	}, MacOptions{})
	require.Error(t, err)
	require.Nil(t, port.sink)
}

type foreignPort struct{}

func (foreignPort) ChannelInstanceID() string { return "x" }
func (foreignPort) AntennaIndex() int         { return 0 }
