package transport

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/signalsfoundry/multisystem-simulator/model"
	"github.com/signalsfoundry/multisystem-simulator/network"
)

type sentDatagram struct {
	pkt      *model.Packet
	src, dst netip.Addr
	protocol uint8
}

type fakeNetwork struct {
	prefix   netip.Prefix
	handlers map[uint8]network.ProtocolHandler
	sent     []sentDatagram
}

func newFakeNetwork(cidr string) *fakeNetwork {
	return &fakeNetwork{prefix: netip.MustParsePrefix(cidr), handlers: map[uint8]network.ProtocolHandler{}}
}

func (f *fakeNetwork) RegisterPacketHandlerForProtocol(protocol uint8, h network.ProtocolHandler) {
	f.handlers[protocol] = h
}

func (f *fakeNetwork) ReceivePacketFromUpperLayerWithSource(pkt *model.Packet, src, dst netip.Addr, protocol uint8, _ model.PacketPriority) error {
	f.sent = append(f.sent, sentDatagram{pkt: pkt, src: src, dst: dst, protocol: protocol})
	return nil
}

func (f *fakeNetwork) NetworkAddress(int) netip.Addr { return f.prefix.Addr() }
func (f *fakeNetwork) SubnetPrefix(int) netip.Prefix { return f.prefix }

type countingRecorder struct {
	sent, delivered, wildcard int
	dropped                   map[string]int
}

func (c *countingRecorder) PacketSent(string, int) { c.sent++ }
func (c *countingRecorder) PacketDelivered(_ string, wildcard bool) {
	c.delivered++
	if wildcard {
		c.wildcard++
	}
}
func (c *countingRecorder) PacketDropped(_ string, reason string) {
	if c.dropped == nil {
		c.dropped = map[string]int{}
	}
	c.dropped[reason]++
}

func framed(t *testing.T, srcPort, dstPort uint16, payload string) *model.Packet {
	t.Helper()
	pkt := model.NewPacket([]byte(payload))
	pkt.AddHeader(Header{SourcePort: srcPort, DestinationPort: dstPort, Length: uint16(len(payload) + HeaderSize)}.Marshal())
	return pkt
}

var (
	ifaceAddr = netip.MustParseAddr("10.0.0.1")
	peerAddr  = netip.MustParseAddr("10.0.0.2")
)

func connected(t *testing.T, rec StatsRecorder) (*Protocol, *fakeNetwork) {
	t.Helper()
	nl := newFakeNetwork("10.0.0.1/24")
	p := NewProtocol("n1", Options{Stats: rec})
	p.ConnectToNetworkLayer(nl)
	require.Same(t, p, nl.handlers[ProtocolNumberUDP])
	return p, nl
}

func TestHeaderWireFormat(t *testing.T) {
	b := Header{SourcePort: 0x1234, DestinationPort: 0xABCD, Length: 26}.Marshal()
	require.Equal(t, []byte{0x12, 0x34, 0xAB, 0xCD, 0x00, 0x1A}, b)

	h, err := ParseHeader(b)
	require.NoError(t, err)
	require.Equal(t, uint16(0xABCD), h.DestinationPort)

	_, err = ParseHeader(b[:5])
	require.ErrorIs(t, err, ErrShortPacket)
}

func TestSendPrependsHeader(t *testing.T) {
	rec := &countingRecorder{}
	p, nl := connected(t, rec)

	err := p.SendPacketWithSource(model.NewPacket([]byte("hello")), ifaceAddr, 4000, peerAddr, 5000, 0)
	require.NoError(t, err)
	require.Len(t, nl.sent, 1)

	got := nl.sent[0]
	require.Equal(t, ProtocolNumberUDP, got.protocol)
	require.Equal(t, ifaceAddr, got.src)
	require.Equal(t, peerAddr, got.dst)
	require.Equal(t, 11, got.pkt.LengthBytes())

	h, err := ParseHeader(got.pkt.Bytes())
	require.NoError(t, err)
	require.Equal(t, Header{SourcePort: 4000, DestinationPort: 5000, Length: 11}, h)
	require.Equal(t, 1, rec.sent)
}

func TestSendPacketUsesAnySource(t *testing.T) {
	p, nl := connected(t, nil)
	require.NoError(t, p.SendPacket(model.NewPacket(nil), 1, peerAddr, 2, 0))
	require.Equal(t, network.AnyAddress, nl.sent[0].src)
}

func TestSendRejectsOversizedPacket(t *testing.T) {
	p, nl := connected(t, nil)
	err := p.SendPacket(model.NewPacket(make([]byte, MaxPacketLength)), 1, peerAddr, 2, 0)
	require.ErrorIs(t, err, ErrPacketTooLarge)
	require.Empty(t, nl.sent)
}

func TestSendWithoutNetworkFails(t *testing.T) {
	p := NewProtocol("n1", Options{})
	require.ErrorIs(t, p.SendPacket(model.NewPacket(nil), 1, peerAddr, 2, 0), ErrNotConnected)
}

func TestOpenPortConflicts(t *testing.T) {
	ctrl := gomock.NewController(t)
	p, _ := connected(t, nil)
	r := NewMockReceiver(ctrl)

	require.NoError(t, p.OpenPort(5000, network.AnyAddress, r))
	require.ErrorIs(t, p.OpenPort(5000, netip.MustParseAddr("0.0.0.0"), r), ErrPortInUse)
	require.NoError(t, p.OpenPort(5000, ifaceAddr, r))
	require.True(t, p.IsPortOpen(5000, ifaceAddr))

	p.ClosePort(5000, ifaceAddr)
	require.False(t, p.IsPortOpen(5000, ifaceAddr))
	require.True(t, p.IsPortOpen(5000, network.AnyAddress))
	require.ErrorIs(t, p.OpenPort(1, ifaceAddr, nil), ErrInvalidReceiver)
}

func TestWildcardWinsOverExactBind(t *testing.T) {
	ctrl := gomock.NewController(t)
	rec := &countingRecorder{}
	p, _ := connected(t, rec)

	wildcard := NewMockReceiver(ctrl)
	exact := NewMockReceiver(ctrl)
	require.NoError(t, p.OpenPort(5000, network.AnyAddress, wildcard))
	require.NoError(t, p.OpenPort(5000, ifaceAddr, exact))

	wildcard.EXPECT().
		ReceivePacket(gomock.Any(), peerAddr, uint16(4000), ifaceAddr, model.PacketPriority(3)).
		Do(func(pkt *model.Packet, _ netip.Addr, _ uint16, _ netip.Addr, _ model.PacketPriority) {
			require.Equal(t, "payload", string(pkt.Bytes()))
		})
	exact.EXPECT().ReceivePacket(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	p.ReceivePacketFromNetworkLayer(framed(t, 4000, 5000, "payload"), peerAddr, ifaceAddr, 3, 0)
	require.Equal(t, 1, rec.wildcard)
}

func TestBroadcastRewrittenToInterfaceAddress(t *testing.T) {
	ctrl := gomock.NewController(t)
	p, _ := connected(t, nil)

	exact := NewMockReceiver(ctrl)
	require.NoError(t, p.OpenPort(6000, ifaceAddr, exact))

	bcast := netip.MustParseAddr("10.0.0.255")
	multicast := netip.MustParseAddr("224.0.0.9")
	exact.EXPECT().ReceivePacket(gomock.Any(), peerAddr, uint16(7), bcast, gomock.Any())
	exact.EXPECT().ReceivePacket(gomock.Any(), peerAddr, uint16(7), multicast, gomock.Any())

	p.ReceivePacketFromNetworkLayer(framed(t, 7, 6000, "b"), peerAddr, bcast, 0, 0)
	p.ReceivePacketFromNetworkLayer(framed(t, 7, 6000, "m"), peerAddr, multicast, 0, 0)
}

func TestUnmatchedPacketIsDroppedSilently(t *testing.T) {
	ctrl := gomock.NewController(t)
	rec := &countingRecorder{}
	p, _ := connected(t, rec)

	other := NewMockReceiver(ctrl)
	require.NoError(t, p.OpenPort(6000, netip.MustParseAddr("10.0.0.77"), other))

	require.NotPanics(t, func() {
		p.ReceivePacketFromNetworkLayer(framed(t, 1, 6000, "x"), peerAddr, ifaceAddr, 0, 0)
		p.ReceivePacketFromNetworkLayer(framed(t, 1, 9999, "x"), peerAddr, ifaceAddr, 0, 0)
		p.ReceivePacketFromNetworkLayer(model.NewPacket([]byte{1, 2}), peerAddr, ifaceAddr, 0, 0)
	})
	require.Equal(t, 2, rec.dropped[DropNoReceiver])
	require.Equal(t, 1, rec.dropped[DropShortPacket])
	require.Equal(t, uint64(3), p.Stats().Dropped)
}

func TestEndToEndThroughNetworkLayer(t *testing.T) {
	ctrl := gomock.NewController(t)

	layer := network.NewLayer("n1", nil, network.Options{})
	layer.AddInterface("wlan0", netip.MustParsePrefix("10.0.0.1/24"))

	p := NewProtocol("n1", Options{})
	p.ConnectToNetworkLayer(layer)

	r := NewMockReceiver(ctrl)
	require.NoError(t, p.OpenPort(7000, network.AnyAddress, r))
	r.EXPECT().ReceivePacket(gomock.Any(), ifaceAddr, uint16(7001), ifaceAddr, gomock.Any())

	require.NoError(t, p.SendPacket(model.NewPacket([]byte("loop")), 7001, ifaceAddr, 7000, 0))
}

func TestLoopbackBindOnNodeWithoutInterfaces(t *testing.T) {
	layer := network.NewLayer("n1", nil, network.Options{})
	p := NewProtocol("n1", Options{})
	p.ConnectToNetworkLayer(layer)

	lo := netip.MustParseAddr("127.0.0.1")
	var got []string
	require.NoError(t, p.OpenPort(9, lo, ReceiverFunc(func(pkt *model.Packet, _ netip.Addr, _ uint16, _ netip.Addr, _ model.PacketPriority) {
		got = append(got, string(pkt.Bytes()))
	})))

	require.NotPanics(t, func() {
		require.NoError(t, p.SendPacket(model.NewPacket([]byte("lo")), 1000, lo, 9, 0))
	})
	require.Equal(t, []string{"lo"}, got)
}
