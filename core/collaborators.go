package core

import (
	"context"
	"net/netip"

	"github.com/iti/rngstream"

	"github.com/signalsfoundry/multisystem-simulator/internal/logging"
	"github.com/signalsfoundry/multisystem-simulator/model"
	"github.com/signalsfoundry/multisystem-simulator/network"
	"github.com/signalsfoundry/multisystem-simulator/params"
	"github.com/signalsfoundry/multisystem-simulator/timectrl"
)

// MacStatistics are per-interface link-layer counters.
type MacStatistics struct {
	FramesSent     uint64
	FramesReceived uint64
	FramesDropped  uint64
	BytesSent      uint64
}

// MacLayer is the handle an interface slot keeps for its link layer.
type MacLayer interface {
	network.Mac
	Technology() Technology
	Statistics() MacStatistics
}

// FrameReceiver consumes frames delivered to a helper layer or dedicated
// application.
type FrameReceiver interface {
	ReceiveFrame(pkt *model.Packet, fromNode string)
}

// FrameReceiverFunc adapts a function to FrameReceiver.
type FrameReceiverFunc func(pkt *model.Packet, fromNode string)

func (f FrameReceiverFunc) ReceiveFrame(pkt *model.Packet, fromNode string) { f(pkt, fromNode) }

// FrameSender is implemented by MACs and helpers that carry non-IP frames
// tagged with a kind.
type FrameSender interface {
	SendFrame(kind string, pkt *model.Packet) error
	SetFrameReceiver(kind string, r FrameReceiver)
}

// HelperLayer is a side-channel protocol stacked on a MAC or another
// helper (WSMP, GeoNetworking, BTP, Dot15 transport).
type HelperLayer interface {
	FrameSender
	HelperName() string
	Send(pkt *model.Packet) error
	SetReceiver(r FrameReceiver)
}

// Helper layer names.
const (
	HelperDot15Transport = "dot15-transport"
	HelperWSMP           = "wsmp"
	HelperGeoNet         = "geonet"
	HelperBTP            = "btp"
)

// PropagationInterface is one antenna's attachment to a channel.
type PropagationInterface interface {
	ChannelInstanceID() string
	AntennaIndex() int
}

// PropagationModel is a shared channel for one technology instance.
type PropagationModel interface {
	ChannelInstanceID() string
	Attach(nodeID string, antennaIndex int, antenna AntennaModel, mobility MobilityModel) (PropagationInterface, error)
}

// MimoChannelModel and FadingModel are optional per-channel models.
type MimoChannelModel interface {
	Name() string
}

type FadingModel interface {
	Name() string
}

// ChannelModelSet resolves channel models by technology and instance id.
type ChannelModelSet interface {
	PropagationModel(tech Technology, instanceID string) (PropagationModel, error)
	ChannelModels(tech Technology, instanceID string) (MimoChannelModel, FadingModel)
}

// Application is a traffic source or sink registered with a node.
type Application interface {
	ApplicationID() string
	Start(ctx context.Context) error
}

// MacOwner is implemented by applications that drive a MAC directly.
type MacOwner interface {
	Application
	SetMac(mac MacLayer)
}

// ApplicationContainer collects the applications of one node.
type ApplicationContainer interface {
	AddApp(app Application)
}

// NetworkLayer is the network-layer view used during interface setup.
type NetworkLayer interface {
	NumberOfInterfaces() int
	InterfaceID(i int) string
	NetworkAddress(i int) netip.Addr
	SetInterfaceMacLayer(i int, mac network.Mac)
	SetInterfaceOutputQueue(i int, q network.OutputQueue)
	OutputQueue(i int) network.OutputQueue
	ReceivePacketFromMac(i int, d network.Datagram)
}

// WaveChannel is one 802.11p channel a WAVE PHY device supports.
type WaveChannel struct {
	Number  int
	Control bool // channel 178
}

// WaveDevice is one WAVE PHY device of an interface.
type WaveDevice struct {
	Name     string
	Channels []WaveChannel
	Antenna  *AntennaBinding
}

// MacBuildInput is everything a technology's MAC builder receives.
type MacBuildInput struct {
	NodeID         string
	InterfaceID    string
	InterfaceIndex int
	Technology     Technology
	Seed           uint64
	Rand           *rngstream.RngStream

	Params  *params.Database
	Clock   timectrl.SimClock
	Network NetworkLayer
	Logger  logging.Logger

	// Antennas holds one binding per radiating element; WAVE interfaces
	// carry one per device in WaveDevices order.
	Antennas    []*AntennaBinding
	WaveDevices []WaveDevice
}

// MacBuilder constructs the MAC of one interface.
type MacBuilder func(ctx context.Context, in MacBuildInput) (MacLayer, error)

// HelperBuildInput is passed to helper builders.
type HelperBuildInput struct {
	NodeID      string
	InterfaceID string
	Name        string
	Lower       FrameSender
	Clock       timectrl.SimClock
	Logger      logging.Logger
}

// HelperBuilder constructs a helper layer over Lower.
type HelperBuilder func(ctx context.Context, in HelperBuildInput) (HelperLayer, error)

// Application kinds created by interface builders.
const (
	AppDsrcBsm      = "dsrc-bsm"
	AppItsBroadcast = "its-broadcast"
	AppDot15        = "dot15"
	AppT109         = "t109"
)

// AppBuildInput is passed to application builders. Transport is set for
// helper-backed applications; dedicated applications get their MAC through
// MacOwner.SetMac.
type AppBuildInput struct {
	NodeID      string
	InterfaceID string
	Kind        string
	Params      *params.Database
	Clock       timectrl.SimClock
	Logger      logging.Logger
	Rand        *rngstream.RngStream
	Transport   HelperLayer

	// DestinationPort is set for port-addressed helper traffic (BTP).
	DestinationPort uint16
}

// AppBuilder constructs an application.
type AppBuilder func(ctx context.Context, in AppBuildInput) (Application, error)

// Collaborators bundles the external pieces interface builders consume.
type Collaborators struct {
	Channels ChannelModelSet
	Patterns *AntennaPatternDatabase
	Macs     map[Technology]MacBuilder
	Helpers  map[string]HelperBuilder
	Apps     map[string]AppBuilder

	// WiredSetup is called for "wired" interfaces. Nil is a no-op.
	WiredSetup func(ctx context.Context, nodeID string, ifIndex int) error
}
