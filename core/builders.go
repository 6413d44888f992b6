package core

import (
	"context"
	"strconv"

	"github.com/signalsfoundry/multisystem-simulator/network"
	"github.com/signalsfoundry/multisystem-simulator/params"
)

const (
	ParamChannelInstanceID            = "channel-instance-id"
	ParamLteDownlinkChannelInstanceID = "lte-downlink-channel-instance-id"
	ParamLteUplinkChannelInstanceID   = "lte-uplink-channel-instance-id"
	ParamWaveDeviceNames              = "its-wave-device-names"
	ParamWavePhySupportChannels       = "its-wave-phy-support-channels"
	ParamBsmAppTrafficStartTime       = "its-bsm-app-traffic-start-time"
	ParamItsBroadcastTrafficStartTime = "its-broadcast-app-traffic-start-time"
	ParamDot15AppTrafficStartTime     = "dot15-app-traffic-start-time"

	// ItsBroadcastDestinationPort is the BTP port of ITS broadcast traffic.
	ItsBroadcastDestinationPort = 5000

	// WaveControlChannel is the CCH; the others listed in
	// waveServiceChannels are SCHs.
	WaveControlChannel = 178
)

var waveServiceChannels = map[int]bool{172: true, 174: true, 176: true, 180: true, 182: true, 184: true}

// antennaOptions tweaks addAntenna for one technology.
type antennaOptions struct {
	// deviceID is the parameter scope and antenna id suffix for multi-device
	// interfaces.
	deviceID string
	// withChannelModels queries MIMO and fading models.
	withChannelModels bool
	requireCustom     bool
}

func defaultBuilders() map[Technology]InterfaceBuilder {
	simple := func(o antennaOptions) InterfaceBuilder {
		return func(ctx context.Context, b *BuildContext) (*InterfaceSlot, error) {
			slot := newSlot(b)
			if _, err := addAntenna(b, slot, o); err != nil {
				return nil, err
			}
			if err := buildMac(ctx, b, slot, nil); err != nil {
				return nil, err
			}
			return slot, nil
		}
	}

	return map[Technology]InterfaceBuilder{
		TechAloha:   simple(antennaOptions{}),
		TechDot11:   simple(antennaOptions{withChannelModels: true}),
		TechDot11ad: simple(antennaOptions{withChannelModels: true, requireCustom: true}),
		TechDot11ah: simple(antennaOptions{}),
		TechDot15:   buildDot15Interface,
		TechLTE:     buildLteInterface,
		TechWave:    buildWaveInterface,
		TechGeoNet:  buildGeoNetInterface,
		TechT109:    buildT109Interface,
	}
}

func newSlot(b *BuildContext) *InterfaceSlot {
	return &InterfaceSlot{ID: b.InterfaceID, Index: b.Index, Technology: b.Technology}
}

func (b *BuildContext) db() *params.Database { return b.Node.params }

func (b *BuildContext) configError(err error, format string, args ...any) error {
	return configErrorf(b.Node.id, b.InterfaceID, err, format, args...)
}

// addAntenna builds one antenna binding and appends it to slot.
func addAntenna(b *BuildContext, slot *InterfaceSlot, o antennaOptions) (*AntennaBinding, error) {
	nodeID := b.Node.id
	scope := b.InterfaceID
	id := b.InterfaceID
	if o.deviceID != "" {
		scope = o.deviceID
		id = b.InterfaceID + "/" + o.deviceID
	}

	antenna, err := CreateAntennaModel(b.db(), b.Collaborators.Patterns, nodeID, scope)
	if err != nil {
		return nil, err
	}
	if o.requireCustom {
		if _, ok := antenna.(*CustomAntennaModel); !ok {
			return nil, b.configError(ErrCustomAntennaRequired, "%s needs an antenna pattern, got %s", b.Technology, antenna.Name())
		}
	}

	mobility, err := antennaMobility(b.db(), nodeID, scope, b.Node.mobility)
	if err != nil {
		return nil, err
	}

	binding := newAntennaBinding(id)
	binding.Model = antenna
	binding.Mobility = mobility

	tech := b.Technology.PropagationTechnology()
	if b.Collaborators.Channels == nil {
		return nil, b.configError(ErrNoBuilder, "no channel model set")
	}
	index := b.NextAntennaIndex(slot)

	if b.Technology == TechLTE {
		down := b.db().ReadStringOr(ParamLteDownlinkChannelInstanceID, "lte-downlink", "", "")
		up := b.db().ReadStringOr(ParamLteUplinkChannelInstanceID, "lte-uplink", "", "")
		if binding.Propagation, err = attach(b, tech, down, index, binding); err != nil {
			return nil, err
		}
		if binding.UplinkPropagation, err = attach(b, tech, up, index, binding); err != nil {
			return nil, err
		}
	} else {
		instanceID := b.db().ReadStringOr(ParamChannelInstanceID, scope, nodeID, scope)
		if binding.Propagation, err = attach(b, tech, instanceID, index, binding); err != nil {
			return nil, err
		}
		if o.withChannelModels {
			mimo, fading := b.Collaborators.Channels.ChannelModels(tech, instanceID)
			if mimo != nil && fading != nil {
				return nil, b.configError(ErrConflictingChannelModels, "channel %s: %s and %s", instanceID, mimo.Name(), fading.Name())
			}
			binding.Mimo, binding.Fading = mimo, fading
		}
	}

	slot.Antennas = append(slot.Antennas, binding)
	return binding, nil
}

func attach(b *BuildContext, tech Technology, instanceID string, index int, binding *AntennaBinding) (PropagationInterface, error) {
	pm, err := b.Collaborators.Channels.PropagationModel(tech, instanceID)
	if err != nil {
		return nil, b.configError(ErrMissingParameter, "channel %s/%s: %v", tech, instanceID, err)
	}
	pi, err := pm.Attach(b.Node.id, index, binding.Model, binding.Mobility)
	if err != nil {
		return nil, b.configError(ErrMalformedParameter, "attach to channel %s: %v", instanceID, err)
	}
	return pi, nil
}

func buildMac(ctx context.Context, b *BuildContext, slot *InterfaceSlot, devices []WaveDevice) error {
	builder, ok := b.Collaborators.Macs[b.Technology]
	if !ok {
		return b.configError(ErrNoBuilder, "MAC for %s", b.Technology)
	}
	mac, err := builder(ctx, MacBuildInput{
		NodeID:         b.Node.id,
		InterfaceID:    b.InterfaceID,
		InterfaceIndex: b.Index,
		Technology:     b.Technology,
		Seed:           b.Node.seed,
		Rand:           b.NewRandStream("mac"),
		Params:         b.db(),
		Clock:          b.Node.clock,
		Network:        b.Node.network,
		Logger:         b.Logger(),
		Antennas:       slot.Antennas,
		WaveDevices:    devices,
	})
	if err != nil {
		return asConfigError(b.Node.id, b.InterfaceID, err)
	}
	slot.Mac = mac
	return nil
}

func addHelper(ctx context.Context, b *BuildContext, slot *InterfaceSlot, name string, lower FrameSender) (HelperLayer, error) {
	builder, ok := b.Collaborators.Helpers[name]
	if !ok {
		return nil, b.configError(ErrNoBuilder, "helper %s", name)
	}
	h, err := builder(ctx, HelperBuildInput{
		NodeID:      b.Node.id,
		InterfaceID: b.InterfaceID,
		Name:        name,
		Lower:       lower,
		Clock:       b.Node.clock,
		Logger:      b.Logger(),
	})
	if err != nil {
		return nil, asConfigError(b.Node.id, b.InterfaceID, err)
	}
	slot.Helpers = append(slot.Helpers, h)
	return h, nil
}

func macFrameSender(b *BuildContext, slot *InterfaceSlot) (FrameSender, error) {
	fs, ok := slot.Mac.(FrameSender)
	if !ok {
		return nil, b.configError(ErrHelperUnsupported, "%T", slot.Mac)
	}
	return fs, nil
}

func addApp(ctx context.Context, b *BuildContext, kind string, transport HelperLayer, port uint16) (Application, error) {
	builder, ok := b.Collaborators.Apps[kind]
	if !ok {
		return nil, b.configError(ErrNoBuilder, "application %s", kind)
	}
	if b.Node.apps == nil {
		return nil, b.configError(ErrNoBuilder, "node has no application container")
	}
	app, err := builder(ctx, AppBuildInput{
		NodeID:          b.Node.id,
		InterfaceID:     b.InterfaceID,
		Kind:            kind,
		Params:          b.db(),
		Clock:           b.Node.clock,
		Logger:          b.Logger(),
		Rand:            b.NewRandStream(kind),
		Transport:       transport,
		DestinationPort: port,
	})
	if err != nil {
		return nil, asConfigError(b.Node.id, b.InterfaceID, err)
	}
	b.Node.apps.AddApp(app)
	return app, nil
}

func (b *BuildContext) enabled(key string) bool {
	return b.db().Exists(key, b.Node.id, b.InterfaceID)
}

func buildDot15Interface(ctx context.Context, b *BuildContext) (*InterfaceSlot, error) {
	slot := newSlot(b)
	if _, err := addAntenna(b, slot, antennaOptions{}); err != nil {
		return nil, err
	}
	if err := buildMac(ctx, b, slot, nil); err != nil {
		return nil, err
	}
	lower, err := macFrameSender(b, slot)
	if err != nil {
		return nil, err
	}
	transport, err := addHelper(ctx, b, slot, HelperDot15Transport, lower)
	if err != nil {
		return nil, err
	}
	if b.enabled(ParamDot15AppTrafficStartTime) {
		if _, err := addApp(ctx, b, AppDot15, transport, 0); err != nil {
			return nil, err
		}
	}
	return slot, nil
}

func buildLteInterface(ctx context.Context, b *BuildContext) (*InterfaceSlot, error) {
	slot := newSlot(b)
	if _, err := addAntenna(b, slot, antennaOptions{}); err != nil {
		return nil, err
	}
	binding := slot.Antennas[0]
	mimo, fading := b.Collaborators.Channels.ChannelModels(TechLTE, binding.Propagation.ChannelInstanceID())
	if mimo != nil && fading != nil {
		return nil, b.configError(ErrConflictingChannelModels, "channel %s: %s and %s",
			binding.Propagation.ChannelInstanceID(), mimo.Name(), fading.Name())
	}
	binding.Mimo, binding.Fading = mimo, fading

	if err := buildMac(ctx, b, slot, nil); err != nil {
		return nil, err
	}
	return slot, nil
}

// ParseWaveChannels parses a whitespace list of WAVE channel numbers.
func ParseWaveChannels(tokens []string) ([]WaveChannel, error) {
	if len(tokens) == 0 {
		return nil, ErrMalformedParameter
	}
	out := make([]WaveChannel, 0, len(tokens))
	for _, tok := range tokens {
		n, err := strconv.Atoi(tok)
		if err != nil || (n != WaveControlChannel && !waveServiceChannels[n]) {
			return nil, ErrMalformedParameter
		}
		out = append(out, WaveChannel{Number: n, Control: n == WaveControlChannel})
	}
	return out, nil
}

func buildWaveInterface(ctx context.Context, b *BuildContext) (*InterfaceSlot, error) {
	nodeID := b.Node.id
	names, err := b.db().ReadTokens(ParamWaveDeviceNames, nodeID, b.InterfaceID)
	if err != nil {
		return nil, b.configError(ErrMissingParameter, "%s", ParamWaveDeviceNames)
	}
	if len(names) == 0 {
		return nil, b.configError(ErrMalformedParameter, "%s is empty", ParamWaveDeviceNames)
	}

	slot := newSlot(b)
	devices := make([]WaveDevice, 0, len(names))
	for _, name := range names {
		text := b.db().ReadStringOr(ParamWavePhySupportChannels, "", nodeID, name)
		tokens, _ := b.db().ReadTokens(ParamWavePhySupportChannels, nodeID, name)
		channels, err := ParseWaveChannels(tokens)
		if err != nil {
			return nil, b.configError(ErrMalformedParameter, "device %s %s %q", name, ParamWavePhySupportChannels, text)
		}
		binding, err := addAntenna(b, slot, antennaOptions{deviceID: name})
		if err != nil {
			return nil, err
		}
		devices = append(devices, WaveDevice{Name: name, Channels: channels, Antenna: binding})
	}

	if err := buildMac(ctx, b, slot, devices); err != nil {
		return nil, err
	}
	lower, err := macFrameSender(b, slot)
	if err != nil {
		return nil, err
	}
	wsmp, err := addHelper(ctx, b, slot, HelperWSMP, lower)
	if err != nil {
		return nil, err
	}
	if b.enabled(ParamBsmAppTrafficStartTime) {
		if _, err := addApp(ctx, b, AppDsrcBsm, wsmp, 0); err != nil {
			return nil, err
		}
	}
	return slot, nil
}

func buildGeoNetInterface(ctx context.Context, b *BuildContext) (*InterfaceSlot, error) {
	slot := newSlot(b)
	if _, err := addAntenna(b, slot, antennaOptions{withChannelModels: true}); err != nil {
		return nil, err
	}
	if err := buildMac(ctx, b, slot, nil); err != nil {
		return nil, err
	}
	lower, err := macFrameSender(b, slot)
	if err != nil {
		return nil, err
	}
	geonet, err := addHelper(ctx, b, slot, HelperGeoNet, lower)
	if err != nil {
		return nil, err
	}
	btp, err := addHelper(ctx, b, slot, HelperBTP, geonet)
	if err != nil {
		return nil, err
	}
	if b.enabled(ParamItsBroadcastTrafficStartTime) {
		if _, err := addApp(ctx, b, AppItsBroadcast, btp, ItsBroadcastDestinationPort); err != nil {
			return nil, err
		}
	}
	return slot, nil
}

func buildT109Interface(ctx context.Context, b *BuildContext) (*InterfaceSlot, error) {
	slot := newSlot(b)
	if _, err := addAntenna(b, slot, antennaOptions{}); err != nil {
		return nil, err
	}
	if err := buildMac(ctx, b, slot, nil); err != nil {
		return nil, err
	}

	app, err := addApp(ctx, b, AppT109, nil, 0)
	if err != nil {
		return nil, err
	}
	owner, ok := app.(MacOwner)
	if !ok {
		return nil, b.configError(ErrNoBuilder, "t109 application %T does not drive a MAC", app)
	}
	owner.SetMac(slot.Mac)

	// Only the T109 application may use this interface.
	b.Node.network.SetInterfaceOutputQueue(b.Index, network.NoNetworkQueue{})
	return slot, nil
}
