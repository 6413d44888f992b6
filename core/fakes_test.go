package core

import (
	"context"
	"net/netip"
	"testing"

	"github.com/signalsfoundry/multisystem-simulator/model"
	"github.com/signalsfoundry/multisystem-simulator/network"
	"github.com/signalsfoundry/multisystem-simulator/params"
)

type fakePropagation struct {
	instance string
	index    int
}

func (p *fakePropagation) ChannelInstanceID() string { return p.instance }
func (p *fakePropagation) AntennaIndex() int         { return p.index }

type fakeChannel struct {
	instance string
	attached []int
}

func (c *fakeChannel) ChannelInstanceID() string { return c.instance }

func (c *fakeChannel) Attach(_ string, index int, _ AntennaModel, _ MobilityModel) (PropagationInterface, error) {
	c.attached = append(c.attached, index)
	return &fakePropagation{instance: c.instance, index: index}, nil
}

type named string

func (n named) Name() string { return string(n) }

type fakeChannels struct {
	channels map[string]*fakeChannel
	mimo     map[string]MimoChannelModel
	fading   map[string]FadingModel
}

func newFakeChannels() *fakeChannels {
	return &fakeChannels{
		channels: map[string]*fakeChannel{},
		mimo:     map[string]MimoChannelModel{},
		fading:   map[string]FadingModel{},
	}
}

func (f *fakeChannels) PropagationModel(tech Technology, instanceID string) (PropagationModel, error) {
	key := string(tech) + "/" + instanceID
	c, ok := f.channels[key]
	if !ok {
		c = &fakeChannel{instance: instanceID}
		f.channels[key] = c
	}
	return c, nil
}

func (f *fakeChannels) ChannelModels(_ Technology, instanceID string) (MimoChannelModel, FadingModel) {
	return f.mimo[instanceID], f.fading[instanceID]
}

type fakeMac struct {
	in        MacBuildInput
	receivers map[string]FrameReceiver
	sent      []string
}

func (m *fakeMac) NetworkLayerQueueChangeNotification() {}
func (m *fakeMac) Technology() Technology               { return m.in.Technology }
func (m *fakeMac) Statistics() MacStatistics            { return MacStatistics{} }

func (m *fakeMac) SendFrame(kind string, _ *model.Packet) error {
	m.sent = append(m.sent, kind)
	return nil
}

func (m *fakeMac) SetFrameReceiver(kind string, r FrameReceiver) {
	if m.receivers == nil {
		m.receivers = map[string]FrameReceiver{}
	}
	m.receivers[kind] = r
}

type fakeHelper struct {
	name  string
	lower FrameSender
}

func (h *fakeHelper) HelperName() string                             { return h.name }
func (h *fakeHelper) Send(pkt *model.Packet) error                   { return h.lower.SendFrame(h.name, pkt) }
func (h *fakeHelper) SetReceiver(FrameReceiver)                      {}
func (h *fakeHelper) SendFrame(kind string, pkt *model.Packet) error { return h.lower.SendFrame(h.name+"/"+kind, pkt) }
func (h *fakeHelper) SetFrameReceiver(string, FrameReceiver)         {}

type fakeApp struct {
	in  AppBuildInput
	mac MacLayer
}

func (a *fakeApp) ApplicationID() string       { return a.in.Kind + "@" + a.in.InterfaceID }
func (a *fakeApp) Start(context.Context) error { return nil }
func (a *fakeApp) SetMac(mac MacLayer)         { a.mac = mac }

type appList struct {
	apps []Application
}

func (l *appList) AddApp(app Application) { l.apps = append(l.apps, app) }

type countingSetup struct {
	configured map[Technology]int
	antennas   int
}

func (c *countingSetup) InterfaceConfigured(_ string, tech Technology) {
	if c.configured == nil {
		c.configured = map[Technology]int{}
	}
	c.configured[tech]++
}

func (c *countingSetup) AntennasAssigned(_ string, count int) { c.antennas = count }

type fixture struct {
	db       *params.Database
	layer    *network.Layer
	channels *fakeChannels
	macs     []*fakeMac
	apps     *appList
	recorder *countingSetup
	node     *Node
	factory  *InterfaceFactory
}

// newFixture builds node n1 with one interface per entry of ifaces
// ("id=tag"), using fake collaborators for every technology.
func newFixture(t *testing.T, ifaces ...[2]string) *fixture {
	t.Helper()
	f := &fixture{
		db:       params.New(),
		channels: newFakeChannels(),
		apps:     &appList{},
		recorder: &countingSetup{},
	}
	f.layer = network.NewLayer("n1", nil, network.Options{})
	for i, iface := range ifaces {
		f.layer.AddInterface(iface[0], netip.PrefixFrom(netip.AddrFrom4([4]byte{10, 0, byte(i), 1}), 24))
		f.db.SetInterface("n1", iface[0], ParamMacProtocol, iface[1])
	}

	macs := map[Technology]MacBuilder{}
	for _, tech := range WirelessTechnologies() {
		macs[tech] = func(_ context.Context, in MacBuildInput) (MacLayer, error) {
			m := &fakeMac{in: in}
			f.macs = append(f.macs, m)
			return m, nil
		}
	}
	helpers := map[string]HelperBuilder{}
	for _, name := range []string{HelperDot15Transport, HelperWSMP, HelperGeoNet, HelperBTP} {
		helpers[name] = func(_ context.Context, in HelperBuildInput) (HelperLayer, error) {
			return &fakeHelper{name: in.Name, lower: in.Lower}, nil
		}
	}
	apps := map[string]AppBuilder{}
	for _, kind := range []string{AppDsrcBsm, AppItsBroadcast, AppDot15, AppT109} {
		apps[kind] = func(_ context.Context, in AppBuildInput) (Application, error) {
			return &fakeApp{in: in}, nil
		}
	}

	f.factory = NewInterfaceFactory(Collaborators{
		Channels: f.channels,
		Macs:     macs,
		Helpers:  helpers,
		Apps:     apps,
	})
	f.node = NewNode(NodeConfig{
		ID:       "n1",
		Seed:     42,
		Params:   f.db,
		Network:  f.layer,
		Mobility: &StaticMobility{Position: Vec3{X: 100, Y: 200}},
		Apps:     f.apps,
		Recorder: f.recorder,
	})
	return f
}

func (f *fixture) setup(t *testing.T) error {
	t.Helper()
	return f.node.SetupInterfaces(context.Background(), f.factory)
}
