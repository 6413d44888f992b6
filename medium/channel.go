// Package medium provides simple stand-ins for the radio side of the
// simulator: shared broadcast channels, a generic MAC and stackable helper
// layers. Frames reach every other antenna on the same channel after the
// propagation delay, optionally limited by range and Earth blockage.
package medium

import (
	"fmt"
	"sync"

	"github.com/signalsfoundry/multisystem-simulator/core"
	"github.com/signalsfoundry/multisystem-simulator/model"
	"github.com/signalsfoundry/multisystem-simulator/network"
	"github.com/signalsfoundry/multisystem-simulator/timectrl"
)

const (
	// ParamChannelMaxRangeMeters limits delivery distance. Zero means
	// unlimited.
	ParamChannelMaxRangeMeters = "channel-max-range-meters"

	// ParamChannelMinLinkGainDBi drops frames whose combined antenna gain
	// falls below it. Unset means no gain check.
	ParamChannelMinLinkGainDBi = "channel-min-link-gain-dbi"
)

// FrameKindIP marks frames carrying network-layer datagrams.
const FrameKindIP = "ip"

// Frame is what travels over a channel.
type Frame struct {
	Kind     string
	FromNode string
	Packet   *model.Packet

	// Datagram metadata for FrameKindIP frames; its Packet is unused.
	Datagram network.Datagram

	// LinkGainDBi is the sender's antenna gain toward the receiver plus
	// the receiver's gain back toward the sender, set on delivery.
	LinkGainDBi float64
}

// FrameSink receives frames from a port.
type FrameSink interface {
	ReceiveFromChannel(port *Port, f Frame)
}

type channelKey struct {
	tech     core.Technology
	instance string
}

// ChannelSet implements core.ChannelModelSet with one Channel per
// (technology, instance id).
type ChannelSet struct {
	mu sync.Mutex

	clock          timectrl.SimClock
	maxRangeMeters float64
	minGain        *float64

	channels map[channelKey]*Channel
	mimo     map[channelKey]core.MimoChannelModel
	fading   map[channelKey]core.FadingModel
}

// NewChannelSet returns an empty set. maxRangeMeters of zero disables the
// range check.
func NewChannelSet(clock timectrl.SimClock, maxRangeMeters float64) *ChannelSet {
	return &ChannelSet{
		clock:          clock,
		maxRangeMeters: maxRangeMeters,
		channels:       make(map[channelKey]*Channel),
		mimo:           make(map[channelKey]core.MimoChannelModel),
		fading:         make(map[channelKey]core.FadingModel),
	}
}

// SetMinLinkGainDBi enables the link gain check for channels created
// afterwards.
func (s *ChannelSet) SetMinLinkGainDBi(g float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minGain = &g
}

// PropagationModel returns the channel for (tech, instanceID), creating it
// on first use.
func (s *ChannelSet) PropagationModel(tech core.Technology, instanceID string) (core.PropagationModel, error) {
	if instanceID == "" {
		return nil, fmt.Errorf("empty channel instance id for %s", tech)
	}
	return s.Channel(tech, instanceID), nil
}

// Channel returns the channel for (tech, instanceID), creating it on first
// use.
func (s *ChannelSet) Channel(tech core.Technology, instanceID string) *Channel {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := channelKey{tech: tech, instance: instanceID}
	c, ok := s.channels[key]
	if !ok {
		c = &Channel{
			tech:           tech,
			instanceID:     instanceID,
			clock:          s.clock,
			maxRangeMeters: s.maxRangeMeters,
			minGain:        s.minGain,
		}
		s.channels[key] = c
	}
	return c
}

// RegisterMimo attaches a MIMO model name to a channel.
func (s *ChannelSet) RegisterMimo(tech core.Technology, instanceID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mimo[channelKey{tech: tech, instance: instanceID}] = namedModel(name)
}

// RegisterFading attaches a fading model name to a channel.
func (s *ChannelSet) RegisterFading(tech core.Technology, instanceID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fading[channelKey{tech: tech, instance: instanceID}] = namedModel(name)
}

// ChannelModels implements core.ChannelModelSet.
func (s *ChannelSet) ChannelModels(tech core.Technology, instanceID string) (core.MimoChannelModel, core.FadingModel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := channelKey{tech: tech, instance: instanceID}
	return s.mimo[key], s.fading[key]
}

type namedModel string

func (n namedModel) Name() string { return string(n) }

// Channel is a shared broadcast medium. It implements
// core.PropagationModel.
type Channel struct {
	tech           core.Technology
	instanceID     string
	clock          timectrl.SimClock
	maxRangeMeters float64
	minGain        *float64

	ports []*Port
}

// ChannelInstanceID implements core.PropagationModel.
func (c *Channel) ChannelInstanceID() string { return c.instanceID }

// Technology returns the channel family.
func (c *Channel) Technology() core.Technology { return c.tech }

// Ports returns the attached ports in attach order.
func (c *Channel) Ports() []*Port { return append([]*Port(nil), c.ports...) }

// Attach implements core.PropagationModel.
func (c *Channel) Attach(nodeID string, antennaIndex int, antenna core.AntennaModel, mobility core.MobilityModel) (core.PropagationInterface, error) {
	if mobility == nil {
		return nil, fmt.Errorf("node %s antenna %d: nil mobility", nodeID, antennaIndex)
	}
	p := &Port{
		channel:      c,
		nodeID:       nodeID,
		antennaIndex: antennaIndex,
		antenna:      antenna,
		mobility:     mobility,
	}
	c.ports = append(c.ports, p)
	return p, nil
}

// transmit schedules delivery of f to every other port in reach. Delivery
// happens airtime plus the propagation delay after now. It returns how
// many ports the frame was scheduled for.
func (c *Channel) transmit(from *Port, f Frame, airtime timectrl.Time) int {
	now := c.clock.Now()
	src := from.mobility.PositionAt(now)

	scheduled := 0
	for _, to := range c.ports {
		if to == from || to.sink == nil || to.nodeID == from.nodeID {
			continue
		}
		dst := to.mobility.PositionAt(now)
		dist := src.DistanceTo(dst)
		if c.maxRangeMeters > 0 && dist > c.maxRangeMeters {
			continue
		}
		if !core.HasLineOfSight(src, dst) {
			continue
		}
		gain := linkGain(from.antenna, to.antenna, src, dst)
		if c.minGain != nil && gain < *c.minGain {
			continue
		}

		delay := airtime + timectrl.FromSeconds(dist/core.SpeedOfLight)
		copyFrame := f
		copyFrame.Packet = f.Packet.Clone()
		copyFrame.LinkGainDBi = gain
		target := to
		c.clock.ScheduleAfter(delay, func(timectrl.Time) {
			target.sink.ReceiveFromChannel(target, copyFrame)
		})
		scheduled++
	}
	return scheduled
}

// linkGain sums both antennas' gains along the line between them. A nil
// antenna counts as 0 dBi.
func linkGain(tx, rx core.AntennaModel, src, dst core.Vec3) float64 {
	var gain float64
	if tx != nil {
		gain += tx.GainDBi(core.AzimuthDegrees(src, dst), 0)
	}
	if rx != nil {
		gain += rx.GainDBi(core.AzimuthDegrees(dst, src), 0)
	}
	return gain
}

// Port is one antenna's attachment to a channel. It implements
// core.PropagationInterface.
type Port struct {
	channel      *Channel
	nodeID       string
	antennaIndex int
	antenna      core.AntennaModel
	mobility     core.MobilityModel
	sink         FrameSink
}

func (p *Port) ChannelInstanceID() string { return p.channel.instanceID }
func (p *Port) AntennaIndex() int         { return p.antennaIndex }
func (p *Port) NodeID() string            { return p.nodeID }
func (p *Port) Channel() *Channel         { return p.channel }

// SetSink installs the receiver for frames arriving at this port.
func (p *Port) SetSink(s FrameSink) { p.sink = s }

// Transmit sends f to the other ports of the channel.
func (p *Port) Transmit(f Frame, airtime timectrl.Time) int {
	return p.channel.transmit(p, f, airtime)
}
