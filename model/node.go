package model

import "time"

// MobilitySource indicates how a node's position is determined.
type MobilitySource int

const (
	MobilitySourceStatic MobilitySource = iota
	MobilitySourceSGP4                  // TLE-based orbit propagation
)

// ParseMobilitySource maps the "mobility-model" parameter value.
func ParseMobilitySource(s string) (MobilitySource, bool) {
	switch s {
	case "", "static", "stationary":
		return MobilitySourceStatic, true
	case "sgp4", "orbital", "tle":
		return MobilitySourceSGP4, true
	default:
		return MobilitySourceStatic, false
	}
}

// Position is a location in ECEF metres.
type Position struct {
	X float64
	Y float64
	Z float64
}

// NodeDefinition is the configuration-level description of one simulated
// node. The runtime node with its interfaces is built from it.
type NodeDefinition struct {
	ID   string
	Seed uint64

	MobilitySource MobilitySource
	Position       Position // used by MobilitySourceStatic

	// SGP4 inputs; Epoch is the wall-clock instant of simulation time zero.
	TLELine1 string
	TLELine2 string
	Epoch    time.Time
}
