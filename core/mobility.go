package core

import (
	"strconv"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/multisystem-simulator/model"
	"github.com/signalsfoundry/multisystem-simulator/params"
	"github.com/signalsfoundry/multisystem-simulator/timectrl"
)

const (
	ParamAntennaIsAttached   = "antenna-is-attached"
	ParamAntennaOffsetMeters = "antenna-offset-meters"
)

// MobilityModel reports where something is at a simulation time.
type MobilityModel interface {
	PositionAt(t timectrl.Time) Vec3
}

// StaticMobility never moves.
type StaticMobility struct {
	Position Vec3
}

// PositionAt returns the fixed position.
func (m *StaticMobility) PositionAt(timectrl.Time) Vec3 { return m.Position }

// OrbitalSGP4Mobility propagates a TLE with SGP4. Simulation time zero
// corresponds to Epoch.
type OrbitalSGP4Mobility struct {
	sat   satellite.Satellite
	Epoch time.Time
}

// NewOrbitalMobilityFromTLE constructs an orbital model from TLE lines.
func NewOrbitalMobilityFromTLE(line1, line2 string, epoch time.Time) *OrbitalSGP4Mobility {
	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS72)
	return &OrbitalSGP4Mobility{sat: sat, Epoch: epoch.UTC()}
}

// PositionAt propagates the satellite to Epoch+t and returns its ECEF
// position. go-satellite works in kilometres; positions are metres.
func (m *OrbitalSGP4Mobility) PositionAt(t timectrl.Time) Vec3 {
	simTime := m.Epoch.Add(t.Duration())
	year, month, day := simTime.Date()
	hour, min, sec := simTime.Clock()

	posECI, _ := satellite.Propagate(m.sat, year, int(month), day, hour, min, sec)
	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	gmst := satellite.ThetaG_JD(jd)
	posECEF := satellite.ECIToECEF(posECI, gmst)

	const kmToM = 1000.0
	return Vec3{
		X: posECEF.X * kmToM,
		Y: posECEF.Y * kmToM,
		Z: posECEF.Z * kmToM,
	}
}

// AttachedAntennaMobility follows a parent model at a fixed offset. The
// parent is only referenced, never owned.
type AttachedAntennaMobility struct {
	Parent MobilityModel
	Offset Vec3
}

// PositionAt returns the parent position plus the offset.
func (m *AttachedAntennaMobility) PositionAt(t timectrl.Time) Vec3 {
	return m.Parent.PositionAt(t).Add(m.Offset)
}

// NewMobilityModel picks the model for a node definition. SGP4 needs both
// TLE lines; without them the node is static.
func NewMobilityModel(def model.NodeDefinition) MobilityModel {
	if def.MobilitySource == model.MobilitySourceSGP4 && def.TLELine1 != "" && def.TLELine2 != "" {
		return NewOrbitalMobilityFromTLE(def.TLELine1, def.TLELine2, def.Epoch)
	}
	return &StaticMobility{Position: Vec3{X: def.Position.X, Y: def.Position.Y, Z: def.Position.Z}}
}

// AntennaIsAttached reports whether the antenna of (node, interface) rides
// on the node at an offset instead of sharing the node position.
func AntennaIsAttached(db *params.Database, nodeID, interfaceID string) (bool, error) {
	return db.ReadBoolOr(ParamAntennaIsAttached, false, nodeID, interfaceID)
}

// antennaMobility returns the node model or an attached model built from
// antenna-offset-meters ("x y z").
func antennaMobility(db *params.Database, nodeID, interfaceID string, nodeMobility MobilityModel) (MobilityModel, error) {
	attached, err := AntennaIsAttached(db, nodeID, interfaceID)
	if err != nil {
		return nil, configErrorf(nodeID, interfaceID, ErrMalformedParameter, "%s: %v", ParamAntennaIsAttached, err)
	}
	if !attached {
		return nodeMobility, nil
	}

	text := db.ReadStringOr(ParamAntennaOffsetMeters, "0 0 0", nodeID, interfaceID)
	fields := strings.Fields(text)
	if len(fields) != 3 {
		return nil, configErrorf(nodeID, interfaceID, ErrMalformedParameter, "%s %q: want three numbers", ParamAntennaOffsetMeters, text)
	}
	var xyz [3]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, configErrorf(nodeID, interfaceID, ErrMalformedParameter, "%s %q", ParamAntennaOffsetMeters, text)
		}
		xyz[i] = v
	}
	return &AttachedAntennaMobility{Parent: nodeMobility, Offset: Vec3{X: xyz[0], Y: xyz[1], Z: xyz[2]}}, nil
}
