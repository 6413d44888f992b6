package core

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/signalsfoundry/multisystem-simulator/params"
)

const (
	ParamAntennaModel   = "antenna-model"
	ParamAntennaGainDBi = "antenna-gain-dbi"

	// AntennaPatternParamPrefix prefixes global keys holding azimuth gain
	// tables, e.g. "antenna-pattern.sector60".
	AntennaPatternParamPrefix = "antenna-pattern."

	// UnassignedAntennaNumber marks a binding before numbering.
	UnassignedAntennaNumber = -1
)

// AntennaModel maps a direction to a gain.
type AntennaModel interface {
	Name() string
	GainDBi(azimuthDeg, elevationDeg float64) float64
}

// OmniAntennaModel radiates equally in every direction.
type OmniAntennaModel struct {
	Gain float64
}

func (m *OmniAntennaModel) Name() string                 { return "omnidirectional" }
func (m *OmniAntennaModel) GainDBi(_, _ float64) float64 { return m.Gain }

// CustomAntennaModel reads gains from a named azimuth pattern. The pattern
// holds evenly spaced samples over 360 degrees starting at azimuth 0.
type CustomAntennaModel struct {
	PatternName string
	Pattern     []float64
}

func (m *CustomAntennaModel) Name() string { return m.PatternName }

// GainDBi returns the nearest sample for azimuthDeg. Elevation is ignored.
func (m *CustomAntennaModel) GainDBi(azimuthDeg, _ float64) float64 {
	n := len(m.Pattern)
	if n == 0 {
		return 0
	}
	rel := math.Mod(azimuthDeg, 360)
	if rel < 0 {
		rel += 360
	}
	idx := int(math.Round(rel/(360/float64(n)))) % n
	return m.Pattern[idx]
}

// AntennaPatternDatabase holds named gain tables.
type AntennaPatternDatabase struct {
	patterns map[string][]float64
}

// NewAntennaPatternDatabase returns an empty database.
func NewAntennaPatternDatabase() *AntennaPatternDatabase {
	return &AntennaPatternDatabase{patterns: make(map[string][]float64)}
}

// NewAntennaPatternDatabaseFromParams loads every global
// "antenna-pattern.<name>" key as a whitespace list of gains.
func NewAntennaPatternDatabaseFromParams(db *params.Database) (*AntennaPatternDatabase, error) {
	pdb := NewAntennaPatternDatabase()
	for _, key := range db.GlobalKeysWithPrefix(AntennaPatternParamPrefix) {
		name := strings.TrimPrefix(key, AntennaPatternParamPrefix)
		tokens, err := db.ReadTokens(key, "", "")
		if err != nil {
			return nil, err
		}
		gains := make([]float64, 0, len(tokens))
		for _, tok := range tokens {
			g, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s sample %q", ErrMalformedParameter, key, tok)
			}
			gains = append(gains, g)
		}
		if err := pdb.Register(name, gains); err != nil {
			return nil, err
		}
	}
	return pdb, nil
}

// Register stores a pattern under name.
func (d *AntennaPatternDatabase) Register(name string, gains []float64) error {
	if len(gains) == 0 {
		return fmt.Errorf("%w: antenna pattern %q has no samples", ErrMalformedParameter, name)
	}
	d.patterns[strings.ToLower(name)] = append([]float64(nil), gains...)
	return nil
}

// Lookup returns the pattern registered under name.
func (d *AntennaPatternDatabase) Lookup(name string) ([]float64, bool) {
	if d == nil {
		return nil, false
	}
	p, ok := d.patterns[strings.ToLower(name)]
	return p, ok
}

// Names lists registered patterns, sorted.
func (d *AntennaPatternDatabase) Names() []string {
	out := make([]string, 0, len(d.patterns))
	for n := range d.patterns {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// CreateAntennaModel builds the antenna for (node, interface) from
// antenna-model. "omni" or "omnidirectional" (the default) gives an
// OmniAntennaModel with antenna-gain-dbi; any other value names a pattern
// in patterns.
func CreateAntennaModel(db *params.Database, patterns *AntennaPatternDatabase, nodeID, interfaceID string) (AntennaModel, error) {
	gain, err := db.ReadFloatOr(ParamAntennaGainDBi, 0, nodeID, interfaceID)
	if err != nil {
		return nil, configErrorf(nodeID, interfaceID, ErrMalformedParameter, "%s: %v", ParamAntennaGainDBi, err)
	}

	name := strings.ToLower(db.ReadStringOr(ParamAntennaModel, "omnidirectional", nodeID, interfaceID))
	switch name {
	case "omni", "omnidirectional":
		return &OmniAntennaModel{Gain: gain}, nil
	}

	pattern, ok := patterns.Lookup(name)
	if !ok {
		return nil, configErrorf(nodeID, interfaceID, ErrMalformedParameter, "%s %q: no such antenna pattern", ParamAntennaModel, name)
	}
	return &CustomAntennaModel{PatternName: name, Pattern: pattern}, nil
}

// AntennaBinding is one radiating element of an interface.
type AntennaBinding struct {
	// ID is "<interface>" for single-antenna interfaces and
	// "<interface>/<device>" for multi-device ones.
	ID string

	Model       AntennaModel
	Mobility    MobilityModel
	Propagation PropagationInterface

	// Optional per-link models; at most one of the two is set.
	Mimo   MimoChannelModel
	Fading FadingModel

	// UplinkPropagation is the LTE uplink channel handle.
	UplinkPropagation PropagationInterface

	number int
}

func newAntennaBinding(id string) *AntennaBinding {
	return &AntennaBinding{ID: id, number: UnassignedAntennaNumber}
}

// Number returns the node-wide antenna number, or
// UnassignedAntennaNumber before numbering.
func (b *AntennaBinding) Number() int { return b.number }
