package kb

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/multisystem-simulator/model"
	"github.com/signalsfoundry/multisystem-simulator/params"
)

// Node-scope parameters describing where a node is.
const (
	ParamSeed          = "seed"
	ParamMobilityModel = "mobility-model"
	ParamNodePosition  = "node-position-meters"
	ParamTLELine1      = "tle-line1"
	ParamTLELine2      = "tle-line2"
	ParamMobilityEpoch = "mobility-epoch"

	DefaultSeed = 1
)

// DefaultEpoch is simulation time zero when mobility-epoch is unset.
var DefaultEpoch = time.Date(2000, time.January, 1, 12, 0, 0, 0, time.UTC)

// Load adds a definition for every node in db. Nodes are added in sorted
// order.
func (kb *KnowledgeBase) Load(db *params.Database) error {
	for _, id := range db.Nodes() {
		def, err := DefinitionFromParams(db, id)
		if err != nil {
			return err
		}
		if err := kb.AddNode(def); err != nil {
			return err
		}
	}
	return nil
}

// DefinitionFromParams reads the node-scope description of nodeID.
func DefinitionFromParams(db *params.Database, nodeID string) (model.NodeDefinition, error) {
	def := model.NodeDefinition{ID: nodeID, Seed: DefaultSeed, Epoch: DefaultEpoch}

	if db.Exists(ParamSeed, nodeID, "") {
		seed, err := db.ReadUint64(ParamSeed, nodeID, "")
		if err != nil {
			return def, fmt.Errorf("node %s: %w", nodeID, err)
		}
		def.Seed = seed
	}

	text := strings.ToLower(db.ReadStringOr(ParamMobilityModel, "", nodeID, ""))
	source, ok := model.ParseMobilitySource(text)
	if !ok {
		return def, fmt.Errorf("node %s: %s %q: %w", nodeID, ParamMobilityModel, text, params.ErrBadValue)
	}
	def.MobilitySource = source

	pos, err := readPosition(db, nodeID)
	if err != nil {
		return def, err
	}
	def.Position = pos

	if source == model.MobilitySourceSGP4 {
		if def.TLELine1, err = db.ReadString(ParamTLELine1, nodeID, ""); err != nil {
			return def, fmt.Errorf("node %s: %w", nodeID, err)
		}
		if def.TLELine2, err = db.ReadString(ParamTLELine2, nodeID, ""); err != nil {
			return def, fmt.Errorf("node %s: %w", nodeID, err)
		}
		if text, err := db.ReadString(ParamMobilityEpoch, nodeID, ""); err == nil {
			epoch, perr := time.Parse(time.RFC3339, text)
			if perr != nil {
				return def, fmt.Errorf("node %s: %s %q: %w", nodeID, ParamMobilityEpoch, text, params.ErrBadValue)
			}
			def.Epoch = epoch
		}
	}
	return def, nil
}

func readPosition(db *params.Database, nodeID string) (model.Position, error) {
	text := db.ReadStringOr(ParamNodePosition, "0 0 0", nodeID, "")
	fields := strings.Fields(text)
	if len(fields) != 3 {
		return model.Position{}, fmt.Errorf("node %s: %s %q: %w", nodeID, ParamNodePosition, text, params.ErrBadValue)
	}
	var xyz [3]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return model.Position{}, fmt.Errorf("node %s: %s %q: %w", nodeID, ParamNodePosition, text, params.ErrBadValue)
		}
		xyz[i] = v
	}
	return model.Position{X: xyz[0], Y: xyz[1], Z: xyz[2]}, nil
}
