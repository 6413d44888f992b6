// Package params holds the simulation parameter database. Every parameter
// is a string value under a lower-case key, stored at one of three scopes:
// global, node, or a single interface of a node. Reads resolve the most
// specific scope first.
package params

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/multisystem-simulator/timectrl"
)

var (
	ErrMissingParameter = errors.New("missing parameter")
	ErrBadValue         = errors.New("bad parameter value")
)

// Database is safe for concurrent reads once loading is done.
type Database struct {
	mu sync.RWMutex

	global     map[string]string
	nodes      map[string]map[string]string
	interfaces map[string]map[string]map[string]string // node -> interface -> key
}

// New returns an empty database.
func New() *Database {
	return &Database{
		global:     make(map[string]string),
		nodes:      make(map[string]map[string]string),
		interfaces: make(map[string]map[string]map[string]string),
	}
}

// On-disk layout of a parameter file.
type fileFormat struct {
	Global map[string]any        `json:"global" yaml:"global"`
	Nodes  map[string]nodeFormat `json:"nodes" yaml:"nodes"`
}

type nodeFormat struct {
	Parameters map[string]any            `json:"parameters" yaml:"parameters"`
	Interfaces map[string]map[string]any `json:"interfaces" yaml:"interfaces"`
}

// LoadFile reads a parameter file. YAML is used for .yaml/.yml files,
// JSON otherwise.
func LoadFile(filename string) (*Database, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "read parameter file %q", filename)
	}
	ext := path.Ext(filename)
	useYAML := (ext == ".yaml") || (ext == ".yml")
	return Load(data, useYAML)
}

// Load decodes parameter file contents.
func Load(data []byte, useYAML bool) (*Database, error) {
	var ff fileFormat
	var err error
	if useYAML {
		err = yaml.Unmarshal(data, &ff)
	} else {
		err = json.Unmarshal(data, &ff)
	}
	if err != nil {
		return nil, errors.Wrap(err, "decode parameter file")
	}

	db := New()
	for key, value := range ff.Global {
		db.SetGlobal(key, stringify(value))
	}
	for nodeID, nf := range ff.Nodes {
		db.AddNode(nodeID)
		for key, value := range nf.Parameters {
			db.SetNode(nodeID, key, stringify(value))
		}
		for ifaceID, values := range nf.Interfaces {
			for key, value := range values {
				db.SetInterface(nodeID, ifaceID, key, stringify(value))
			}
		}
	}
	return db, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, stringify(item))
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprint(t)
	}
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// SetGlobal stores a global parameter.
func (db *Database) SetGlobal(key, value string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.global[normalizeKey(key)] = value
}

// AddNode registers a node id even when it carries no parameters.
func (db *Database) AddNode(nodeID string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.nodes[nodeID]; !ok {
		db.nodes[nodeID] = make(map[string]string)
	}
}

// SetNode stores a node-scoped parameter.
func (db *Database) SetNode(nodeID, key, value string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	m, ok := db.nodes[nodeID]
	if !ok {
		m = make(map[string]string)
		db.nodes[nodeID] = m
	}
	m[normalizeKey(key)] = value
}

// SetInterface stores an interface-scoped parameter. The interface id may
// also name a channel instance or a PHY device.
func (db *Database) SetInterface(nodeID, interfaceID, key, value string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.nodes[nodeID]; !ok {
		db.nodes[nodeID] = make(map[string]string)
	}
	byIface, ok := db.interfaces[nodeID]
	if !ok {
		byIface = make(map[string]map[string]string)
		db.interfaces[nodeID] = byIface
	}
	m, ok := byIface[interfaceID]
	if !ok {
		m = make(map[string]string)
		byIface[interfaceID] = m
	}
	m[normalizeKey(key)] = value
}

// Nodes returns all configured node ids, sorted.
func (db *Database) Nodes() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	out := make([]string, 0, len(db.nodes))
	for id := range db.nodes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// GlobalKeysWithPrefix lists global keys starting with prefix, sorted.
func (db *Database) GlobalKeysWithPrefix(prefix string) []string {
	prefix = normalizeKey(prefix)

	db.mu.RLock()
	defer db.mu.RUnlock()

	var out []string
	for key := range db.global {
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

func (db *Database) lookup(key, nodeID, interfaceID string) (string, bool) {
	key = normalizeKey(key)

	db.mu.RLock()
	defer db.mu.RUnlock()

	if nodeID != "" && interfaceID != "" {
		if v, ok := db.interfaces[nodeID][interfaceID][key]; ok {
			return v, true
		}
	}
	if nodeID != "" {
		if v, ok := db.nodes[nodeID][key]; ok {
			return v, true
		}
	}
	v, ok := db.global[key]
	return v, ok
}

// Exists reports whether key is set at any scope visible from
// (nodeID, interfaceID). Pass "" for scopes that do not apply.
func (db *Database) Exists(key, nodeID, interfaceID string) bool {
	_, ok := db.lookup(key, nodeID, interfaceID)
	return ok
}

// ReadString returns the most specific value for key.
func (db *Database) ReadString(key, nodeID, interfaceID string) (string, error) {
	v, ok := db.lookup(key, nodeID, interfaceID)
	if !ok {
		return "", errors.WithStack(fmt.Errorf("%w: %s (node %q, interface %q)", ErrMissingParameter, key, nodeID, interfaceID))
	}
	return strings.TrimSpace(v), nil
}

// ReadStringOr returns def when key is not set.
func (db *Database) ReadStringOr(key, def, nodeID, interfaceID string) string {
	v, err := db.ReadString(key, nodeID, interfaceID)
	if err != nil {
		return def
	}
	return v
}

// ReadTokens splits the value on whitespace. The key must exist.
func (db *Database) ReadTokens(key, nodeID, interfaceID string) ([]string, error) {
	v, err := db.ReadString(key, nodeID, interfaceID)
	if err != nil {
		return nil, err
	}
	return strings.Fields(v), nil
}

func (db *Database) badValue(key, value string, cause error) error {
	return errors.WithStack(fmt.Errorf("%w: %s = %q: %v", ErrBadValue, key, value, cause))
}

// ReadBool accepts true/false, yes/no and 1/0.
func (db *Database) ReadBool(key, nodeID, interfaceID string) (bool, error) {
	v, err := db.ReadString(key, nodeID, interfaceID)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(v) {
	case "true", "yes", "on", "1":
		return true, nil
	case "false", "no", "off", "0":
		return false, nil
	default:
		return false, db.badValue(key, v, fmt.Errorf("not a boolean"))
	}
}

// ReadBoolOr returns def when key is not set; malformed values still fail.
func (db *Database) ReadBoolOr(key string, def bool, nodeID, interfaceID string) (bool, error) {
	if !db.Exists(key, nodeID, interfaceID) {
		return def, nil
	}
	return db.ReadBool(key, nodeID, interfaceID)
}

// ReadInt parses a base-10 integer.
func (db *Database) ReadInt(key, nodeID, interfaceID string) (int, error) {
	v, err := db.ReadString(key, nodeID, interfaceID)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, db.badValue(key, v, err)
	}
	return n, nil
}

// ReadIntOr returns def when key is not set; malformed values still fail.
func (db *Database) ReadIntOr(key string, def int, nodeID, interfaceID string) (int, error) {
	if !db.Exists(key, nodeID, interfaceID) {
		return def, nil
	}
	return db.ReadInt(key, nodeID, interfaceID)
}

// ReadUint64 parses an unsigned integer, used for seeds.
func (db *Database) ReadUint64(key, nodeID, interfaceID string) (uint64, error) {
	v, err := db.ReadString(key, nodeID, interfaceID)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, db.badValue(key, v, err)
	}
	return n, nil
}

// ReadFloat parses a float64.
func (db *Database) ReadFloat(key, nodeID, interfaceID string) (float64, error) {
	v, err := db.ReadString(key, nodeID, interfaceID)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, db.badValue(key, v, err)
	}
	return f, nil
}

// ReadFloatOr returns def when key is not set; malformed values still fail.
func (db *Database) ReadFloatOr(key string, def float64, nodeID, interfaceID string) (float64, error) {
	if !db.Exists(key, nodeID, interfaceID) {
		return def, nil
	}
	return db.ReadFloat(key, nodeID, interfaceID)
}

// ReadTime parses a duration such as "100ms" or "1.5sec".
func (db *Database) ReadTime(key, nodeID, interfaceID string) (timectrl.Time, error) {
	v, err := db.ReadString(key, nodeID, interfaceID)
	if err != nil {
		return 0, err
	}
	t, err := timectrl.ParseDuration(v)
	if err != nil {
		return 0, db.badValue(key, v, err)
	}
	return t, nil
}

// ReadTimeOr returns def when key is not set; malformed values still fail.
func (db *Database) ReadTimeOr(key string, def timectrl.Time, nodeID, interfaceID string) (timectrl.Time, error) {
	if !db.Exists(key, nodeID, interfaceID) {
		return def, nil
	}
	return db.ReadTime(key, nodeID, interfaceID)
}
