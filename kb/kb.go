// Package kb is the scenario knowledge base: the node definitions a run is
// built from, with change notification for observers.
package kb

import (
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/multisystem-simulator/model"
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventNodeAdded EventType = iota
	EventNodeMoved
)

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type EventType
	Node model.NodeDefinition
}

// KnowledgeBase is an in-memory, thread-safe store of node definitions.
type KnowledgeBase struct {
	mu sync.RWMutex

	nodes map[string]*model.NodeDefinition

	nextSub int
	subs    map[int]func(Event)
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		nodes: make(map[string]*model.NodeDefinition),
		subs:  make(map[int]func(Event)),
	}
}

// AddNode stores a copy of def. It returns an error if the ID already
// exists.
func (kb *KnowledgeBase) AddNode(def model.NodeDefinition) error {
	if def.ID == "" {
		return fmt.Errorf("node definition without ID")
	}
	kb.mu.Lock()
	if _, exists := kb.nodes[def.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("node with ID %q already exists", def.ID)
	}
	stored := def
	kb.nodes[def.ID] = &stored
	subs := kb.snapshotSubsLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventNodeAdded, Node: def})
	return nil
}

// GetNode returns a copy of the definition with the given ID.
func (kb *KnowledgeBase) GetNode(id string) (model.NodeDefinition, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	n, ok := kb.nodes[id]
	if !ok {
		return model.NodeDefinition{}, false
	}
	return *n, true
}

// ListNodes returns a snapshot of all definitions sorted by ID.
func (kb *KnowledgeBase) ListNodes() []model.NodeDefinition {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]model.NodeDefinition, 0, len(kb.nodes))
	for _, n := range kb.nodes {
		res = append(res, *n)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// UpdateNodePosition moves a static node and notifies subscribers.
func (kb *KnowledgeBase) UpdateNodePosition(id string, pos model.Position) error {
	kb.mu.Lock()
	n, ok := kb.nodes[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("node with ID %q not found", id)
	}
	if n.MobilitySource != model.MobilitySourceStatic {
		kb.mu.Unlock()
		return fmt.Errorf("node %q position comes from its orbit", id)
	}
	n.Position = pos
	event := Event{Type: EventNodeMoved, Node: *n}
	subs := kb.snapshotSubsLocked()
	kb.mu.Unlock()

	// Notify outside the lock so subscribers may call back into the KB.
	notify(subs, event)
	return nil
}

// Subscribe registers a callback for KB events. It returns an unsubscribe
// function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextSub
	kb.nextSub++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

// snapshotSubsLocked returns subscribers in registration order.
func (kb *KnowledgeBase) snapshotSubsLocked() []func(Event) {
	ids := make([]int, 0, len(kb.subs))
	for id := range kb.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		out = append(out, kb.subs[id])
	}
	return out
}

func notify(subs []func(Event), e Event) {
	for _, sub := range subs {
		sub(e)
	}
}
