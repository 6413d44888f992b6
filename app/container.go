// Package app holds the traffic applications a node runs: broadcast
// sources over helper layers, the T109 application that drives its MAC
// directly, and UDP constant-bit-rate sources and sinks.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/signalsfoundry/multisystem-simulator/core"
	"github.com/signalsfoundry/multisystem-simulator/timectrl"
)

// Container collects the applications of one node. It implements
// core.ApplicationContainer.
type Container struct {
	mu     sync.Mutex
	nodeID string
	apps   []core.Application
}

// NewContainer returns an empty container for nodeID.
func NewContainer(nodeID string) *Container {
	return &Container{nodeID: nodeID}
}

// AddApp appends app.
func (c *Container) AddApp(app core.Application) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apps = append(c.apps, app)
}

// Apps returns the applications in registration order.
func (c *Container) Apps() []core.Application {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.Application(nil), c.apps...)
}

// StartAll starts every application in registration order and stops at
// the first failure.
func (c *Container) StartAll(ctx context.Context) error {
	for _, a := range c.Apps() {
		if err := a.Start(ctx); err != nil {
			return fmt.Errorf("node %s: start %s: %w", c.nodeID, a.ApplicationID(), err)
		}
	}
	return nil
}

// ticker runs fn at start, start+interval, ... until end. A zero end never
// stops. jitter, when set, returns an extra delay for each firing.
type ticker struct {
	clock    timectrl.SimClock
	start    timectrl.Time
	interval timectrl.Time
	end      timectrl.Time
	jitter   func() timectrl.Time
}

func (t ticker) run(fn func(now timectrl.Time)) {
	delay := t.start - t.clock.Now()
	if delay < 0 {
		delay = 0
	}
	var tick func(now timectrl.Time)
	tick = func(now timectrl.Time) {
		if t.end > 0 && now >= t.end {
			return
		}
		if j := t.jitterDelay(); j > 0 {
			t.clock.ScheduleAfter(j, fn)
		} else {
			fn(now)
		}
		if t.interval > 0 {
			t.clock.ScheduleAfter(t.interval, tick)
		}
	}
	t.clock.ScheduleAfter(delay, tick)
}

func (t ticker) jitterDelay() timectrl.Time {
	if t.jitter == nil {
		return 0
	}
	return t.jitter()
}
