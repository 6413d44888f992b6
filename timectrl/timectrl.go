package timectrl

import (
	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
)

// horizon is the latest time the event loop reaches. Events due at or
// after it are never scheduled, and Run(InfiniteTime) stops there. Half
// the int64 range keeps evtm's float limit conversion in range.
const horizon = InfiniteTime / 2

// One evtm tick is one nanosecond, so Time and tick counts coincide.
func init() {
	vrtime.SetTicksPerSecond(int64(Second))
}

// SimClock is the view of simulated time handed to nodes, MACs and
// applications. Everything scheduled through it runs on the single event
// loop in timestamp order, so callbacks never run concurrently.
type SimClock interface {
	// Now returns the current simulation time.
	Now() Time
	// ScheduleAfter runs fn once delay has elapsed in simulation time.
	ScheduleAfter(delay Time, fn func(now Time))
}

// TimeController drives simulation time through an evtm event manager and
// notifies registered listeners on every tick. It implements SimClock.
type TimeController struct {
	evtMgr *evtm.EventManager

	// Tick is the listener period. Zero disables tick listeners.
	Tick Time

	listeners []func(Time)
}

// NewTimeController constructs a controller around evtMgr. A nil evtMgr
// gets a fresh event manager.
func NewTimeController(evtMgr *evtm.EventManager, tick Time) *TimeController {
	if evtMgr == nil {
		evtMgr = evtm.New()
	}
	return &TimeController{evtMgr: evtMgr, Tick: tick}
}

// EventManager exposes the underlying event manager for components that
// schedule evtm handlers directly.
func (tc *TimeController) EventManager() *evtm.EventManager {
	return tc.evtMgr
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() Time {
	return Time(tc.evtMgr.CurrentTicks())
}

// ScheduleAfter implements SimClock. A negative delay is treated as zero.
// A delay of InfiniteTime, or one reaching past the loop horizon, means
// never and schedules nothing.
func (tc *TimeController) ScheduleAfter(delay Time, fn func(now Time)) {
	if fn == nil {
		return
	}
	if delay < ZeroTime {
		delay = ZeroTime
	}
	if delay >= horizon-tc.Now() {
		return
	}
	tc.evtMgr.Schedule(tc, fn, fireCallback, vrtime.Time{TickCnt: int64(delay)})
}

// AddListener registers a callback invoked on every tick.
func (tc *TimeController) AddListener(fn func(Time)) {
	tc.listeners = append(tc.listeners, fn)
}

// Run processes events until the event list drains or simulation time
// passes until. InfiniteTime runs until the event list drains.
func (tc *TimeController) Run(until Time) {
	if until > horizon {
		until = horizon
	}
	if tc.Tick > 0 && len(tc.listeners) > 0 && until != horizon {
		tc.ScheduleAfter(tc.Tick, tc.onTick)
	}
	tc.evtMgr.Run(until.Seconds())
}

func (tc *TimeController) onTick(now Time) {
	for _, fn := range tc.listeners {
		fn(now)
	}
	tc.ScheduleAfter(tc.Tick, tc.onTick)
}

// fireCallback adapts a SimClock callback to an evtm handler.
func fireCallback(evtMgr *evtm.EventManager, context any, data any) any {
	tc := context.(*TimeController)
	fn := data.(func(Time))
	fn(tc.Now())
	return nil
}
