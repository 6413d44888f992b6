package network

import (
	"errors"
	"net/netip"

	"github.com/signalsfoundry/multisystem-simulator/internal/timelist"
	"github.com/signalsfoundry/multisystem-simulator/model"
	"github.com/signalsfoundry/multisystem-simulator/timectrl"
)

var (
	// ErrQueueFull is returned when a bounded queue has no room left.
	ErrQueueFull = errors.New("output queue full")
	// ErrDedicatedInterface is returned when generic traffic is offered to
	// an interface reserved for a single application.
	ErrDedicatedInterface = errors.New("interface is dedicated to its own application; generic traffic is not allowed")
)

// Datagram is one network-layer packet waiting for its MAC.
type Datagram struct {
	Packet      *model.Packet
	Source      netip.Addr
	Destination netip.Addr
	Protocol    uint8
	Priority    model.PacketPriority
	Enqueued    timectrl.Time
}

// OutputQueue holds datagrams between the network layer and a MAC.
type OutputQueue interface {
	Insert(d Datagram) error
	Dequeue() (Datagram, bool)
	IsEmpty() bool
	Len() int
}

// FIFOQueue is a bounded first-in first-out queue. Datagrams older than
// MaxDelay are dropped on dequeue.
type FIFOQueue struct {
	clock    timectrl.SimClock
	capacity int
	maxDelay timectrl.Time
	items    *timelist.List[Datagram]
	expired  int
}

// NewFIFOQueue returns a queue holding at most capacity datagrams. A zero
// capacity means unbounded and a zero maxDelay disables expiry.
func NewFIFOQueue(clock timectrl.SimClock, capacity int, maxDelay timectrl.Time) *FIFOQueue {
	return &FIFOQueue{
		clock:    clock,
		capacity: capacity,
		maxDelay: maxDelay,
		items:    timelist.New[Datagram](),
	}
}

func (q *FIFOQueue) now() timectrl.Time {
	if q.clock == nil {
		return timectrl.ZeroTime
	}
	return q.clock.Now()
}

// Insert appends d.
func (q *FIFOQueue) Insert(d Datagram) error {
	if q.capacity > 0 && q.items.Len() >= q.capacity {
		return ErrQueueFull
	}
	d.Enqueued = q.now()
	expiry := timectrl.InfiniteTime
	if q.maxDelay > 0 {
		expiry = d.Enqueued + q.maxDelay
	}
	q.items.PushBack(d, expiry)
	return nil
}

// Dequeue removes the oldest unexpired datagram.
func (q *FIFOQueue) Dequeue() (Datagram, bool) {
	if q.maxDelay > 0 {
		q.expired += len(q.items.RemoveExpired(q.now()))
	}
	front := q.items.Front()
	if front == nil {
		return Datagram{}, false
	}
	return q.items.Remove(front), true
}

// IsEmpty reports whether nothing is queued.
func (q *FIFOQueue) IsEmpty() bool { return q.items.Len() == 0 }

// Len returns the number of queued datagrams, expired ones included until
// the next Dequeue.
func (q *FIFOQueue) Len() int { return q.items.Len() }

// Expired returns how many datagrams were dropped for age.
func (q *FIFOQueue) Expired() int { return q.expired }

// NoNetworkQueue is installed on interfaces owned by a dedicated
// application. It never holds anything.
type NoNetworkQueue struct{}

// Insert always fails with ErrDedicatedInterface.
func (NoNetworkQueue) Insert(Datagram) error { return ErrDedicatedInterface }

// Dequeue must never be reached since nothing can be inserted.
func (NoNetworkQueue) Dequeue() (Datagram, bool) {
	panic("network: Dequeue called on a dedicated interface queue")
}

func (NoNetworkQueue) IsEmpty() bool { return true }
func (NoNetworkQueue) Len() int      { return 0 }
