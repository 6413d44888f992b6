// Package timelist is an ordered list of items that carry an expiry time.
// It backs the network output queues, which need O(1) insertion at either
// end, removal from the middle, and sorted insertion by expiry.
package timelist

import (
	"container/list"

	"github.com/signalsfoundry/multisystem-simulator/timectrl"
)

// Entry is a handle to an item in a List.
type Entry[T any] struct {
	elem *list.Element
}

type item[T any] struct {
	value  T
	expiry timectrl.Time
}

// Value returns the stored item.
func (e *Entry[T]) Value() T {
	return e.elem.Value.(*item[T]).value
}

// Expiry returns the item's expiry time.
func (e *Entry[T]) Expiry() timectrl.Time {
	return e.elem.Value.(*item[T]).expiry
}

// List is not safe for concurrent use.
type List[T any] struct {
	l list.List
}

// New returns an empty list.
func New[T any]() *List[T] {
	return &List[T]{}
}

// Len returns the number of items.
func (l *List[T]) Len() int { return l.l.Len() }

func (l *List[T]) wrap(e *list.Element) *Entry[T] {
	if e == nil {
		return nil
	}
	return &Entry[T]{elem: e}
}

// PushBack appends v.
func (l *List[T]) PushBack(v T, expiry timectrl.Time) *Entry[T] {
	return l.wrap(l.l.PushBack(&item[T]{value: v, expiry: expiry}))
}

// PushFront prepends v.
func (l *List[T]) PushFront(v T, expiry timectrl.Time) *Entry[T] {
	return l.wrap(l.l.PushFront(&item[T]{value: v, expiry: expiry}))
}

// InsertByExpiry places v after every item whose expiry is not later than
// its own, so equal expiries keep insertion order.
func (l *List[T]) InsertByExpiry(v T, expiry timectrl.Time) *Entry[T] {
	it := &item[T]{value: v, expiry: expiry}
	for e := l.l.Back(); e != nil; e = e.Prev() {
		if e.Value.(*item[T]).expiry <= expiry {
			return l.wrap(l.l.InsertAfter(it, e))
		}
	}
	return l.wrap(l.l.PushFront(it))
}

// Remove deletes e and returns its value.
func (l *List[T]) Remove(e *Entry[T]) T {
	return l.l.Remove(e.elem).(*item[T]).value
}

// Front returns the first entry or nil.
func (l *List[T]) Front() *Entry[T] { return l.wrap(l.l.Front()) }

// Back returns the last entry or nil.
func (l *List[T]) Back() *Entry[T] { return l.wrap(l.l.Back()) }

// Next returns the entry after e or nil.
func (l *List[T]) Next(e *Entry[T]) *Entry[T] { return l.wrap(e.elem.Next()) }

// Prev returns the entry before e or nil.
func (l *List[T]) Prev(e *Entry[T]) *Entry[T] { return l.wrap(e.elem.Prev()) }

// Each calls fn front to back until it returns false.
func (l *List[T]) Each(fn func(v T, expiry timectrl.Time) bool) {
	for e := l.l.Front(); e != nil; e = e.Next() {
		it := e.Value.(*item[T])
		if !fn(it.value, it.expiry) {
			return
		}
	}
}

// EachReverse calls fn back to front until it returns false.
func (l *List[T]) EachReverse(fn func(v T, expiry timectrl.Time) bool) {
	for e := l.l.Back(); e != nil; e = e.Prev() {
		it := e.Value.(*item[T])
		if !fn(it.value, it.expiry) {
			return
		}
	}
}

// RemoveExpired drops every item whose expiry is before now and returns
// the dropped values in list order.
func (l *List[T]) RemoveExpired(now timectrl.Time) []T {
	var out []T
	for e := l.l.Front(); e != nil; {
		next := e.Next()
		it := e.Value.(*item[T])
		if it.expiry < now {
			out = append(out, it.value)
			l.l.Remove(e)
		}
		e = next
	}
	return out
}
