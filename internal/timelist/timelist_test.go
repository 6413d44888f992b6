package timelist

import (
	"reflect"
	"testing"

	"github.com/signalsfoundry/multisystem-simulator/timectrl"
)

func values(l *List[string]) []string {
	var out []string
	l.Each(func(v string, _ timectrl.Time) bool {
		out = append(out, v)
		return true
	})
	return out
}

func TestPushAndRemove(t *testing.T) {
	l := New[string]()
	b := l.PushBack("b", 0)
	l.PushFront("a", 0)
	l.PushBack("c", 0)

	if got := values(l); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("values = %v", got)
	}
	if v := l.Remove(b); v != "b" {
		t.Fatalf("Remove returned %q, want b", v)
	}
	if l.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", l.Len())
	}
	if l.Front().Value() != "a" || l.Back().Value() != "c" {
		t.Fatalf("front/back = %q/%q", l.Front().Value(), l.Back().Value())
	}
	if l.Next(l.Front()).Value() != "c" || l.Prev(l.Back()).Value() != "a" {
		t.Fatalf("next/prev broken")
	}
	if l.Next(l.Back()) != nil {
		t.Fatalf("Next(back) should be nil")
	}
}

func TestInsertByExpiryIsStable(t *testing.T) {
	l := New[string]()
	l.InsertByExpiry("t5", 5)
	l.InsertByExpiry("t1", 1)
	l.InsertByExpiry("t5b", 5)
	l.InsertByExpiry("t3", 3)
	l.InsertByExpiry("t0", 0)

	want := []string{"t0", "t1", "t3", "t5", "t5b"}
	if got := values(l); !reflect.DeepEqual(got, want) {
		t.Fatalf("values = %v, want %v", got, want)
	}
	if l.Back().Expiry() != 5 {
		t.Fatalf("Back().Expiry() = %d, want 5", l.Back().Expiry())
	}
}

func TestEachReverseStopsEarly(t *testing.T) {
	l := New[string]()
	for _, s := range []string{"a", "b", "c"} {
		l.PushBack(s, 0)
	}
	var seen []string
	l.EachReverse(func(v string, _ timectrl.Time) bool {
		seen = append(seen, v)
		return v != "b"
	})
	if !reflect.DeepEqual(seen, []string{"c", "b"}) {
		t.Fatalf("seen = %v", seen)
	}
}

func TestRemoveExpired(t *testing.T) {
	l := New[string]()
	l.PushBack("old", 1)
	l.PushBack("keep", 10)
	l.PushBack("older", 0)
	l.PushBack("edge", 5)

	dropped := l.RemoveExpired(5)
	if !reflect.DeepEqual(dropped, []string{"old", "older"}) {
		t.Fatalf("dropped = %v", dropped)
	}
	if got := values(l); !reflect.DeepEqual(got, []string{"keep", "edge"}) {
		t.Fatalf("remaining = %v", got)
	}
}
