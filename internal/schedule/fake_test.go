package schedule

import (
	"testing"
	"time"
)

func TestFakeFiresInArmingOrder(t *testing.T) {
	f := NewFake()
	var order []int
	f.After(time.Second, func() { order = append(order, 1) })
	f.After(time.Second, func() { order = append(order, 2) })
	f.After(2*time.Second, func() { order = append(order, 3) })

	f.Advance(time.Second)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("fired %v, want [1 2]", order)
	}
	f.Advance(time.Second)
	if len(order) != 3 || order[2] != 3 {
		t.Fatalf("fired %v, want [1 2 3]", order)
	}
	if f.Pending() != 0 {
		t.Fatalf("Pending = %d after all fired", f.Pending())
	}
}

func TestFakeStop(t *testing.T) {
	f := NewFake()
	fired := false
	timer := f.After(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Fatalf("Stop on armed timer returned false")
	}
	if timer.Stop() {
		t.Fatalf("second Stop returned true")
	}
	f.Advance(time.Second)
	if fired {
		t.Fatalf("stopped timer fired")
	}
}

func TestFakeCallbackMayArmTimers(t *testing.T) {
	f := NewFake()
	var chained bool
	f.After(time.Second, func() {
		f.After(time.Second, func() { chained = true })
	})

	f.Advance(time.Second)
	if chained {
		t.Fatalf("chained timer fired early")
	}
	if f.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", f.Pending())
	}
	f.Advance(time.Second)
	if !chained {
		t.Fatalf("chained timer never fired")
	}
}
