package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dishpatch/realtime/internal/protocol"
	"github.com/dishpatch/realtime/internal/schedule"
)

const grace = 5 * time.Second

type fakeBus struct {
	mu     sync.Mutex
	events []busEvent
}

type busEvent struct {
	topic   string
	event   string
	payload any
}

func (b *fakeBus) Publish(topic, event string, payload any) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, busEvent{topic, event, payload})
	return 1
}

func (b *fakeBus) updates() []protocol.PresenceUpdate {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []protocol.PresenceUpdate
	for _, e := range b.events {
		if u, ok := e.payload.(protocol.PresenceUpdate); ok {
			out = append(out, u)
		}
	}
	return out
}

type fakeRecorder struct {
	lastSeen chan string
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{lastSeen: make(chan string, 8)}
}

func (r *fakeRecorder) RecordLastSeen(_ context.Context, userID string, _ time.Time) error {
	r.lastSeen <- userID
	return nil
}

func (r *fakeRecorder) RecordMissedCall(context.Context, string, string, string, time.Time) error {
	return nil
}

func newTestTracker() (*Tracker, *fakeBus, *schedule.Fake, *fakeRecorder) {
	bus := &fakeBus{}
	sched := schedule.NewFake()
	rec := newFakeRecorder()
	return New(grace, sched, bus, rec, zerolog.Nop()), bus, sched, rec
}

func TestJoinBroadcastsOnlineEdgeOnce(t *testing.T) {
	tr, bus, _, _ := newTestTracker()

	tr.Join(1, "u1", "driver", "Sam")
	tr.Join(2, "u1", "driver", "Sam")

	updates := bus.updates()
	if len(updates) != 1 {
		t.Fatalf("got %d presence updates, want 1", len(updates))
	}
	if u := updates[0]; !u.Online || u.UserID != "u1" || u.Role != "driver" {
		t.Fatalf("unexpected update %+v", u)
	}
	if !tr.Online("u1") {
		t.Fatalf("u1 not online after join")
	}
}

func TestLastConnectionArmsGrace(t *testing.T) {
	tr, bus, sched, _ := newTestTracker()

	tr.Join(1, "u1", "driver", "Sam")
	tr.Join(2, "u1", "driver", "Sam")

	tr.Disconnect(1)
	if sched.Pending() != 0 {
		t.Fatalf("grace armed while a connection remains")
	}
	tr.Disconnect(2)
	if sched.Pending() != 1 {
		t.Fatalf("grace not armed on last disconnect")
	}
	if !tr.Online("u1") {
		t.Fatalf("u1 flapped offline before grace expired")
	}
	if got := len(bus.updates()); got != 1 {
		t.Fatalf("got %d updates before grace expiry, want 1", got)
	}
}

func TestRejoinDuringGraceSuppressesOffline(t *testing.T) {
	tr, bus, sched, _ := newTestTracker()

	tr.Join(1, "u1", "driver", "Sam")
	tr.Disconnect(1)
	tr.Join(2, "u1", "driver", "Sam")

	sched.Advance(grace)

	updates := bus.updates()
	if len(updates) != 1 {
		t.Fatalf("got %d updates, want only the initial online edge", len(updates))
	}
	if !tr.Online("u1") {
		t.Fatalf("u1 went offline despite reconnecting within grace")
	}
}

func TestGraceExpiryBroadcastsOfflineAndRecords(t *testing.T) {
	tr, bus, sched, rec := newTestTracker()

	tr.Join(1, "u1", "cook", "Kim")
	tr.Disconnect(1)
	sched.Advance(grace)

	updates := bus.updates()
	if len(updates) != 2 {
		t.Fatalf("got %d updates, want online then offline", len(updates))
	}
	if off := updates[1]; off.Online || off.UserID != "u1" || off.Role != "cook" {
		t.Fatalf("unexpected offline update %+v", off)
	}
	if tr.Online("u1") {
		t.Fatalf("u1 still online after grace expiry")
	}

	select {
	case userID := <-rec.lastSeen:
		if userID != "u1" {
			t.Fatalf("last-seen recorded for %q, want u1", userID)
		}
	case <-time.After(time.Second):
		t.Fatalf("last-seen never recorded")
	}
}

// leakyScheduler hands out timers whose Stop reports false with the
// callback still deliverable, the weakest guarantee time.AfterFunc
// makes.
type leakyScheduler struct {
	callbacks []func()
}

type leakyTimer struct{}

func (leakyTimer) Stop() bool { return false }

func (s *leakyScheduler) After(_ time.Duration, fn func()) schedule.Timer {
	s.callbacks = append(s.callbacks, fn)
	return leakyTimer{}
}

func TestStaleGraceTimerKeepsNewWindowOpen(t *testing.T) {
	bus := &fakeBus{}
	sched := &leakyScheduler{}
	tr := New(grace, sched, bus, newFakeRecorder(), zerolog.Nop())

	tr.Join(1, "u1", "driver", "Sam")
	tr.Disconnect(1)
	tr.Join(2, "u1", "driver", "Sam")
	tr.Disconnect(2)

	// The first episode's grace callback lands after its cancellation;
	// the second episode's window must stay open.
	sched.callbacks[0]()
	if !tr.Online("u1") {
		t.Fatalf("stale grace callback declared u1 offline")
	}
	if got := len(bus.updates()); got != 1 {
		t.Fatalf("got %d updates after stale callback, want only the online edge", got)
	}

	// The live callback still closes the window.
	sched.callbacks[1]()
	if tr.Online("u1") {
		t.Fatalf("u1 still online after its own grace expired")
	}
	updates := bus.updates()
	if len(updates) != 2 || updates[1].Online {
		t.Fatalf("updates = %+v, want online then offline", updates)
	}
}

func TestDisconnectUnknownConnIsNoop(t *testing.T) {
	tr, bus, sched, _ := newTestTracker()

	tr.Disconnect(99)
	if sched.Pending() != 0 || len(bus.updates()) != 0 {
		t.Fatalf("unknown disconnect had side effects")
	}
}

func TestListReturnsOnlineOnly(t *testing.T) {
	tr, _, sched, _ := newTestTracker()

	tr.Join(1, "u1", "driver", "Sam")
	tr.Join(2, "u2", "cook", "Kim")
	tr.Disconnect(2)
	sched.Advance(grace)

	list := tr.List()
	if len(list) != 1 {
		t.Fatalf("List returned %d identities, want 1", len(list))
	}
	if list[0].UserID != "u1" || !list[0].Online {
		t.Fatalf("unexpected snapshot entry %+v", list[0])
	}
}
