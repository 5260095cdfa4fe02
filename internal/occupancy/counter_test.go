package occupancy

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/dishpatch/realtime/internal/protocol"
)

type fakeBus struct {
	counts []protocol.ChatPresence
}

func (b *fakeBus) Publish(topic, event string, payload any) int {
	if cp, ok := payload.(protocol.ChatPresence); ok {
		if topic != protocol.TopicChat(cp.OrderID) || event != protocol.EventChatPresence {
			return 0
		}
		b.counts = append(b.counts, cp)
	}
	return 1
}

func (b *fakeBus) last(t *testing.T) protocol.ChatPresence {
	t.Helper()
	if len(b.counts) == 0 {
		t.Fatalf("no occupancy broadcast recorded")
	}
	return b.counts[len(b.counts)-1]
}

func TestEnterLeaveBroadcastsAbsoluteCount(t *testing.T) {
	bus := &fakeBus{}
	c := New(bus, zerolog.Nop())

	c.Enter(1, "o1")
	if got := bus.last(t); got.Count != 1 {
		t.Fatalf("count after first enter = %d, want 1", got.Count)
	}
	c.Enter(2, "o1")
	if got := bus.last(t); got.Count != 2 {
		t.Fatalf("count after second enter = %d, want 2", got.Count)
	}
	c.Leave(1, "o1")
	if got := bus.last(t); got.Count != 1 {
		t.Fatalf("count after leave = %d, want 1", got.Count)
	}
	if c.Count("o1") != 1 {
		t.Fatalf("Count = %d, want 1", c.Count("o1"))
	}
}

func TestDuplicateEnterCountsOnce(t *testing.T) {
	bus := &fakeBus{}
	c := New(bus, zerolog.Nop())

	c.Enter(1, "o1")
	c.Enter(1, "o1")
	if got := bus.last(t); got.Count != 1 {
		t.Fatalf("count after duplicate enter = %d, want 1", got.Count)
	}
}

func TestLeaveWithoutEnterIsSilent(t *testing.T) {
	bus := &fakeBus{}
	c := New(bus, zerolog.Nop())

	c.Leave(1, "o1")
	if len(bus.counts) != 0 {
		t.Fatalf("leave of non-member broadcast a count")
	}
}

func TestLastLeaveDeletesRoom(t *testing.T) {
	bus := &fakeBus{}
	c := New(bus, zerolog.Nop())

	c.Enter(1, "o1")
	c.Leave(1, "o1")
	if got := bus.last(t); got.Count != 0 {
		t.Fatalf("final count = %d, want 0", got.Count)
	}
	if len(c.rooms) != 0 {
		t.Fatalf("empty room record retained")
	}
	if len(c.byConn) != 0 {
		t.Fatalf("connection index retained after last leave")
	}
}

func TestDisconnectLeavesEveryRoom(t *testing.T) {
	bus := &fakeBus{}
	c := New(bus, zerolog.Nop())

	c.Enter(1, "o1")
	c.Enter(1, "o2")
	c.Enter(2, "o1")

	c.Disconnect(1)
	if c.Count("o1") != 1 {
		t.Fatalf("o1 count after disconnect = %d, want 1", c.Count("o1"))
	}
	if c.Count("o2") != 0 {
		t.Fatalf("o2 count after disconnect = %d, want 0", c.Count("o2"))
	}

	// One broadcast per room the connection actually occupied.
	var zero, one int
	for _, cp := range bus.counts[3:] {
		switch cp.Count {
		case 0:
			zero++
		case 1:
			one++
		}
	}
	if zero != 1 || one != 1 {
		t.Fatalf("disconnect broadcasts = %+v, want one count-0 and one count-1", bus.counts[3:])
	}

	// A repeat disconnect has nothing left to announce.
	n := len(bus.counts)
	c.Disconnect(1)
	if len(bus.counts) != n {
		t.Fatalf("repeat disconnect broadcast again")
	}
}
