// Package presence derives per-identity online/offline status from
// connection churn. An identity is online while it has at least one
// live connection or its grace timer has not fired; the grace window
// absorbs reconnect churn (tab reload, brief network blip) so a page
// refresh never flaps to offline and back.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dishpatch/realtime/internal/monitoring"
	"github.com/dishpatch/realtime/internal/protocol"
	"github.com/dishpatch/realtime/internal/schedule"
	"github.com/dishpatch/realtime/internal/store"
)

// Publisher is the slice of the topic router the tracker needs.
type Publisher interface {
	Publish(topic, event string, payload any) int
}

// Tracker owns the presence map. All mutation goes through Join and
// Disconnect; no other component touches this state.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*entry // userID → state
	byConn  map[int64]string  // connID → userID

	grace  time.Duration
	sched  schedule.Scheduler
	bus    Publisher
	stores store.Recorder
	logger zerolog.Logger
}

type entry struct {
	role  string
	name  string
	conns map[int64]struct{}
	grace schedule.Timer // non-nil while a pending-offline timer is armed

	// Bumped every time a grace timer is armed. Stop does not
	// guarantee the callback is not already in flight, so a callback
	// carrying an old generation is stale and must not fire.
	graceGen uint64
}

// New creates a tracker with the given grace window.
func New(grace time.Duration, sched schedule.Scheduler, bus Publisher, recorder store.Recorder, logger zerolog.Logger) *Tracker {
	return &Tracker{
		entries: make(map[string]*entry),
		byConn:  make(map[int64]string),
		grace:   grace,
		sched:   sched,
		bus:     bus,
		stores:  recorder,
		logger:  logger.With().Str("component", "presence").Logger(),
	}
}

// Join binds a connection to an identity. The first connection of an
// offline identity broadcasts the online edge; a join during the grace
// window cancels the pending offline broadcast entirely.
func (t *Tracker) Join(connID int64, userID, role, name string) {
	t.mu.Lock()

	e, ok := t.entries[userID]
	if !ok {
		e = &entry{conns: make(map[int64]struct{})}
		t.entries[userID] = e
		monitoring.IdentitiesOnline.Inc()
	}

	wentOnline := !ok
	if e.grace != nil {
		// Re-join during grace: still online, nothing to announce.
		e.grace.Stop()
		e.grace = nil
	}

	e.role = role
	e.name = name
	e.conns[connID] = struct{}{}
	t.byConn[connID] = userID
	t.mu.Unlock()

	if wentOnline {
		t.logger.Info().Str("user_id", userID).Str("role", role).Msg("Identity online")
		t.bus.Publish(protocol.TopicPresence, protocol.EventPresenceUpdate, protocol.PresenceUpdate{
			UserID: userID,
			Role:   role,
			Name:   name,
			Online: true,
		})
	}
}

// Disconnect removes a connection. When the identity's last connection
// goes, a grace timer is armed instead of declaring offline outright.
func (t *Tracker) Disconnect(connID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	userID, ok := t.byConn[connID]
	if !ok {
		return
	}
	delete(t.byConn, connID)

	e := t.entries[userID]
	if e == nil {
		return
	}
	delete(e.conns, connID)
	if len(e.conns) > 0 || e.grace != nil {
		return
	}

	e.graceGen++
	gen := e.graceGen
	e.grace = t.sched.After(t.grace, func() {
		t.graceExpired(userID, e, gen)
	})
}

func (t *Tracker) graceExpired(userID string, e *entry, gen uint64) {
	t.mu.Lock()
	cur, ok := t.entries[userID]
	if !ok || cur != e || e.graceGen != gen || e.grace == nil {
		t.mu.Unlock()
		return
	}
	e.grace = nil
	if len(e.conns) > 0 {
		// A connection slipped in while the timer fired.
		t.mu.Unlock()
		return
	}
	role, name := e.role, e.name
	delete(t.entries, userID)
	monitoring.IdentitiesOnline.Dec()
	t.mu.Unlock()

	t.logger.Info().Str("user_id", userID).Msg("Identity offline")
	t.bus.Publish(protocol.TopicPresence, protocol.EventPresenceUpdate, protocol.PresenceUpdate{
		UserID: userID,
		Role:   role,
		Name:   name,
		Online: false,
	})

	// Last-seen write is fire-and-forget; a failure never blocks or
	// rolls back the offline transition.
	go func() {
		if err := t.stores.RecordLastSeen(context.Background(), userID, time.Now()); err != nil {
			monitoring.StoreFailures.WithLabelValues("last_seen").Inc()
			t.logger.Error().Err(err).Str("user_id", userID).Msg("Last-seen write failed")
		}
	}()
}

// Online reports whether an identity is currently considered online.
func (t *Tracker) Online(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[userID]
	return ok
}

// List snapshots every currently-online identity. Offline identities
// are never surfaced; historical state lives in the durable store.
func (t *Tracker) List() []protocol.PresenceUpdate {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]protocol.PresenceUpdate, 0, len(t.entries))
	for userID, e := range t.entries {
		out = append(out, protocol.PresenceUpdate{
			UserID: userID,
			Role:   e.role,
			Name:   e.name,
			Online: true,
		})
	}
	return out
}
