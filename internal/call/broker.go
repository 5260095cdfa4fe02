// Package call brokers the two-party audio-call handshake attached to
// an order. The server only coordinates the negotiation: it relays the
// opaque offer/answer/candidate payloads between the two parties and
// keeps one small state machine per order. Audio itself flows
// peer-to-peer once negotiated.
package call

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dishpatch/realtime/internal/monitoring"
	"github.com/dishpatch/realtime/internal/protocol"
	"github.com/dishpatch/realtime/internal/schedule"
	"github.com/dishpatch/realtime/internal/store"
)

// State of a call session. A missing session is IDLE; terminal events
// always collapse back to that.
type State int

const (
	StateIdle State = iota
	StateOutgoing
	StateIncoming
	StateActive
)

func (s State) String() string {
	switch s {
	case StateOutgoing:
		return "outgoing"
	case StateIncoming:
		return "incoming"
	case StateActive:
		return "active"
	default:
		return "idle"
	}
}

// Bus is the slice of the topic router the broker needs: direct sends
// to the two parties, plus room publishes for the ring phase when the
// callee connection is not yet known.
type Bus interface {
	Send(connID int64, event string, payload any) bool
	Publish(topic, event string, payload any) int
	PublishExcept(topic string, except int64, event string, payload any) int
}

// Broker owns the call-session map: at most one session per order at
// any time, mutated only through its operations.
type Broker struct {
	mu       sync.Mutex
	sessions map[string]*session // orderID → session

	timeout time.Duration
	sched   schedule.Scheduler
	bus     Bus
	stores  store.Recorder
	logger  zerolog.Logger
}

type session struct {
	id         string
	orderID    string
	state      State
	callerConn int64
	calleeConn int64 // 0 until accepted
	callerName string
	callerRole string
	ring       schedule.Timer
}

// New creates a broker with the given ring timeout.
func New(timeout time.Duration, sched schedule.Scheduler, bus Bus, recorder store.Recorder, logger zerolog.Logger) *Broker {
	return &Broker{
		sessions: make(map[string]*session),
		timeout:  timeout,
		sched:    sched,
		bus:      bus,
		stores:   recorder,
		logger:   logger.With().Str("component", "call").Logger(),
	}
}

// State returns the current state for an order.
func (b *Broker) State(orderID string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sessions[orderID]; ok {
		return s.state
	}
	return StateIdle
}

// Initiate starts a call for an order. A second initiate while a
// session exists gets a busy reply and nothing else: the existing
// session is untouched and no extra ring is sent.
func (b *Broker) Initiate(connID int64, req protocol.CallInitiate) {
	b.mu.Lock()
	if _, exists := b.sessions[req.OrderID]; exists {
		b.mu.Unlock()
		b.bus.Send(connID, protocol.EventCallBusy, protocol.CallRef{OrderID: req.OrderID})
		return
	}

	s := &session{
		id:         uuid.NewString(),
		orderID:    req.OrderID,
		state:      StateOutgoing,
		callerConn: connID,
		callerName: req.CallerName,
		callerRole: req.CallerRole,
	}
	b.sessions[req.OrderID] = s
	s.ring = b.sched.After(b.timeout, func() { b.ringExpired(s) })
	monitoring.CallsActive.Inc()
	b.mu.Unlock()

	b.logger.Info().
		Str("order_id", req.OrderID).
		Str("session_id", s.id).
		Str("caller", req.CallerName).
		Msg("Call initiated")

	// Ring everyone else in the order's chat room. If at least one
	// peer saw it, the callee side is now aware and undecided.
	notified := b.bus.PublishExcept(protocol.TopicChat(req.OrderID), connID, protocol.EventCallIncoming, req)

	b.mu.Lock()
	if cur, ok := b.sessions[req.OrderID]; ok && cur == s && cur.state == StateOutgoing && notified > 0 {
		cur.state = StateIncoming
	}
	b.mu.Unlock()
}

// Accept answers a ringing call. Acceptance alone leaves the
// negotiation phase; the server does not wait for the media handshake
// to complete.
func (b *Broker) Accept(connID int64, req protocol.CallAccept) {
	b.mu.Lock()
	s, ok := b.sessions[req.OrderID]
	if !ok || s.state != StateIncoming || connID == s.callerConn {
		b.mu.Unlock()
		b.logger.Debug().Str("order_id", req.OrderID).Msg("Accept without ringing session, dropped")
		return
	}
	if s.ring != nil {
		s.ring.Stop()
		s.ring = nil
	}
	s.state = StateActive
	s.calleeConn = connID
	caller := s.callerConn
	b.mu.Unlock()

	b.logger.Info().Str("order_id", req.OrderID).Str("accepter", req.AccepterName).Msg("Call accepted")
	b.bus.Send(caller, protocol.EventCallAccepted, req)
}

// Reject declines a ringing call. An explicit decline is not a missed
// call, so no side effect fires.
func (b *Broker) Reject(connID int64, orderID string) {
	b.mu.Lock()
	s, ok := b.sessions[orderID]
	if !ok || s.state == StateActive || connID == s.callerConn {
		b.mu.Unlock()
		return
	}
	b.teardownLocked(s)
	caller := s.callerConn
	b.mu.Unlock()

	b.logger.Info().Str("order_id", orderID).Msg("Call rejected")
	b.bus.Send(caller, protocol.EventCallRejected, protocol.CallRef{OrderID: orderID})
}

// Busy is the callee device reporting it cannot take the call. The
// caller is told and the session collapses; like a reject, this is not
// a miss.
func (b *Broker) Busy(connID int64, orderID string) {
	b.mu.Lock()
	s, ok := b.sessions[orderID]
	if !ok || s.state == StateActive || connID == s.callerConn {
		b.mu.Unlock()
		return
	}
	b.teardownLocked(s)
	caller := s.callerConn
	b.mu.Unlock()

	b.bus.Send(caller, protocol.EventCallBusy, protocol.CallRef{OrderID: orderID})
}

// End hangs up from either party, legal in any non-idle state. Ending
// a call that was never accepted is a missed call.
func (b *Broker) End(connID int64, orderID string) {
	b.mu.Lock()
	s, ok := b.sessions[orderID]
	if !ok {
		b.mu.Unlock()
		return
	}
	// Before acceptance the callee has no bound connection, so any
	// non-caller hangup is taken as the callee side ending the ring.
	isParty := connID == s.callerConn || connID == s.calleeConn || s.calleeConn == 0
	if !isParty {
		b.mu.Unlock()
		return
	}
	missed := s.state != StateActive
	b.teardownLocked(s)
	b.mu.Unlock()

	b.logger.Info().Str("order_id", orderID).Bool("missed", missed).Msg("Call ended")

	ref := protocol.CallRef{OrderID: orderID}
	switch {
	case connID == s.callerConn && s.calleeConn != 0:
		b.bus.Send(s.calleeConn, protocol.EventCallEnded, ref)
	case connID == s.callerConn:
		// Callee never accepted, so it is only reachable via the room.
		b.bus.PublishExcept(protocol.TopicChat(orderID), connID, protocol.EventCallEnded, ref)
	default:
		b.bus.Send(s.callerConn, protocol.EventCallEnded, ref)
	}

	if missed {
		b.recordMissed(s)
	}
}

// ringExpired is the ring-timeout callback. Stop does not guarantee a
// timer callback is not already in flight, so the session pointer is
// compared against the map: a stale callback from a torn-down session
// must never touch a successor session for the same order.
func (b *Broker) ringExpired(s *session) {
	b.mu.Lock()
	if cur, ok := b.sessions[s.orderID]; !ok || cur != s || s.state == StateActive {
		b.mu.Unlock()
		return
	}
	b.teardownLocked(s)
	b.mu.Unlock()

	b.logger.Info().Str("order_id", s.orderID).Msg("Call timed out")
	ref := protocol.CallRef{OrderID: s.orderID}
	b.bus.Send(s.callerConn, protocol.EventCallEnded, ref)
	b.bus.PublishExcept(protocol.TopicChat(s.orderID), s.callerConn, protocol.EventCallEnded, ref)
	b.recordMissed(s)
}

// Relay forwards an opaque negotiation payload to the other party of
// the order's current session. Payloads for orders with no live
// session are dropped silently; they are stale messages from a
// session that already ended.
func (b *Broker) Relay(connID int64, event string, req protocol.CallSignal) {
	b.mu.Lock()
	s, ok := b.sessions[req.OrderID]
	if !ok {
		b.mu.Unlock()
		return
	}
	var other int64
	switch connID {
	case s.callerConn:
		other = s.calleeConn
	case s.calleeConn:
		other = s.callerConn
	}
	b.mu.Unlock()

	if other == 0 {
		return
	}
	b.bus.Send(other, event, req)
}

// Missed handles a client-reported missed call. If the ring already
// resolved server-side there is nothing left to do, which also keeps
// the side effect at one per episode.
func (b *Broker) Missed(connID int64, req protocol.CallMissed) {
	b.mu.Lock()
	s, ok := b.sessions[req.OrderID]
	if !ok || s.state == StateActive {
		b.mu.Unlock()
		return
	}
	b.teardownLocked(s)
	b.mu.Unlock()

	b.recordMissed(s)
}

// Disconnect ends any session the connection was party to, as if that
// party had hung up.
func (b *Broker) Disconnect(connID int64) {
	b.mu.Lock()
	var affected []string
	for orderID, s := range b.sessions {
		if s.callerConn == connID || s.calleeConn == connID {
			affected = append(affected, orderID)
		}
	}
	b.mu.Unlock()

	for _, orderID := range affected {
		b.End(connID, orderID)
	}
}

// teardownLocked removes the session and disarms its ring timer.
// Callers must hold b.mu.
func (b *Broker) teardownLocked(s *session) {
	if s.ring != nil {
		s.ring.Stop()
		s.ring = nil
	}
	delete(b.sessions, s.orderID)
	monitoring.CallsActive.Dec()
}

// recordMissed fires the missed-call side effect: a durable chat
// notice plus a live alert on the order's topics. Fire-and-forget; a
// store failure is logged and never revisits the state transition.
func (b *Broker) recordMissed(s *session) {
	monitoring.CallsMissed.Inc()

	notice := protocol.CallMissed{OrderID: s.orderID, CallerName: s.callerName}
	b.bus.Publish(protocol.TopicChat(s.orderID), protocol.EventCallMissed, notice)
	b.bus.Publish(protocol.TopicOrder(s.orderID), protocol.EventCallMissed, notice)

	orderID, callerName, callerRole := s.orderID, s.callerName, s.callerRole
	go func() {
		if err := b.stores.RecordMissedCall(context.Background(), orderID, callerName, callerRole, time.Now()); err != nil {
			monitoring.StoreFailures.WithLabelValues("missed_call").Inc()
			b.logger.Error().Err(err).Str("order_id", orderID).Msg("Missed-call write failed")
		}
	}()
}

// DecodeSignal extracts the order id from a raw signaling payload
// without touching the opaque negotiation body.
func DecodeSignal(data json.RawMessage) (protocol.CallSignal, error) {
	var sig protocol.CallSignal
	err := json.Unmarshal(data, &sig)
	return sig, err
}
