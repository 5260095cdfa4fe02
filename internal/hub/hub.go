// Package hub is the connection registry and topic router: it owns the
// live WebSocket connections, their topic subscriptions, and the
// dispatch of inbound events to the signaling components layered on
// top. The hub itself assigns no meaning to topics.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/dishpatch/realtime/internal/limits"
	"github.com/dishpatch/realtime/internal/monitoring"
	"github.com/dishpatch/realtime/internal/protocol"
)

// A connection whose buffer is full this many consecutive times is
// disconnected rather than allowed to stall broadcasts.
const maxSendStrikes = 3

// HandlerFunc processes one inbound event for one connection.
type HandlerFunc func(c *Conn, data json.RawMessage)

// Options configures a Hub.
type Options struct {
	Logger         zerolog.Logger
	MaxConnections int
	MessageRate    float64 // sustained inbound messages/sec per connection
	MessageBurst   int
	ConnLimiter    *limits.ConnectionRateLimiter // optional
	Guard          *limits.ResourceGuard         // optional, set via SetGuard after construction
	SendBuffer     int                           // per-connection outbound buffer, defaults to 256
}

// Hub routes messages between connections and topics.
type Hub struct {
	logger zerolog.Logger
	opts   Options

	handlers         map[string]HandlerFunc
	disconnectHooks  []func(connID int64)
	subscribeHooks   []func(connID int64, topic string)
	unsubscribeHooks []func(connID int64, topic string)

	conns        sync.Map // int64 → *Conn
	nextID       int64
	currentConns int64
	connSem      chan struct{}

	topics *TopicIndex
	guard  *limits.ResourceGuard

	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shuttingDown int32
}

// New creates a hub. Register handlers and hooks before serving
// traffic; the dispatch table is not guarded for concurrent mutation.
func New(opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		logger:   opts.Logger.With().Str("component", "hub").Logger(),
		opts:     opts,
		handlers: make(map[string]HandlerFunc),
		connSem:  make(chan struct{}, opts.MaxConnections),
		topics:   NewTopicIndex(),
		guard:    opts.Guard,
		ctx:      ctx,
		cancel:   cancel,
	}
	h.handlers[protocol.EventSubscribe] = h.handleSubscribe
	h.handlers[protocol.EventUnsubscribe] = h.handleUnsubscribe
	return h
}

// SetGuard installs the admission guard. The guard needs the hub's
// connection counter, so it is built after the hub.
func (h *Hub) SetGuard(g *limits.ResourceGuard) { h.guard = g }

// ConnCounter exposes the live connection counter for the guard.
func (h *Hub) ConnCounter() *int64 { return &h.currentConns }

// Handle registers the handler for an inbound event name.
func (h *Hub) Handle(event string, fn HandlerFunc) {
	h.handlers[event] = fn
}

// OnDisconnect registers a cleanup hook invoked after a connection is
// removed from the registry and from every topic.
func (h *Hub) OnDisconnect(fn func(connID int64)) {
	h.disconnectHooks = append(h.disconnectHooks, fn)
}

// OnSubscribe registers a hook invoked after a new topic subscription.
func (h *Hub) OnSubscribe(fn func(connID int64, topic string)) {
	h.subscribeHooks = append(h.subscribeHooks, fn)
}

// OnUnsubscribe registers a hook invoked after an explicit
// unsubscribe. Disconnect cleanup goes through OnDisconnect instead.
func (h *Hub) OnUnsubscribe(fn func(connID int64, topic string)) {
	h.unsubscribeHooks = append(h.unsubscribeHooks, fn)
}

// Subscribe adds the connection to a topic.
func (h *Hub) Subscribe(c *Conn, topic string) {
	if !c.subscriptions.Add(topic) {
		return
	}
	h.topics.Add(topic, c)
	monitoring.TopicSubscriptions.Inc()
	for _, fn := range h.subscribeHooks {
		fn(c.id, topic)
	}
}

// Unsubscribe removes the connection from a topic.
func (h *Hub) Unsubscribe(c *Conn, topic string) {
	if !c.subscriptions.Remove(topic) {
		return
	}
	h.topics.Remove(topic, c)
	monitoring.TopicSubscriptions.Dec()
	for _, fn := range h.unsubscribeHooks {
		fn(c.id, topic)
	}
}

// Publish delivers an event to every current subscriber of the topic.
// Fire-and-forget, at-most-once: a subscriber with a full buffer is
// struck, not waited for. Returns the number of deliveries.
func (h *Hub) Publish(topic, event string, payload any) int {
	return h.publish(topic, -1, event, payload)
}

// PublishExcept is Publish minus one connection, used when the sender
// of a room event must not receive its own echo.
func (h *Hub) PublishExcept(topic string, except int64, event string, payload any) int {
	return h.publish(topic, except, event, payload)
}

func (h *Hub) publish(topic string, except int64, event string, payload any) int {
	subscribers := h.topics.Get(topic)
	if len(subscribers) == 0 {
		return 0
	}

	// Serialize once for all subscribers.
	data, err := protocol.Encode(event, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Str("topic", topic).Msg("Failed to encode broadcast")
		return 0
	}

	delivered := 0
	for _, c := range subscribers {
		if c.id == except {
			continue
		}
		if h.trySend(c, data) {
			delivered++
		}
	}
	return delivered
}

// Send delivers an event to a single connection. Reports whether the
// connection exists and accepted the message.
func (h *Hub) Send(connID int64, event string, payload any) bool {
	v, ok := h.conns.Load(connID)
	if !ok {
		return false
	}
	data, err := protocol.Encode(event, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("Failed to encode message")
		return false
	}
	return h.trySend(v.(*Conn), data)
}

// SendConn is Send for an already-resolved connection.
func (h *Hub) SendConn(c *Conn, event string, payload any) bool {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("Failed to encode message")
		return false
	}
	return h.trySend(c, data)
}

func (h *Hub) trySend(c *Conn, data []byte) bool {
	select {
	case c.send <- data:
		atomic.StoreInt32(&c.sendStrikes, 0)
		return true
	default:
		monitoring.MessagesDropped.WithLabelValues("buffer_full").Inc()
		if atomic.AddInt32(&c.sendStrikes, 1) >= maxSendStrikes {
			monitoring.SlowClientsDisconnected.Inc()
			h.logger.Warn().Int64("conn_id", c.id).Msg("Disconnecting slow client")
			c.closeOnce.Do(func() { c.conn.Close() })
		}
		return false
	}
}

// ConnCount returns the number of live connections.
func (h *Hub) ConnCount() int64 { return atomic.LoadInt64(&h.currentConns) }

// TopicCount returns the number of subscribers for a topic.
func (h *Hub) TopicCount(topic string) int { return h.topics.Count(topic) }

func (h *Hub) newConn() *Conn {
	return &Conn{
		id:            atomic.AddInt64(&h.nextID, 1),
		send:          make(chan []byte, h.opts.SendBuffer),
		done:          make(chan struct{}),
		limiter:       rate.NewLimiter(rate.Limit(h.opts.MessageRate), h.opts.MessageBurst),
		subscriptions: NewSubscriptionSet(),
		connectedAt:   time.Now(),
	}
}

// disconnect tears a connection down exactly once: registry, topics,
// component hooks, send channel, semaphore.
func (h *Hub) disconnect(c *Conn, reason string) {
	if _, loaded := h.conns.LoadAndDelete(c.id); !loaded {
		return
	}
	atomic.AddInt64(&h.currentConns, -1)
	monitoring.ConnectionsActive.Dec()

	subs := c.subscriptions.Count()
	h.topics.RemoveConn(c)
	for i := 0; i < subs; i++ {
		monitoring.TopicSubscriptions.Dec()
	}

	for _, fn := range h.disconnectHooks {
		fn(c.id)
	}

	// The send channel is never closed; the done channel releases the
	// write pump so a concurrent publish can never hit a closed channel.
	c.doneOnce.Do(func() { close(c.done) })
	c.closeOnce.Do(func() { c.conn.Close() })
	<-h.connSem

	userID, role, _ := c.Identity()
	h.logger.Info().
		Int64("conn_id", c.id).
		Str("user_id", userID).
		Str("role", role).
		Str("reason", reason).
		Dur("connected", time.Since(c.connectedAt)).
		Int64("connections", atomic.LoadInt64(&h.currentConns)).
		Msg("Connection closed")
}

// Shutdown stops accepting work and drains live connections, forcing
// the remainder closed when the drain window elapses.
func (h *Hub) Shutdown(drain time.Duration) {
	atomic.StoreInt32(&h.shuttingDown, 1)

	deadline := time.NewTimer(drain)
	tick := time.NewTicker(time.Second)
	defer deadline.Stop()
	defer tick.Stop()

	for atomic.LoadInt64(&h.currentConns) > 0 {
		select {
		case <-deadline.C:
			remaining := atomic.LoadInt64(&h.currentConns)
			h.logger.Warn().Int64("remaining", remaining).Msg("Drain window elapsed, force closing connections")
			h.conns.Range(func(_, v any) bool {
				c := v.(*Conn)
				c.closeOnce.Do(func() { c.conn.Close() })
				return true
			})
			h.cancel()
			h.wg.Wait()
			return
		case <-tick.C:
			h.logger.Info().
				Int64("remaining", atomic.LoadInt64(&h.currentConns)).
				Msg("Waiting for connections to drain")
		}
	}

	h.cancel()
	h.wg.Wait()
	h.logger.Info().Msg("Hub shutdown complete")
}

func (h *Hub) handleSubscribe(c *Conn, data json.RawMessage) {
	var req protocol.SubscribeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.logger.Warn().Int64("conn_id", c.id).Err(err).Msg("Invalid subscribe request")
		return
	}
	for _, topic := range req.Topics {
		if topic == "" {
			continue
		}
		h.Subscribe(c, topic)
	}
	h.logger.Debug().
		Int64("conn_id", c.id).
		Strs("topics", req.Topics).
		Msg("Subscribed")
}

func (h *Hub) handleUnsubscribe(c *Conn, data json.RawMessage) {
	var req protocol.SubscribeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.logger.Warn().Int64("conn_id", c.id).Err(err).Msg("Invalid unsubscribe request")
		return
	}
	for _, topic := range req.Topics {
		h.Unsubscribe(c, topic)
	}
}

// dispatch routes one inbound envelope to its handler. Unknown events
// are logged and dropped; a protocol violation never tears the
// connection down.
func (h *Hub) dispatch(c *Conn, raw []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.logger.Warn().Int64("conn_id", c.id).Err(err).Msg("Client sent invalid JSON")
		return
	}
	fn, ok := h.handlers[env.Event]
	if !ok {
		h.logger.Warn().Int64("conn_id", c.id).Str("event", env.Event).Msg("Unknown event")
		return
	}
	fn(c, env.Data)
}
