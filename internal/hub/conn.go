package hub

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Conn is one live WebSocket session. It is created on upgrade and
// destroyed on disconnect; nothing about it survives a reconnect.
//
// The send channel is buffered so one slow reader never blocks a
// broadcast. A connection that keeps a full buffer is struck out and
// disconnected (see maxSendStrikes in hub.go).
type Conn struct {
	id        int64
	conn      net.Conn
	send      chan []byte
	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once

	limiter       *rate.Limiter
	subscriptions *SubscriptionSet
	connectedAt   time.Time
	sendStrikes   int32

	// Identity bound by presence:join. A connection binds to at most
	// one identity for its lifetime.
	idMu   sync.Mutex
	userID string
	role   string
	name   string
}

// ID returns the connection's ephemeral identifier.
func (c *Conn) ID() int64 { return c.id }

// Identity returns the bound identity, or "" if none was bound yet.
func (c *Conn) Identity() (userID, role, name string) {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	return c.userID, c.role, c.name
}

// BindIdentity attaches an identity to the connection. The first bind
// wins; a repeat join for the same user refreshes role and display
// name, a join for a different user is refused.
func (c *Conn) BindIdentity(userID, role, name string) bool {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	if c.userID != "" && c.userID != userID {
		return false
	}
	c.userID = userID
	c.role = role
	c.name = name
	return true
}

// SubscriptionSet is the set of topics one connection is subscribed
// to. Reads and writes come from the read pump and the disconnect
// path concurrently, hence the lock.
type SubscriptionSet struct {
	topics map[string]struct{}
	mu     sync.Mutex
}

// NewSubscriptionSet creates an empty subscription set.
func NewSubscriptionSet() *SubscriptionSet {
	return &SubscriptionSet{topics: make(map[string]struct{})}
}

// Add records a topic subscription. Reports whether it was new.
func (s *SubscriptionSet) Add(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.topics[topic]; ok {
		return false
	}
	s.topics[topic] = struct{}{}
	return true
}

// Remove drops a topic subscription. Reports whether it existed.
func (s *SubscriptionSet) Remove(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.topics[topic]; !ok {
		return false
	}
	delete(s.topics, topic)
	return true
}

// Has reports whether the connection is subscribed to topic.
func (s *SubscriptionSet) Has(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.topics[topic]
	return ok
}

// Count returns the number of subscriptions.
func (s *SubscriptionSet) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.topics)
}

// List returns a copy of the subscribed topics.
func (s *SubscriptionSet) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}
