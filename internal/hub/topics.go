package hub

import (
	"sync"
	"sync/atomic"
)

// TopicIndex maps each topic to the connections currently subscribed
// to it. The publish path runs far more often than subscribe or
// unsubscribe, so subscriber lists are immutable snapshots swapped
// atomically: Get is a lock-free load, mutations copy-on-write under
// the index lock.
type TopicIndex struct {
	subscribers map[string]*atomic.Value // topic → []*Conn snapshot
	mu          sync.RWMutex             // guards the map, not the snapshots
}

// NewTopicIndex creates an empty index.
func NewTopicIndex() *TopicIndex {
	return &TopicIndex{subscribers: make(map[string]*atomic.Value)}
}

// Add subscribes a connection to a topic.
func (idx *TopicIndex) Add(topic string, c *Conn) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	val := idx.subscribers[topic]
	if val == nil {
		val = &atomic.Value{}
		idx.subscribers[topic] = val
	}

	var current []*Conn
	if v := val.Load(); v != nil {
		current = v.([]*Conn)
	}
	for _, existing := range current {
		if existing == c {
			return
		}
	}

	next := make([]*Conn, len(current)+1)
	copy(next, current)
	next[len(current)] = c
	val.Store(next)
}

// Remove unsubscribes a connection from a topic. The topic entry is
// deleted as soon as its subscriber list becomes empty, so the index
// never leaks empty topics.
func (idx *TopicIndex) Remove(topic string, c *Conn) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(topic, c)
}

// RemoveConn unsubscribes a connection from every topic. Called on
// disconnect.
func (idx *TopicIndex) RemoveConn(c *Conn) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for topic := range idx.subscribers {
		idx.removeLocked(topic, c)
	}
}

func (idx *TopicIndex) removeLocked(topic string, c *Conn) {
	val, ok := idx.subscribers[topic]
	if !ok {
		return
	}
	v := val.Load()
	if v == nil {
		return
	}
	current := v.([]*Conn)
	for i, existing := range current {
		if existing != c {
			continue
		}
		next := make([]*Conn, len(current)-1)
		copy(next, current[:i])
		copy(next[i:], current[i+1:])
		if len(next) == 0 {
			delete(idx.subscribers, topic)
		} else {
			val.Store(next)
		}
		return
	}
}

// Get returns the current subscriber snapshot for a topic. The slice
// is immutable; iterate it but never modify it.
func (idx *TopicIndex) Get(topic string) []*Conn {
	idx.mu.RLock()
	val, ok := idx.subscribers[topic]
	idx.mu.RUnlock()
	if !ok {
		return nil
	}
	v := val.Load()
	if v == nil {
		return nil
	}
	return v.([]*Conn)
}

// Count returns the number of subscribers for a topic.
func (idx *TopicIndex) Count(topic string) int {
	return len(idx.Get(topic))
}
