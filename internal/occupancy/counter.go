// Package occupancy counts how many connections are currently viewing
// each per-order chat room. Every mutation re-broadcasts the absolute
// count, so a missed or duplicated update self-corrects on the next
// one.
package occupancy

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/dishpatch/realtime/internal/protocol"
)

// Publisher is the slice of the topic router the counter needs.
type Publisher interface {
	Publish(topic, event string, payload any) int
}

// Counter owns the room occupancy map. A room record is deleted the
// moment its last connection leaves; no empty entries linger.
type Counter struct {
	mu     sync.Mutex
	rooms  map[string]map[int64]struct{} // orderID → connIDs
	byConn map[int64]map[string]struct{} // connID → orderIDs

	bus    Publisher
	logger zerolog.Logger
}

// New creates an empty counter.
func New(bus Publisher, logger zerolog.Logger) *Counter {
	return &Counter{
		rooms:  make(map[string]map[int64]struct{}),
		byConn: make(map[int64]map[string]struct{}),
		bus:    bus,
		logger: logger.With().Str("component", "occupancy").Logger(),
	}
}

// Enter records a connection viewing a room and broadcasts the count.
func (c *Counter) Enter(connID int64, orderID string) {
	c.mu.Lock()
	room, ok := c.rooms[orderID]
	if !ok {
		room = make(map[int64]struct{})
		c.rooms[orderID] = room
	}
	room[connID] = struct{}{}

	viewed, ok := c.byConn[connID]
	if !ok {
		viewed = make(map[string]struct{})
		c.byConn[connID] = viewed
	}
	viewed[orderID] = struct{}{}
	count := len(room)
	c.mu.Unlock()

	c.announce(orderID, count)
}

// Leave removes a connection from a room and broadcasts the count.
func (c *Counter) Leave(connID int64, orderID string) {
	c.mu.Lock()
	count, changed := c.removeLocked(connID, orderID)
	c.mu.Unlock()

	if changed {
		c.announce(orderID, count)
	}
}

// Disconnect removes a connection from every room it occupied.
func (c *Counter) Disconnect(connID int64) {
	c.mu.Lock()
	viewed := c.byConn[connID]
	type update struct {
		orderID string
		count   int
	}
	updates := make([]update, 0, len(viewed))
	for orderID := range viewed {
		if count, changed := c.removeLocked(connID, orderID); changed {
			updates = append(updates, update{orderID, count})
		}
	}
	c.mu.Unlock()

	for _, u := range updates {
		c.announce(u.orderID, u.count)
	}
}

// Count returns the current occupancy of a room.
func (c *Counter) Count(orderID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rooms[orderID])
}

func (c *Counter) removeLocked(connID int64, orderID string) (count int, changed bool) {
	room, ok := c.rooms[orderID]
	if !ok {
		return 0, false
	}
	if _, ok := room[connID]; !ok {
		return len(room), false
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(c.rooms, orderID)
	}

	if viewed, ok := c.byConn[connID]; ok {
		delete(viewed, orderID)
		if len(viewed) == 0 {
			delete(c.byConn, connID)
		}
	}
	return len(room), true
}

func (c *Counter) announce(orderID string, count int) {
	c.bus.Publish(protocol.TopicChat(orderID), protocol.EventChatPresence, protocol.ChatPresence{
		OrderID: orderID,
		Count:   count,
	})
}
