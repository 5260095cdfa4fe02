package app

import (
	"encoding/json"

	"github.com/dishpatch/realtime/internal/call"
	"github.com/dishpatch/realtime/internal/hub"
	"github.com/dishpatch/realtime/internal/occupancy"
	"github.com/dishpatch/realtime/internal/presence"
	"github.com/dishpatch/realtime/internal/protocol"
)

// registerRoutes builds the single dispatch table: each inbound event
// name maps to one handler that decodes the payload and calls into the
// owning component. Malformed payloads are dropped; the connection
// lives on.
func registerRoutes(h *hub.Hub, tracker *presence.Tracker, rooms *occupancy.Counter, calls *call.Broker) {
	h.Handle(protocol.EventPresenceJoin, func(c *hub.Conn, data json.RawMessage) {
		var req protocol.PresenceJoin
		if err := json.Unmarshal(data, &req); err != nil || req.UserID == "" {
			return
		}
		if !c.BindIdentity(req.UserID, req.Role, req.Name) {
			return
		}
		tracker.Join(c.ID(), req.UserID, req.Role, req.Name)

		// Joining also binds the connection into its role fan-out and
		// its direct-address topic, so business events can target
		// "all cooks" or one identity without an explicit subscribe.
		if roleTopic := protocol.RoleTopic(req.Role); roleTopic != "" {
			h.Subscribe(c, roleTopic)
		}
		h.Subscribe(c, protocol.TopicClient(req.UserID))
	})

	h.Handle(protocol.EventPresenceList, func(c *hub.Conn, _ json.RawMessage) {
		h.SendConn(c, protocol.EventPresenceList, tracker.List())
	})

	// Typing indicators are pure relay: room minus sender, no state.
	h.Handle(protocol.EventChatTyping, func(c *hub.Conn, data json.RawMessage) {
		var req protocol.ChatTyping
		if err := json.Unmarshal(data, &req); err != nil || req.OrderID == "" {
			return
		}
		h.PublishExcept(protocol.TopicChat(req.OrderID), c.ID(), protocol.EventChatTyping, req)
	})

	h.Handle(protocol.EventChatStopTyping, func(c *hub.Conn, data json.RawMessage) {
		var req protocol.ChatRoom
		if err := json.Unmarshal(data, &req); err != nil || req.OrderID == "" {
			return
		}
		h.PublishExcept(protocol.TopicChat(req.OrderID), c.ID(), protocol.EventChatStopTyping, req)
	})

	h.Handle(protocol.EventCallInitiate, func(c *hub.Conn, data json.RawMessage) {
		var req protocol.CallInitiate
		if err := json.Unmarshal(data, &req); err != nil || req.OrderID == "" {
			return
		}
		calls.Initiate(c.ID(), req)
	})

	h.Handle(protocol.EventCallAccept, func(c *hub.Conn, data json.RawMessage) {
		var req protocol.CallAccept
		if err := json.Unmarshal(data, &req); err != nil || req.OrderID == "" {
			return
		}
		calls.Accept(c.ID(), req)
	})

	h.Handle(protocol.EventCallReject, func(c *hub.Conn, data json.RawMessage) {
		var req protocol.CallRef
		if err := json.Unmarshal(data, &req); err != nil || req.OrderID == "" {
			return
		}
		calls.Reject(c.ID(), req.OrderID)
	})

	h.Handle(protocol.EventCallEnd, func(c *hub.Conn, data json.RawMessage) {
		var req protocol.CallRef
		if err := json.Unmarshal(data, &req); err != nil || req.OrderID == "" {
			return
		}
		calls.End(c.ID(), req.OrderID)
	})

	h.Handle(protocol.EventCallBusy, func(c *hub.Conn, data json.RawMessage) {
		var req protocol.CallRef
		if err := json.Unmarshal(data, &req); err != nil || req.OrderID == "" {
			return
		}
		calls.Busy(c.ID(), req.OrderID)
	})

	h.Handle(protocol.EventCallMissed, func(c *hub.Conn, data json.RawMessage) {
		var req protocol.CallMissed
		if err := json.Unmarshal(data, &req); err != nil || req.OrderID == "" {
			return
		}
		calls.Missed(c.ID(), req)
	})

	relay := func(event string) hub.HandlerFunc {
		return func(c *hub.Conn, data json.RawMessage) {
			sig, err := call.DecodeSignal(data)
			if err != nil || sig.OrderID == "" {
				return
			}
			calls.Relay(c.ID(), event, sig)
		}
	}
	h.Handle(protocol.EventCallOffer, relay(protocol.EventCallOffer))
	h.Handle(protocol.EventCallAnswer, relay(protocol.EventCallAnswer))
	h.Handle(protocol.EventCallICECandidate, relay(protocol.EventCallICECandidate))

	// Entering a chat room is subscribing to its topic; occupancy
	// follows the subscription lifecycle.
	h.OnSubscribe(func(connID int64, topic string) {
		if orderID := protocol.ChatOrderID(topic); orderID != "" {
			rooms.Enter(connID, orderID)
		}
	})
	h.OnUnsubscribe(func(connID int64, topic string) {
		if orderID := protocol.ChatOrderID(topic); orderID != "" {
			rooms.Leave(connID, orderID)
		}
	})

	// Disconnect order matters: calls end first so the peer hears
	// call:ended before any presence change, then rooms, then presence.
	h.OnDisconnect(calls.Disconnect)
	h.OnDisconnect(rooms.Disconnect)
	h.OnDisconnect(tracker.Disconnect)
}
