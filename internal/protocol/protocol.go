// Package protocol defines the wire format shared by the WebSocket hub
// and every signaling component: a flat {event, data} JSON envelope plus
// the typed payloads for each event.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Envelope is the framing for every message in both directions.
// Data is left raw so the hub can dispatch on Event without knowing
// the payload shape.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals a payload into a framed envelope ready to write.
func Encode(event string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		d, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		data = d
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// Inbound event names (client -> server).
const (
	EventSubscribe   = "subscribe"
	EventUnsubscribe = "unsubscribe"

	EventPresenceJoin = "presence:join"
	EventPresenceList = "presence:list"

	EventChatTyping     = "chat:typing"
	EventChatStopTyping = "chat:stop-typing"

	EventCallInitiate     = "call:initiate"
	EventCallAccept       = "call:accept"
	EventCallReject       = "call:reject"
	EventCallOffer        = "call:offer"
	EventCallAnswer       = "call:answer"
	EventCallICECandidate = "call:ice-candidate"
	EventCallEnd          = "call:end"
	EventCallMissed       = "call:missed"
	EventCallBusy         = "call:busy"
)

// Outbound event names (server -> client).
const (
	EventPresenceUpdate = "presence:update"
	EventChatPresence   = "chat:presence"

	EventCallIncoming = "call:incoming"
	EventCallAccepted = "call:accepted"
	EventCallEnded    = "call:ended"
	EventCallRejected = "call:rejected"
)

// SubscribeRequest carries subscribe/unsubscribe topic lists.
type SubscribeRequest struct {
	Topics []string `json:"topics"`
}

// PresenceJoin binds a connection to an authenticated identity.
// The identity itself is resolved upstream; the core trusts it.
type PresenceJoin struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	Name   string `json:"name"`
}

// PresenceUpdate announces an online/offline edge for one identity.
type PresenceUpdate struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	Name   string `json:"name"`
	Online bool   `json:"online"`
}

// ChatRoom identifies a per-order chat room.
type ChatRoom struct {
	OrderID string `json:"orderId"`
}

// ChatTyping is echoed to the room minus the sender.
type ChatTyping struct {
	OrderID string `json:"orderId"`
	Sender  string `json:"sender"`
	Name    string `json:"name"`
}

// ChatPresence carries the absolute occupant count for a room.
// Absolute counts make the notification idempotent: a missed or
// duplicated update is corrected by the next one.
type ChatPresence struct {
	OrderID string `json:"orderId"`
	Count   int    `json:"count"`
}

// CallInitiate starts a call negotiation for an order.
type CallInitiate struct {
	OrderID    string `json:"orderId"`
	CallerName string `json:"callerName"`
	CallerRole string `json:"callerRole"`
}

// CallAccept answers a ringing call.
type CallAccept struct {
	OrderID      string `json:"orderId"`
	AccepterName string `json:"accepterName"`
}

// CallRef names an existing call session (end, reject, busy).
type CallRef struct {
	OrderID string `json:"orderId"`
}

// CallSignal carries an opaque negotiation payload (offer, answer or
// ICE candidate). The server never inspects the body; it only routes.
type CallSignal struct {
	OrderID   string          `json:"orderId"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// CallMissed reports a call that ended before being accepted.
type CallMissed struct {
	OrderID    string `json:"orderId"`
	CallerName string `json:"callerName"`
}

// Well-known topics. The router assigns no meaning to any of these;
// the names are only a convention between publishers and subscribers.
const (
	TopicDrivers  = "drivers"
	TopicCooks    = "cooks"
	TopicAdmins   = "admins"
	TopicPresence = "presence"
)

// TopicOrder is the per-order business event topic.
func TopicOrder(orderID string) string { return "order:" + orderID }

// TopicChat is the per-order chat room topic.
func TopicChat(orderID string) string { return "chat:" + orderID }

// TopicClient addresses a single identity's devices.
func TopicClient(clientID string) string { return "client:" + clientID }

// RoleTopic maps a staff role to its broadcast topic. Roles without a
// shared fan-out topic map to "".
func RoleTopic(role string) string {
	switch role {
	case "driver":
		return TopicDrivers
	case "cook":
		return TopicCooks
	case "admin":
		return TopicAdmins
	}
	return ""
}

// ChatOrderID extracts the order id from a chat topic. Entering and
// leaving a chat room is expressed on the wire as subscribing to and
// unsubscribing from its topic, so the hub uses this to feed the
// occupancy counter. Returns "" for non-chat topics.
func ChatOrderID(topic string) string {
	const prefix = "chat:"
	if len(topic) > len(prefix) && topic[:len(prefix)] == prefix {
		return topic[len(prefix):]
	}
	return ""
}
