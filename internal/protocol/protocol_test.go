package protocol

import (
	"encoding/json"
	"testing"
)

func TestEncodeRoundTrip(t *testing.T) {
	raw, err := Encode(EventChatPresence, ChatPresence{OrderID: "o1", Count: 2})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Event != EventChatPresence {
		t.Fatalf("event = %q, want %q", env.Event, EventChatPresence)
	}
	var cp ChatPresence
	if err := json.Unmarshal(env.Data, &cp); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if cp.OrderID != "o1" || cp.Count != 2 {
		t.Fatalf("payload = %+v", cp)
	}
}

func TestEncodeNilPayload(t *testing.T) {
	raw, err := Encode(EventPresenceList, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(raw) != `{"event":"presence:list"}` {
		t.Fatalf("frame = %s", raw)
	}
}

func TestRoleTopic(t *testing.T) {
	tests := []struct {
		role string
		want string
	}{
		{"driver", TopicDrivers},
		{"cook", TopicCooks},
		{"admin", TopicAdmins},
		{"client", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := RoleTopic(tt.role); got != tt.want {
			t.Errorf("RoleTopic(%q) = %q, want %q", tt.role, got, tt.want)
		}
	}
}

func TestChatOrderID(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"chat:o1", "o1"},
		{"chat:", ""},
		{"order:o1", ""},
		{"chat", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ChatOrderID(tt.topic); got != tt.want {
			t.Errorf("ChatOrderID(%q) = %q, want %q", tt.topic, got, tt.want)
		}
	}
}
