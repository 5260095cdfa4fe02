// Package gateway is the façade business collaborators use to push
// one-shot events into topics: the order and delivery services publish
// on the platform's NATS subjects, the bridge maps each subject to a
// topic and event name, and the router fans the payload out to current
// subscribers. There is no acknowledgement and no retry; publishers
// persist the same fact durably so a client that missed the live push
// recovers it by polling on reconnect.
package gateway

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dishpatch/realtime/internal/monitoring"
)

// SubjectPrefix namespaces every business event subject:
// dishpatch.<topic>.<event>, e.g. dishpatch.cooks.order:new or
// dishpatch.order:o42.delivery:status. Topic and event are carried as
// literal tokens; the gateway attaches no meaning to either.
const SubjectPrefix = "dishpatch"

// Publisher is the slice of the topic router the gateway needs.
type Publisher interface {
	Publish(topic, event string, payload any) int
}

// Event is the envelope wrapped around every fanned-out payload. The
// id lets consumers deduplicate: delivery is at-most-once live, but
// the same business fact may also arrive via a reconnect poll.
type Event struct {
	ID   string          `json:"id"`
	At   int64           `json:"at"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Gateway fans one-shot business events out to topic subscribers.
type Gateway struct {
	bus    Publisher
	logger zerolog.Logger
}

// New creates a gateway over the router.
func New(bus Publisher, logger zerolog.Logger) *Gateway {
	return &Gateway{
		bus:    bus,
		logger: logger.With().Str("component", "gateway").Logger(),
	}
}

// Notify pushes one event into a topic. Fire-and-forget: the return
// value is only the number of subscribers reached right now.
func (g *Gateway) Notify(topic, event string, payload json.RawMessage) int {
	return g.publish("local", topic, event, payload)
}

func (g *Gateway) publish(source, topic, event string, payload json.RawMessage) int {
	monitoring.FanoutEvents.WithLabelValues(source).Inc()
	return g.bus.Publish(topic, event, Event{
		ID:   uuid.NewString(),
		At:   time.Now().UnixMilli(),
		Data: payload,
	})
}

// MapSubject splits a bus subject into topic and event name. Subjects
// that do not match <prefix>.<topic>.<event> are reported unmappable.
func MapSubject(subject string) (topic, event string, ok bool) {
	parts := strings.Split(subject, ".")
	if len(parts) != 3 || parts[0] != SubjectPrefix || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}
