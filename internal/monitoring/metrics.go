package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for the signaling core.
var (
	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rt_connections_total",
		Help: "Total WebSocket connections accepted",
	})

	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rt_connections_active",
		Help: "Current live WebSocket connections",
	})

	ConnectionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rt_connections_rejected_total",
		Help: "Connection attempts rejected before upgrade, by reason",
	}, []string{"reason"})

	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rt_messages_sent_total",
		Help: "Messages written to clients",
	})

	MessagesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rt_messages_received_total",
		Help: "Messages read from clients",
	})

	MessagesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rt_messages_dropped_total",
		Help: "Messages dropped instead of delivered, by reason",
	}, []string{"reason"})

	RateLimitedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rt_rate_limited_messages_total",
		Help: "Inbound messages discarded by the per-connection limiter",
	})

	SlowClientsDisconnected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rt_slow_clients_disconnected_total",
		Help: "Clients disconnected after repeated full send buffers",
	})

	TopicSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rt_topic_subscriptions",
		Help: "Current topic subscriptions across all connections",
	})

	IdentitiesOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rt_identities_online",
		Help: "Identities currently considered online (grace window included)",
	})

	CallsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rt_calls_active",
		Help: "Call sessions currently in a non-idle state",
	})

	CallsMissed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rt_calls_missed_total",
		Help: "Call sessions that ended before being accepted",
	})

	FanoutEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rt_fanout_events_total",
		Help: "Business events pushed through the fan-out gateway, by source",
	}, []string{"source"})

	StoreFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rt_store_failures_total",
		Help: "Fire-and-forget durable store writes that failed, by kind",
	}, []string{"kind"})

	PanicsRecovered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rt_panics_recovered_total",
		Help: "Panics recovered in connection goroutines",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ConnectionsActive,
		ConnectionsRejected,
		MessagesSent,
		MessagesReceived,
		MessagesDropped,
		RateLimitedMessages,
		SlowClientsDisconnected,
		TopicSubscriptions,
		IdentitiesOnline,
		CallsActive,
		CallsMissed,
		FanoutEvents,
		StoreFailures,
		PanicsRecovered,
	)
}

// Handler exposes the metrics endpoint for Prometheus scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
