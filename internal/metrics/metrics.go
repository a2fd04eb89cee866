// Package metrics exposes Prometheus collectors for the chat relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Delivery audiences.
const (
	AudienceRoom    = "room"
	AudienceAll     = "all"
	AudiencePrivate = "private"
	AudienceSelf    = "self"
)

// Delivery failure reasons.
const (
	ReasonClosed     = "closed"
	ReasonBufferFull = "buffer_full"
	ReasonEncrypt    = "encrypt"
)

var (
	// Session Metrics
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_sessions_active",
		Help: "The current number of connected sessions.",
	})
	SessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_sessions_total",
		Help: "The total number of sessions accepted.",
	})
	DecryptFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_decrypt_failures_total",
		Help: "The total number of inbound frames that failed to decrypt.",
	})
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_rate_limited_total",
		Help: "The total number of inbound messages discarded by the rate limiter.",
	})

	// Room Metrics
	Rooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_rooms",
		Help: "The current number of rooms.",
	})

	// Message Metrics
	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_received_total",
		Help: "The total number of decrypted messages received from clients.",
	})
	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_commands_total",
		Help: "The total number of parsed inbound lines by command kind.",
	}, []string{"command"})
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_deliveries_total",
		Help: "The total number of messages queued to recipients by audience.",
	}, []string{"audience"})
	DeliveryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_delivery_failures_total",
		Help: "The total number of per-recipient delivery failures by reason.",
	}, []string{"reason"})
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
