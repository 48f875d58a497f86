// Package metrics declares StoryFill's Prometheus metrics: a
// namespace/subsystem/name grouping, gauges for current state, counters
// for cumulative events, histograms for latency distributions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "storyfill",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of live rooms.",
	})

	RoomPlayers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "storyfill",
		Subsystem: "room",
		Name:      "players_count",
		Help:      "Number of players currently in each room.",
	}, []string{"room_id"})

	RoomStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storyfill",
		Subsystem: "room",
		Name:      "state_transitions_total",
		Help:      "Total room state machine transitions.",
	}, []string{"from", "to"})

	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "storyfill",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections.",
	})

	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storyfill",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total WebSocket events processed, by type and outcome.",
	}, []string{"event_type", "status"})

	SocketsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storyfill",
		Subsystem: "websocket",
		Name:      "sockets_dropped_total",
		Help:      "Total sockets closed by close code.",
	}, []string{"code"})

	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "storyfill",
		Subsystem: "command",
		Name:      "duration_seconds",
		Help:      "Time spent executing an HTTP command handler.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"command"})

	CommandErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storyfill",
		Subsystem: "command",
		Name:      "errors_total",
		Help:      "Total command errors, by command and error kind.",
	}, []string{"command", "kind"})

	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storyfill",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total requests that exceeded a rate limit bucket.",
	}, []string{"bucket"})

	NarrationJobsRequested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storyfill",
		Subsystem: "narration",
		Name:      "jobs_requested_total",
		Help:      "Total narration job requests, by outcome (new, cached, existing).",
	}, []string{"outcome"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "storyfill",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of a circuit breaker (0: Closed, 1: Open, 2: Half-Open).",
	}, []string{"service"})

	BusPublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storyfill",
		Subsystem: "bus",
		Name:      "publish_failures_total",
		Help:      "Total failures publishing an event to the broker-backed bus.",
	}, []string{"reason"})
)

func IncConnection() { ActiveWebSocketConnections.Inc() }
func DecConnection() { ActiveWebSocketConnections.Dec() }
