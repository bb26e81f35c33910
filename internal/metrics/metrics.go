// Package metrics holds the Prometheus collectors shared by the backend services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "soilwatch"

type Metrics struct {
	MessagesIngested prometheus.Counter
	MessagesRejected prometheus.Counter
	MessagesDropped  prometheus.Counter
	LogEntries       *prometheus.CounterVec // label: kind
	StoreErrors      *prometheus.CounterVec // label: op

	Observers    prometheus.Gauge
	FanoutDrops  prometheus.Counter
	EventsPushed *prometheus.CounterVec // label: type

	ResolverSource    *prometheus.CounterVec // label: source (raw|aggregate)
	ResolverFallbacks prometheus.Counter

	CommandsPublished prometheus.Counter
	CommandsFailed    prometheus.Counter

	LinkUp prometheus.Gauge
}

// New registers every collector on reg. A nil reg uses a private registry,
// which keeps tests from colliding on the global one.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		MessagesIngested: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "messages_total",
			Help: "Telemetry messages persisted as readings.",
		}),
		MessagesRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "rejected_total",
			Help: "Telemetry messages dropped as malformed.",
		}),
		MessagesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "dropped_total",
			Help: "Telemetry messages dropped because the ingest queue stayed full.",
		}),
		LogEntries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "log_entries_total",
			Help: "System log entries written, by kind.",
		}, []string{"kind"}),
		StoreErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "storage", Name: "errors_total",
			Help: "Storage operations that failed, by operation.",
		}, []string{"op"}),
		Observers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "fanout", Name: "observers",
			Help: "Open live observer connections.",
		}),
		FanoutDrops: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fanout", Name: "drops_total",
			Help: "Observer connections dropped because their buffer was full.",
		}),
		EventsPushed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fanout", Name: "events_total",
			Help: "Events broadcast to observers, by envelope type.",
		}, []string{"type"}),
		ResolverSource: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "timerange", Name: "source_total",
			Help: "Resolved window queries, by data source actually served.",
		}, []string{"source"}),
		ResolverFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "timerange", Name: "fallbacks_total",
			Help: "Aggregate queries that fell back to raw readings.",
		}),
		CommandsPublished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "command", Name: "published_total",
			Help: "Control commands handed to the broker.",
		}),
		CommandsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "command", Name: "failed_total",
			Help: "Control commands the broker did not accept.",
		}),
		LinkUp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "broker", Name: "link_up",
			Help: "1 when the telemetry link is connected.",
		}),
	}
}

// Nop returns collectors bound to a throwaway registry.
func Nop() *Metrics { return New(nil) }
