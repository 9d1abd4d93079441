package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the hub's Prometheus instruments.
type Metrics struct {
	Connections     prometheus.Gauge
	Joins           *prometheus.CounterVec
	AdminActions    *prometheus.CounterVec
	Conflicts       *prometheus.CounterVec
	MessagesPosted  prometheus.Counter
	MessagesDeleted prometheus.Counter
	Flushes         *prometheus.CounterVec
}

// NewMetrics creates the hub metrics and registers them with reg. A nil reg
// leaves them unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "lanchat",
			Name:      "connections",
			Help:      "Live websocket connections attached to the hub.",
		}),
		Joins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lanchat",
			Name:      "joins_total",
			Help:      "Join requests by outcome.",
		}, []string{"outcome"}),
		AdminActions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lanchat",
			Name:      "admin_actions_total",
			Help:      "Membership decisions by action.",
		}, []string{"action"}),
		Conflicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lanchat",
			Name:      "admin_conflicts_total",
			Help:      "Resolved admin conflicts by outcome.",
		}, []string{"outcome"}),
		MessagesPosted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "lanchat",
			Name:      "messages_posted_total",
			Help:      "Messages appended to the log.",
		}),
		MessagesDeleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "lanchat",
			Name:      "messages_deleted_total",
			Help:      "Messages tombstoned by their sender.",
		}),
		Flushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lanchat",
			Name:      "store_flushes_total",
			Help:      "Snapshot flushes to the durable store by result.",
		}, []string{"result"}),
	}
}
