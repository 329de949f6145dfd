package contributor

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zkceremony/contributor/metrics"
)

// Metrics tracks session activity.
type Metrics struct {
	SnapshotsTotal         prometheus.Counter
	RulesFiredTotal        *prometheus.CounterVec
	ContributionsCompleted prometheus.Counter
	SessionActive          prometheus.Gauge
}

// NewMetrics registers the session metrics. A nil registerer uses the
// default prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	r := metrics.NewComponentRegistry("contributor", reg)
	return &Metrics{
		SnapshotsTotal: r.NewCounter(prometheus.CounterOpts{
			Name: "snapshots_total",
			Help: "Participant snapshots dispatched.",
		}),
		RulesFiredTotal: r.NewCounterVec(prometheus.CounterOpts{
			Name: "rules_fired_total",
			Help: "Dispatch rules fired, by rule name.",
		}, []string{"rule"}),
		ContributionsCompleted: r.NewCounter(prometheus.CounterOpts{
			Name: "contributions_completed_total",
			Help: "Circuit contributions completed and verified.",
		}),
		SessionActive: r.NewGauge(prometheus.GaugeOpts{
			Name: "session_active",
			Help: "Whether a contribution session is currently attached.",
		}),
	}
}

// NopMetrics returns metrics bound to a throwaway registry.
func NopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
