// Package metrics provides Prometheus metrics for grants, sessions and
// transcripts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voiceroom"

// Metrics holds all Prometheus metrics for the module.
type Metrics struct {
	// Grant metrics
	GrantsIssued   prometheus.Counter
	GrantsRejected *prometheus.CounterVec

	// Session metrics
	SessionsStarted  prometheus.Counter
	SessionsEnded    *prometheus.CounterVec
	SessionState     *prometheus.GaugeVec
	StaleGrantResult prometheus.Counter
	AgentTurns       *prometheus.CounterVec

	// Transcript metrics
	SegmentsApplied *prometheus.CounterVec
	ProjectionSize  prometheus.Gauge

	// Viewer metrics
	ViewersConnected prometheus.Gauge
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all metrics with the default registry.
// Call it once per process.
func NewMetrics() *Metrics {
	return &Metrics{
		GrantsIssued: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grants_issued_total",
			Help:      "Total capability grants signed",
		}),
		GrantsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grants_rejected_total",
			Help:      "Grant requests that failed, by error kind",
		}, []string{"kind"}),
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Sessions that entered the connecting state",
		}),
		SessionsEnded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Sessions that returned to disconnected, by reason",
		}, []string{"reason"}),
		SessionState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "1 for the connection state the session is currently in",
		}, []string{"state"}),
		StaleGrantResult: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_grant_results_total",
			Help:      "Grant results dropped because the session had moved on",
		}),
		AgentTurns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_turns_total",
			Help:      "Agent turn changes applied, by turn",
		}, []string{"turn"}),
		SegmentsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_segments_applied_total",
			Help:      "Transcript segments upserted, by speaker and finality",
		}, []string{"speaker", "final"}),
		ProjectionSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transcript_projection_size",
			Help:      "Messages in the most recent displayed projection",
		}),
		ViewersConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "viewers_connected",
			Help:      "Websocket transcript viewers currently attached",
		}),
	}
}
