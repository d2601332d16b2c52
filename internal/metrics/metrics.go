package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Accounting metrics
	InvalidEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotakeeper_invalid_events_total",
			Help: "Usage events dropped during accounting",
		},
		[]string{"reason"},
	)

	EventsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotakeeper_events_recorded_total",
			Help: "Usage events appended to the event store",
		},
		[]string{"kind", "result"},
	)

	OwnerRemaining = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quotakeeper_owner_remaining_seconds",
			Help: "Remaining daily budget per owner",
		},
		[]string{"owner"},
	)

	OwnerCharged = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quotakeeper_owner_charged_seconds",
			Help: "Chargeable usage recorded today per owner",
		},
		[]string{"owner"},
	)

	// Sweep metrics
	ReconcileRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotakeeper_reconcile_runs_total",
			Help: "Reconciliation sweeps by outcome",
		},
		[]string{"result"},
	)

	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quotakeeper_reconcile_duration_seconds",
			Help:    "Reconciliation sweep duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	OwnersSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotakeeper_owners_skipped_total",
			Help: "Owners whose unit of work was skipped for this run",
		},
		[]string{"reason"},
	)

	LedgerResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quotakeeper_ledger_resets_total",
			Help: "Ledger entries reset to the daily budget",
		},
	)

	// Reclamation metrics
	EntitiesStopped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotakeeper_entities_stopped_total",
			Help: "Entities stopped by the reclaimer",
		},
		[]string{"trigger"},
	)

	StopFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quotakeeper_stop_failures_total",
			Help: "Stop commands that failed after retries",
		},
	)

	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotakeeper_notifications_total",
			Help: "Owner notifications by outcome",
		},
		[]string{"result"},
	)

	// Policy metrics
	PolicyDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotakeeper_policy_decisions_total",
			Help: "Gate decisions by action and reason",
		},
		[]string{"action", "allowed", "reason"},
	)

	DeferredTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotakeeper_deferred_tasks_total",
			Help: "Deferred tasks by outcome",
		},
		[]string{"kind", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		InvalidEvents,
		EventsRecorded,
		OwnerRemaining,
		OwnerCharged,
		ReconcileRuns,
		ReconcileDuration,
		OwnersSkipped,
		LedgerResets,
		EntitiesStopped,
		StopFailures,
		Notifications,
		PolicyDecisions,
		DeferredTasks,
	)
}
