package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveSessions is the number of Active connection sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collab_active_sessions",
			Help: "Number of active collaboration sessions",
		},
	)

	// LiveInstances is the number of document instances held in memory.
	LiveInstances = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collab_live_instances",
			Help: "Number of document instances loaded in memory",
		},
	)

	// StepsAccepted counts individual steps accepted across all documents.
	StepsAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collab_steps_accepted_total",
			Help: "Total number of accepted steps",
		},
	)

	// BatchesRejected counts rejected step batches.
	// Labels: reason (version_mismatch/apply_failed/invalid)
	BatchesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_batches_rejected_total",
			Help: "Total number of rejected step batches by reason",
		},
		[]string{"reason"},
	)

	// SavesTotal counts debounced snapshot writes.
	// Labels: status (success/error)
	SavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_snapshot_saves_total",
			Help: "Total number of snapshot writes by status",
		},
		[]string{"status"},
	)

	// ArchiveJobsTotal counts step archive jobs.
	// Labels: status (success/error/dropped)
	ArchiveJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_archive_jobs_total",
			Help: "Total number of step archive jobs by status",
		},
		[]string{"status"},
	)

	// HeartbeatTerminations counts sockets closed by the liveness monitor.
	HeartbeatTerminations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collab_heartbeat_terminations_total",
			Help: "Total number of sockets terminated for missing pongs",
		},
	)

	// SaveDuration is the latency of snapshot writes in seconds.
	SaveDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "collab_snapshot_save_duration_seconds",
			Help:    "Snapshot write duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)
)

// RecordSave records the outcome of one snapshot write.
func RecordSave(success bool, durationSeconds float64) {
	status := "success"
	if !success {
		status = "error"
	}
	SavesTotal.WithLabelValues(status).Inc()
	SaveDuration.Observe(durationSeconds)
}

// RecordRejected records a rejected batch.
func RecordRejected(reason string) {
	BatchesRejected.WithLabelValues(reason).Inc()
}

// RecordArchive records the outcome of one archive job.
func RecordArchive(status string) {
	ArchiveJobsTotal.WithLabelValues(status).Inc()
}
