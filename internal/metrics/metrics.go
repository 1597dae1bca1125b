// Package metrics holds the Prometheus instruments for the sync pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RemoteRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coursesync_remote_request_duration_seconds",
			Help:    "Duration of remote catalog API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "outcome"},
	)

	CoursesFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coursesync_courses_fetched_total",
			Help: "Total number of remote courses fetched",
		},
	)

	CoursesClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursesync_courses_classified_total",
			Help: "Total number of courses classified, by status",
		},
		[]string{"status"},
	)

	CoursesAutoOmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coursesync_courses_auto_omitted_total",
			Help: "Total number of courses added to the omitted set by catalog validation",
		},
	)

	ImportOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursesync_import_outcomes_total",
			Help: "Total number of per-course import outcomes",
		},
		[]string{"outcome"}, // imported, skipped, error
	)

	ImportRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coursesync_import_run_duration_seconds",
			Help:    "Duration of import runs in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 900},
		},
	)

	CatalogSource = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursesync_catalog_source_total",
			Help: "Where the approved title list came from",
		},
		[]string{"source"}, // cache, remote, fallback
	)

	OrphansDemoted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursesync_orphans_demoted_total",
			Help: "Tracking records demoted to available by cleanup",
		},
		[]string{"reason"},
	)

	ScheduledRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursesync_scheduled_runs_total",
			Help: "Scheduled pipeline runs by result",
		},
		[]string{"result"}, // success, failure
	)
)

// ObserveRemote records the latency of one remote API call.
func ObserveRemote(operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	RemoteRequestDuration.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
}

// RecordImport counts one per-course outcome.
func RecordImport(outcome string) {
	ImportOutcomes.WithLabelValues(outcome).Inc()
}

func RecordScheduledRun(ok bool) {
	if ok {
		ScheduledRuns.WithLabelValues("success").Inc()
		return
	}
	ScheduledRuns.WithLabelValues("failure").Inc()
}
