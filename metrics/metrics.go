// Package metrics exposes Prometheus instrumentation for commits, runs and
// step dispatch. A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the registered metric vectors.
type Collector struct {
	registry *prometheus.Registry

	versionsCommitted  *prometheus.CounterVec
	duplicateUploads   prometheus.Counter
	similarityWarnings prometheus.Counter
	syncConflicts      *prometheus.CounterVec
	runsFinished       *prometheus.CounterVec
	stepResults        *prometheus.CounterVec
	stepAttempts       *prometheus.CounterVec
	healingInvocations *prometheus.CounterVec
	stepDuration       *prometheus.HistogramVec
}

// New creates a collector on its own registry, with process and Go runtime
// collectors included.
func New(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c := &Collector{
		registry: reg,
		versionsCommitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "versions_committed_total",
			Help:      "Test-set versions committed, by source.",
		}, []string{"source"}),
		duplicateUploads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_uploads_total",
			Help:      "Uploads identical to the latest version.",
		}),
		similarityWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "similarity_warnings_total",
			Help:      "Commits flagged as highly similar to their predecessor.",
		}),
		syncConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_conflicts_total",
			Help:      "Conflicts surfaced by sheet reconciliation, by kind.",
		}, []string{"kind"}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Runs that reached a terminal status.",
		}, []string{"status"}),
		stepResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_results_total",
			Help:      "Recorded step results, by backend and status.",
		}, []string{"backend", "status"}),
		stepAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_attempts_total",
			Help:      "Backend invocations made for steps, by backend.",
		}, []string{"backend"}),
		healingInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "healing_invocations_total",
			Help:      "Self-healing invocations, by backend.",
		}, []string{"backend"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall time spent executing a step including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),
	}

	reg.MustRegister(
		c.versionsCommitted,
		c.duplicateUploads,
		c.similarityWarnings,
		c.syncConflicts,
		c.runsFinished,
		c.stepResults,
		c.stepAttempts,
		c.healingInvocations,
		c.stepDuration,
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) VersionCommitted(source string) {
	if c == nil {
		return
	}
	c.versionsCommitted.WithLabelValues(source).Inc()
}

func (c *Collector) DuplicateUpload() {
	if c == nil {
		return
	}
	c.duplicateUploads.Inc()
}

func (c *Collector) SimilarityWarning() {
	if c == nil {
		return
	}
	c.similarityWarnings.Inc()
}

func (c *Collector) SyncConflict(kind string) {
	if c == nil {
		return
	}
	c.syncConflicts.WithLabelValues(kind).Inc()
}

func (c *Collector) RunFinished(status string) {
	if c == nil {
		return
	}
	c.runsFinished.WithLabelValues(status).Inc()
}

// StepRecorded counts a recorded step result. Skipped steps report zero attempts.
func (c *Collector) StepRecorded(backend, status string, attempts, healing int, elapsed time.Duration) {
	if c == nil {
		return
	}
	if backend == "" {
		backend = "none"
	}
	c.stepResults.WithLabelValues(backend, status).Inc()
	if attempts > 0 {
		c.stepAttempts.WithLabelValues(backend).Add(float64(attempts))
		c.stepDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
	}
	if healing > 0 {
		c.healingInvocations.WithLabelValues(backend).Add(float64(healing))
	}
}
