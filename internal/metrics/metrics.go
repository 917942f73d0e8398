// Package metrics exports sync outcomes as Prometheus metrics.
//
// A Collector owns its registry, so several collectors (one per test, or
// one per daemon) never collide on metric names.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mschirtzinger/issuesync/internal/reconcile"
	"github.com/mschirtzinger/issuesync/internal/types"
)

const namespace = "issuesync"

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultPartial = "partial"
)

// Collector implements reconcile.Reporter by updating Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	writes       *prometheus.CounterVec
	sessions     *prometheus.CounterVec
	repositories *prometheus.CounterVec
	lastSession  prometheus.Gauge
	duration     prometheus.Histogram
	batchSize    *prometheus.HistogramVec
}

var _ reconcile.Reporter = (*Collector)(nil)

// New creates a collector with a fresh registry. Go runtime and process
// collectors are registered alongside the sync metrics.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writes_total",
			Help:      "Remote writes issued, by operation and result.",
		}, []string{"op", "result"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Completed sync sessions, by result.",
		}, []string{"result"}),
		repositories: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repositories_total",
			Help:      "Repositories processed, by result.",
		}, []string{"result"}),
		lastSession: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_session_timestamp_seconds",
			Help:      "Unix time the last sync session finished.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall time of sync sessions.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		batchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of writes issued concurrently per batch.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
		}, []string{"op"}),
	}

	c.registry.MustRegister(
		c.writes,
		c.sessions,
		c.repositories,
		c.lastSession,
		c.duration,
		c.batchSize,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) RepositoryStarted(string) {}

func (c *Collector) BatchCompleted(op reconcile.Op, _, size, _ int) {
	c.batchSize.WithLabelValues(string(op)).Observe(float64(size))
}

func (c *Collector) ItemSucceeded(op reconcile.Op, _ *types.Issue, _ string) {
	c.writes.WithLabelValues(string(op), ResultSuccess).Inc()
}

func (c *Collector) ItemFailed(failure *reconcile.ItemError) {
	c.writes.WithLabelValues(string(failure.Op), ResultFailure).Inc()
}

func (c *Collector) RepositoryCompleted(report *reconcile.RepositoryReport) {
	c.repositories.WithLabelValues(repositoryResult(report)).Inc()
}

func (c *Collector) SessionCompleted(report *reconcile.SessionReport, err error) {
	c.sessions.WithLabelValues(sessionResult(report, err)).Inc()

	finished := time.Now()
	if report != nil {
		if !report.FinishedAt.IsZero() {
			finished = report.FinishedAt
		}
		if d := report.Duration(); d > 0 {
			c.duration.Observe(d.Seconds())
		}
	}
	c.lastSession.Set(float64(finished.UnixNano()) / 1e9)
}

func repositoryResult(report *reconcile.RepositoryReport) string {
	switch {
	case report.Err != nil:
		return ResultFailure
	case report.Failures() > 0:
		return ResultPartial
	default:
		return ResultSuccess
	}
}

func sessionResult(report *reconcile.SessionReport, err error) string {
	switch {
	case err != nil:
		return ResultFailure
	case report != nil && report.HasFailures():
		return ResultPartial
	default:
		return ResultSuccess
	}
}
