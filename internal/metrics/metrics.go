// Package metrics exposes prometheus instrumentation for the commit
// pipeline, the resolver, and the changeset and index side channels.
//
// All Record methods are safe on a nil *Metrics, so components take an
// optional metrics value without guarding every call.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "termvc"

// Metrics holds every collector.
type Metrics struct {
	registry *prometheus.Registry

	CommitsTotal      *prometheus.CounterVec
	CommitDuration    prometheus.Histogram
	ComponentsTotal   prometheus.Gauge
	ResolvesTotal     *prometheus.CounterVec
	ResolveDuration   prometheus.Histogram
	CacheLookups      *prometheus.CounterVec
	IndexSyncTotal    *prometheus.CounterVec
	ChangesetRecords  *prometheus.CounterVec
	ChangesetFailures prometheus.Counter
}

// New creates and registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		CommitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "commit",
				Name:      "total",
				Help:      "Commit batches by outcome (committed, rejected, failed)",
			},
			[]string{"outcome"},
		),

		CommitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "commit",
				Name:      "duration_seconds",
				Help:      "Commit pipeline duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),

		ComponentsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "components",
				Help:      "Number of components held in memory",
			},
		),

		ResolvesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "resolve",
				Name:      "total",
				Help:      "Resolutions by result (version, absent, contradiction, error)",
			},
			[]string{"result"},
		),

		ResolveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "resolve",
				Name:      "duration_seconds",
				Help:      "Resolution duration in seconds, cache misses only",
				Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
			},
		),

		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "resolve",
				Name:      "cache_lookups_total",
				Help:      "Resolve cache lookups by result (hit, miss)",
			},
			[]string{"result"},
		),

		IndexSyncTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "index",
				Name:      "sync_total",
				Help:      "Index-sync hook runs by outcome (ok, retried, failed)",
			},
			[]string{"outcome"},
		),

		ChangesetRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "changeset",
				Name:      "records_total",
				Help:      "Changeset records by direction (written, applied)",
			},
			[]string{"direction"},
		),

		ChangesetFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "changeset",
				Name:      "failures_total",
				Help:      "Changeset records that could not be written or applied",
			},
		),
	}

	m.registry.MustRegister(
		m.CommitsTotal,
		m.CommitDuration,
		m.ComponentsTotal,
		m.ResolvesTotal,
		m.ResolveDuration,
		m.CacheLookups,
		m.IndexSyncTotal,
		m.ChangesetRecords,
		m.ChangesetFailures,
	)
	return m
}

// Registry returns the prometheus registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// RecordCommit counts a commit batch and its duration.
func (m *Metrics) RecordCommit(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.CommitsTotal.WithLabelValues(outcome).Inc()
	m.CommitDuration.Observe(d.Seconds())
}

// SetComponents updates the in-memory component count.
func (m *Metrics) SetComponents(n int) {
	if m == nil {
		return
	}
	m.ComponentsTotal.Set(float64(n))
}

// RecordResolve counts a resolution result. A zero duration (cache hit) is
// not observed.
func (m *Metrics) RecordResolve(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.ResolvesTotal.WithLabelValues(result).Inc()
	if d > 0 {
		m.ResolveDuration.Observe(d.Seconds())
	}
}

// RecordCacheLookup counts a resolve cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// RecordIndexSync counts an index-sync hook outcome.
func (m *Metrics) RecordIndexSync(outcome string) {
	if m == nil {
		return
	}
	m.IndexSyncTotal.WithLabelValues(outcome).Inc()
}

// RecordChangeset counts changeset records moved in one direction.
func (m *Metrics) RecordChangeset(direction string, n int) {
	if m == nil {
		return
	}
	m.ChangesetRecords.WithLabelValues(direction).Add(float64(n))
}

// RecordChangesetFailure counts a changeset record that was dropped.
func (m *Metrics) RecordChangesetFailure() {
	if m == nil {
		return
	}
	m.ChangesetFailures.Inc()
}

// Serve exposes the metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
