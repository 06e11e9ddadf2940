// Package metrics holds the prometheus collectors for one pipeline process.
//
// All Record* helpers accept a nil *Registry so stages can run without
// metrics in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all collectors for the application.
type Registry struct {
	// Fetch / parse
	FetchesTotal *prometheus.CounterVec // result: ok, error
	EntriesTotal *prometheus.CounterVec // outcome: decoded, degraded, dropped
	PoolNodes    prometheus.Gauge

	// Region
	RegionNodes *prometheus.GaugeVec // region

	// Probe
	ProbesTotal  *prometheus.CounterVec // stage, result
	ProbeLatency prometheus.Histogram

	// Rank / run
	RankedNodes prometheus.Gauge
	RunsTotal   *prometheus.CounterVec // result: ok, empty, error
	RunDuration prometheus.Histogram

	registry *prometheus.Registry
}

// NewRegistry creates a registry with every collector registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{registry: reg}
	f := promauto.With(reg)

	r.FetchesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodesieve_fetches_total",
			Help: "Subscription fetches by result",
		},
		[]string{"result"},
	)
	r.EntriesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodesieve_entries_total",
			Help: "Subscription entries by parse outcome",
		},
		[]string{"outcome"},
	)
	r.PoolNodes = f.NewGauge(prometheus.GaugeOpts{
		Name: "nodesieve_pool_nodes",
		Help: "Nodes in the deduplicated pool of the last run",
	})
	r.RegionNodes = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nodesieve_region_nodes",
			Help: "Nodes tagged per region in the last run",
		},
		[]string{"region"},
	)
	r.ProbesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodesieve_probes_total",
			Help: "Probe outcomes by stage",
		},
		[]string{"stage", "result"},
	)
	r.ProbeLatency = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "nodesieve_probe_latency_seconds",
		Help:    "Stage 2 latency of reachable nodes",
		Buckets: []float64{0.025, 0.05, 0.1, 0.2, 0.4, 0.8, 1.6, 3.2},
	})
	r.RankedNodes = f.NewGauge(prometheus.GaugeOpts{
		Name: "nodesieve_ranked_nodes",
		Help: "Nodes in the ranked set of the last run",
	})
	r.RunsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodesieve_runs_total",
			Help: "Pipeline runs by result",
		},
		[]string{"result"},
	)
	r.RunDuration = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "nodesieve_run_duration_seconds",
		Help:    "Wall time of a pipeline run",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})
	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry.
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}

func (r *Registry) RecordFetch(err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.FetchesTotal.WithLabelValues("error").Inc()
		return
	}
	r.FetchesTotal.WithLabelValues("ok").Inc()
}

func (r *Registry) RecordEntries(outcome string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.EntriesTotal.WithLabelValues(outcome).Add(float64(n))
}

func (r *Registry) SetPool(n int) {
	if r == nil {
		return
	}
	r.PoolNodes.Set(float64(n))
}

func (r *Registry) SetRegion(region string, n int) {
	if r == nil {
		return
	}
	r.RegionNodes.WithLabelValues(region).Set(float64(n))
}

// RecordProbe counts one probe outcome; latency is observed only for passes.
func (r *Registry) RecordProbe(stage, result string, latency time.Duration) {
	if r == nil {
		return
	}
	r.ProbesTotal.WithLabelValues(stage, result).Inc()
	if result == "pass" && latency > 0 {
		r.ProbeLatency.Observe(latency.Seconds())
	}
}

func (r *Registry) SetRanked(n int) {
	if r == nil {
		return
	}
	r.RankedNodes.Set(float64(n))
}

func (r *Registry) RecordRun(result string, d time.Duration) {
	if r == nil {
		return
	}
	r.RunsTotal.WithLabelValues(result).Inc()
	r.RunDuration.Observe(d.Seconds())
}
