package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps the Prometheus collectors exported on the API server's
// /metrics endpoint. The in-memory Collector above remains the source of
// truth for Stats()/health snapshots; Registry exists so an operator's
// existing Prometheus scrape config also gets this process's numbers.
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	RetriesTotal    *prometheus.CounterVec
	CacheHitsTotal  *prometheus.CounterVec
	CacheMissTotal  *prometheus.CounterVec
	CacheSetsTotal  *prometheus.CounterVec
	CacheDelsTotal  *prometheus.CounterVec
	CacheEvictTotal *prometheus.CounterVec

	ProcessingDuration *prometheus.HistogramVec
	HTTPDuration       *prometheus.HistogramVec

	ActiveWorkers   *prometheus.GaugeVec
	PoolConnections *prometheus.GaugeVec
	MemoryUsage     prometheus.Gauge
}

// NewRegistry builds and registers every collector on a fresh Prometheus
// registry (not the global DefaultRegisterer, so tests can build one per case).
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bananas_requests_total",
			Help: "Total job submission requests handled, by queue.",
		}, []string{"queue"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bananas_errors_total",
			Help: "Total errors, by queue and error kind.",
		}, []string{"queue", "kind"}),
		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bananas_job_retries_total",
			Help: "Total job retry attempts, by queue.",
		}, []string{"queue"}),
		CacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bananas_cache_hits_total",
			Help: "Total cache hits, by tier.",
		}, []string{"tier"}),
		CacheMissTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bananas_cache_misses_total",
			Help: "Total cache misses.",
		}, []string{"tier"}),
		CacheSetsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bananas_cache_sets_total",
			Help: "Total cache writes.",
		}, []string{"tier"}),
		CacheDelsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bananas_cache_deletes_total",
			Help: "Total cache deletes, including tag invalidations.",
		}, []string{"tier"}),
		CacheEvictTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bananas_cache_evictions_total",
			Help: "Total L1 evictions triggered by the byte budget.",
		}, []string{"reason"}),
		ProcessingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bananas_job_processing_duration_seconds",
			Help:    "Job processing duration, by queue.",
			Buckets: prometheus.DefBuckets,
		}, []string{"queue"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bananas_http_request_duration_seconds",
			Help:    "HTTP request duration served by the API process.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method"}),
		ActiveWorkers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bananas_active_workers",
			Help: "Currently active worker goroutines, by queue.",
		}, []string{"queue"}),
		PoolConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bananas_redis_pool_connections",
			Help: "Redis connection pool gauges (idle, total).",
		}, []string{"state"}),
		MemoryUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bananas_process_memory_bytes",
			Help: "Process resident memory, sampled periodically.",
		}),
	}

	reg.MustRegister(
		r.RequestsTotal, r.ErrorsTotal, r.RetriesTotal,
		r.CacheHitsTotal, r.CacheMissTotal, r.CacheSetsTotal, r.CacheDelsTotal, r.CacheEvictTotal,
		r.ProcessingDuration, r.HTTPDuration,
		r.ActiveWorkers, r.PoolConnections, r.MemoryUsage,
	)
	return r
}

// Handler serves the registry's collectors in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
