// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Analysis stages.
const (
	StageIngest    = "ingest"
	StageScore     = "score"
	StageStress    = "stress"
	StageAggregate = "aggregate"
	StageInsight   = "insight"
)

// Registry holds every Kestrel collector on its own prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	Analyses       *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
	EntitiesScored *prometheus.CounterVec
	RiskLevels     *prometheus.CounterVec
	CacheRequests  *prometheus.CounterVec
	Jobs           *prometheus.CounterVec
	Exports        *prometheus.CounterVec
	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
}

// New creates and registers the collectors, plus the Go runtime and
// process collectors.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		Analyses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_analyses_total",
				Help: "Analysis runs by module and outcome",
			},
			[]string{"module", "status"},
		),

		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kestrel_stage_duration_seconds",
				Help:    "Duration of each analysis stage in seconds",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"module", "stage"},
		),

		EntitiesScored: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_entities_scored_total",
				Help: "Scored entities by module",
			},
			[]string{"module"},
		),

		RiskLevels: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_entities_by_level_total",
				Help: "Scored entities by module and risk level",
			},
			[]string{"module", "level"},
		),

		CacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_report_cache_requests_total",
				Help: "Report cache lookups by result",
			},
			[]string{"result"},
		),

		Jobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_jobs_total",
				Help: "Asynchronous jobs by final status",
			},
			[]string{"status"},
		),

		Exports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_exports_total",
				Help: "Exports by format",
			},
			[]string{"format"},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_http_requests_total",
				Help: "HTTP requests by method, route and status code",
			},
			[]string{"method", "route", "code"},
		),

		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kestrel_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	r.reg.MustRegister(
		r.Analyses,
		r.StageDuration,
		r.EntitiesScored,
		r.RiskLevels,
		r.CacheRequests,
		r.Jobs,
		r.Exports,
		r.HTTPRequests,
		r.HTTPDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// ObserveStage records how long a stage took. A nil registry is a no-op so
// callers without metrics need no guards.
func (r *Registry) ObserveStage(module, stage string, start time.Time) {
	if r == nil {
		return
	}
	r.StageDuration.WithLabelValues(module, stage).Observe(time.Since(start).Seconds())
}

// Analysis counts one finished run.
func (r *Registry) Analysis(module, status string) {
	if r == nil {
		return
	}
	r.Analyses.WithLabelValues(module, status).Inc()
}

// Scored counts entities and their risk levels.
func (r *Registry) Scored(module string, levels map[string]int) {
	if r == nil {
		return
	}
	total := 0
	for level, n := range levels {
		r.RiskLevels.WithLabelValues(module, level).Add(float64(n))
		total += n
	}
	r.EntitiesScored.WithLabelValues(module).Add(float64(total))
}

// Cache counts a report cache lookup.
func (r *Registry) Cache(hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.CacheRequests.WithLabelValues(result).Inc()
}

// Job counts a finished job.
func (r *Registry) Job(status string) {
	if r == nil {
		return
	}
	r.Jobs.WithLabelValues(status).Inc()
}

// Export counts an export.
func (r *Registry) Export(format string) {
	if r == nil {
		return
	}
	r.Exports.WithLabelValues(format).Inc()
}

// Request records one HTTP request.
func (r *Registry) Request(method, route string, code int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	r.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
