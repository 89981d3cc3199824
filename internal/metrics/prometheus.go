// Package metrics exposes the live analytics snapshot as Prometheus
// gauges and as the JSON endpoints the dashboard surface consumes.
//
// Grounded on the teacher's pkg/mcp/metrics/prometheus.go for the
// promauto registration pattern and Handler() wiring, narrowed to the
// five gauges the spec names instead of the teacher's open-ended
// per-tool counter set.
package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"toolmesh/internal/analytics"
)

// Registry owns the five Prometheus gauges the spec names and keeps them
// in sync with the analytics pipeline's live snapshot.
type Registry struct {
	src Source
	reg *prometheus.Registry

	responseTimeSeconds prometheus.Gauge
	errorRate           prometheus.Gauge
	memoryUsageRatio    prometheus.Gauge
	healthScore         prometheus.Gauge
	requestRate         prometheus.Gauge
}

// Source is the read side of the analytics pipeline this package renders.
type Source interface {
	LiveSnapshot() analytics.LiveMetrics
	Trends() map[string][]analytics.TrendPoint
	ActiveAlerts() []analytics.Alert
	Patterns() []analytics.UsagePattern
}

// New registers the five gauges against a fresh registry scoped to this
// process - one per application rather than prometheus's global default,
// so a test can construct more than one Registry without tripping a
// duplicate-collector panic.
func New(src Source) *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Registry{
		src: src,
		reg: reg,
		responseTimeSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Name: "toolmesh_response_time_seconds",
			Help: "Average tool invocation response time in seconds over the rolling window.",
		}),
		errorRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "toolmesh_error_rate",
			Help: "Fraction of invocations in the rolling window that failed.",
		}),
		memoryUsageRatio: factory.NewGauge(prometheus.GaugeOpts{
			Name: "toolmesh_memory_usage_ratio",
			Help: "Fraction of the configured memory budget currently in use.",
		}),
		healthScore: factory.NewGauge(prometheus.GaugeOpts{
			Name: "toolmesh_health_score",
			Help: "Composite health score in [0,100] computed from error rate, latency, and resource pressure.",
		}),
		requestRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "toolmesh_request_rate",
			Help: "Invocations per second over the rolling window.",
		}),
	}
}

// Refresh pulls the latest LiveMetrics snapshot and updates the gauges.
// Call this periodically, or right before serving /metrics/prom.
func (r *Registry) Refresh() {
	snap := r.src.LiveSnapshot()
	r.responseTimeSeconds.Set(snap.AvgResponseTimeMS / 1000)
	r.errorRate.Set(snap.ErrorRate)
	r.memoryUsageRatio.Set(snap.MemoryUsagePct / 100)
	r.healthScore.Set(float64(snap.HealthScore))
	r.requestRate.Set(snap.RequestRate)
}

// Handler serves the Prometheus text exposition format at /metrics/prom,
// refreshing the gauges before each scrape.
func (r *Registry) Handler() http.Handler {
	h := promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.Refresh()
		h.ServeHTTP(w, req)
	})
}

// HandleMetrics serves GET /metrics: the live snapshot as JSON.
func (r *Registry) HandleMetrics(w http.ResponseWriter, req *http.Request) {
	r.Refresh()
	writeJSON(w, http.StatusOK, r.src.LiveSnapshot())
}

// HandleAlerts serves GET /alerts: currently active alerts.
func (r *Registry) HandleAlerts(w http.ResponseWriter, req *http.Request) {
	alerts := r.src.ActiveAlerts()
	if alerts == nil {
		alerts = []analytics.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

// PerformanceReport is the GET /performance body: trends plus detected
// usage patterns, the slower-moving complement to the live /metrics
// snapshot.
type PerformanceReport struct {
	Trends   map[string][]analytics.TrendPoint `json:"trends"`
	Patterns []analytics.UsagePattern          `json:"patterns"`
}

// HandlePerformance serves GET /performance.
func (r *Registry) HandlePerformance(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, PerformanceReport{
		Trends:   r.src.Trends(),
		Patterns: r.src.Patterns(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
