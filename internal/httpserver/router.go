// Package httpserver assembles the chi router serving the health, metrics,
// and WebSocket endpoints together on the one HEALTH_PORT listener.
//
// Grounded on the teacher's internal/api/router.go chi.Mux setup
// (recoverer-first middleware stack, request size limit, Heartbeat
// ping route), narrowed to the fixed endpoint set the spec names
// instead of the teacher's task/PRD CRUD surface.
package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"toolmesh/internal/health"
	"toolmesh/internal/metrics"
	"toolmesh/internal/prompts"
	"toolmesh/internal/transport"
)

// Router builds the health/metrics HTTP surface.
type Router struct {
	mux *chi.Mux
}

// New assembles the router: GET /health, /ready, /metrics, /alerts,
// /performance, /metrics/prom, POST /prompts/{name}/render, and GET /ws.
func New(checker *health.Checker, reg *metrics.Registry, ws *transport.WebSocket, prompt *prompts.Handler) *Router {
	mux := chi.NewRouter()
	mux.Use(chimiddleware.Recoverer)
	mux.Use(chimiddleware.RequestSize(1 << 20))
	mux.Use(chimiddleware.Timeout(10 * time.Second))

	mux.Get("/health", checker.HandleHealth)
	mux.Get("/ready", checker.HandleReady)
	mux.Get("/metrics", reg.HandleMetrics)
	mux.Get("/alerts", reg.HandleAlerts)
	mux.Get("/performance", reg.HandlePerformance)
	mux.Handle("/metrics/prom", reg.Handler())

	if prompt != nil {
		mux.Post("/prompts/{name}/render", prompt.HandleRender)
	}

	if ws != nil {
		mux.Get("/ws", ws.ServeHTTP)
	}

	return &Router{mux: mux}
}

// Handler returns the assembled http.Handler.
func (r *Router) Handler() http.Handler {
	return r.mux
}
