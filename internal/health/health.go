// Package health implements the liveness/readiness surface: GET /health and
// GET /ready, backed by the ingest worker's heartbeat and the resource
// pool's lifecycle classification.
//
// Grounded on the teacher's health checker (pkg/mcp/health/health.go) for
// the Status enum and HTTP handler shape, narrowed to exactly the two
// checks the spec names instead of a general-purpose registered-check
// framework.
package health

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"
)

// Status is the three-level health classification the /health endpoint
// reports.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// IngestHeartbeat reports when the analytics ingest worker last processed
// the queue.
type IngestHeartbeat interface {
	Heartbeat() time.Time
}

// ReadinessSource reports whether every registered resource is healthy or
// degraded (not unhealthy).
type ReadinessSource interface {
	AllHealthyOrDegraded() bool
}

// RegistryState reports whether bootstrap has completed.
type RegistryState interface {
	Initialized() bool
}

// Checker wires the liveness/readiness handlers to the live process state.
type Checker struct {
	startedAt time.Time
	version   string

	ingest   IngestHeartbeat
	ready    ReadinessSource
	registry RegistryState

	maxHeartbeatAge time.Duration
}

// New constructs a Checker. maxHeartbeatAge bounds how stale the ingest
// worker's heartbeat may be before /health reports degraded (still 200).
func New(version string, ingest IngestHeartbeat, ready ReadinessSource, registry RegistryState, maxHeartbeatAge time.Duration) *Checker {
	if maxHeartbeatAge <= 0 {
		maxHeartbeatAge = 10 * time.Second
	}
	return &Checker{
		startedAt:       time.Now(),
		version:         version,
		ingest:          ingest,
		ready:           ready,
		registry:        registry,
		maxHeartbeatAge: maxHeartbeatAge,
	}
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status        Status    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	UptimeSeconds float64   `json:"uptimeSeconds"`
	Memory        Memory    `json:"memory"`
	Version       string    `json:"version"`
}

// Memory is a coarse memory usage report from the Go runtime.
type Memory struct {
	AllocBytes      uint64 `json:"allocBytes"`
	SysBytes        uint64 `json:"sysBytes"`
	NumGoroutine    int    `json:"numGoroutine"`
}

func (c *Checker) status() Status {
	if !c.registry.Initialized() {
		return StatusUnhealthy
	}
	if time.Since(c.ingest.Heartbeat()) > c.maxHeartbeatAge && !c.ingest.Heartbeat().IsZero() {
		return StatusDegraded
	}
	return StatusHealthy
}

// HandleHealth serves GET /health.
func (c *Checker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	status := c.status()
	resp := HealthResponse{
		Status:        status,
		Timestamp:     time.Now().UTC(),
		UptimeSeconds: time.Since(c.startedAt).Seconds(),
		Memory: Memory{
			AllocBytes:   ms.Alloc,
			SysBytes:     ms.Sys,
			NumGoroutine: runtime.NumGoroutine(),
		},
		Version: c.version,
	}

	code := http.StatusOK
	if status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// ReadyResponse is the GET /ready body.
type ReadyResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HandleReady serves GET /ready: 200 only when every registered resource
// is healthy or degraded.
func (c *Checker) HandleReady(w http.ResponseWriter, r *http.Request) {
	if !c.registry.Initialized() || (c.ready != nil && !c.ready.AllHealthyOrDegraded()) {
		writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{Status: "not-ready", Timestamp: time.Now().UTC()})
		return
	}
	writeJSON(w, http.StatusOK, ReadyResponse{Status: "ready", Timestamp: time.Now().UTC()})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
