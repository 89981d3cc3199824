package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIngest struct{ at time.Time }

func (f fakeIngest) Heartbeat() time.Time { return f.at }

type fakeReady struct{ ok bool }

func (f fakeReady) AllHealthyOrDegraded() bool { return f.ok }

type fakeRegistry struct{ initialized bool }

func (f fakeRegistry) Initialized() bool { return f.initialized }

func TestHandleHealthReportsHealthyWithFreshHeartbeat(t *testing.T) {
	c := New("1.0.0", fakeIngest{at: time.Now()}, fakeReady{ok: true}, fakeRegistry{initialized: true}, time.Second)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	c.HandleHealth(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "1.0.0", resp.Version)
}

func TestHandleHealthReportsDegradedWithStaleHeartbeat(t *testing.T) {
	c := New("1.0.0", fakeIngest{at: time.Now().Add(-time.Hour)}, fakeReady{ok: true}, fakeRegistry{initialized: true}, time.Second)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	c.HandleHealth(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, StatusDegraded, resp.Status)
}

func TestHandleHealthReportsUnhealthyBeforeInitialized(t *testing.T) {
	c := New("1.0.0", fakeIngest{}, fakeReady{ok: true}, fakeRegistry{initialized: false}, time.Second)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	c.HandleHealth(rr, req)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestHandleReadyFailsWhenResourcesUnhealthy(t *testing.T) {
	c := New("1.0.0", fakeIngest{at: time.Now()}, fakeReady{ok: false}, fakeRegistry{initialized: true}, time.Second)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rr := httptest.NewRecorder()
	c.HandleReady(rr, req)

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var resp ReadyResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "not-ready", resp.Status)
}

func TestHandleReadySucceedsWhenInitializedAndHealthy(t *testing.T) {
	c := New("1.0.0", fakeIngest{at: time.Now()}, fakeReady{ok: true}, fakeRegistry{initialized: true}, time.Second)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rr := httptest.NewRecorder()
	c.HandleReady(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}
