package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolmesh/internal/analytics"
)

type fakeSource struct {
	live     analytics.LiveMetrics
	trends   map[string][]analytics.TrendPoint
	alerts   []analytics.Alert
	patterns []analytics.UsagePattern
}

func (f fakeSource) LiveSnapshot() analytics.LiveMetrics       { return f.live }
func (f fakeSource) Trends() map[string][]analytics.TrendPoint { return f.trends }
func (f fakeSource) ActiveAlerts() []analytics.Alert           { return f.alerts }
func (f fakeSource) Patterns() []analytics.UsagePattern        { return f.patterns }

func TestHandleMetricsServesLiveSnapshot(t *testing.T) {
	src := fakeSource{live: analytics.LiveMetrics{
		AvgResponseTimeMS: 120,
		ErrorRate:         0.05,
		MemoryUsagePct:    42,
		HealthScore:       88,
		RequestRate:       7.5,
	}}
	reg := New(src)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	reg.HandleMetrics(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var got analytics.LiveMetrics
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, src.live, got)
}

func TestHandleAlertsReturnsEmptySliceNotNull(t *testing.T) {
	reg := New(fakeSource{})

	req := httptest.NewRequest(http.MethodGet, "/alerts", nil)
	rr := httptest.NewRecorder()
	reg.HandleAlerts(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())
}

func TestHandlePerformanceServesTrendsAndPatterns(t *testing.T) {
	src := fakeSource{
		trends:   map[string][]analytics.TrendPoint{"requestRate": {{Value: 1}}},
		patterns: []analytics.UsagePattern{{Category: "repetition"}},
	}
	reg := New(src)

	req := httptest.NewRequest(http.MethodGet, "/performance", nil)
	rr := httptest.NewRecorder()
	reg.HandlePerformance(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var got PerformanceReport
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Len(t, got.Trends["requestRate"], 1)
	assert.Equal(t, "repetition", got.Patterns[0].Category)
}

func TestRefreshUpdatesGaugesFromSnapshot(t *testing.T) {
	src := fakeSource{live: analytics.LiveMetrics{
		AvgResponseTimeMS: 500,
		ErrorRate:         0.1,
		MemoryUsagePct:    50,
		HealthScore:       70,
		RequestRate:       3,
	}}
	reg := New(src)
	reg.Refresh()

	rr := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics/prom", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "toolmesh_health_score 70")
	assert.Contains(t, rr.Body.String(), "toolmesh_response_time_seconds 0.5")
}
