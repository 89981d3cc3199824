package analytics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolmesh/internal/trace"
)

type fakeStorage struct {
	mu   sync.Mutex
	docs []trace.Document
}

func (f *fakeStorage) Put(ctx context.Context, doc trace.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, doc)
	return nil
}

func (f *fakeStorage) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs)
}

type fakeBroadcaster struct {
	mu       sync.Mutex
	metrics  []LiveMetrics
	alerts   []Alert
	patterns []UsagePattern
}

func (f *fakeBroadcaster) PublishMetrics(m LiveMetrics) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics = append(f.metrics, m)
}
func (f *fakeBroadcaster) PublishAlert(a Alert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a)
}
func (f *fakeBroadcaster) PublishPattern(p UsagePattern) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patterns = append(f.patterns, p)
}

func testConfig() Config {
	return Config{RingSize: 100, TrendPoints: 20, IngestQueueSize: 32}
}

func makeTrace(toolName string, success bool, latency time.Duration) trace.Document {
	tr := trace.New(trace.DefaultConfig(), "req", "", "")
	h := tr.StartRoot(toolName, "tool", nil)
	time.Sleep(time.Microsecond) // ensure end >= start with nonzero resolution
	_ = latency
	tr.Close(h, trace.Outcome{Success: success})
	return tr.ToDocument()
}

func drain(t *testing.T, storage *fakeStorage, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for storage.count() < want {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d traces to be persisted, got %d", want, storage.count())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestIngestUpdatesCounters(t *testing.T) {
	storage := &fakeStorage{}
	p := New(testConfig(), storage, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	p.Ingest(makeTrace("search", true, time.Millisecond))
	p.Ingest(makeTrace("search", false, time.Millisecond))
	drain(t, storage, 2)

	counters := p.Counters()
	assert.Equal(t, int64(2), counters.TotalRequests)
	assert.Equal(t, int64(1), counters.TotalErrors)
	assert.Equal(t, 2, counters.PerTool["search"])
}

func TestHealthScoreStartsAtHundredAndDegradesWithErrors(t *testing.T) {
	storage := &fakeStorage{}
	p := New(testConfig(), storage, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	for i := 0; i < 10; i++ {
		p.Ingest(makeTrace("search", i >= 2, time.Millisecond)) // 20% error rate
	}
	drain(t, storage, 10)

	live := p.LiveSnapshot()
	assert.GreaterOrEqual(t, live.HealthScore, 0)
	assert.LessOrEqual(t, live.HealthScore, 100)
	assert.Less(t, live.HealthScore, 100)
}

func TestErrorBurstEmitsAlertAndPattern(t *testing.T) {
	storage := &fakeStorage{}
	bcast := &fakeBroadcaster{}
	p := New(testConfig(), storage, bcast, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	for i := 0; i < 3; i++ {
		p.Ingest(makeTrace("flaky", false, time.Millisecond))
	}
	drain(t, storage, 3)

	alerts := p.ActiveAlerts()
	require.NotEmpty(t, alerts)

	patterns := p.Patterns()
	found := false
	for _, up := range patterns {
		if up.Category == "error-burst" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestErrorBurstReflectsLatestCountWithinDedupeWindow(t *testing.T) {
	storage := &fakeStorage{}
	bcast := &fakeBroadcaster{}
	p := New(testConfig(), storage, bcast, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	for i := 0; i < 5; i++ {
		p.Ingest(makeTrace("flaky", false, time.Millisecond))
	}
	drain(t, storage, 5)

	var pattern *UsagePattern
	for _, up := range p.Patterns() {
		if up.Category == "error-burst" {
			up := up
			pattern = &up
		}
	}
	require.NotNil(t, pattern)
	assert.Equal(t, 5, pattern.Frequency)

	alerts := p.ActiveAlerts()
	require.NotEmpty(t, alerts)
	var alert *Alert
	for _, a := range alerts {
		if a.Type == AlertError {
			a := a
			alert = &a
		}
	}
	require.NotNil(t, alert)
	assert.Equal(t, 5, alert.Data["count"])
}

func TestResolveAlertIsIdempotent(t *testing.T) {
	storage := &fakeStorage{}
	p := New(testConfig(), storage, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	for i := 0; i < 3; i++ {
		p.Ingest(makeTrace("flaky", false, time.Millisecond))
	}
	drain(t, storage, 3)

	alerts := p.ActiveAlerts()
	require.NotEmpty(t, alerts)
	id := alerts[0].ID

	assert.True(t, p.ResolveAlert(id))
	assert.True(t, p.ResolveAlert(id))
	assert.Len(t, p.ActiveAlerts(), len(alerts)-1)
}

func TestRepetitionPatternDetected(t *testing.T) {
	storage := &fakeStorage{}
	p := New(testConfig(), storage, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	for i := 0; i < repetitionThreshold; i++ {
		p.Ingest(makeTrace("repeat-me", true, time.Millisecond))
	}
	drain(t, storage, repetitionThreshold)

	patterns := p.Patterns()
	found := false
	for _, up := range patterns {
		if up.Category == "repetition" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestTrendSeriesEvictsOldestBeyondHorizon(t *testing.T) {
	s := NewTrendSeries(3)
	base := time.Now()
	s.Append(base, 1)
	s.Append(base.Add(time.Second), 2)
	s.Append(base.Add(2*time.Second), 3)
	s.Append(base.Add(3*time.Second), 4)

	vals := s.Values()
	require.Len(t, vals, 3)
	assert.Equal(t, 2.0, vals[0].Value)
	assert.Equal(t, 4.0, vals[2].Value)
}
