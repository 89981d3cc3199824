// Package pool implements the per-resource connection pool described in
// the resource-pool component: acquire/release/probe/cleanupIdle, blocking
// waiters woken one per release (in no defined order), and a lifecycle
// manager that classifies resource health.
//
// Grounded on the teacher's connection pool (channel-backed free list,
// atomic counters, periodic health loop) generalized from one global pool
// per process to one pool per registered resource, with acquire/release
// naming per the spec rather than the teacher's Get/Put.
package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"toolmesh/internal/descriptor"
	stderrors "toolmesh/internal/errors"
)

// entry wraps a descriptor.Connection with pool bookkeeping.
type entry struct {
	conn     descriptor.Connection
	lastUsed time.Time
	broken   bool
}

// Pool manages the connections for exactly one resource.
type Pool struct {
	name string
	desc *descriptor.ResourceDescriptor
	body *descriptor.ResourceBody

	mu     sync.Mutex
	idle   []*entry
	active map[string]*entry

	maxIdleTime time.Duration

	waiters chan struct{} // one-slot wakeup signal; not an arrival-ordered queue

	created  atomic.Int64
	destroyed atomic.Int64
	errors    atomic.Int64

	// rolling error/latency stats consumed by the Lifecycle manager
	statsMu       sync.Mutex
	recentErrors  int
	recentTotal   int
	totalLatency  time.Duration
	lastUsedAt    time.Time
}

// New creates a pool for one resource. maxIdleTime is the cleanupIdle
// threshold; resources with MaxConnections<=0 are rejected by the caller
// before constructing a Pool (pool size is always required and finite).
func New(desc *descriptor.ResourceDescriptor, body *descriptor.ResourceBody, maxIdleTime time.Duration) *Pool {
	return &Pool{
		name:        desc.Name,
		desc:        desc,
		body:        body,
		active:      make(map[string]*entry),
		maxIdleTime: maxIdleTime,
	}
}

// Acquire returns an idle connection if present, creates a new one if under
// capacity, or blocks until one frees up or the deadline elapses. Each
// Release wakes at most one blocked Acquire; waiters are not served in
// arrival order, and a newly arriving Acquire can take a freed connection
// ahead of them.
func (p *Pool) Acquire(ctx context.Context, deadline time.Time) (descriptor.Connection, error) {
	for {
		p.mu.Lock()
		// Drain idle connections from the back, skipping (and destroying)
		// broken ones.
		for len(p.idle) > 0 {
			e := p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]
			if e.broken {
				p.destroyLocked(e)
				continue
			}
			p.active[e.conn.ID()] = e
			p.mu.Unlock()
			p.touch(e)
			return e.conn, nil
		}

		if len(p.active)+len(p.idle) < p.desc.MaxConnections {
			p.mu.Unlock()
			conn, err := p.body.NewConnection(ctx)
			if err != nil {
				p.errors.Add(1)
				return nil, err
			}
			p.created.Add(1)
			e := &entry{conn: conn, lastUsed: time.Now()}
			p.mu.Lock()
			p.active[conn.ID()] = e
			p.mu.Unlock()
			return conn, nil
		}
		p.mu.Unlock()

		// At capacity: wait for a release or the deadline.
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, stderrors.New(stderrors.Timeout, "acquire deadline exceeded")
		}
		timer := time.NewTimer(remaining)
		select {
		case <-p.releaseSignal():
			timer.Stop()
			continue
		case <-timer.C:
			return nil, stderrors.New(stderrors.Timeout, "acquire deadline exceeded")
		case <-ctx.Done():
			timer.Stop()
			return nil, stderrors.New(stderrors.Cancelled, "acquire cancelled")
		}
	}
}

// releaseSignal returns a channel that fires once, the next time Release
// runs. It is intentionally cheap and approximate: a spurious wakeup just
// causes the acquire loop to re-check and wait again.
func (p *Pool) releaseSignal() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.waiters == nil {
		p.waiters = make(chan struct{}, 1)
	}
	return p.waiters
}

func (p *Pool) wakeWaiter() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.waiters != nil {
		select {
		case p.waiters <- struct{}{}:
		default:
		}
	}
}

// Release returns a connection to the idle pool, or closes it if the pool
// is already at capacity. The caller must not use conn afterward.
func (p *Pool) Release(conn descriptor.Connection) {
	p.mu.Lock()
	e, ok := p.active[conn.ID()]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.active, conn.ID())
	e.lastUsed = time.Now()

	if len(p.idle) < p.desc.MaxConnections && !e.broken {
		p.idle = append(p.idle, e)
		p.mu.Unlock()
		p.wakeWaiter()
		return
	}
	p.destroyLocked(e)
	p.mu.Unlock()
	p.wakeWaiter()
}

// Probe runs the resource's cheap liveness check; a dead connection is
// closed and removed rather than returned to the idle pool.
func (p *Pool) Probe(conn descriptor.Connection) bool {
	if p.body.ProbeConnection == nil {
		return true
	}
	healthy := p.body.ProbeConnection(conn)
	if !healthy {
		p.mu.Lock()
		if e, ok := p.active[conn.ID()]; ok {
			e.broken = true
		}
		p.mu.Unlock()
	}
	return healthy
}

// CleanupIdle closes idle connections that have sat unused longer than
// maxIdleTime. Intended to run on a periodic ticker.
func (p *Pool) CleanupIdle() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := time.Now().Add(-p.maxIdleTime)
	kept := p.idle[:0]
	closed := 0
	for _, e := range p.idle {
		if e.lastUsed.Before(cutoff) {
			p.destroyLocked(e)
			closed++
			continue
		}
		kept = append(kept, e)
	}
	p.idle = kept
	return closed
}

func (p *Pool) destroyLocked(e *entry) {
	if p.body.CloseConnection != nil {
		_ = p.body.CloseConnection(e.conn)
	}
	p.destroyed.Add(1)
}

func (p *Pool) touch(e *entry) {
	p.statsMu.Lock()
	p.lastUsedAt = time.Now()
	p.statsMu.Unlock()
}

// RecordOutcome feeds the rolling error-rate window the Lifecycle manager
// reads when classifying this resource's health.
func (p *Pool) RecordOutcome(success bool, latency time.Duration) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.recentTotal++
	if !success {
		p.recentErrors++
	}
	p.totalLatency += latency
	// Halve the window periodically so it stays a rolling estimate rather
	// than an all-time average.
	if p.recentTotal > 1000 {
		p.recentTotal /= 2
		p.recentErrors /= 2
		p.totalLatency /= 2
	}
}

// Stats is a point-in-time snapshot used by the Lifecycle manager.
type Stats struct {
	Name            string
	Active          int
	Idle            int
	Max             int
	ErrorRate       float64
	AvgResponseTime time.Duration
	LastUsed        time.Time
	Created         int64
	Destroyed       int64

	// MemoryBytes is active+idle connections times the resource's estimated
	// per-connection footprint; MemoryUsageRatio is that against the
	// resource's configured budget. Both are zero when the resource carries
	// no MaxMemoryBytes budget.
	MemoryBytes      int64
	MemoryUsageRatio float64
}

// Snapshot returns the current pool statistics.
func (p *Pool) Snapshot() Stats {
	p.mu.Lock()
	active, idle := len(p.active), len(p.idle)
	p.mu.Unlock()

	p.statsMu.Lock()
	errRate := 0.0
	avgLatency := time.Duration(0)
	if p.recentTotal > 0 {
		errRate = float64(p.recentErrors) / float64(p.recentTotal)
		avgLatency = p.totalLatency / time.Duration(p.recentTotal)
	}
	lastUsed := p.lastUsedAt
	p.statsMu.Unlock()

	memBytes := int64(active+idle) * p.desc.EstimatedConnBytes
	memRatio := 0.0
	if p.desc.MaxMemoryBytes > 0 {
		memRatio = float64(memBytes) / float64(p.desc.MaxMemoryBytes)
	}

	return Stats{
		Name:             p.name,
		Active:           active,
		Idle:             idle,
		Max:              p.desc.MaxConnections,
		ErrorRate:        errRate,
		AvgResponseTime:  avgLatency,
		LastUsed:         lastUsed,
		Created:          p.created.Load(),
		Destroyed:        p.destroyed.Load(),
		MemoryBytes:      memBytes,
		MemoryUsageRatio: memRatio,
	}
}

// Close drains and destroys every connection, idle and active alike.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.idle {
		p.destroyLocked(e)
	}
	p.idle = nil
	for _, e := range p.active {
		p.destroyLocked(e)
	}
	p.active = make(map[string]*entry)
}
