package storage

import (
	"context"
	"time"

	"toolmesh/internal/reliability"
	"toolmesh/internal/retry"
	"toolmesh/internal/trace"
)

// ResilientBackend wraps a durable Backend (sqlite/postgres/redis) with
// retry-on-transient-failure and a per-backend circuit breaker, so a flaky
// durable store fails fast with the breaker's error while open rather than
// cascading failures back into the ingest path.
//
// Grounded on the teacher's reliability package (internal/reliability/
// circuit_breaker.go) composed with internal/retry, mirroring how the
// teacher wrapped its vector store client with the same pair.
type ResilientBackend struct {
	inner   Backend
	breaker *reliability.CircuitBreaker
	retrier *retry.Retrier

	onBacklog func(depth int)
	backlog   int
}

// NewResilientBackend wraps inner with a circuit breaker named name and the
// package's default retry policy.
func NewResilientBackend(name string, inner Backend, onBacklog func(depth int)) *ResilientBackend {
	return &ResilientBackend{
		inner:     inner,
		breaker:   reliability.NewCircuitBreaker(reliability.DefaultConfig(name)),
		retrier:   retry.New(retry.DefaultConfig()),
		onBacklog: onBacklog,
	}
}

func (r *ResilientBackend) Put(ctx context.Context, doc trace.Document) error {
	r.backlog++
	defer func() { r.backlog-- }()
	if r.backlog > 1000 && r.onBacklog != nil {
		r.onBacklog(r.backlog)
	}

	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		result := r.retrier.Do(ctx, func(ctx context.Context) error {
			return r.inner.Put(ctx, doc)
		})
		return result.Err
	})
	return err
}

func (r *ResilientBackend) Query(ctx context.Context, filter Filter) ([]trace.Document, error) {
	var docs []trace.Document
	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		d, err := r.inner.Query(ctx, filter)
		docs = d
		return err
	})
	return docs, err
}

func (r *ResilientBackend) Export(ctx context.Context, format ExportFormat, filter Filter) ([]byte, error) {
	var out []byte
	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		b, err := r.inner.Export(ctx, format, filter)
		out = b
		return err
	})
	return out, err
}

func (r *ResilientBackend) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	var count int
	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		c, err := r.inner.Prune(ctx, olderThan)
		count = c
		return err
	})
	return count, err
}

func (r *ResilientBackend) Close() error { return r.inner.Close() }
