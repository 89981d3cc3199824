// Package storage implements the trace persistence contract: put, query,
// export, prune, backed by a pluggable Backend. The default backend is an
// in-process bounded buffer; sqlite/postgres/redis backends are provided
// for durable deployments, selected by STORAGE_BACKEND_URL's scheme.
//
// Grounded on the teacher's storage interface (internal/storage/interface.go)
// for the put/query/prune contract shape, generalized from vector-store
// semantics to trace persistence.
package storage

import (
	"context"
	"time"

	"toolmesh/internal/trace"
)

// Filter narrows a Query call.
type Filter struct {
	Since   time.Time
	Until   time.Time
	Tools   []string
	Success *bool
}

// ExportFormat selects the export encoding.
type ExportFormat string

const (
	FormatJSON ExportFormat = "json"
	FormatCSV  ExportFormat = "csv"
)

// Backend is the storage contract every implementation satisfies.
type Backend interface {
	Put(ctx context.Context, doc trace.Document) error
	Query(ctx context.Context, filter Filter) ([]trace.Document, error)
	Export(ctx context.Context, format ExportFormat, filter Filter) ([]byte, error)
	Prune(ctx context.Context, olderThan time.Time) (int, error)
	Close() error
}

func matches(doc trace.Document, root *trace.Node, filter Filter) bool {
	if root == nil {
		return false
	}
	if !filter.Since.IsZero() && root.Start.Before(filter.Since) {
		return false
	}
	if !filter.Until.IsZero() && root.Start.After(filter.Until) {
		return false
	}
	if filter.Success != nil && root.Success != *filter.Success {
		return false
	}
	if len(filter.Tools) > 0 {
		ok := false
		for _, name := range filter.Tools {
			if name == root.Label {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func rootOf(doc trace.Document) *trace.Node {
	for i := range doc.Nodes {
		if doc.Nodes[i].ID == doc.RootID {
			return &doc.Nodes[i]
		}
	}
	return nil
}
