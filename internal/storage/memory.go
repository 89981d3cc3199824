package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"toolmesh/internal/trace"
)

// MemoryBackend is the default storage backend: a bounded in-process
// buffer. The analytics pipeline is resilient to storage outage by design,
// so this backend never fails Put.
type MemoryBackend struct {
	mu      sync.RWMutex
	docs    []trace.Document
	maxSize int
}

// NewMemoryBackend returns a backend that retains at most maxSize traces,
// evicting the oldest once full.
func NewMemoryBackend(maxSize int) *MemoryBackend {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &MemoryBackend{maxSize: maxSize}
}

func (m *MemoryBackend) Put(ctx context.Context, doc trace.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = append(m.docs, doc)
	if len(m.docs) > m.maxSize {
		m.docs = m.docs[len(m.docs)-m.maxSize:]
	}
	return nil
}

func (m *MemoryBackend) Query(ctx context.Context, filter Filter) ([]trace.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []trace.Document
	for _, doc := range m.docs {
		if matches(doc, rootOf(doc), filter) {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := rootOf(out[i]), rootOf(out[j])
		if ri == nil || rj == nil {
			return false
		}
		return ri.Start.Before(rj.Start)
	})
	return out, nil
}

func (m *MemoryBackend) Export(ctx context.Context, format ExportFormat, filter Filter) ([]byte, error) {
	docs, err := m.Query(ctx, filter)
	if err != nil {
		return nil, err
	}
	return encode(format, docs)
}

func (m *MemoryBackend) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.docs[:0]
	pruned := 0
	for _, doc := range m.docs {
		root := rootOf(doc)
		if root != nil && root.Start.Before(olderThan) {
			pruned++
			continue
		}
		kept = append(kept, doc)
	}
	m.docs = kept
	return pruned, nil
}

func (m *MemoryBackend) Close() error { return nil }

func encode(format ExportFormat, docs []trace.Document) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.Marshal(docs)
	case FormatCSV:
		return encodeCSV(docs)
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

func encodeCSV(docs []trace.Document) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"requestId", "rootLabel", "success", "durationMs", "start"})
	for _, doc := range docs {
		root := rootOf(doc)
		if root == nil {
			continue
		}
		_ = w.Write([]string{
			doc.RequestID,
			root.Label,
			fmt.Sprintf("%t", root.Success),
			fmt.Sprintf("%d", root.DurationMS()),
			root.Start.UTC().Format(time.RFC3339),
		})
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
