package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"toolmesh/internal/trace"
)

// Import decodes a JSON export produced by Export(json, ...) and replays
// each document through backend.Put, backing the export/import round trip
// the traces' serialization property requires.
func Import(ctx context.Context, backend Backend, jsonBytes []byte) (int, error) {
	var docs []trace.Document
	if err := json.Unmarshal(jsonBytes, &docs); err != nil {
		return 0, fmt.Errorf("decoding trace export: %w", err)
	}
	for _, doc := range docs {
		if err := backend.Put(ctx, doc); err != nil {
			return 0, err
		}
	}
	return len(docs), nil
}
