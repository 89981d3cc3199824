package storage

import (
	"fmt"
	"strings"
)

// Open selects a Backend implementation from a STORAGE_BACKEND_URL-style
// connection string: "memory://" (default, bounded in-process buffer),
// "sqlite://path/to/file.db", "postgres://...", or "redis://...".
func Open(backendURL string, memoryRingSize int) (Backend, error) {
	switch {
	case backendURL == "" || strings.HasPrefix(backendURL, "memory://"):
		return NewMemoryBackend(memoryRingSize), nil
	case strings.HasPrefix(backendURL, "sqlite://"):
		return NewSQLiteBackend(strings.TrimPrefix(backendURL, "sqlite://"))
	case strings.HasPrefix(backendURL, "postgres://"), strings.HasPrefix(backendURL, "postgresql://"):
		return NewPostgresBackend(backendURL)
	case strings.HasPrefix(backendURL, "redis://"):
		return NewRedisBackend(backendURL)
	default:
		return nil, fmt.Errorf("unrecognized storage backend url %q", backendURL)
	}
}
