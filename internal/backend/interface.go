// Package backend selects and opens the persistence backend named by DATA_BACKEND.
package backend

import (
	"context"

	"finplan/internal/storage"
)

// BackendType names a storage implementation.
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

func (t BackendType) String() string { return string(t) }

// IsValid reports whether t names a known backend.
func (t BackendType) IsValid() bool {
	for _, known := range GetBackendTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{SQLiteBackend, MemoryBackend}
}

// Factory creates stores based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (storage.Store, error)
}
