package storage

import (
	"context"
	"sync"
)

// MemoryBackend keeps the snapshot in memory. It provides no durability and
// exists for tests and throwaway runs (mem:// URIs).
type MemoryBackend struct {
	mu       sync.RWMutex
	snapshot []byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Load returns the stored snapshot or ErrSnapshotNotFound.
func (b *MemoryBackend) Load(ctx context.Context) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.snapshot == nil {
		return nil, ErrSnapshotNotFound
	}
	out := make([]byte, len(b.snapshot))
	copy(out, b.snapshot)
	return out, nil
}

// Save replaces the stored snapshot.
func (b *MemoryBackend) Save(ctx context.Context, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.snapshot = make([]byte, len(data))
	copy(b.snapshot, data)
	return nil
}

// Available always reports true.
func (b *MemoryBackend) Available(ctx context.Context) bool { return true }

// Name returns a unique identifier for this backend.
func (b *MemoryBackend) Name() string { return "memory" }

// LocationURI returns the URI that identifies this backend.
func (b *MemoryBackend) LocationURI() string { return "mem://" }
