package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// FileBackend persists the inventory snapshot as a single file on the local
// file system. Writes go through a temporary file and rename so a crash
// mid-write never leaves a torn snapshot behind.
type FileBackend struct {
	path        string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a file backend writing to the given path.
// The parent directory is created if it does not exist.
func NewFileBackend(path string, log *slog.Logger) (*FileBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	return &FileBackend{
		path:        path,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", path),
	}, nil
}

// Load reads the snapshot file. Returns ErrSnapshotNotFound if it does not exist.
func (b *FileBackend) Load(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	b.log.Debug("Loaded inventory snapshot",
		slog.String("path", b.path),
		slog.Int("size", len(data)))

	return data, nil
}

// Save writes the snapshot and fsyncs it before renaming into place.
func (b *FileBackend) Save(ctx context.Context, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(b.path), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}

	if err := os.Rename(tmp.Name(), b.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	b.log.Debug("Saved inventory snapshot",
		slog.String("path", b.path),
		slog.Int("size", len(data)))

	return nil
}

// Available checks that the snapshot directory exists.
func (b *FileBackend) Available(ctx context.Context) bool {
	_, err := os.Stat(filepath.Dir(b.path))
	if err != nil {
		b.log.Debug("File backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this backend.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.path))
}

// LocationURI returns the URI that identifies this backend.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}
