// Package storage provides durable single-blob persistence. The inventory
// store keeps its catalog snapshot here, written after every committed
// mutation before the mutation is acknowledged to the buyer; the gestor keeps
// its CA key here so the trust root survives restarts.
//
// Backends are selected by URI scheme through NewBackendFromURI:
//
//   - file:///var/lib/produtor/produtos.json
//   - s3://bucket/produtor/produtos.json?region=eu-west-1
//   - vault://vault.example.com:8200/secret/produtor?token=...
//   - mem:// (volatile, for tests)
package storage

import (
	"context"
	"errors"
)

// ErrSnapshotNotFound is returned by Load when no snapshot has been saved yet.
var ErrSnapshotNotFound = errors.New("inventory snapshot not found")

// ErrInvalidLocationURI is returned for URIs that cannot be parsed or use an
// unsupported scheme.
var ErrInvalidLocationURI = errors.New("invalid storage location URI")

// Backend is a single durable location for the inventory snapshot.
// Save must not return nil unless the data is durably stored; the inventory
// store relies on this to only acknowledge purchases that survived a crash.
type Backend interface {
	// Load retrieves the latest snapshot. Returns ErrSnapshotNotFound if
	// nothing was ever saved.
	Load(ctx context.Context) ([]byte, error)

	// Save durably replaces the snapshot.
	Save(ctx context.Context, data []byte) error

	// Available reports whether the backend is reachable.
	Available(ctx context.Context) bool

	// Name returns a short identifier for logs.
	Name() string

	// LocationURI returns the URI this backend was created from.
	LocationURI() string
}
