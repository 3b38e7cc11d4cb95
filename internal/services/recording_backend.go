package services

import (
	"context"
	"errors"
)

// ErrBackendNotFound is returned by Read when no record exists for a key
var ErrBackendNotFound = errors.New("record not found")

// RecordingBackend is the persistence contract shared by the file, SQL and Mongo stores.
// Records are opaque JSON blobs addressed by key; each Put replaces the whole record and
// readers observe either the previous or the new record, never a partial one.
type RecordingBackend interface {
	// Name identifies the backend in logs and metrics
	Name() string
	// Ensure creates the backing collection if needed. Idempotent.
	Ensure(ctx context.Context) error
	// Put writes data under key and returns a human-readable location
	Put(ctx context.Context, key string, data []byte) (string, error)
	// Keys lists stored keys with the given prefix in ascending order
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Read loads the record for key, or ErrBackendNotFound
	Read(ctx context.Context, key string) ([]byte, error)
	Close() error
}
