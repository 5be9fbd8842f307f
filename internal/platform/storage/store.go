// Package storage provides the durable key-value mirror the session service
// persists its token and user snapshot into.
package storage

import (
	"context"
	"errors"
)

// Well known keys written by the session service.
const (
	KeyToken = "token"
	KeyUser  = "user"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("storage closed")

// Store is a small string key-value store. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes a single key.
	Set(ctx context.Context, key, value string) error
	// SetMany writes several keys as one operation where the driver allows it.
	SetMany(ctx context.Context, entries map[string]string) error
	// Remove deletes keys; missing keys are ignored.
	Remove(ctx context.Context, keys ...string) error
	// Keys lists stored keys.
	Keys(ctx context.Context) ([]string, error)
	// Stats exposes driver diagnostics.
	Stats(ctx context.Context) (map[string]any, error)
	// Close releases resources.
	Close(ctx context.Context) error
}
