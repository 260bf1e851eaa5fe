package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get for a key that holds no value.
var ErrNotFound = errors.New("key not found")

// KV is the key-value collaborator the quiz sessions are persisted in.
// Scalar fields and ordered lists live in separate namespaces, so a scalar
// and a list may share a key. The registry tracks live session ids.
//
// Implementations must be safe for concurrent use. Multi-key operations are
// not required to be atomic; callers serialize work per session.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	// MGet returns the values in key order; a missing key yields ErrNotFound.
	MGet(ctx context.Context, keys ...string) ([]string, error)
	MSet(ctx context.Context, fields map[string]string) error
	// RPush appends values to the end of the list stored at key.
	RPush(ctx context.Context, key string, values ...string) error
	// LRange returns the whole list stored at key, empty if absent.
	LRange(ctx context.Context, key string) ([]string, error)
	// Del removes scalars and lists stored at the given keys.
	Del(ctx context.Context, keys ...string) error

	Register(ctx context.Context, id string) error
	Registered(ctx context.Context, id string) (bool, error)
	Unregister(ctx context.Context, id string) error

	Close() error
}
