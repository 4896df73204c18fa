// Package store provides named stores for response snapshots.
//
// A store name encodes a logical namespace plus a version suffix
// (e.g. "always-offline-v42"). The worker opens the store for its own
// version at install time and deletes every other store in the namespace at
// activation time, so at most one store per namespace is ever live.
package store

import "context"

// Provider gives access to named stores.
// It stores and retrieves []byte values, which represent HTTP responses.
// Entries have no expiry: they live exactly as long as their store.
//
// Implementations must be thread-safe! Concurrent writes to the same key are
// last-write-wins.
type Provider interface {
	// Open returns a handle to the named store, creating it if absent.
	Open(ctx context.Context, name string) (Handle, error)
	// Names returns the names of all existing stores.
	Names(ctx context.Context) ([]string, error)
	// Delete removes the named store together with all its entries.
	// It reports whether the store existed.
	Delete(ctx context.Context, name string) (bool, error)
}

// Handle operates on a single named store.
type Handle interface {
	// Name returns the store name the handle was opened with.
	Name() string
	// Put stores the given snapshot bytes under the given key.
	// An existing entry for the key is replaced. The write is atomic: the
	// entry is either fully stored or not stored at all.
	Put(ctx context.Context, key string, bytes []byte) error
	// Get returns the snapshot stored under the given key, if it exists.
	// The boolean indicates whether the entry was found.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Keys returns all entry keys in the store.
	Keys(ctx context.Context) ([]string, error)
}
