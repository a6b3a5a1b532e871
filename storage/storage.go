// Package storage provides a namespaced key/value record store shared by the
// entity repositories and the browser session store.
package storage

import (
	"context"
	"errors"
	"time"
)

// Storage defines the primary interface for namespaced record storage.
type Storage interface {
	// Get retrieves data for a specific key within the given namespace.
	// Returns a nil Item if the key doesn't exist or has expired.
	// Returns an error only for storage system failures.
	Get(ctx context.Context, key string, opts ...Option) (*Item, error)

	// Set stores data for a specific key within the given namespace.
	Set(ctx context.Context, key string, data []byte, opts ...Option) error

	// List returns every live entry of the given namespace ordered by key.
	List(ctx context.Context, opts ...Option) ([]Entry, error)

	// Delete removes data within the given namespace.
	// If no key is specified via WithKey, removes the entire namespace.
	Delete(ctx context.Context, opts ...Option) error

	// Close closes the storage backend and releases resources.
	Close() error
}

// Item represents a stored piece of data with metadata.
type Item struct {
	Data      []byte     // The stored data
	CreatedAt time.Time  // When the item was created
	ExpiresAt *time.Time // When the item expires (nil = no expiration)
}

// IsExpired checks if the item has expired.
func (it *Item) IsExpired() bool {
	return it.ExpiresAt != nil && time.Now().After(*it.ExpiresAt)
}

// Entry is a keyed Item as returned by List.
type Entry struct {
	Key string
	Item
}

// Option configures storage operations.
type Option func(*Options)

// Options contains configuration for storage operations.
type Options struct {
	Namespace Namespace      // Optional: the storage namespace (nil = global)
	Key       *string        // Optional: specific key (for Delete operations)
	TTL       *time.Duration // Optional: time-to-live for the data
}

// Apply folds opts into a fresh Options value.
func Apply(opts ...Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Namespace represents a storage namespace.
// If nil, storage operates in the global namespace.
type Namespace interface {
	namespace()
}

// CollectionNamespace holds the records of one entity table, e.g. "persons".
type CollectionNamespace struct {
	Name string
}

func (CollectionNamespace) namespace() {}

// SessionNamespace holds browser login sessions and pending login attempts.
type SessionNamespace struct {
	// Kind separates session records ("session") from short-lived login
	// state ("login").
	Kind string
}

func (SessionNamespace) namespace() {}

// WithCollection specifies an entity collection namespace.
func WithCollection(name string) Option {
	return func(opts *Options) {
		opts.Namespace = CollectionNamespace{Name: name}
	}
}

// WithSessions specifies a session namespace of the given kind.
func WithSessions(kind string) Option {
	return func(opts *Options) {
		opts.Namespace = SessionNamespace{Kind: kind}
	}
}

// WithKey specifies a specific key for Delete operations.
// If not provided, Delete removes the entire namespace.
func WithKey(key string) Option {
	return func(opts *Options) {
		opts.Key = &key
	}
}

// WithTTL sets a time-to-live for the stored data.
func WithTTL(ttl time.Duration) Option {
	return func(opts *Options) {
		opts.TTL = &ttl
	}
}

// NamespacePrefix renders the key prefix used by backends for ns. It always
// ends with ':'.
func NamespacePrefix(ns Namespace) string {
	switch ns := ns.(type) {
	case CollectionNamespace:
		return "collection:" + ns.Name + ":"
	case SessionNamespace:
		return "session:" + ns.Kind + ":"
	default:
		return "global:"
	}
}

var (
	// ErrInvalidOptions is returned when incompatible options are provided.
	ErrInvalidOptions = errors.New("storage: invalid option combination")
	// ErrClosed is returned by operations on a closed backend.
	ErrClosed = errors.New("storage: closed")
)
