// Package memory provides an in-memory implementation of storage.Storage
// using github.com/hashicorp/golang-lru/v2 with TTL support.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ggoodman/realmguard/storage"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxItems sizes the cache when New is given a non-positive size.
const DefaultMaxItems = 10_000

// Storage implements storage.Storage in process memory. Records of a
// storage.CollectionNamespace are kept until deleted; everything else lives in
// an LRU cache that evicts the least recently used records once maxItems is
// reached.
type Storage struct {
	mu          sync.RWMutex
	cache       *lru.Cache[string, *storage.Item]
	collections map[string]*storage.Item

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a new in-memory storage implementation.
func New(maxItems int) (*Storage, error) {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	cache, err := lru.New[string, *storage.Item](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	s := &Storage{
		cache:       cache,
		collections: make(map[string]*storage.Item),
		done:        make(chan struct{}),
	}

	go s.cleanupExpired(5 * time.Minute)

	return s, nil
}

func isCollection(ns storage.Namespace) bool {
	_, ok := ns.(storage.CollectionNamespace)
	return ok
}

// Get retrieves data for a specific key within the given namespace.
func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.Item, error) {
	options := storage.Apply(opts...)
	storageKey := storage.NamespacePrefix(options.Namespace) + key
	durable := isCollection(options.Namespace)

	var (
		item   *storage.Item
		exists bool
	)
	s.mu.RLock()
	if durable {
		item, exists = s.collections[storageKey]
	} else {
		item, exists = s.cache.Get(storageKey)
	}
	s.mu.RUnlock()

	if !exists {
		return nil, nil
	}

	if item.IsExpired() {
		s.mu.Lock()
		s.remove(storageKey, durable)
		s.mu.Unlock()
		return nil, nil
	}

	return cloneItem(item), nil
}

// Set stores data for a specific key within the given namespace.
func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	options := storage.Apply(opts...)
	if options.TTL != nil && *options.TTL <= 0 {
		return fmt.Errorf("%w: ttl must be positive", storage.ErrInvalidOptions)
	}

	now := time.Now()
	item := &storage.Item{
		Data:      slices.Clone(data),
		CreatedAt: now,
	}
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
	}

	storageKey := storage.NamespacePrefix(options.Namespace) + key
	s.mu.Lock()
	if isCollection(options.Namespace) {
		s.collections[storageKey] = item
	} else {
		s.cache.Add(storageKey, item)
	}
	s.mu.Unlock()

	return nil
}

// List returns the live entries of the namespace ordered by key. Listing
// does not refresh recency.
func (s *Storage) List(ctx context.Context, opts ...storage.Option) ([]storage.Entry, error) {
	options := storage.Apply(opts...)
	prefix := storage.NamespacePrefix(options.Namespace)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.Entry
	add := func(k string, item *storage.Item) {
		if strings.HasPrefix(k, prefix) && !item.IsExpired() {
			out = append(out, storage.Entry{Key: k[len(prefix):], Item: *cloneItem(item)})
		}
	}
	if isCollection(options.Namespace) {
		for k, item := range s.collections {
			add(k, item)
		}
	} else {
		for _, k := range s.cache.Keys() {
			if item, ok := s.cache.Peek(k); ok {
				add(k, item)
			}
		}
	}
	slices.SortFunc(out, func(a, b storage.Entry) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}

// Delete removes data within the given namespace.
func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	options := storage.Apply(opts...)
	prefix := storage.NamespacePrefix(options.Namespace)
	durable := isCollection(options.Namespace)

	s.mu.Lock()
	defer s.mu.Unlock()

	if options.Key != nil {
		s.remove(prefix+*options.Key, durable)
		return nil
	}
	if durable {
		for k := range s.collections {
			if strings.HasPrefix(k, prefix) {
				delete(s.collections, k)
			}
		}
		return nil
	}
	for _, k := range s.cache.Keys() {
		if strings.HasPrefix(k, prefix) {
			s.cache.Remove(k)
		}
	}
	return nil
}

// Close purges all records and stops the background sweeper.
func (s *Storage) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	s.mu.Lock()
	s.cache.Purge()
	clear(s.collections)
	s.mu.Unlock()
	return nil
}

// remove must be called with s.mu held.
func (s *Storage) remove(key string, durable bool) {
	if durable {
		delete(s.collections, key)
		return
	}
	s.cache.Remove(key)
}

// cleanupExpired periodically drops expired items until Close is called.
func (s *Storage) cleanupExpired(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}
		s.mu.Lock()
		for _, key := range s.cache.Keys() {
			if item, ok := s.cache.Peek(key); ok && item.IsExpired() {
				s.cache.Remove(key)
			}
		}
		for key, item := range s.collections {
			if item.IsExpired() {
				delete(s.collections, key)
			}
		}
		s.mu.Unlock()
	}
}

func cloneItem(it *storage.Item) *storage.Item {
	cp := *it
	cp.Data = slices.Clone(it.Data)
	return &cp
}

var _ storage.Storage = (*Storage)(nil)
