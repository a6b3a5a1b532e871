// Package redis provides a Redis-based implementation of storage.Storage
// with TTL support.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ggoodman/realmguard/storage"
	"github.com/redis/go-redis/v9"
)

// Config contains configuration options for the Redis storage.
type Config struct {
	// Client is the Redis client instance.
	Client *redis.Client

	// KeyPrefix is the prefix for all Redis keys.
	// Default: "realmguard:"
	KeyPrefix string
}

// Storage implements storage.Storage using Redis.
type Storage struct {
	client    *redis.Client
	keyPrefix string
}

// storedItem represents the structure stored in Redis.
type storedItem struct {
	Data      []byte     `json:"data"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// New creates a new Redis-based storage instance.
func New(config Config) (*Storage, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "realmguard:"
	}

	return &Storage{
		client:    config.Client,
		keyPrefix: config.KeyPrefix,
	}, nil
}

// Get retrieves data for a specific key within the given namespace.
func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.Item, error) {
	options := storage.Apply(opts...)
	redisKey := s.namespaceKey(options.Namespace) + key

	val, err := s.client.Get(ctx, redisKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get key %s: %w", redisKey, err)
	}

	item, err := decodeItem(val)
	if err != nil {
		return nil, err
	}
	if item.IsExpired() {
		s.client.Del(ctx, redisKey)
		return nil, nil
	}
	return item, nil
}

// Set stores data for a specific key within the given namespace.
func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	options := storage.Apply(opts...)
	if options.TTL != nil && *options.TTL <= 0 {
		return fmt.Errorf("%w: ttl must be positive", storage.ErrInvalidOptions)
	}
	redisKey := s.namespaceKey(options.Namespace) + key

	now := time.Now()
	item := storedItem{
		Data:      data,
		CreatedAt: now,
	}

	var redisTTL time.Duration
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
		redisTTL = *options.TTL
	}

	itemData, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal storage item: %w", err)
	}

	if err := s.client.Set(ctx, redisKey, itemData, redisTTL).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", redisKey, err)
	}
	return nil
}

// List returns the live entries of the namespace ordered by key.
func (s *Storage) List(ctx context.Context, opts ...storage.Option) ([]storage.Entry, error) {
	options := storage.Apply(opts...)
	prefix := s.namespaceKey(options.Namespace)

	keys, err := s.scanKeys(ctx, prefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to scan keys for namespace %s: %w", prefix, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	slices.Sort(keys)
	keys = slices.Compact(keys)

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read namespace %s: %w", prefix, err)
	}

	out := make([]storage.Entry, 0, len(keys))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// Expired or deleted between SCAN and MGET.
			continue
		}
		item, err := decodeItem([]byte(raw))
		if err != nil {
			return nil, err
		}
		if item.IsExpired() {
			continue
		}
		out = append(out, storage.Entry{Key: strings.TrimPrefix(keys[i], prefix), Item: *item})
	}
	return out, nil
}

// Delete removes data within the given namespace.
func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	options := storage.Apply(opts...)
	prefix := s.namespaceKey(options.Namespace)

	if options.Key != nil {
		redisKey := prefix + *options.Key
		if err := s.client.Del(ctx, redisKey).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", redisKey, err)
		}
		return nil
	}

	keys, err := s.scanKeys(ctx, prefix+"*")
	if err != nil {
		return fmt.Errorf("failed to scan keys for namespace %s: %w", prefix, err)
	}
	if len(keys) > 0 {
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to delete keys: %w", err)
		}
	}
	return nil
}

// Close closes the storage backend and releases resources.
func (s *Storage) Close() error {
	return s.client.Close()
}

func (s *Storage) namespaceKey(ns storage.Namespace) string {
	return s.keyPrefix + storage.NamespacePrefix(ns)
}

// scanKeys uses Redis SCAN to find all keys matching a pattern.
func (s *Storage) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64

	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func decodeItem(raw []byte) (*storage.Item, error) {
	var item storedItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored data: %w", err)
	}
	return &storage.Item{
		Data:      item.Data,
		CreatedAt: item.CreatedAt,
		ExpiresAt: item.ExpiresAt,
	}, nil
}

var _ storage.Storage = (*Storage)(nil)
