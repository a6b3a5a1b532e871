// Package sessions keeps browser login sessions for the auth service.
//
// A Session is created after a successful OIDC code exchange and referenced
// from the browser by an opaque cookie. Records live in the storage backend
// under the session namespace and expire with their TTL.
package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/realmguard/storage"
	"github.com/google/uuid"
)

// DefaultTTL bounds a session when the Store is built with a zero TTL.
const DefaultTTL = 8 * time.Hour

const kindSession = "session"

// ErrNotFound is returned when a session id has no live record.
var ErrNotFound = errors.New("session not found")

// Session is the server-side half of a browser login. Tokens are kept so
// that handlers can make delegated calls; they never leave the server.
type Session struct {
	ID           string         `json:"id"`
	Subject      string         `json:"sub"`
	IDToken      string         `json:"id_token"`
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	Claims       map[string]any `json:"claims"`
	CreatedAt    time.Time      `json:"created_at"`
	ExpiresAt    time.Time      `json:"expires_at"`
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Store persists Sessions in a storage.Storage.
type Store struct {
	store storage.Storage
	ttl   time.Duration
	now   func() time.Time
}

// NewStore returns a Store whose sessions live for ttl.
func NewStore(s storage.Storage, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{store: s, ttl: ttl, now: time.Now}
}

// TTL is the lifetime given to new sessions.
func (s *Store) TTL() time.Duration { return s.ttl }

// Create assigns a fresh id and timestamps to sess and persists it. A
// non-zero sess.ExpiresAt earlier than the store TTL is kept.
func (s *Store) Create(ctx context.Context, sess Session) (*Session, error) {
	if sess.Subject == "" {
		return nil, errors.New("session subject is required")
	}
	now := s.now()
	sess.ID = uuid.NewString()
	sess.CreatedAt = now
	if limit := now.Add(s.ttl); sess.ExpiresAt.IsZero() || sess.ExpiresAt.After(limit) {
		sess.ExpiresAt = limit
	}
	ttl := sess.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return nil, errors.New("session already expired")
	}

	data, err := json.Marshal(&sess)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	if err := s.store.Set(ctx, sess.ID, data, storage.WithSessions(kindSession), storage.WithTTL(ttl)); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return &sess, nil
}

// Get loads a live session. Missing and expired sessions yield ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	item, err := s.store.Get(ctx, id, storage.WithSessions(kindSession))
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if item == nil {
		return nil, ErrNotFound
	}
	var sess Session
	if err := json.Unmarshal(item.Data, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if sess.Expired(s.now()) {
		_ = s.Delete(ctx, id)
		return nil, ErrNotFound
	}
	return &sess, nil
}

// Delete removes a session. Deleting an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := s.store.Delete(ctx, storage.WithSessions(kindSession), storage.WithKey(id)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
