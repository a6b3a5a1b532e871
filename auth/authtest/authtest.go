// Package authtest provides an in-memory auth.Authenticator for tests.
package authtest

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"

	"github.com/ggoodman/realmguard/auth"
)

// Static accepts only the tokens registered with Add and returns their
// claims as if they had been verified.
type Static struct {
	mu     sync.RWMutex
	tokens map[string]auth.Claims
}

// NewStatic returns an empty Static authenticator.
func NewStatic() *Static {
	return &Static{tokens: map[string]auth.Claims{}}
}

// Add registers tok with the given claims.
func (s *Static) Add(tok string, claims map[string]any) *Static {
	s.mu.Lock()
	s.tokens[tok] = maps.Clone(claims)
	s.mu.Unlock()
	return s
}

// CheckAuthentication implements auth.Authenticator.
func (s *Static) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	s.mu.RLock()
	claims, ok := s.tokens[tok]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown token", auth.ErrUnauthorized)
	}
	return userInfo{claims: claims}, nil
}

type userInfo struct{ claims auth.Claims }

func (u userInfo) UserID() string {
	sub, _ := u.claims.String("sub")
	return sub
}

func (u userInfo) Claims(ref any) error {
	b, err := json.Marshal(u.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

func (u userInfo) ClaimSet() auth.Claims { return u.claims.Clone() }

var _ auth.Authenticator = (*Static)(nil)
