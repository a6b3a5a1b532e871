package auth

import (
	"context"
	"errors"
	"maps"
)

// ErrUnauthorized indicates authentication failed or no valid credentials were supplied.
var ErrUnauthorized = errors.New("unauthorized")

// ErrMalformedToken indicates a token that passed verification but lacks a
// claim this system treats as mandatory.
var ErrMalformedToken = errors.New("malformed token")

// Claims is the verified claim set of a token. It is read-only: accessors
// never hand out the underlying map.
type Claims map[string]any

// String returns the named claim if it is a string.
func (c Claims) String(name string) (string, bool) {
	s, ok := c[name].(string)
	return s, ok
}

// Bool returns the named claim if it is a boolean.
func (c Claims) Bool(name string) (bool, bool) {
	b, ok := c[name].(bool)
	return b, ok
}

// Map returns the named claim if it is a JSON object.
func (c Claims) Map(name string) (map[string]any, bool) {
	m, ok := c[name].(map[string]any)
	return m, ok
}

// Clone returns a shallow copy.
func (c Claims) Clone() Claims { return maps.Clone(c) }

// UserInfo represents an authenticated principal as seen by the verifier.
// Implementations should be lightweight and safe for concurrent use.
type UserInfo interface {
	// UserID returns the "sub" claim (possibly empty).
	UserID() string
	// Claims unmarshalls the token's claims into the provided struct reference.
	Claims(ref any) error
	// ClaimSet returns a copy of the verified claims.
	ClaimSet() Claims
}

// Authenticator validates bearer tokens and returns associated user info.
// It should return an error wrapping ErrUnauthorized for invalid credentials.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, tok string) (UserInfo, error)
}
