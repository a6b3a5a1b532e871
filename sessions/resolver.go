package sessions

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ggoodman/realmguard/auth"
	"github.com/ggoodman/realmguard/authz"
)

// TokenKind selects which session token is forwarded on delegated calls.
type TokenKind string

const (
	TokenAccess TokenKind = "access"
	TokenID     TokenKind = "id"
)

// ParseTokenKind accepts "access" and "id", case-insensitively.
func ParseTokenKind(s string) (TokenKind, error) {
	switch k := TokenKind(strings.ToLower(strings.TrimSpace(s))); k {
	case TokenAccess, TokenID:
		return k, nil
	case "":
		return TokenAccess, nil
	default:
		return "", fmt.Errorf("unknown delegated token kind %q", s)
	}
}

// Resolver turns a session cookie into an authz.Principal. It implements
// authz.SessionResolver.
type Resolver struct {
	store   *Store
	cookies Cookies
	ex      authz.Extractor
	kind    TokenKind
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithExtractor overrides the claims extractor used for session principals.
func WithExtractor(ex authz.Extractor) ResolverOption {
	return func(r *Resolver) { r.ex = ex }
}

// WithDelegatedToken selects which token is attached to principals.
func WithDelegatedToken(kind TokenKind) ResolverOption {
	return func(r *Resolver) { r.kind = kind }
}

// NewResolver returns a Resolver reading cookies and loading from store.
func NewResolver(store *Store, cookies Cookies, opts ...ResolverOption) *Resolver {
	r := &Resolver{store: store, cookies: cookies, ex: authz.DefaultExtractor, kind: TokenAccess}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveSession returns (nil, nil) when r has no session cookie. Unknown or
// expired sessions yield an error wrapping auth.ErrUnauthorized and
// authz.ErrSessionEnded; storage failures are returned as is.
func (res *Resolver) ResolveSession(r *http.Request) (*authz.Principal, error) {
	id, err := res.cookies.Read(r)
	if err != nil {
		return nil, nil
	}
	sess, err := res.store.Get(r.Context(), id)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, errors.Join(auth.ErrUnauthorized, authz.ErrSessionEnded, err)
	case err != nil:
		return nil, err
	}
	pr, err := authz.NewPrincipal(auth.Claims(sess.Claims), res.ex, authz.SourceSession)
	if err != nil {
		return nil, err
	}
	if tok := res.delegatedToken(sess); tok != "" {
		pr = pr.WithDelegatedToken(tok)
	}
	return pr, nil
}

// Session loads the session referenced by r, for handlers that need the
// raw record (logout, for instance).
func (res *Resolver) Session(r *http.Request) (*Session, error) {
	id, err := res.cookies.Read(r)
	if err != nil {
		return nil, err
	}
	return res.store.Get(r.Context(), id)
}

// ClearSession expires the session cookie.
func (res *Resolver) ClearSession(w http.ResponseWriter) {
	res.cookies.Clear(w)
}

func (res *Resolver) delegatedToken(s *Session) string {
	if res.kind == TokenID {
		return s.IDToken
	}
	return s.AccessToken
}

var (
	_ authz.SessionResolver = (*Resolver)(nil)
	_ authz.SessionClearer  = (*Resolver)(nil)
)
