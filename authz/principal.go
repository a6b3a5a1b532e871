package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/ggoodman/realmguard/auth"
)

// Source records how a principal was authenticated.
type Source string

const (
	SourceBearer  Source = "bearer"
	SourceSession Source = "session"
)

// Principal is the per-request authentication context: identity attributes
// plus the authorities computed from the token's claims. It is built once per
// request and never shared across requests.
type Principal struct {
	Subject       string
	Username      string
	Email         string
	Name          string
	GivenName     string
	FamilyName    string
	EmailVerified bool
	Picture       string
	Roles         []string
	Authorities   []Authority
	Source        Source

	// token is the raw credential usable for delegated calls. It is redacted
	// from String and MarshalJSON.
	token string
}

// NewPrincipal builds a Principal from verified claims using ex to derive
// authorities. "sub" and "preferred_username" are mandatory; their absence
// yields an error wrapping auth.ErrMalformedToken.
func NewPrincipal(claims auth.Claims, ex Extractor, src Source) (*Principal, error) {
	sub, _ := claims.String("sub")
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub claim", auth.ErrMalformedToken)
	}
	username, _ := claims.String("preferred_username")
	if username == "" {
		return nil, fmt.Errorf("%w: missing preferred_username claim", auth.ErrMalformedToken)
	}

	p := &Principal{
		Subject:     sub,
		Username:    username,
		Authorities: ex.Extract(claims),
		Source:      src,
	}
	p.Email, _ = claims.String("email")
	p.Name, _ = claims.String("name")
	p.GivenName, _ = claims.String("given_name")
	p.FamilyName, _ = claims.String("family_name")
	p.EmailVerified, _ = claims.Bool("email_verified")
	p.Picture, _ = claims.String("picture")
	for _, a := range p.Authorities {
		p.Roles = append(p.Roles, string(a)[len(ex.Prefix):])
	}
	return p, nil
}

// WithDelegatedToken returns a copy of p carrying tok for downstream calls.
func (p *Principal) WithDelegatedToken(tok string) *Principal {
	dup := *p
	dup.token = tok
	return &dup
}

// DelegatedToken returns the raw token to forward on downstream calls.
func (p *Principal) DelegatedToken() (string, bool) {
	if p == nil || p.token == "" {
		return "", false
	}
	return p.token, true
}

// HasAuthority reports whether p holds a.
func (p *Principal) HasAuthority(a Authority) bool {
	return p != nil && slices.Contains(p.Authorities, a)
}

// HasAnyAuthority reports whether p holds at least one of want.
func (p *Principal) HasAnyAuthority(want []Authority) bool {
	for _, a := range want {
		if p.HasAuthority(a) {
			return true
		}
	}
	return false
}

// FullName returns Name, falling back to given + family name.
func (p *Principal) FullName() string {
	if p.Name != "" {
		return p.Name
	}
	switch {
	case p.GivenName != "" && p.FamilyName != "":
		return p.GivenName + " " + p.FamilyName
	case p.GivenName != "":
		return p.GivenName
	}
	return p.FamilyName
}

// String keeps the delegated token out of logs.
func (p *Principal) String() string {
	if p == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Principal{Subject:%q, Username:%q, Source:%s}", p.Subject, p.Username, p.Source)
}

// MarshalJSON renders the principal without its delegated token.
func (p *Principal) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}
	authorities := make([]string, 0, len(p.Authorities))
	for _, a := range p.Authorities {
		authorities = append(authorities, string(a))
	}
	return json.Marshal(struct {
		Subject       string   `json:"sub"`
		Username      string   `json:"username"`
		Email         string   `json:"email,omitempty"`
		Name          string   `json:"name,omitempty"`
		GivenName     string   `json:"given_name,omitempty"`
		FamilyName    string   `json:"family_name,omitempty"`
		EmailVerified bool     `json:"email_verified"`
		Authorities   []string `json:"authorities"`
		Source        Source   `json:"source"`
		Authenticated bool     `json:"authenticated"`
	}{
		Subject:       p.Subject,
		Username:      p.Username,
		Email:         p.Email,
		Name:          p.Name,
		GivenName:     p.GivenName,
		FamilyName:    p.FamilyName,
		EmailVerified: p.EmailVerified,
		Authorities:   authorities,
		Source:        p.Source,
		Authenticated: true,
	})
}

type principalKey struct{}

// WithPrincipal stores p in ctx. A nil p returns ctx unchanged.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	if p == nil {
		return ctx
	}
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal stored by Guard, if any.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}
