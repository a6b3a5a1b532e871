package auth

import (
	"context"
	"errors"
	"time"

	"github.com/ggoodman/realmguard/internal/jwtauth"
)

// AccessTokenAuthOption configures optional aspects of the bearer token
// authenticator (algorithms, leeway, extra audiences).
type AccessTokenAuthOption func(*jwtauth.Config)

// WithAllowedAlgs restricts allowed JWS algorithms. "none" is never allowed.
// Defaults to ["RS256"].
func WithAllowedAlgs(algs ...string) AccessTokenAuthOption {
	return func(c *jwtauth.Config) {
		c.AllowedAlgs = append([]string(nil), algs...)
	}
}

// WithLeeway sets clock skew tolerance for time-based claims.
func WithLeeway(d time.Duration) AccessTokenAuthOption {
	return func(c *jwtauth.Config) { c.Leeway = d }
}

// WithAdditionalAudiences accepts tokens whose "aud" matches any of auds in
// addition to the primary audience.
func WithAdditionalAudiences(auds ...string) AccessTokenAuthOption {
	return func(c *jwtauth.Config) {
		c.ExpectedAudiences = append(c.ExpectedAudiences, auds...)
	}
}

// WithoutAudienceCheck disables "aud" enforcement. Some providers (Keycloak
// with default client scopes, for instance) issue access tokens whose only
// audience is "account".
func WithoutAudienceCheck() AccessTokenAuthOption {
	return func(c *jwtauth.Config) { c.SkipAudienceCheck = true }
}

// NewFromDiscovery returns an Authenticator that verifies JWT bearer tokens
// using keys discovered via OpenID Connect discovery on issuer.
//
// audience may be empty only when WithoutAudienceCheck is supplied.
func NewFromDiscovery(ctx context.Context, issuer string, audience string, opts ...AccessTokenAuthOption) (SecurityProvider, error) {
	cfg := jwtauth.DefaultConfig()
	cfg.Issuer = issuer
	if audience != "" {
		cfg.ExpectedAudiences = []string{audience}
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.ExpectedAudiences) == 0 && !cfg.SkipAudienceCheck {
		return nil, errors.New("audience is required")
	}
	v, err := jwtauth.NewFromDiscovery(ctx, cfg)
	if err != nil {
		return nil, err
	}
	sec := SecurityConfig{
		Issuer:            cfg.Issuer,
		Audiences:         append([]string(nil), cfg.ExpectedAudiences...),
		SkipAudienceCheck: cfg.SkipAudienceCheck,
		AllowedAlgs:       append([]string(nil), cfg.AllowedAlgs...),
		JWKSURL:           v.JWKSURL(),
		Leeway:            cfg.Leeway,
	}
	sec.Normalize()
	return &adapter{v: v, sec: sec}, nil
}

// adapter wraps the internal verifier to satisfy the public interface.
type adapter struct {
	v   jwtauth.Verifier
	sec SecurityConfig
}

func (ad *adapter) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	vt, err := ad.v.Verify(ctx, tok)
	if err != nil {
		return nil, errors.Join(ErrUnauthorized, err)
	}
	return userInfoAdapter{vt: vt}, nil
}

func (ad *adapter) SecurityConfig() SecurityConfig { return ad.sec.Copy() }

type userInfoAdapter struct{ vt jwtauth.VerifiedToken }

func (u userInfoAdapter) UserID() string       { return u.vt.Subject() }
func (u userInfoAdapter) Claims(ref any) error { return u.vt.Claims(ref) }
func (u userInfoAdapter) ClaimSet() Claims     { return Claims(u.vt.ClaimSet()) }
