package jwtauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// Config controls validation behavior for bearer access tokens.
type Config struct {
	Issuer string
	// ExpectedAudiences lists the accepted "aud" values. A token is accepted
	// when its audience intersects this set. Ignored when SkipAudienceCheck is
	// true, which is required for providers that omit "aud" on access tokens
	// issued to public clients.
	ExpectedAudiences []string
	SkipAudienceCheck bool
	AllowedAlgs       []string
	Leeway            time.Duration
}

// DefaultConfig returns a Config with safe defaults for algorithm and leeway.
func DefaultConfig() *Config {
	return &Config{
		AllowedAlgs: []string{"RS256"},
		Leeway:      60 * time.Second,
	}
}

func (c *Config) validate() error {
	if c == nil {
		return errors.New("config is required")
	}
	if c.Issuer == "" {
		return errors.New("issuer is required")
	}
	if !c.SkipAudienceCheck && len(c.ExpectedAudiences) == 0 {
		return errors.New("at least one expected audience required")
	}
	if len(c.AllowedAlgs) == 0 {
		c.AllowedAlgs = []string{"RS256"}
	}
	return nil
}

// VerifiedToken is the result of a successful verification. Its claim set is
// never mutated after construction.
type VerifiedToken interface {
	Subject() string
	Claims(ref any) error
	ClaimSet() map[string]any
}

type verifiedToken struct {
	sub    string
	claims map[string]any
}

func (v *verifiedToken) Subject() string { return v.sub }

func (v *verifiedToken) Claims(ref any) error {
	b, err := json.Marshal(v.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

func (v *verifiedToken) ClaimSet() map[string]any { return maps.Clone(v.claims) }

// Verifier validates bearer tokens. Implementations MUST perform signature,
// issuer, audience and time validations.
type Verifier interface {
	Verify(ctx context.Context, tok string) (VerifiedToken, error)
}

// ErrUnauthorized indicates that the token failed validation (signature,
// issuer, audience, exp/nbf) and the request should be treated as
// unauthenticated.
var ErrUnauthorized = errors.New("jwtauth: unauthorized")

type discoveryVerifier struct {
	*jwksVerifier
	jwksURL string
}

// JWKSURL is the jwks_uri learned through discovery.
func (d *discoveryVerifier) JWKSURL() string { return d.jwksURL }

// NewFromDiscovery performs OIDC discovery to obtain jwks_uri and issuer and
// constructs a Verifier enforcing the policies in cfg. JWKS keys are
// auto-refreshed.
func NewFromDiscovery(ctx context.Context, cfg *Config) (*discoveryVerifier, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta struct {
		Issuer  string `json:"issuer"`
		JwksURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}
	if meta.JwksURI == "" {
		return nil, errors.New("discovery incomplete: missing jwks_uri")
	}

	v, err := newJWKSVerifier(ctx, cfg, meta.Issuer, meta.JwksURI)
	if err != nil {
		return nil, err
	}
	return &discoveryVerifier{jwksVerifier: v, jwksURL: meta.JwksURI}, nil
}

type jwksVerifier struct {
	cfg     *Config
	iss     string
	keyfunc jwt.Keyfunc
}

func newJWKSVerifier(ctx context.Context, cfg *Config, issuer, jwksURI string) (*jwksVerifier, error) {
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}
	allowed := slices.Clone(cfg.AllowedAlgs)
	return &jwksVerifier{
		cfg: cfg,
		iss: issuer,
		keyfunc: func(t *jwt.Token) (any, error) {
			if alg := t.Method.Alg(); !slices.Contains(allowed, alg) {
				return nil, fmt.Errorf("disallowed alg: %s", alg)
			}
			return kf.Keyfunc(t)
		},
	}, nil
}

// Verify parses and validates tok. A missing "sub" is NOT an error here:
// deciding which identity claims are mandatory belongs to the caller.
func (a *jwksVerifier) Verify(ctx context.Context, tok string) (VerifiedToken, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(a.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(a.iss),
		jwt.WithLeeway(a.cfg.Leeway),
	)
	parsed, err := parser.Parse(tok, a.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims type", ErrUnauthorized)
	}

	if !a.cfg.SkipAudienceCheck && !audIntersects(claims["aud"], a.cfg.ExpectedAudiences) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}
	if iatf, ok := claims["iat"].(float64); ok {
		iat := time.Unix(int64(iatf), 0)
		if iat.After(time.Now().Add(a.cfg.Leeway).Add(5 * time.Minute)) {
			return nil, fmt.Errorf("%w: iat too far in future", ErrUnauthorized)
		}
	}

	sub, _ := claims["sub"].(string)
	return &verifiedToken{sub: sub, claims: map[string]any(claims)}, nil
}

func audIntersects(aud any, wants []string) bool {
	switch v := aud.(type) {
	case string:
		return slices.Contains(wants, v)
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok && slices.Contains(wants, s) {
				return true
			}
		}
	case []string:
		for _, s := range v {
			if slices.Contains(wants, s) {
				return true
			}
		}
	}
	return false
}
