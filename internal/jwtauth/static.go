package jwtauth

import (
	"context"
	"errors"
)

// NewStatic constructs a Verifier that validates tokens against a statically
// configured issuer and JWKS URI (no discovery).
func NewStatic(ctx context.Context, cfg *Config, jwksURI string) (Verifier, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if jwksURI == "" {
		return nil, errors.New("jwks uri required")
	}
	return newJWKSVerifier(ctx, cfg, cfg.Issuer, jwksURI)
}

var (
	_ Verifier = (*jwksVerifier)(nil)
	_ Verifier = (*discoveryVerifier)(nil)
)
