package auth

import (
	"context"
	"errors"
	"time"

	"github.com/ggoodman/realmguard/internal/jwtauth"
)

// SecurityConfig describes how a resource validates and advertises bearer
// token authentication.
//
// A zero value is invalid; populate required fields then call Validate.
type SecurityConfig struct {
	Issuer            string
	Audiences         []string
	SkipAudienceCheck bool
	AllowedAlgs       []string // default: ["RS256"] if empty
	JWKSURL           string   // optional override / filled by discovery

	Leeway time.Duration // clock skew tolerance (default 60s)
}

// Normalize fills defaults.
func (c *SecurityConfig) Normalize() {
	if len(c.AllowedAlgs) == 0 {
		c.AllowedAlgs = []string{"RS256"}
	}
	if c.Leeway == 0 {
		c.Leeway = 60 * time.Second
	}
}

// Validate returns an error if required invariants are not met.
func (c SecurityConfig) Validate() error {
	if c.Issuer == "" {
		return errors.New("security: issuer required")
	}
	if c.SkipAudienceCheck {
		return nil
	}
	if len(c.Audiences) == 0 {
		return errors.New("security: at least one audience required")
	}
	for _, a := range c.Audiences {
		if a == "" {
			return errors.New("security: empty audience entry")
		}
	}
	return nil
}

// Copy returns a deep copy safe for mutation by the caller.
func (c SecurityConfig) Copy() SecurityConfig {
	dup := c
	dup.Audiences = append([]string(nil), c.Audiences...)
	dup.AllowedAlgs = append([]string(nil), c.AllowedAlgs...)
	return dup
}

// NewManualJWTAuthenticator constructs a bearer token authenticator using
// this security configuration without performing OIDC discovery. It expects
// c.Issuer, c.JWKSURL and at least one audience (unless SkipAudienceCheck).
func (c SecurityConfig) NewManualJWTAuthenticator(ctx context.Context) (SecurityProvider, error) {
	cc := c.Copy()
	cc.Normalize()
	if err := cc.Validate(); err != nil {
		return nil, err
	}
	if cc.JWKSURL == "" {
		return nil, errors.New("security: JWKSURL required for manual JWT authenticator")
	}

	jc := &jwtauth.Config{
		Issuer:            cc.Issuer,
		ExpectedAudiences: append([]string(nil), cc.Audiences...),
		SkipAudienceCheck: cc.SkipAudienceCheck,
		AllowedAlgs:       append([]string(nil), cc.AllowedAlgs...),
		Leeway:            cc.Leeway,
	}
	v, err := jwtauth.NewStatic(ctx, jc, cc.JWKSURL)
	if err != nil {
		return nil, err
	}
	return &adapter{v: v, sec: cc}, nil
}

// SecurityDescriptor exposes security configuration for transports to advertise.
type SecurityDescriptor interface{ SecurityConfig() SecurityConfig }

// SecurityProvider combines validation + descriptor. Returned by constructors.
type SecurityProvider interface {
	Authenticator
	SecurityDescriptor
}
