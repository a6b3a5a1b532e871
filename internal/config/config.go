// Package config loads service configuration from the environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/ggoodman/realmguard/auth"
	"github.com/ggoodman/realmguard/authz"
	"github.com/ggoodman/realmguard/internal/logctx"
	"github.com/ggoodman/realmguard/sessions"
	"github.com/ggoodman/realmguard/storage"
	"github.com/ggoodman/realmguard/storage/memory"
	redisstore "github.com/ggoodman/realmguard/storage/redis"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// OIDC configures token verification against the identity provider.
type OIDC struct {
	IssuerURL string `env:"OIDC_ISSUER_URL,default=http://localhost:8080/realms/realmguard"`
	// JWKSURL skips discovery and verifies against this key set.
	JWKSURL         string        `env:"OIDC_JWKS_URL"`
	AllowedAlgs     string        `env:"OIDC_ALLOWED_ALGS,default=RS256"`
	Leeway          time.Duration `env:"OIDC_LEEWAY,default=30s"`
	RoleClaim       string        `env:"OIDC_ROLE_CLAIM,default=realm_access.roles"`
	AuthorityPrefix string        `env:"OIDC_AUTHORITY_PREFIX,default=ROLE_"`
}

// Algs returns AllowedAlgs split on commas or spaces.
func (o OIDC) Algs() []string { return fields(o.AllowedAlgs) }

// Extractor returns the claims extractor for RoleClaim and AuthorityPrefix.
func (o OIDC) Extractor() authz.Extractor {
	return authz.Extractor{Path: authz.ParseClaimPath(o.RoleClaim), Prefix: o.AuthorityPrefix}
}

// Authenticator builds the bearer token verifier. With JWKSURL set it
// verifies against that key set without discovery. An empty audience
// disables the audience check.
func (o OIDC) Authenticator(ctx context.Context, audience string) (auth.SecurityProvider, error) {
	if o.JWKSURL != "" {
		sc := auth.SecurityConfig{
			Issuer:            o.IssuerURL,
			JWKSURL:           o.JWKSURL,
			AllowedAlgs:       o.Algs(),
			Leeway:            o.Leeway,
			SkipAudienceCheck: audience == "",
		}
		if audience != "" {
			sc.Audiences = []string{audience}
		}
		return sc.NewManualJWTAuthenticator(ctx)
	}
	opts := []auth.AccessTokenAuthOption{auth.WithAllowedAlgs(o.Algs()...), auth.WithLeeway(o.Leeway)}
	if audience == "" {
		opts = append(opts, auth.WithoutAudienceCheck())
	}
	return auth.NewFromDiscovery(ctx, o.IssuerURL, audience, opts...)
}

// Storage selects and configures the record store.
type Storage struct {
	Backend     string `env:"STORAGE_BACKEND,default=memory"`
	MaxItems    int    `env:"STORAGE_MEMORY_MAX_ITEMS,default=10000"`
	RedisAddr   string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisPrefix string `env:"REDIS_KEY_PREFIX,default=realmguard:"`
}

// Open builds the configured backend. Redis backends are pinged first.
func (s Storage) Open(ctx context.Context) (storage.Storage, error) {
	switch s.Backend {
	case "memory":
		return memory.New(s.MaxItems)
	case "redis":
		cl := redis.NewClient(&redis.Options{Addr: s.RedisAddr})
		if err := cl.Ping(ctx).Err(); err != nil {
			_ = cl.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return redisstore.New(redisstore.Config{Client: cl, KeyPrefix: s.RedisPrefix})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", s.Backend)
	}
}

// Log configures the process logger.
type Log struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=json"`
}

// Logger builds a context-aware slog logger writing to w.
func (l Log) Logger(w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	switch l.Format {
	case "json":
		h = slog.NewJSONHandler(w, opts)
	case "text":
		h = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", l.Format)
	}
	return logctx.New(slog.New(h)), nil
}

// AuthService is the configuration of cmd/auth-service.
type AuthService struct {
	ListenAddr string `env:"AUTH_LISTEN_ADDR,default=:8081"`
	PublicURL  string `env:"AUTH_PUBLIC_URL,default=http://localhost:8081"`
	// MetricsAddr serves Prometheus metrics when set.
	MetricsAddr string `env:"AUTH_METRICS_ADDR"`

	ClientID     string `env:"OIDC_CLIENT_ID,default=auth-service"`
	ClientSecret string `env:"OIDC_CLIENT_SECRET"`
	Scopes       string `env:"OIDC_SCOPES,default=openid profile email roles"`
	// Audience is required of API bearer tokens; empty disables the check.
	Audience string `env:"AUTH_AUDIENCE"`

	InventoryURL   string        `env:"INVENTORY_BASE_URL,default=http://localhost:8091"`
	DelegatedToken string        `env:"DELEGATED_TOKEN,default=access"`
	CallTimeout    time.Duration `env:"DELEGATE_TIMEOUT,default=5s"`

	SessionTTL   time.Duration `env:"SESSION_TTL,default=8h"`
	CookieSecure bool          `env:"SESSION_COOKIE_SECURE,default=false"`
	TemplateDir  string        `env:"TEMPLATE_OVERRIDE_DIR"`

	OIDC    OIDC
	Storage Storage
	Log     Log
}

// ScopeList returns Scopes split on commas or spaces.
func (c *AuthService) ScopeList() []string { return fields(c.Scopes) }

// TokenKind parses DelegatedToken.
func (c *AuthService) TokenKind() (sessions.TokenKind, error) {
	return sessions.ParseTokenKind(c.DelegatedToken)
}

// RedirectURL is the OIDC callback on PublicURL.
func (c *AuthService) RedirectURL() string {
	return strings.TrimRight(c.PublicURL, "/") + "/login/oauth2/code"
}

// Validate reports every invalid setting.
func (c *AuthService) Validate() error {
	var errs []error
	errs = append(errs, checkURL("AUTH_PUBLIC_URL", c.PublicURL), checkURL("INVENTORY_BASE_URL", c.InventoryURL))
	if c.ClientID == "" {
		errs = append(errs, errors.New("OIDC_CLIENT_ID is required"))
	}
	if _, err := c.TokenKind(); err != nil {
		errs = append(errs, fmt.Errorf("DELEGATED_TOKEN: %w", err))
	}
	if c.CallTimeout <= 0 {
		errs = append(errs, errors.New("DELEGATE_TIMEOUT must be positive"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	errs = append(errs, c.OIDC.validate(), c.Storage.validate())
	return errors.Join(errs...)
}

// Inventory is the configuration of cmd/inventory-service.
type Inventory struct {
	ListenAddr string `env:"INVENTORY_LISTEN_ADDR,default=:8091"`
	// MetricsAddr serves Prometheus metrics when set.
	MetricsAddr string `env:"INVENTORY_METRICS_ADDR"`

	// PublicURL identifies this resource server in its metadata document.
	PublicURL string `env:"INVENTORY_PUBLIC_URL,default=http://localhost:8091"`
	// Audience is required of bearer tokens; empty disables the check.
	Audience string `env:"INVENTORY_AUDIENCE"`

	OIDC    OIDC
	Storage Storage
	Log     Log
}

// Validate reports every invalid setting.
func (c *Inventory) Validate() error {
	return errors.Join(checkURL("INVENTORY_PUBLIC_URL", c.PublicURL), c.OIDC.validate(), c.Storage.validate())
}

// LoadAuthService decodes and validates the auth service configuration.
func LoadAuthService() (*AuthService, error) {
	var c AuthService
	if err := decode(&c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &c, nil
}

// LoadInventory decodes and validates the inventory service configuration.
func LoadInventory() (*Inventory, error) {
	var c Inventory
	if err := decode(&c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &c, nil
}

func decode(target any) error {
	if err := envdecode.Decode(target); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (o OIDC) validate() error {
	var errs []error
	errs = append(errs, checkURL("OIDC_ISSUER_URL", o.IssuerURL))
	if o.JWKSURL != "" {
		errs = append(errs, checkURL("OIDC_JWKS_URL", o.JWKSURL))
	}
	if len(o.Algs()) == 0 {
		errs = append(errs, errors.New("OIDC_ALLOWED_ALGS must name at least one algorithm"))
	}
	if o.Leeway < 0 {
		errs = append(errs, errors.New("OIDC_LEEWAY must not be negative"))
	}
	if strings.TrimSpace(o.RoleClaim) == "" {
		errs = append(errs, errors.New("OIDC_ROLE_CLAIM is required"))
	}
	return errors.Join(errs...)
}

func (s Storage) validate() error {
	switch s.Backend {
	case "memory", "redis":
		return nil
	default:
		return fmt.Errorf("STORAGE_BACKEND: unknown backend %q", s.Backend)
	}
}

func checkURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s: %q is not an absolute URL", name, raw)
	}
	return nil
}

func fields(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
}
