// Package inventoryservice is the HTTP surface of the inventory resource
// server. Every request passes through an authz.Guard that accepts bearer
// tokens only; the product list is restricted to administrators.
package inventoryservice

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/ggoodman/realmguard/auth"
	"github.com/ggoodman/realmguard/authz"
	"github.com/ggoodman/realmguard/internal/logctx"
	"github.com/ggoodman/realmguard/internal/wellknown"
	"github.com/ggoodman/realmguard/inventory"
)

// HealthPath answers liveness probes without authentication.
const HealthPath = "/healthz"

// Policy is the inventory route table.
func Policy(opts ...authz.PolicyOption) *authz.Policy {
	return authz.MustPolicy([]authz.Rule{
		{Pattern: "/.well-known/**", Requirement: authz.Public()},
		{Pattern: HealthPath, Requirement: authz.Public()},
		{Pattern: inventory.ProductsPath, Requirement: authz.AnyRole("ADMIN")},
		{Pattern: authz.CatchAll, Requirement: authz.Authenticated()},
	}, opts...)
}

// Option configures a Service.
type Option func(*config)

type config struct {
	logger       *slog.Logger
	realm        string
	resourceName string
	extractor    authz.Extractor
	observer     authz.DecisionObserver
	security     *auth.SecurityConfig
}

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithRealm sets the realm advertised in Bearer challenges.
func WithRealm(realm string) Option {
	return func(c *config) { c.realm = realm }
}

// WithResourceName sets the human readable name in the metadata document.
func WithResourceName(name string) Option {
	return func(c *config) { c.resourceName = name }
}

// WithObserver reports every authorization decision to o.
func WithObserver(o authz.DecisionObserver) Option {
	return func(c *config) { c.observer = o }
}

// WithExtractor overrides the claims extractor used for authorities.
func WithExtractor(ex authz.Extractor) Option {
	return func(c *config) { c.extractor = ex }
}

// WithSecurityConfig sets what the metadata document advertises. By default
// it is read from the authenticator when it implements
// auth.SecurityDescriptor.
func WithSecurityConfig(sc auth.SecurityConfig) Option {
	return func(c *config) { cc := sc.Copy(); c.security = &cc }
}

// Service routes inventory requests.
type Service struct {
	handler http.Handler
}

// New builds the inventory service. publicURL is the externally visible
// base URL and becomes the resource identifier.
func New(publicURL string, repo *inventory.Repository, authenticator auth.Authenticator, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("inventoryservice: repository is required")
	}
	if authenticator == nil {
		return nil, errors.New("inventoryservice: authenticator is required")
	}
	u, err := url.Parse(publicURL)
	if err != nil {
		return nil, fmt.Errorf("inventoryservice: invalid public URL %q: %w", publicURL, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("inventoryservice: public URL must use HTTP or HTTPS scheme, got %q", u.Scheme)
	}

	cfg := &config{
		logger:       slog.New(slog.DiscardHandler),
		realm:        "inventory",
		resourceName: "Inventory Service",
		extractor:    authz.DefaultExtractor,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.security == nil {
		if sd, ok := authenticator.(auth.SecurityDescriptor); ok {
			sc := sd.SecurityConfig()
			cfg.security = &sc
		}
	}

	log := logctx.New(cfg.logger)
	resource := u.String()

	md := wellknown.ProtectedResourceMetadata{Resource: resource, ResourceName: cfg.resourceName}
	if sc := cfg.security; sc != nil {
		md.AuthorizationServers = []string{sc.Issuer}
		md.JwksURI = sc.JWKSURL
		md.ResourceSigningAlgValuesSupported = append([]string(nil), sc.AllowedAlgs...)
	}

	mux := http.NewServeMux()
	mux.Handle(inventory.ProductsPath, inventory.NewHandler(repo, log))
	mux.Handle(wellknown.ProtectedResourcePath, wellknown.Handler(md))
	mux.HandleFunc(HealthPath, handleHealth)

	guardOpts := []authz.GuardOption{
		authz.WithAuthenticator(authenticator),
		authz.WithGuardExtractor(cfg.extractor),
		authz.WithLogger(log),
		authz.WithRealm(cfg.realm),
		authz.WithResourceMetadataURL(wellknown.MetadataURL(resource)),
	}
	if cfg.observer != nil {
		guardOpts = append(guardOpts, authz.WithObserver(cfg.observer))
	}
	guard := authz.NewGuard(Policy(authz.WithExtractor(cfg.extractor)), guardOpts...)

	return &Service{handler: guard.Middleware(mux)}, nil
}

func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
