// Package authservice is the HTTP surface of the auth service: server
// rendered pages for signed-in browsers, a small JSON API for bearer
// clients, and the product page that calls the inventory service on the
// user's behalf.
package authservice

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/ggoodman/realmguard/auth"
	"github.com/ggoodman/realmguard/authz"
	"github.com/ggoodman/realmguard/internal/logctx"
	"github.com/ggoodman/realmguard/inventory"
	"github.com/ggoodman/realmguard/oidclogin"
	"github.com/ggoodman/realmguard/people"
	"github.com/ggoodman/realmguard/web"
)

// Policy is the auth service route table, evaluated top to bottom.
func Policy(opts ...authz.PolicyOption) *authz.Policy {
	return authz.MustPolicy([]authz.Rule{
		{Pattern: "/", Requirement: authz.Public()},
		{Pattern: "/webjars/**", Requirement: authz.Public()},
		{Pattern: "/login/**", Requirement: authz.Public()},
		{Pattern: "/login", Requirement: authz.Public()},
		{Pattern: "/error", Requirement: authz.Public()},
		{Pattern: "/css/**", Requirement: authz.Public()},
		{Pattern: "/js/**", Requirement: authz.Public()},
		{Pattern: "/auth", Requirement: authz.Public()},
		{Pattern: "/public/**", Requirement: authz.Public()},
		{Pattern: "/logout", Requirement: authz.Public()},
		{Pattern: "/admin/**", Requirement: authz.AnyRole("ADMIN")},
		{Pattern: "/user/**", Requirement: authz.AnyRole("USER", "ADMIN")},
		{Pattern: "/api/**", Requirement: authz.Authenticated()},
		{Pattern: authz.CatchAll, Requirement: authz.Authenticated()},
	}, opts...)
}

// Login mounts the browser sign-in routes. *oidclogin.Handler implements it.
type Login interface {
	Register(mux *http.ServeMux)
}

var _ Login = (*oidclogin.Handler)(nil)

// Option configures a Service.
type Option func(*config)

type config struct {
	logger    *slog.Logger
	authn     auth.Authenticator
	sessions  authz.SessionResolver
	login     Login
	realm     string
	extractor authz.Extractor
	observer  authz.DecisionObserver
}

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithAuthenticator accepts bearer tokens verified by a.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(c *config) { c.authn = a }
}

// WithSessionResolver accepts browser sessions resolved by s.
func WithSessionResolver(s authz.SessionResolver) Option {
	return func(c *config) { c.sessions = s }
}

// WithLogin mounts the browser sign-in routes and sends unauthenticated
// browsers to the login page.
func WithLogin(l Login) Option {
	return func(c *config) { c.login = l }
}

// WithRealm sets the realm advertised in Bearer challenges.
func WithRealm(realm string) Option {
	return func(c *config) { c.realm = realm }
}

// WithObserver reports every authorization decision to o.
func WithObserver(o authz.DecisionObserver) Option {
	return func(c *config) { c.observer = o }
}

// WithExtractor overrides the claims extractor used for authorities.
func WithExtractor(ex authz.Extractor) Option {
	return func(c *config) { c.extractor = ex }
}

// Service routes auth service requests.
type Service struct {
	handler  http.Handler
	log      *slog.Logger
	pages    *web.Renderer
	persons  *people.Repository
	products *inventory.Client
}

// New builds the auth service. At least one of WithAuthenticator and
// WithSessionResolver is required.
func New(pages *web.Renderer, persons *people.Repository, products *inventory.Client, opts ...Option) (*Service, error) {
	if pages == nil {
		return nil, errors.New("authservice: renderer is required")
	}
	if persons == nil {
		return nil, errors.New("authservice: person repository is required")
	}
	if products == nil {
		return nil, errors.New("authservice: inventory client is required")
	}
	cfg := &config{
		logger:    slog.New(slog.DiscardHandler),
		realm:     "auth-service",
		extractor: authz.DefaultExtractor,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.authn == nil && cfg.sessions == nil {
		return nil, errors.New("authservice: an authenticator or a session resolver is required")
	}

	s := &Service{
		log:      logctx.New(cfg.logger),
		pages:    pages,
		persons:  persons,
		products: products,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /auth", s.handleAuth)
	mux.HandleFunc("GET /product", s.handleProduct)
	mux.HandleFunc("GET /persons", s.handlePersons)
	mux.HandleFunc("GET /error", s.handleError)
	mux.HandleFunc("GET /api/test", s.handleAPITest)
	mux.HandleFunc("GET /api/user/profile", s.handleAPIProfile)
	mux.HandleFunc("GET /api/admin/users", s.handleAPIAdminUsers)
	static := web.Static()
	mux.Handle("GET /css/", static)
	mux.Handle("GET /js/", static)
	mux.HandleFunc("/", s.handleNotFound)

	guardOpts := []authz.GuardOption{
		authz.WithGuardExtractor(cfg.extractor),
		authz.WithLogger(s.log),
		authz.WithRealm(cfg.realm),
	}
	if cfg.authn != nil {
		guardOpts = append(guardOpts, authz.WithAuthenticator(cfg.authn))
	}
	if cfg.sessions != nil {
		guardOpts = append(guardOpts, authz.WithSessionResolver(cfg.sessions))
	}
	if cfg.observer != nil {
		guardOpts = append(guardOpts, authz.WithObserver(cfg.observer))
	}
	if cfg.login != nil {
		cfg.login.Register(mux)
		guardOpts = append(guardOpts, authz.WithLoginRedirect(oidclogin.LoginPath))
	}

	s.handler = authz.NewGuard(Policy(authz.WithExtractor(cfg.extractor)), guardOpts...).Middleware(mux)
	return s, nil
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

// LoginPage renders the sign-in page. Pass it to oidclogin.WithLoginPage.
func LoginPage(pages *web.Renderer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		pages.Render(w, r, http.StatusOK, web.PageLogin, web.Page{
			Title: "Sign in",
			Data: loginData{
				Error:     q.Has("error"),
				LoggedOut: q.Has("logout"),
				StartURL:  oidclogin.StartPath,
			},
		})
	})
}
