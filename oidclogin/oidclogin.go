// Package oidclogin implements browser sign-in against an OpenID Connect
// provider using the authorization code flow with PKCE and a nonce.
//
// Routes, relative to the mux they are registered on:
//
//	GET  /login                        login page
//	GET  /login/oauth2/authorization   start the code flow
//	GET  /login/oauth2/code            provider callback
//	POST /logout                       end the session
package oidclogin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/ggoodman/realmguard/auth"
	"github.com/ggoodman/realmguard/internal/logctx"
	"github.com/ggoodman/realmguard/sessions"
	"github.com/ggoodman/realmguard/storage"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// Route paths.
const (
	LoginPath     = "/login"
	StartPath     = "/login/oauth2/authorization"
	CallbackPath  = "/login/oauth2/code"
	LogoutPath    = "/logout"
	loggedOutPath = "/?logout=true"
)

// StateTTL bounds how long a started login may take to complete.
const StateTTL = 10 * time.Minute

const (
	loginStateKind   = "login"
	loginStateCookie = "REALMGUARD_LOGIN"
)

var (
	// ErrStateMismatch is returned when the callback state is unknown,
	// expired, or not bound to the calling browser.
	ErrStateMismatch = errors.New("oidclogin: state mismatch")
	// ErrNonceMismatch is returned when the ID token nonce differs from the
	// one sent with the authorization request.
	ErrNonceMismatch = errors.New("oidclogin: nonce mismatch")
	// ErrMissingIDToken is returned when the token response has no id_token.
	ErrMissingIDToken = errors.New("oidclogin: token response has no id_token")
)

// Config describes the OIDC client registration.
type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	// RedirectURL is the absolute URL of CallbackPath on this service.
	RedirectURL string
	// Scopes default to openid, profile, email and roles.
	Scopes []string
	// PostLogoutRedirectURL is sent to the provider's end session endpoint.
	PostLogoutRedirectURL string
}

func (c Config) validate() error {
	var errs []error
	if c.Issuer == "" {
		errs = append(errs, errors.New("issuer is required"))
	}
	if c.ClientID == "" {
		errs = append(errs, errors.New("client id is required"))
	}
	if _, err := url.ParseRequestURI(c.RedirectURL); err != nil {
		errs = append(errs, fmt.Errorf("redirect url: %w", err))
	}
	if len(c.Scopes) > 0 && !slices.Contains(c.Scopes, oidc.ScopeOpenID) {
		errs = append(errs, errors.New("scopes must include openid"))
	}
	return errors.Join(errs...)
}

// loginState is what the start handler remembers until the callback.
type loginState struct {
	Nonce     string    `json:"nonce"`
	Verifier  string    `json:"verifier"`
	CreatedAt time.Time `json:"created_at"`
}

// Handler serves the login, callback and logout routes.
type Handler struct {
	cfg           Config
	oauth         *oauth2.Config
	verifier      *oidc.IDTokenVerifier
	endSessionURL string

	state    storage.Storage
	sessions *sessions.Store
	cookies  sessions.Cookies

	loginPage http.Handler
	accessTok auth.Authenticator
	roleClaim string
	observer  LoginObserver
	log       *slog.Logger
}

// LoginObserver is told the outcome of every callback.
type LoginObserver interface {
	ObserveLogin(err error)
}

// Option configures a Handler.
type Option func(*Handler)

// WithLoginPage serves h on GET /login. Without it /login starts the flow
// directly.
func WithLoginPage(h http.Handler) Option {
	return func(l *Handler) { l.loginPage = h }
}

// WithAccessTokenAuthenticator verifies the access token returned at login
// with a and copies its role claim into the session when the ID token
// carries none.
func WithAccessTokenAuthenticator(a auth.Authenticator) Option {
	return func(l *Handler) { l.accessTok = a }
}

// WithRoleClaim names the claim path roles are read from, e.g.
// ["resource_access", "app", "roles"]. Its top-level claim is the one copied
// from the access token. Defaults to realm_access.
func WithRoleClaim(path ...string) Option {
	return func(l *Handler) {
		if len(path) > 0 && path[0] != "" {
			l.roleClaim = path[0]
		}
	}
}

// WithObserver reports callback outcomes to o.
func WithObserver(o LoginObserver) Option {
	return func(l *Handler) { l.observer = o }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Handler) { l.log = log }
}

// New discovers the provider and returns a Handler. state holds pending
// logins; sess and cookies hold established sessions.
func New(ctx context.Context, cfg Config, state storage.Storage, sess *sessions.Store, cookies sessions.Cookies, opts ...Option) (*Handler, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("oidclogin: invalid config: %w", err)
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{oidc.ScopeOpenID, "profile", "email", "roles"}
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidclogin: discovery: %w", err)
	}
	var meta struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("oidclogin: discovery claims: %w", err)
	}

	ep := provider.Endpoint()
	ep.AuthStyle = oauth2.AuthStyleInParams
	h := &Handler{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint:     ep,
		},
		verifier:      provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		endSessionURL: meta.EndSessionEndpoint,
		state:         state,
		sessions:      sess,
		cookies:       cookies,
		roleClaim:     "realm_access",
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = logctx.New(h.log)
	return h, nil
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+LoginPath, h.handleLoginPage)
	mux.HandleFunc("GET "+StartPath, h.handleStart)
	mux.HandleFunc("GET "+StartPath+"/{registration}", h.handleStart)
	mux.HandleFunc("GET "+CallbackPath, h.handleCallback)
	mux.HandleFunc("GET "+CallbackPath+"/{registration}", h.handleCallback)
	mux.HandleFunc("POST "+LogoutPath, h.handleLogout)
}

func (h *Handler) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if h.loginPage == nil {
		http.Redirect(w, r, StartPath, http.StatusFound)
		return
	}
	h.loginPage.ServeHTTP(w, r)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state := uuid.NewString()
	ls := loginState{
		Nonce:     uuid.NewString(),
		Verifier:  oauth2.GenerateVerifier(),
		CreatedAt: time.Now(),
	}
	data, err := json.Marshal(ls)
	if err != nil {
		h.redirectError(w, r, "login.start.fail", err)
		return
	}
	if err := h.state.Set(ctx, state, data, storage.WithSessions(loginStateKind), storage.WithTTL(StateTTL)); err != nil {
		h.redirectError(w, r, "login.start.fail", err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     loginStateCookie,
		Value:    state,
		Path:     CallbackPath,
		MaxAge:   int(StateTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	h.log.InfoContext(ctx, "login.start")
	http.Redirect(w, r, h.oauth.AuthCodeURL(state, oidc.Nonce(ls.Nonce), oauth2.S256ChallengeOption(ls.Verifier)), http.StatusFound)
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	// The state cookie is single use whatever the outcome.
	http.SetCookie(w, &http.Cookie{Name: loginStateCookie, Path: CallbackPath, MaxAge: -1, HttpOnly: true, Secure: h.cookies.Secure})

	if e := q.Get("error"); e != "" {
		h.log.WarnContext(ctx, "login.callback.provider_error", slog.String("error", e), slog.String("error_description", q.Get("error_description")))
		h.observe(fmt.Errorf("provider error %q", e))
		http.Redirect(w, r, LoginPath+"?error", http.StatusFound)
		return
	}

	ls, err := h.takeState(ctx, r, q.Get("state"))
	if err != nil {
		h.log.WarnContext(ctx, "login.callback.state_invalid", slog.String("err", err.Error()))
		h.observe(err)
		http.Redirect(w, r, LoginPath+"?error", http.StatusFound)
		return
	}

	code := q.Get("code")
	if code == "" {
		h.log.WarnContext(ctx, "login.callback.no_code")
		h.observe(errors.New("no code"))
		http.Redirect(w, r, LoginPath+"?error", http.StatusFound)
		return
	}

	tok, err := h.oauth.Exchange(ctx, code, oauth2.VerifierOption(ls.Verifier))
	if err != nil {
		h.fail(w, r, "login.callback.exchange_fail", err)
		return
	}
	rawID, _ := tok.Extra("id_token").(string)
	if rawID == "" {
		h.fail(w, r, "login.callback.exchange_fail", ErrMissingIDToken)
		return
	}
	idTok, err := h.verifier.Verify(ctx, rawID)
	if err != nil {
		h.fail(w, r, "login.callback.id_token_invalid", err)
		return
	}
	if idTok.Nonce != ls.Nonce {
		h.fail(w, r, "login.callback.id_token_invalid", ErrNonceMismatch)
		return
	}
	var claims map[string]any
	if err := idTok.Claims(&claims); err != nil {
		h.fail(w, r, "login.callback.id_token_invalid", err)
		return
	}
	h.mergeAccessTokenRoles(ctx, claims, tok.AccessToken)

	// Replace any previous session held by this browser.
	if old, err := h.cookies.Read(r); err == nil {
		_ = h.sessions.Delete(ctx, old)
	}
	sess, err := h.sessions.Create(ctx, sessions.Session{
		Subject:      idTok.Subject,
		IDToken:      rawID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Claims:       claims,
	})
	if err != nil {
		h.fail(w, r, "login.callback.session_fail", err)
		return
	}
	h.cookies.Set(w, sess.ID, time.Until(sess.ExpiresAt))

	h.log.InfoContext(ctx, "login.success", slog.String("sub", idTok.Subject))
	h.observe(nil)
	http.Redirect(w, r, "/", http.StatusFound)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var idHint string
	if id, err := h.cookies.Read(r); err == nil {
		if sess, err := h.sessions.Get(ctx, id); err == nil {
			idHint = sess.IDToken
		}
		if err := h.sessions.Delete(ctx, id); err != nil {
			h.log.ErrorContext(ctx, "logout.session_delete_fail", slog.String("err", err.Error()))
		}
	}
	h.cookies.Clear(w)
	h.log.InfoContext(ctx, "logout")

	http.Redirect(w, r, h.logoutTarget(idHint), http.StatusFound)
}

// logoutTarget is the provider end session URL when one was discovered and
// the browser had a session, otherwise the local logged-out page.
func (h *Handler) logoutTarget(idHint string) string {
	if h.endSessionURL == "" || idHint == "" {
		return loggedOutPath
	}
	u, err := url.Parse(h.endSessionURL)
	if err != nil {
		return loggedOutPath
	}
	q := u.Query()
	q.Set("id_token_hint", idHint)
	q.Set("client_id", h.cfg.ClientID)
	if h.cfg.PostLogoutRedirectURL != "" {
		q.Set("post_logout_redirect_uri", h.cfg.PostLogoutRedirectURL)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (h *Handler) takeState(ctx context.Context, r *http.Request, state string) (*loginState, error) {
	if state == "" {
		return nil, fmt.Errorf("%w: no state parameter", ErrStateMismatch)
	}
	ck, err := r.Cookie(loginStateCookie)
	if err != nil || ck.Value != state {
		return nil, fmt.Errorf("%w: state not bound to this browser", ErrStateMismatch)
	}
	item, err := h.state.Get(ctx, state, storage.WithSessions(loginStateKind))
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("%w: unknown or expired state", ErrStateMismatch)
	}
	if err := h.state.Delete(ctx, storage.WithSessions(loginStateKind), storage.WithKey(state)); err != nil {
		return nil, err
	}
	var ls loginState
	if err := json.Unmarshal(item.Data, &ls); err != nil {
		return nil, fmt.Errorf("decode login state: %w", err)
	}
	return &ls, nil
}

func (h *Handler) mergeAccessTokenRoles(ctx context.Context, claims map[string]any, accessToken string) {
	if h.accessTok == nil || accessToken == "" {
		return
	}
	if _, ok := claims[h.roleClaim]; ok {
		return
	}
	ui, err := h.accessTok.CheckAuthentication(ctx, accessToken)
	if err != nil {
		h.log.WarnContext(ctx, "login.callback.access_token_unverified", slog.String("err", err.Error()))
		return
	}
	if roles, ok := ui.ClaimSet()[h.roleClaim]; ok {
		claims[h.roleClaim] = roles
	}
}

func (h *Handler) observe(err error) {
	if h.observer != nil {
		h.observer.ObserveLogin(err)
	}
}

// fail ends a callback with an error.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, event string, err error) {
	h.observe(err)
	h.redirectError(w, r, event, err)
}

func (h *Handler) redirectError(w http.ResponseWriter, r *http.Request, event string, err error) {
	h.log.ErrorContext(r.Context(), event, slog.String("err", err.Error()))
	http.Redirect(w, r, LoginPath+"?error", http.StatusFound)
}
