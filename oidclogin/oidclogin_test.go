package oidclogin

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/realmguard/auth/authtest"
	"github.com/ggoodman/realmguard/internal/oidctest"
	"github.com/ggoodman/realmguard/sessions"
	"github.com/ggoodman/realmguard/storage/memory"
	"github.com/golang-jwt/jwt/v5"
)

const clientID = "auth-service"

type fixture struct {
	idp      *oidctest.Provider
	handler  *Handler
	mux      *http.ServeMux
	sessions *sessions.Store
	cookies  sessions.Cookies
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	idp := oidctest.New(t)
	mem, err := memory.New(100)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	t.Cleanup(func() { _ = mem.Close() })

	store := sessions.NewStore(mem, time.Hour)
	cookies := sessions.DefaultCookies(false)
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	h, err := New(context.Background(), Config{
		Issuer:                idp.Issuer,
		ClientID:              clientID,
		ClientSecret:          "s3cret",
		RedirectURL:           "http://app.test" + CallbackPath,
		PostLogoutRedirectURL: "http://app.test/",
	}, mem, store, cookies, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	mux := http.NewServeMux()
	h.Register(mux)
	return &fixture{idp: idp, handler: h, mux: mux, sessions: store, cookies: cookies}
}

func (f *fixture) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

type started struct {
	state, nonce string
	cookie       *http.Cookie
	authURL      *url.URL
}

func (f *fixture) start(t *testing.T) started {
	t.Helper()
	rec := f.serve(httptest.NewRequest(http.MethodGet, StartPath, nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("start status = %d", rec.Code)
	}
	u, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	var ck *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == loginStateCookie {
			ck = c
		}
	}
	if ck == nil {
		t.Fatalf("no login state cookie set")
	}
	return started{state: u.Query().Get("state"), nonce: u.Query().Get("nonce"), cookie: ck, authURL: u}
}

func (f *fixture) callback(s started, code string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, CallbackPath+"?"+url.Values{"code": {code}, "state": {s.state}}.Encode(), nil)
	if s.cookie != nil {
		req.AddCookie(s.cookie)
	}
	return f.serve(req)
}

func (f *fixture) idToken(t *testing.T, nonce string, extra jwt.MapClaims) string {
	claims := jwt.MapClaims{
		"sub":                "u-1",
		"aud":                clientID,
		"nonce":              nonce,
		"preferred_username": "alice",
		"email":              "alice@example.com",
	}
	for k, v := range extra {
		claims[k] = v
	}
	return f.idp.Sign(t, claims)
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessions.DefaultCookieName && c.MaxAge > 0 {
			return c
		}
	}
	t.Fatalf("no session cookie in %v", rec.Result().Cookies())
	return nil
}

func TestStartRedirectsToProvider(t *testing.T) {
	f := newFixture(t)
	s := f.start(t)

	if got := s.authURL.Scheme + "://" + s.authURL.Host + s.authURL.Path; got != f.idp.Issuer+"/auth" {
		t.Fatalf("authorization endpoint = %s", got)
	}
	q := s.authURL.Query()
	checks := map[string]string{
		"client_id":             clientID,
		"response_type":         "code",
		"redirect_uri":          "http://app.test" + CallbackPath,
		"code_challenge_method": "S256",
	}
	for k, want := range checks {
		if q.Get(k) != want {
			t.Fatalf("%s = %q, want %q", k, q.Get(k), want)
		}
	}
	if s.state == "" || s.nonce == "" || q.Get("code_challenge") == "" {
		t.Fatalf("missing state/nonce/challenge: %v", q)
	}
	if !strings.Contains(q.Get("scope"), "openid") {
		t.Fatalf("scope = %q", q.Get("scope"))
	}
	if s.cookie.Value != s.state || !s.cookie.HttpOnly {
		t.Fatalf("state cookie = %+v", s.cookie)
	}
}

func TestLoginCreatesSession(t *testing.T) {
	f := newFixture(t)
	s := f.start(t)

	code := f.idp.IssueCode(oidctest.TokenResponse{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		IDToken:      f.idToken(t, s.nonce, jwt.MapClaims{"realm_access": map[string]any{"roles": []any{"ADMIN"}}}),
	})
	rec := f.callback(s, code)
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/" {
		t.Fatalf("callback = %d %q", rec.Code, rec.Header().Get("Location"))
	}

	reqs := f.idp.TokenRequests()
	if len(reqs) != 1 {
		t.Fatalf("token requests = %d", len(reqs))
	}
	if reqs[0].Get("code_verifier") == "" || reqs[0].Get("client_id") != clientID || reqs[0].Get("client_secret") != "s3cret" {
		t.Fatalf("token request = %v", reqs[0])
	}

	ck := sessionCookie(t, rec)
	sess, err := f.sessions.Get(context.Background(), ck.Value)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if sess.Subject != "u-1" || sess.AccessToken != "access-1" || sess.RefreshToken != "refresh-1" || sess.IDToken == "" {
		t.Fatalf("session = %+v", sess)
	}

	req := httptest.NewRequest(http.MethodGet, "/product", nil)
	req.AddCookie(ck)
	pr, err := sessions.NewResolver(f.sessions, f.cookies).ResolveSession(req)
	if err != nil {
		t.Fatalf("ResolveSession: %v", err)
	}
	if pr.Username != "alice" || !pr.HasAuthority("ROLE_ADMIN") {
		t.Fatalf("principal = %v", pr)
	}
	if tok, _ := pr.DelegatedToken(); tok != "access-1" {
		t.Fatalf("delegated token = %q", tok)
	}
}

func TestLoginMergesAccessTokenRoles(t *testing.T) {
	authn := authtest.NewStatic().Add("access-1", map[string]any{
		"sub":          "u-1",
		"realm_access": map[string]any{"roles": []any{"USER"}},
	})
	f := newFixture(t, WithAccessTokenAuthenticator(authn))
	s := f.start(t)

	code := f.idp.IssueCode(oidctest.TokenResponse{AccessToken: "access-1", IDToken: f.idToken(t, s.nonce, nil)})
	rec := f.callback(s, code)
	sess, err := f.sessions.Get(context.Background(), sessionCookie(t, rec).Value)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	ra, _ := sess.Claims["realm_access"].(map[string]any)
	if roles, _ := ra["roles"].([]any); len(roles) != 1 || roles[0] != "USER" {
		t.Fatalf("realm_access = %v", sess.Claims["realm_access"])
	}
}

func TestLoginMergesConfiguredRoleClaim(t *testing.T) {
	authn := authtest.NewStatic().Add("access-1", map[string]any{
		"sub":             "u-1",
		"realm_access":    map[string]any{"roles": []any{"USER"}},
		"resource_access": map[string]any{"shop": map[string]any{"roles": []any{"ADMIN"}}},
	})
	f := newFixture(t, WithAccessTokenAuthenticator(authn), WithRoleClaim("resource_access", "shop", "roles"))
	s := f.start(t)

	code := f.idp.IssueCode(oidctest.TokenResponse{AccessToken: "access-1", IDToken: f.idToken(t, s.nonce, nil)})
	rec := f.callback(s, code)
	sess, err := f.sessions.Get(context.Background(), sessionCookie(t, rec).Value)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	ra, _ := sess.Claims["resource_access"].(map[string]any)
	shop, _ := ra["shop"].(map[string]any)
	if roles, _ := shop["roles"].([]any); len(roles) != 1 || roles[0] != "ADMIN" {
		t.Fatalf("resource_access = %v", sess.Claims["resource_access"])
	}
	if _, ok := sess.Claims["realm_access"]; ok {
		t.Fatalf("realm_access copied although another role claim is configured")
	}
}

func TestCallbackRejections(t *testing.T) {
	t.Run("provider error", func(t *testing.T) {
		f := newFixture(t)
		rec := f.serve(httptest.NewRequest(http.MethodGet, CallbackPath+"?error=access_denied", nil))
		assertLoginError(t, rec)
	})

	t.Run("state not bound to browser", func(t *testing.T) {
		f := newFixture(t)
		s := f.start(t)
		code := f.idp.IssueCode(oidctest.TokenResponse{AccessToken: "a", IDToken: f.idToken(t, s.nonce, nil)})
		s.cookie = nil
		assertLoginError(t, f.callback(s, code))
		if n := len(f.idp.TokenRequests()); n != 0 {
			t.Fatalf("code exchanged despite bad state")
		}
	})

	t.Run("state replay", func(t *testing.T) {
		f := newFixture(t)
		s := f.start(t)
		code := f.idp.IssueCode(oidctest.TokenResponse{AccessToken: "a", IDToken: f.idToken(t, s.nonce, nil)})
		if rec := f.callback(s, code); rec.Header().Get("Location") != "/" {
			t.Fatalf("first callback failed: %q", rec.Header().Get("Location"))
		}
		code = f.idp.IssueCode(oidctest.TokenResponse{AccessToken: "a", IDToken: f.idToken(t, s.nonce, nil)})
		assertLoginError(t, f.callback(s, code))
	})

	t.Run("nonce mismatch", func(t *testing.T) {
		f := newFixture(t)
		s := f.start(t)
		code := f.idp.IssueCode(oidctest.TokenResponse{AccessToken: "a", IDToken: f.idToken(t, "other", nil)})
		assertLoginError(t, f.callback(s, code))
	})

	t.Run("wrong audience", func(t *testing.T) {
		f := newFixture(t)
		s := f.start(t)
		code := f.idp.IssueCode(oidctest.TokenResponse{AccessToken: "a", IDToken: f.idToken(t, s.nonce, jwt.MapClaims{"aud": "someone-else"})})
		assertLoginError(t, f.callback(s, code))
	})

	t.Run("no id token", func(t *testing.T) {
		f := newFixture(t)
		s := f.start(t)
		code := f.idp.IssueCode(oidctest.TokenResponse{AccessToken: "a"})
		assertLoginError(t, f.callback(s, code))
	})

	t.Run("unknown code", func(t *testing.T) {
		f := newFixture(t)
		s := f.start(t)
		assertLoginError(t, f.callback(s, "bogus"))
	})
}

func assertLoginError(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != LoginPath+"?error" {
		t.Fatalf("response = %d %q", rec.Code, rec.Header().Get("Location"))
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessions.DefaultCookieName && c.MaxAge > 0 {
			t.Fatalf("session cookie set on failure")
		}
	}
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	s := f.start(t)
	code := f.idp.IssueCode(oidctest.TokenResponse{AccessToken: "a", IDToken: f.idToken(t, s.nonce, nil)})
	ck := sessionCookie(t, f.callback(s, code))

	req := httptest.NewRequest(http.MethodPost, LogoutPath, nil)
	req.AddCookie(ck)
	rec := f.serve(req)
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d", rec.Code)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	if loc.Scheme+"://"+loc.Host+loc.Path != f.idp.Issuer+"/logout" {
		t.Fatalf("logout redirect = %s", loc)
	}
	if loc.Query().Get("id_token_hint") == "" || loc.Query().Get("post_logout_redirect_uri") != "http://app.test/" {
		t.Fatalf("logout query = %v", loc.Query())
	}
	if _, err := f.sessions.Get(context.Background(), ck.Value); err == nil {
		t.Fatalf("session survived logout")
	}
	cleared := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessions.DefaultCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatalf("session cookie not cleared")
	}

	// Without a session there is nothing to end at the provider.
	rec = f.serve(httptest.NewRequest(http.MethodPost, LogoutPath, nil))
	if rec.Header().Get("Location") != "/?logout=true" {
		t.Fatalf("anonymous logout = %q", rec.Header().Get("Location"))
	}
}

func TestLogoutRejectsGet(t *testing.T) {
	f := newFixture(t)
	s := f.start(t)
	code := f.idp.IssueCode(oidctest.TokenResponse{AccessToken: "a", IDToken: f.idToken(t, s.nonce, nil)})
	ck := sessionCookie(t, f.callback(s, code))

	req := httptest.NewRequest(http.MethodGet, LogoutPath, nil)
	req.AddCookie(ck)
	rec := f.serve(req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET logout status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
	if _, err := f.sessions.Get(context.Background(), ck.Value); err != nil {
		t.Fatalf("session ended by GET logout: %v", err)
	}
}

func TestLoginPage(t *testing.T) {
	f := newFixture(t)
	rec := f.serve(httptest.NewRequest(http.MethodGet, LoginPath, nil))
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != StartPath {
		t.Fatalf("default login page = %d %q", rec.Code, rec.Header().Get("Location"))
	}

	f = newFixture(t, WithLoginPage(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "sign in")
	})))
	rec = f.serve(httptest.NewRequest(http.MethodGet, LoginPath, nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "sign in" {
		t.Fatalf("custom login page = %d %q", rec.Code, rec.Body.String())
	}
}

func TestConfigValidation(t *testing.T) {
	_, err := New(context.Background(), Config{Issuer: "", ClientID: "", RedirectURL: "::"}, nil, nil, sessions.Cookies{})
	if err == nil {
		t.Fatalf("expected config error")
	}
	_, err = New(context.Background(), Config{Issuer: "http://x", ClientID: "c", RedirectURL: "http://app/cb", Scopes: []string{"profile"}}, nil, nil, sessions.Cookies{})
	if err == nil || !strings.Contains(err.Error(), "openid") {
		t.Fatalf("err = %v", err)
	}
}

type loginCounter struct{ ok, failed int }

func (c *loginCounter) ObserveLogin(err error) {
	if err != nil {
		c.failed++
		return
	}
	c.ok++
}

func TestObserver(t *testing.T) {
	var c loginCounter
	f := newFixture(t, WithObserver(&c))

	s := f.start(t)
	code := f.idp.IssueCode(oidctest.TokenResponse{AccessToken: "a", IDToken: f.idToken(t, s.nonce, nil)})
	f.callback(s, code)

	s = f.start(t)
	f.callback(s, "bogus")
	f.serve(httptest.NewRequest(http.MethodGet, CallbackPath+"?error=access_denied", nil))

	if c.ok != 1 || c.failed != 2 {
		t.Fatalf("observed ok=%d failed=%d", c.ok, c.failed)
	}
}
