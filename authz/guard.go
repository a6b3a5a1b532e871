package authz

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/realmguard/auth"
	"github.com/ggoodman/realmguard/internal/logctx"
)

const (
	authorizationHeader   = "Authorization"
	wwwAuthenticateHeader = "WWW-Authenticate"
	bearerPrefix          = "Bearer "
)

var (
	jsonMediaType = contenttype.NewMediaType("application/json")
	htmlMediaType = contenttype.NewMediaType("text/html")
	// Order matters: JSON wins when the client expresses no preference.
	denialMediaTypes = []contenttype.MediaType{jsonMediaType, htmlMediaType}
)

// errInvalidRequest marks a malformed Authorization header.
var errInvalidRequest = errors.New("invalid authorization header")

// ErrSessionEnded marks a session cookie whose server-side record is gone.
var ErrSessionEnded = errors.New("authz: session ended")

// SessionResolver yields the principal of a browser session, or (nil, nil)
// when the request carries no session.
type SessionResolver interface {
	ResolveSession(r *http.Request) (*Principal, error)
}

// SessionClearer is implemented by session resolvers that can drop the
// browser's cookie once ResolveSession reports ErrSessionEnded.
type SessionClearer interface {
	ClearSession(w http.ResponseWriter)
}

// DecisionObserver is notified of every policy decision. pr is nil for
// anonymous requests.
type DecisionObserver interface {
	ObserveDecision(d Decision, pr *Principal)
}

// Guard is HTTP middleware running the authorization pipeline in front of
// every handler: resolve the principal (bearer header first, then session),
// evaluate the Policy, and either deny or forward the request with the
// principal attached to its context.
type Guard struct {
	policy      *Policy
	authn       auth.Authenticator
	sessions    SessionResolver
	ex          Extractor
	log         *slog.Logger
	realm       string
	resourceURL string
	loginURL    string
	observer    DecisionObserver
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithAuthenticator enables bearer token authentication.
func WithAuthenticator(a auth.Authenticator) GuardOption {
	return func(g *Guard) { g.authn = a }
}

// WithSessionResolver enables session authentication for requests that carry
// no Authorization header.
func WithSessionResolver(s SessionResolver) GuardOption {
	return func(g *Guard) { g.sessions = s }
}

// WithGuardExtractor sets the claims extractor used for bearer principals.
func WithGuardExtractor(ex Extractor) GuardOption {
	return func(g *Guard) { g.ex = ex }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) GuardOption {
	return func(g *Guard) { g.log = l }
}

// WithRealm sets the realm advertised in Bearer challenges.
func WithRealm(realm string) GuardOption {
	return func(g *Guard) { g.realm = strings.TrimSpace(realm) }
}

// WithResourceMetadataURL advertises the protected resource metadata
// document in Bearer challenges.
func WithResourceMetadataURL(u string) GuardOption {
	return func(g *Guard) { g.resourceURL = u }
}

// WithLoginRedirect makes unauthenticated browser requests (HTML preferred,
// no Authorization header) redirect to loginURL instead of receiving 401.
func WithLoginRedirect(loginURL string) GuardOption {
	return func(g *Guard) { g.loginURL = loginURL }
}

// WithObserver reports every decision to o.
func WithObserver(o DecisionObserver) GuardOption {
	return func(g *Guard) { g.observer = o }
}

// NewGuard builds a Guard enforcing policy.
func NewGuard(policy *Policy, opts ...GuardOption) *Guard {
	g := &Guard{policy: policy, ex: DefaultExtractor, log: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	g.log = logctx.New(g.log)
	return g
}

// Middleware wraps next with the authorization pipeline.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		pr, authErr := g.Authenticate(r)
		if errors.Is(authErr, ErrSessionEnded) {
			if c, ok := g.sessions.(SessionClearer); ok {
				c.ClearSession(w)
			}
		}
		if pr != nil {
			ctx = logctx.WithPrincipalData(ctx, &logctx.PrincipalData{
				Subject:  pr.Subject,
				Username: pr.Username,
				Source:   string(pr.Source),
			})
		}

		d := g.policy.Decide(r.Method, r.URL.Path, pr)
		if g.observer != nil {
			g.observer.ObserveDecision(d, pr)
		}
		if d.Allowed() {
			g.log.DebugContext(ctx, "authz.allow", slog.String("rule", d.Pattern), slog.String("requirement", d.Requirement.String()))
			next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, pr)))
			return
		}

		// A failed credential is only reported once the route turns out to
		// need one; public routes ignore it.
		reason := d.Err()
		if d.Outcome == DenyUnauthenticated && authErr != nil {
			if !isCredentialError(authErr) {
				g.log.ErrorContext(ctx, "authz.authenticate.fail", slog.String("rule", d.Pattern), slog.String("err", authErr.Error()))
				writeDenial(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError), prefersHTML(r))
				return
			}
			reason = authErr
		}
		g.log.InfoContext(ctx, "authz.deny",
			slog.String("outcome", d.Outcome.String()),
			slog.String("rule", d.Pattern),
			slog.String("requirement", d.Requirement.String()),
			slog.String("err", reason.Error()),
		)
		g.deny(w, r, d, reason)
	})
}

// Authenticate resolves the caller's principal. It returns (nil, nil) for
// anonymous requests. Rejected credentials yield errors wrapping
// auth.ErrUnauthorized, auth.ErrMalformedToken or errInvalidRequest; any other
// error is a failure of the session backend.
func (g *Guard) Authenticate(r *http.Request) (*Principal, error) {
	if h := r.Header.Get(authorizationHeader); h != "" {
		return g.authenticateBearer(r, h)
	}
	if g.sessions == nil {
		return nil, nil
	}
	pr, err := g.sessions.ResolveSession(r)
	if err != nil {
		return nil, err
	}
	return pr, nil
}

func (g *Guard) authenticateBearer(r *http.Request, header string) (*Principal, error) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return nil, fmt.Errorf("%w: expected bearer scheme", errInvalidRequest)
	}
	tok := strings.TrimSpace(header[len(bearerPrefix):])
	if tok == "" {
		return nil, fmt.Errorf("%w: empty bearer token", errInvalidRequest)
	}
	if g.authn == nil {
		return nil, fmt.Errorf("%w: bearer tokens are not accepted", auth.ErrUnauthorized)
	}
	ui, err := g.authn.CheckAuthentication(r.Context(), tok)
	if err != nil {
		if !errors.Is(err, auth.ErrUnauthorized) {
			err = errors.Join(auth.ErrUnauthorized, err)
		}
		return nil, err
	}
	pr, err := NewPrincipal(ui.ClaimSet(), g.ex, SourceBearer)
	if err != nil {
		return nil, err
	}
	return pr.WithDelegatedToken(tok), nil
}

func (g *Guard) deny(w http.ResponseWriter, r *http.Request, d Decision, reason error) {
	hasHeader := r.Header.Get(authorizationHeader) != ""
	wantHTML := prefersHTML(r)

	switch d.Outcome {
	case DenyUnauthenticated:
		if wantHTML && !hasHeader && g.loginURL != "" {
			http.Redirect(w, r, g.loginURL, http.StatusFound)
			return
		}
		status := http.StatusUnauthorized
		var params map[string]string
		switch {
		case errors.Is(reason, errInvalidRequest):
			status = http.StatusBadRequest
			params = map[string]string{"error": "invalid_request", "error_description": reason.Error()}
		case errors.Is(reason, auth.ErrMalformedToken):
			params = map[string]string{"error": "invalid_token", "error_description": "malformed token"}
		case errors.Is(reason, auth.ErrUnauthorized) && hasHeader:
			params = map[string]string{"error": "invalid_token", "error_description": "token verification failed"}
		}
		// RFC 6750 section 3.1: no error code when no credentials were sent.
		w.Header().Add(wwwAuthenticateHeader, auth.BearerChallenge(g.realm, g.resourceURL, params))
		writeDenial(w, status, http.StatusText(status), wantHTML)
	case DenyForbidden:
		if hasHeader {
			w.Header().Add(wwwAuthenticateHeader, auth.BearerChallenge(g.realm, g.resourceURL, map[string]string{
				"error":             "insufficient_scope",
				"error_description": "requires " + d.Requirement.String(),
			}))
		}
		writeDenial(w, http.StatusForbidden, http.StatusText(http.StatusForbidden), wantHTML)
	}
}

func isCredentialError(err error) bool {
	return errors.Is(err, auth.ErrUnauthorized) ||
		errors.Is(err, auth.ErrMalformedToken) ||
		errors.Is(err, errInvalidRequest)
}

func prefersHTML(r *http.Request) bool {
	if r.Header.Get("Accept") == "" {
		return false
	}
	mt, _, err := contenttype.GetAcceptableMediaType(r, denialMediaTypes)
	if err != nil {
		return false
	}
	return mt.Matches(htmlMediaType)
}

// writeDenial emits a denial without page content: an empty body for
// browsers and a minimal JSON error otherwise.
func writeDenial(w http.ResponseWriter, status int, msg string, html bool) {
	if html {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}
