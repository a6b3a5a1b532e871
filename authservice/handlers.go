package authservice

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ggoodman/realmguard/authz"
	"github.com/ggoodman/realmguard/people"
	"github.com/ggoodman/realmguard/web"
)

type indexData struct {
	LoggedOut bool
}

type loginData struct {
	Error     bool
	LoggedOut bool
	StartURL  string
}

type personsData struct {
	Persons []people.Person
}

type errorData struct {
	Status  int
	Message string
}

func (s *Service) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.pages.Render(w, r, http.StatusOK, web.PageIndex, s.page(r, "Home", indexData{
		LoggedOut: r.URL.Query().Get("logout") == "true",
	}))
}

// handleAuth reports the caller's authentication, or null when anonymous.
func (s *Service) handleAuth(w http.ResponseWriter, r *http.Request) {
	pr, _ := authz.PrincipalFromContext(r.Context())
	writeJSON(w, http.StatusOK, pr)
}

func (s *Service) handleProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pr, _ := authz.PrincipalFromContext(ctx)
	tok, _ := pr.DelegatedToken()

	listing := s.products.Load(ctx, tok)
	if listing.Error != "" {
		s.log.WarnContext(ctx, "products.load.fail", slog.String("err", listing.Error))
	}
	s.pages.Render(w, r, http.StatusOK, web.PageProduct, s.page(r, "Products", listing))
}

func (s *Service) handlePersons(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	persons, err := s.persons.List(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "persons.list.fail", slog.String("err", err.Error()))
		s.renderError(w, r, http.StatusInternalServerError)
		return
	}
	s.pages.Render(w, r, http.StatusOK, web.PagePersons, s.page(r, "Persons", personsData{Persons: persons}))
}

// handleError renders the generic error page. An optional status query
// parameter in the 4xx and 5xx range selects the status shown.
func (s *Service) handleError(w http.ResponseWriter, r *http.Request) {
	status := http.StatusInternalServerError
	if v, err := strconv.Atoi(r.URL.Query().Get("status")); err == nil && v >= 400 && v <= 599 {
		status = v
	}
	s.renderError(w, r, status)
}

func (s *Service) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.renderError(w, r, http.StatusNotFound)
}

func (s *Service) handleAPITest(w http.ResponseWriter, r *http.Request) {
	pr, _ := authz.PrincipalFromContext(r.Context())
	authorities := make([]string, 0, len(pr.Authorities))
	for _, a := range pr.Authorities {
		authorities = append(authorities, string(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "JWT Authentication successful!",
		"username":    pr.Username,
		"email":       pr.Email,
		"name":        pr.Name,
		"roles":       roles(pr),
		"authorities": authorities,
	})
}

func (s *Service) handleAPIProfile(w http.ResponseWriter, r *http.Request) {
	pr, _ := authz.PrincipalFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"sub":            pr.Subject,
		"username":       pr.Username,
		"email":          pr.Email,
		"name":           pr.Name,
		"given_name":     pr.GivenName,
		"family_name":    pr.FamilyName,
		"email_verified": pr.EmailVerified,
	})
}

func (s *Service) handleAPIAdminUsers(w http.ResponseWriter, r *http.Request) {
	pr, _ := authz.PrincipalFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Admin access granted!",
		"admin":   pr.Username,
		"roles":   roles(pr),
	})
}

func (s *Service) renderError(w http.ResponseWriter, r *http.Request, status int) {
	s.pages.Render(w, r, status, web.PageError, s.page(r, "Error", errorData{
		Status:  status,
		Message: http.StatusText(status),
	}))
}

// page builds the template root with the signed-in user, if any.
func (s *Service) page(r *http.Request, title string, data any) web.Page {
	p := web.Page{Title: title, Data: data}
	if pr, ok := authz.PrincipalFromContext(r.Context()); ok {
		p.User = &web.User{
			Username: pr.Username,
			Email:    pr.Email,
			FullName: pr.FullName(),
			Picture:  pr.Picture,
			Roles:    roles(pr),
		}
	}
	return p
}

func roles(pr *authz.Principal) []string {
	if pr == nil || pr.Roles == nil {
		return []string{}
	}
	return pr.Roles
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
