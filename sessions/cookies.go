package sessions

import (
	"errors"
	"net/http"
	"time"
)

// DefaultCookieName names the session cookie unless configured otherwise.
const DefaultCookieName = "REALMGUARD_SESSION"

// ErrNoCookie is returned by Cookies.Read when the request carries no
// session cookie.
var ErrNoCookie = errors.New("session cookie not found")

// Cookies writes and reads the session id cookie. The cookie is always
// HttpOnly.
type Cookies struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

// DefaultCookies returns a Lax, host-only cookie named DefaultCookieName.
func DefaultCookies(secure bool) Cookies {
	return Cookies{
		Name:     DefaultCookieName,
		Path:     "/",
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Set stores id in the session cookie for maxAge.
func (c Cookies) Set(w http.ResponseWriter, id string, maxAge time.Duration) {
	http.SetCookie(w, c.cookie(id, int(maxAge.Seconds())))
}

// Read returns the session id carried by r.
func (c Cookies) Read(r *http.Request) (string, error) {
	ck, err := r.Cookie(c.name())
	if err != nil || ck.Value == "" {
		return "", ErrNoCookie
	}
	return ck.Value, nil
}

// Clear expires the session cookie.
func (c Cookies) Clear(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie("", -1))
}

func (c Cookies) cookie(value string, maxAge int) *http.Cookie {
	path := c.Path
	if path == "" {
		path = "/"
	}
	sameSite := c.SameSite
	if sameSite == 0 {
		sameSite = http.SameSiteLaxMode
	}
	return &http.Cookie{
		Name:     c.name(),
		Value:    value,
		Path:     path,
		Domain:   c.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: sameSite,
	}
}

func (c Cookies) name() string {
	if c.Name == "" {
		return DefaultCookieName
	}
	return c.Name
}
