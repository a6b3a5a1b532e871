package authz

import (
	"strings"

	"github.com/ggoodman/realmguard/auth"
)

// Authority is a single granted permission. Authorities are compared by
// exact, case-sensitive string match.
type Authority string

// DefaultPrefix is prepended to every raw role name.
const DefaultPrefix = "ROLE_"

// Extractor converts a verified claim set into authorities by reading a list
// of role names under Path and prefixing each with Prefix.
type Extractor struct {
	Path   []string
	Prefix string
}

// DefaultExtractor reads Keycloak realm roles ("realm_access.roles").
var DefaultExtractor = Extractor{
	Path:   []string{"realm_access", "roles"},
	Prefix: DefaultPrefix,
}

// ParseClaimPath splits a dotted claim path such as "realm_access.roles".
// Empty segments are dropped.
func ParseClaimPath(p string) []string {
	var out []string
	for _, seg := range strings.Split(p, ".") {
		if seg = strings.TrimSpace(seg); seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// ExtractAuthorities applies DefaultExtractor.
func ExtractAuthorities(claims auth.Claims) []Authority {
	return DefaultExtractor.Extract(claims)
}

// Extract returns one authority per role string found at e.Path, in source
// order, duplicates included. Any absent or differently shaped element on the
// path yields an empty result rather than an error; non-string list entries
// are skipped.
func (e Extractor) Extract(claims auth.Claims) []Authority {
	if len(e.Path) == 0 {
		return []Authority{}
	}
	var cur any = map[string]any(claims)
	for _, seg := range e.Path {
		m, ok := cur.(map[string]any)
		if !ok {
			return []Authority{}
		}
		if cur, ok = m[seg]; !ok {
			return []Authority{}
		}
	}

	var roles []string
	switch v := cur.(type) {
	case []any:
		for _, r := range v {
			if s, ok := r.(string); ok {
				roles = append(roles, s)
			}
		}
	case []string:
		roles = v
	}

	out := make([]Authority, 0, len(roles))
	for _, r := range roles {
		out = append(out, e.Authority(r))
	}
	return out
}

// Authority returns the authority derived from a raw role name.
func (e Extractor) Authority(role string) Authority {
	return Authority(e.Prefix + role)
}
