package authz

import (
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
)

var (
	// ErrUnauthenticated is the denial reason when a rule needs an
	// authenticated principal and none is present.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden is the denial reason when the principal lacks every role
	// a rule accepts.
	ErrForbidden = errors.New("forbidden")
)

// Kind enumerates requirement kinds.
type Kind int

const (
	KindPublic Kind = iota
	KindAuthenticated
	KindAnyRole
)

// Requirement is what a route demands of the caller.
type Requirement struct {
	kind  Kind
	roles []string
}

// Public allows every request, authenticated or not.
func Public() Requirement { return Requirement{kind: KindPublic} }

// Authenticated allows any request carrying a verified principal.
func Authenticated() Requirement { return Requirement{kind: KindAuthenticated} }

// AnyRole allows principals holding at least one of roles. Roles are raw
// names ("ADMIN"); the policy applies the authority prefix.
func AnyRole(roles ...string) Requirement {
	return Requirement{kind: KindAnyRole, roles: slices.Clone(roles)}
}

func (r Requirement) Kind() Kind      { return r.kind }
func (r Requirement) Roles() []string { return slices.Clone(r.roles) }

func (r Requirement) String() string {
	switch r.kind {
	case KindPublic:
		return "public"
	case KindAuthenticated:
		return "authenticated"
	case KindAnyRole:
		return "any_role(" + strings.Join(r.roles, ",") + ")"
	}
	return fmt.Sprintf("kind(%d)", int(r.kind))
}

// Rule binds a path pattern (and optionally a set of methods) to a
// requirement. Patterns are Ant-style: "*" matches within one path segment,
// "**" matches any number of segments, "/x/**" matches "/x" itself too.
type Rule struct {
	Pattern     string
	Methods     []string // empty matches every method
	Requirement Requirement
}

// CatchAll is the pattern matching every path.
const CatchAll = "**"

type compiledRule struct {
	Rule
	segs []string
}

// Policy is an ordered rule table evaluated top to bottom; the first matching
// rule decides. A request matching no rule must be authenticated. Policy is
// immutable and safe for concurrent use.
type Policy struct {
	rules []compiledRule
	ex    Extractor
}

// PolicyOption configures a Policy.
type PolicyOption func(*Policy)

// WithExtractor sets the extractor whose prefix is applied to role
// requirements. Defaults to DefaultExtractor.
func WithExtractor(ex Extractor) PolicyOption {
	return func(p *Policy) { p.ex = ex }
}

// NewPolicy validates and compiles rules. A catch-all rule is allowed only
// as the last rule and only with an Authenticated requirement.
func NewPolicy(rules []Rule, opts ...PolicyOption) (*Policy, error) {
	p := &Policy{ex: DefaultExtractor}
	for _, opt := range opts {
		opt(p)
	}
	for i, r := range rules {
		if r.Pattern != CatchAll && !strings.HasPrefix(r.Pattern, "/") {
			return nil, fmt.Errorf("authz: rule %d: pattern %q must start with '/'", i, r.Pattern)
		}
		segs := splitPath(r.Pattern)
		for _, s := range segs {
			if _, err := path.Match(s, ""); err != nil {
				return nil, fmt.Errorf("authz: rule %d: pattern %q: %w", i, r.Pattern, err)
			}
		}
		if r.Requirement.kind == KindAnyRole && len(r.Requirement.roles) == 0 {
			return nil, fmt.Errorf("authz: rule %d: pattern %q requires at least one role", i, r.Pattern)
		}
		if isCatchAll(segs) {
			if i != len(rules)-1 {
				return nil, fmt.Errorf("authz: rule %d: catch-all must be the last rule", i)
			}
			if r.Requirement.kind != KindAuthenticated {
				return nil, fmt.Errorf("authz: catch-all rule must require authentication, got %s", r.Requirement)
			}
		}
		cr := compiledRule{Rule: r, segs: segs}
		cr.Methods = make([]string, 0, len(r.Methods))
		for _, m := range r.Methods {
			cr.Methods = append(cr.Methods, strings.ToUpper(m))
		}
		p.rules = append(p.rules, cr)
	}
	return p, nil
}

// MustPolicy is NewPolicy that panics on error; for static tables.
func MustPolicy(rules []Rule, opts ...PolicyOption) *Policy {
	p, err := NewPolicy(rules, opts...)
	if err != nil {
		panic(err)
	}
	return p
}

// Outcome of a policy decision.
type Outcome int

const (
	Allow Outcome = iota
	DenyUnauthenticated
	DenyForbidden
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case DenyUnauthenticated:
		return "deny_unauthenticated"
	case DenyForbidden:
		return "deny_forbidden"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Decision is the result of evaluating a request against a Policy.
type Decision struct {
	Outcome     Outcome
	Pattern     string
	Requirement Requirement
}

// Allowed reports whether the request may proceed.
func (d Decision) Allowed() bool { return d.Outcome == Allow }

// Err returns the denial reason, or nil when allowed.
func (d Decision) Err() error {
	switch d.Outcome {
	case DenyUnauthenticated:
		return ErrUnauthenticated
	case DenyForbidden:
		return ErrForbidden
	}
	return nil
}

// Match returns the first rule matching method and path.
func (p *Policy) Match(method, urlPath string) (Rule, bool) {
	segs := splitPath(cleanPath(urlPath))
	method = strings.ToUpper(method)
	for _, r := range p.rules {
		if len(r.Methods) > 0 && !slices.Contains(r.Methods, method) {
			continue
		}
		if matchSegments(r.segs, segs) {
			return r.Rule, true
		}
	}
	return Rule{}, false
}

// Decide evaluates the request. pr is nil for unauthenticated requests.
func (p *Policy) Decide(method, urlPath string, pr *Principal) Decision {
	rule, ok := p.Match(method, urlPath)
	if !ok {
		rule = Rule{Pattern: CatchAll, Requirement: Authenticated()}
	}
	d := Decision{Pattern: rule.Pattern, Requirement: rule.Requirement}

	switch rule.Requirement.kind {
	case KindPublic:
		d.Outcome = Allow
	case KindAuthenticated:
		if pr == nil {
			d.Outcome = DenyUnauthenticated
		}
	case KindAnyRole:
		switch {
		case pr == nil:
			d.Outcome = DenyUnauthenticated
		case !pr.HasAnyAuthority(p.authorities(rule.Requirement.roles)):
			d.Outcome = DenyForbidden
		}
	default:
		d.Outcome = DenyForbidden
	}
	return d
}

func (p *Policy) authorities(roles []string) []Authority {
	out := make([]Authority, 0, len(roles))
	for _, r := range roles {
		out = append(out, p.ex.Authority(r))
	}
	return out
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	return path.Clean(p)
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func isCatchAll(segs []string) bool {
	return len(segs) == 1 && segs[0] == "**"
}

func matchSegments(pat, segs []string) bool {
	if len(pat) == 0 {
		return len(segs) == 0
	}
	if pat[0] == "**" {
		for i := 0; i <= len(segs); i++ {
			if matchSegments(pat[1:], segs[i:]) {
				return true
			}
		}
		return false
	}
	if len(segs) == 0 {
		return false
	}
	if ok, _ := path.Match(pat[0], segs[0]); !ok {
		return false
	}
	return matchSegments(pat[1:], segs[1:])
}
