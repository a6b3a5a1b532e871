package authz

import (
	"errors"
	"strings"
	"testing"
)

func testPolicy(t *testing.T) *Policy {
	t.Helper()
	p, err := NewPolicy([]Rule{
		{Pattern: "/", Requirement: Public()},
		{Pattern: "/login/**", Requirement: Public()},
		{Pattern: "/error", Requirement: Public()},
		{Pattern: "/css/**", Requirement: Public()},
		{Pattern: "/public/**", Requirement: Public()},
		{Pattern: "/admin/**", Requirement: AnyRole("ADMIN")},
		{Pattern: "/user/**", Requirement: AnyRole("USER", "ADMIN")},
		{Pattern: "/api/**", Requirement: Authenticated()},
		{Pattern: CatchAll, Requirement: Authenticated()},
	})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	return p
}

func principalWith(roles ...string) *Principal {
	p := &Principal{Subject: "s", Username: "u"}
	for _, r := range roles {
		p.Authorities = append(p.Authorities, DefaultExtractor.Authority(r))
	}
	return p
}

func TestPolicy_RoleGates(t *testing.T) {
	p := testPolicy(t)
	contexts := map[string]*Principal{
		"{USER}":       principalWith("USER"),
		"{ADMIN}":      principalWith("ADMIN"),
		"{USER,ADMIN}": principalWith("USER", "ADMIN"),
		"{}":           principalWith(),
	}
	tests := []struct {
		path string
		ctx  string
		want Outcome
	}{
		{"/admin/x", "{USER}", DenyForbidden},
		{"/admin/x", "{ADMIN}", Allow},
		{"/admin/x", "{USER,ADMIN}", Allow},
		{"/admin/x", "{}", DenyForbidden},
		{"/user/x", "{USER}", Allow},
		{"/user/x", "{ADMIN}", Allow},
		{"/user/x", "{USER,ADMIN}", Allow},
		{"/user/x", "{}", DenyForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.path+" "+tt.ctx, func(t *testing.T) {
			d := p.Decide("GET", tt.path, contexts[tt.ctx])
			if d.Outcome != tt.want {
				t.Fatalf("Decide() = %s, want %s", d.Outcome, tt.want)
			}
			if tt.want == DenyForbidden && !errors.Is(d.Err(), ErrForbidden) {
				t.Fatalf("Err() = %v", d.Err())
			}
		})
	}
}

func TestPolicy_RoleGateWithoutPrincipal(t *testing.T) {
	d := testPolicy(t).Decide("GET", "/admin/x", nil)
	if d.Outcome != DenyUnauthenticated || !errors.Is(d.Err(), ErrUnauthenticated) {
		t.Fatalf("Decide() = %s (%v)", d.Outcome, d.Err())
	}
}

func TestPolicy_PublicRegardlessOfContext(t *testing.T) {
	p := testPolicy(t)
	for _, path := range []string{"/", "/login", "/login/oauth2/code", "/error", "/css/site.css", "/public/a/b"} {
		for _, pr := range []*Principal{nil, principalWith(), principalWith("ADMIN")} {
			if d := p.Decide("GET", path, pr); !d.Allowed() {
				t.Fatalf("%s with %v: %s", path, pr, d.Outcome)
			}
		}
	}
}

func TestPolicy_AuthenticatedAndCatchAll(t *testing.T) {
	p := testPolicy(t)
	for _, path := range []string{"/api/test", "/persons", "/product", "/anything/else"} {
		if d := p.Decide("GET", path, nil); d.Outcome != DenyUnauthenticated {
			t.Fatalf("%s anonymous: %s", path, d.Outcome)
		}
		if d := p.Decide("GET", path, principalWith()); !d.Allowed() {
			t.Fatalf("%s authenticated: %s", path, d.Outcome)
		}
	}
}

func TestPolicy_FirstMatchWins(t *testing.T) {
	p := testPolicy(t)
	d := p.Decide("GET", "/admin/special", principalWith("USER"))
	if d.Pattern != "/admin/**" || d.Outcome != DenyForbidden {
		t.Fatalf("Decide(/admin/special) matched %q -> %s", d.Pattern, d.Outcome)
	}

	// An earlier broad rule shadows a later specific one.
	shadow := MustPolicy([]Rule{
		{Pattern: "/api/**", Requirement: Authenticated()},
		{Pattern: "/api/admin/**", Requirement: AnyRole("ADMIN")},
	})
	if d := shadow.Decide("GET", "/api/admin/users", principalWith("USER")); !d.Allowed() || d.Pattern != "/api/**" {
		t.Fatalf("declaration order not honored: %q -> %s", d.Pattern, d.Outcome)
	}
}

func TestPolicy_UnmatchedFallsBackToAuthenticated(t *testing.T) {
	p := MustPolicy([]Rule{{Pattern: "/", Requirement: Public()}})
	d := p.Decide("GET", "/nowhere", nil)
	if d.Outcome != DenyUnauthenticated || d.Pattern != CatchAll {
		t.Fatalf("Decide() = %q -> %s", d.Pattern, d.Outcome)
	}
	if d := p.Decide("GET", "/nowhere", principalWith()); !d.Allowed() {
		t.Fatalf("authenticated fallback denied: %s", d.Outcome)
	}
}

func TestPolicy_PathNormalization(t *testing.T) {
	p := testPolicy(t)
	tests := []struct {
		path    string
		pattern string
	}{
		{"/public/../admin/x", "/admin/**"},
		{"/admin", "/admin/**"},
		{"/admin/", "/admin/**"},
		{"//admin//x", "/admin/**"},
		{"", "/"},
		{"/Admin/x", CatchAll},
	}
	for _, tt := range tests {
		d := p.Decide("GET", tt.path, nil)
		if d.Pattern != tt.pattern {
			t.Fatalf("Decide(%q) matched %q, want %q", tt.path, d.Pattern, tt.pattern)
		}
	}
}

func TestPolicy_MethodsAndWildcards(t *testing.T) {
	p := MustPolicy([]Rule{
		{Pattern: "/products", Methods: []string{"get"}, Requirement: AnyRole("ADMIN")},
		{Pattern: "/static/*.css", Requirement: Public()},
		{Pattern: "/files/*/meta", Requirement: Public()},
		{Pattern: "/**/health", Requirement: Public()},
	})
	if d := p.Decide("GET", "/products", principalWith("USER")); d.Outcome != DenyForbidden {
		t.Fatalf("GET /products: %s", d.Outcome)
	}
	if d := p.Decide("POST", "/products", principalWith("USER")); !d.Allowed() || d.Pattern != CatchAll {
		t.Fatalf("POST /products: %q -> %s", d.Pattern, d.Outcome)
	}
	if d := p.Decide("GET", "/static/site.css", nil); !d.Allowed() {
		t.Fatalf("css wildcard: %s", d.Outcome)
	}
	if d := p.Decide("GET", "/static/site.js", nil); d.Allowed() {
		t.Fatalf("js must not match *.css")
	}
	if d := p.Decide("GET", "/files/a/meta", nil); !d.Allowed() {
		t.Fatalf("single segment wildcard: %s", d.Outcome)
	}
	if d := p.Decide("GET", "/files/a/b/meta", nil); d.Allowed() {
		t.Fatalf("* must not span segments")
	}
	if d := p.Decide("GET", "/a/b/health", nil); !d.Allowed() {
		t.Fatalf("leading ** wildcard: %s", d.Outcome)
	}
}

func TestNewPolicy_Validation(t *testing.T) {
	tests := []struct {
		name  string
		rules []Rule
		want  string
	}{
		{name: "relative pattern", rules: []Rule{{Pattern: "admin/**", Requirement: Public()}}, want: "must start with"},
		{name: "bad glob", rules: []Rule{{Pattern: "/[", Requirement: Public()}}, want: "pattern"},
		{name: "empty role set", rules: []Rule{{Pattern: "/admin/**", Requirement: AnyRole()}}, want: "at least one role"},
		{name: "catch-all not last", rules: []Rule{{Pattern: CatchAll, Requirement: Authenticated()}, {Pattern: "/x", Requirement: Public()}}, want: "last rule"},
		{name: "public catch-all", rules: []Rule{{Pattern: "/**", Requirement: Public()}}, want: "must require authentication"},
		{name: "role catch-all", rules: []Rule{{Pattern: CatchAll, Requirement: AnyRole("ADMIN")}}, want: "must require authentication"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPolicy(tt.rules)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("NewPolicy() err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestPolicy_CustomPrefix(t *testing.T) {
	ex := Extractor{Path: DefaultExtractor.Path, Prefix: "GROUP_"}
	p := MustPolicy([]Rule{{Pattern: "/admin/**", Requirement: AnyRole("ADMIN")}}, WithExtractor(ex))
	pr := &Principal{Subject: "s", Authorities: []Authority{"GROUP_ADMIN"}}
	if d := p.Decide("GET", "/admin", pr); !d.Allowed() {
		t.Fatalf("custom prefix: %s", d.Outcome)
	}
	if d := p.Decide("GET", "/admin", principalWith("ADMIN")); d.Allowed() {
		t.Fatalf("ROLE_ prefix must not satisfy GROUP_ policy")
	}
}
