package authz

import (
	"reflect"
	"testing"

	"github.com/ggoodman/realmguard/auth"
)

func TestExtractAuthorities(t *testing.T) {
	tests := []struct {
		name   string
		claims auth.Claims
		want   []Authority
	}{
		{
			name:   "realm roles in order",
			claims: auth.Claims{"realm_access": map[string]any{"roles": []any{"USER", "ADMIN", "offline_access"}}},
			want:   []Authority{"ROLE_USER", "ROLE_ADMIN", "ROLE_offline_access"},
		},
		{
			name:   "string slice",
			claims: auth.Claims{"realm_access": map[string]any{"roles": []string{"ADMIN"}}},
			want:   []Authority{"ROLE_ADMIN"},
		},
		{
			name:   "duplicates preserved",
			claims: auth.Claims{"realm_access": map[string]any{"roles": []any{"USER", "USER"}}},
			want:   []Authority{"ROLE_USER", "ROLE_USER"},
		},
		{
			name:   "missing realm_access",
			claims: auth.Claims{"sub": "u"},
			want:   []Authority{},
		},
		{
			name:   "missing roles",
			claims: auth.Claims{"realm_access": map[string]any{}},
			want:   []Authority{},
		},
		{
			name:   "realm_access not an object",
			claims: auth.Claims{"realm_access": "ADMIN"},
			want:   []Authority{},
		},
		{
			name:   "roles not a list",
			claims: auth.Claims{"realm_access": map[string]any{"roles": "ADMIN"}},
			want:   []Authority{},
		},
		{
			name:   "non-string entries skipped",
			claims: auth.Claims{"realm_access": map[string]any{"roles": []any{"USER", 42.0, nil, "ADMIN"}}},
			want:   []Authority{"ROLE_USER", "ROLE_ADMIN"},
		},
		{
			name:   "nil claims",
			claims: nil,
			want:   []Authority{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractAuthorities(tt.claims)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("ExtractAuthorities() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractAuthorities_PrefixProperty(t *testing.T) {
	roles := []string{"a", "B", "role with space", "", "ADMIN"}
	in := make([]any, len(roles))
	for i, r := range roles {
		in[i] = r
	}
	got := ExtractAuthorities(auth.Claims{"realm_access": map[string]any{"roles": in}})
	if len(got) != len(roles) {
		t.Fatalf("len = %d, want %d", len(got), len(roles))
	}
	for i, r := range roles {
		if got[i] != Authority("ROLE_"+r) {
			t.Fatalf("authority %d = %q, want %q", i, got[i], "ROLE_"+r)
		}
	}
}

func TestCustomExtractor(t *testing.T) {
	ex := Extractor{Path: ParseClaimPath("resource_access.shop-ui.roles"), Prefix: "APP_"}
	claims := auth.Claims{"resource_access": map[string]any{
		"shop-ui": map[string]any{"roles": []any{"viewer"}},
	}}
	want := []Authority{"APP_viewer"}
	if got := ex.Extract(claims); !reflect.DeepEqual(got, want) {
		t.Fatalf("Extract() = %v, want %v", got, want)
	}
}

func TestParseClaimPath(t *testing.T) {
	if got, want := ParseClaimPath(" realm_access..roles "), []string{"realm_access", "roles"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseClaimPath() = %v, want %v", got, want)
	}
	if got := ParseClaimPath(""); len(got) != 0 {
		t.Fatalf("ParseClaimPath(\"\") = %v", got)
	}
}
