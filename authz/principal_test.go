package authz

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ggoodman/realmguard/auth"
)

func TestNewPrincipal(t *testing.T) {
	claims := auth.Claims{
		"sub":                "f81d4fae",
		"preferred_username": "alice",
		"email":              "alice@example.com",
		"name":               "Alice Liddell",
		"given_name":         "Alice",
		"family_name":        "Liddell",
		"email_verified":     true,
		"realm_access":       map[string]any{"roles": []any{"USER", "ADMIN"}},
	}
	p, err := NewPrincipal(claims, DefaultExtractor, SourceBearer)
	if err != nil {
		t.Fatalf("NewPrincipal: %v", err)
	}
	if p.Subject != "f81d4fae" || p.Username != "alice" || p.Email != "alice@example.com" {
		t.Fatalf("identity mismatch: %+v", p)
	}
	if !p.EmailVerified || p.FullName() != "Alice Liddell" {
		t.Fatalf("attributes mismatch: %+v", p)
	}
	if !p.HasAuthority("ROLE_ADMIN") || p.HasAuthority("ADMIN") || p.HasAuthority("ROLE_admin") {
		t.Fatalf("authority matching must be exact: %v", p.Authorities)
	}
	if strings.Join(p.Roles, ",") != "USER,ADMIN" {
		t.Fatalf("Roles = %v", p.Roles)
	}
}

func TestNewPrincipal_OptionalAttributesAbsent(t *testing.T) {
	p, err := NewPrincipal(auth.Claims{"sub": "s", "preferred_username": "bob"}, DefaultExtractor, SourceSession)
	if err != nil {
		t.Fatalf("NewPrincipal: %v", err)
	}
	if p.Email != "" || p.Name != "" || p.EmailVerified || len(p.Authorities) != 0 {
		t.Fatalf("expected empty optional attributes: %+v", p)
	}
	if p.FullName() != "" {
		t.Fatalf("FullName() = %q", p.FullName())
	}
}

func TestNewPrincipal_MandatoryClaims(t *testing.T) {
	tests := []struct {
		name   string
		claims auth.Claims
	}{
		{name: "missing sub", claims: auth.Claims{"preferred_username": "alice", "realm_access": map[string]any{"roles": []any{"ADMIN"}}}},
		{name: "empty sub", claims: auth.Claims{"sub": "", "preferred_username": "alice"}},
		{name: "non-string sub", claims: auth.Claims{"sub": 12.0, "preferred_username": "alice"}},
		{name: "missing username", claims: auth.Claims{"sub": "s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPrincipal(tt.claims, DefaultExtractor, SourceBearer)
			if !errors.Is(err, auth.ErrMalformedToken) {
				t.Fatalf("want ErrMalformedToken, got %v", err)
			}
			if p != nil {
				t.Fatalf("expected no principal, got %+v", p)
			}
		})
	}
}

func TestPrincipal_TokenRedaction(t *testing.T) {
	p, err := NewPrincipal(auth.Claims{"sub": "s", "preferred_username": "bob"}, DefaultExtractor, SourceBearer)
	if err != nil {
		t.Fatalf("NewPrincipal: %v", err)
	}
	if _, ok := p.DelegatedToken(); ok {
		t.Fatalf("fresh principal must not carry a token")
	}
	withTok := p.WithDelegatedToken("secret-token-value")
	if tok, ok := withTok.DelegatedToken(); !ok || tok != "secret-token-value" {
		t.Fatalf("DelegatedToken() = %q, %v", tok, ok)
	}
	if _, ok := p.DelegatedToken(); ok {
		t.Fatalf("WithDelegatedToken must not mutate the receiver")
	}

	b, err := json.Marshal(withTok)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(b), "secret-token-value") || strings.Contains(withTok.String(), "secret-token-value") {
		t.Fatalf("token leaked: %s / %s", b, withTok)
	}
}

func TestPrincipalContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := PrincipalFromContext(ctx); ok {
		t.Fatalf("unexpected principal")
	}
	if WithPrincipal(ctx, nil) != ctx {
		t.Fatalf("nil principal should return ctx unchanged")
	}
	p := &Principal{Subject: "s"}
	got, ok := PrincipalFromContext(WithPrincipal(ctx, p))
	if !ok || got != p {
		t.Fatalf("PrincipalFromContext() = %v, %v", got, ok)
	}
}
