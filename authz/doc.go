// Package authz turns verified token claims into an authorization decision.
//
// The pipeline per request is:
//
//	bearer header or session -> verified claims -> Extractor -> Principal -> Policy.Decide
//
// Extractor reads a nested list of role names (Keycloak's
// "realm_access.roles" by default) and prefixes each with "ROLE_". A claim
// set without that list yields no authorities rather than an error.
//
// Policy is an ordered table of Ant-style path patterns. The first matching
// rule decides; unmatched requests must be authenticated. Declare specific
// prefixes such as "/admin/**" before broader ones.
//
//	policy := authz.MustPolicy([]authz.Rule{
//	    {Pattern: "/", Requirement: authz.Public()},
//	    {Pattern: "/admin/**", Requirement: authz.AnyRole("ADMIN")},
//	    {Pattern: "/user/**", Requirement: authz.AnyRole("USER", "ADMIN")},
//	    {Pattern: authz.CatchAll, Requirement: authz.Authenticated()},
//	})
//
// Guard wires both into net/http middleware and stores the Principal in the
// request context for handlers (PrincipalFromContext).
package authz
