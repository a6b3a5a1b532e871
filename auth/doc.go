// Package auth verifies bearer tokens issued by an external OAuth 2.0 / OIDC
// provider. It never issues tokens.
//
// An Authenticator validates an incoming bearer token string and returns a
// UserInfo (or an error). Callers are responsible for extracting the token
// from the HTTP request and mapping sentinel errors into HTTP challenges
// (see BearerChallenge).
//
// # Discovery
//
// NewFromDiscovery constructs an Authenticator that validates JWTs using
// OpenID Connect discovery to obtain the issuer's JWKS. Keys are refreshed in
// the background for as long as the supplied context lives.
//
//	authn, err := auth.NewFromDiscovery(ctx, "https://idp.example/realms/shop", "inventory-service",
//	    auth.WithLeeway(30*time.Second),
//	)
//	if err != nil { log.Fatal(err) }
//
//	ui, err := authn.CheckAuthentication(r.Context(), bearerToken)
//	if errors.Is(err, auth.ErrUnauthorized) { /* 401 invalid_token */ }
//
// SecurityConfig.NewManualJWTAuthenticator does the same against a known
// JWKS URL without discovery.
//
// # Errors
//
// ErrUnauthorized signals the token is invalid (signature, expiry, issuer,
// audience). ErrMalformedToken is used by callers that find a verified token
// lacking a mandatory claim.
package auth
