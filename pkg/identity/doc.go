// Package identity talks to the external identity provider that owns
// credentials and sessions.
//
// Provider has two implementations. OIDCProvider uses the provider's admin
// REST API (client-credentials token) to create, delete and list identities,
// and the OIDC UserInfo endpoint to re-validate a session on every request.
// MemoryProvider keeps everything in process for development and tests.
//
//	p, err := identity.NewOIDCProvider(ctx, identity.Config{
//		IssuerURL: "https://idp.example.com",
//		Admin: identity.AdminConfig{
//			BaseURL:      "https://idp.example.com",
//			TokenURL:     "https://idp.example.com/oauth/token",
//			ClientID:     "retailops",
//			ClientSecret: secret,
//		},
//	})
package identity
