package identity

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// SessionValidator re-validates access tokens against the OIDC UserInfo
// endpoint, so a revoked session fails on its next request.
type SessionValidator struct {
	provider *oidc.Provider
}

// NewSessionValidator discovers the issuer's endpoints.
func NewSessionValidator(ctx context.Context, issuerURL string) (*SessionValidator, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	return &SessionValidator{provider: provider}, nil
}

// ValidateSession calls UserInfo with the token.
func (v *SessionValidator) ValidateSession(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrInvalidSession
	}

	info, err := v.provider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if info.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidSession)
	}

	return &Session{UserID: info.Subject, Email: info.Email}, nil
}

// Config configures the production provider.
type Config struct {
	IssuerURL string
	Admin     AdminConfig
}

// OIDCProvider combines the admin API and UserInfo re-validation.
type OIDCProvider struct {
	*AdminClient
	*SessionValidator
}

// NewOIDCProvider builds the production provider.
func NewOIDCProvider(ctx context.Context, cfg Config) (*OIDCProvider, error) {
	validator, err := NewSessionValidator(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, err
	}
	return &OIDCProvider{
		AdminClient:      NewAdminClient(ctx, cfg.Admin),
		SessionValidator: validator,
	}, nil
}

var _ Provider = (*OIDCProvider)(nil)
