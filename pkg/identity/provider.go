package identity

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAlreadyExists is returned when an identity with the email exists.
	ErrAlreadyExists = errors.New("identity already exists")
	// ErrInvalidSession is returned when a session token is missing, expired
	// or revoked.
	ErrInvalidSession = errors.New("invalid session")
)

// Identity is an account as the identity provider sees it.
type Identity struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateRequest describes a new identity. Password may be empty when the
// provider sends an invitation instead.
type CreateRequest struct {
	Email    string `json:"email"`
	Password string `json:"password,omitempty"`
	FullName string `json:"full_name,omitempty"`
}

// Session is the result of re-validating a token with the provider.
type Session struct {
	UserID string
	Email  string
}

// Provider is the external identity provider.
type Provider interface {
	// CreateIdentity returns ErrAlreadyExists for a duplicate email.
	CreateIdentity(ctx context.Context, req CreateRequest) (*Identity, error)
	// DeleteIdentity removes an identity. Deleting an unknown id is not an error.
	DeleteIdentity(ctx context.Context, id string) error
	// ListIdentities returns one page, oldest first. Pages start at 1. A page
	// shorter than perPage is the last.
	ListIdentities(ctx context.Context, page, perPage int) ([]Identity, error)
	// ValidateSession re-validates a token against the provider on every call.
	ValidateSession(ctx context.Context, token string) (*Session, error)
}
