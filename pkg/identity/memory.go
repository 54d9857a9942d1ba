package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryProvider is an in-process Provider for development mode and tests.
type MemoryProvider struct {
	mu         sync.RWMutex
	identities map[string]Identity
	sessions   map[string]string // token -> identity id
	now        func() time.Time
}

// NewMemoryProvider creates an empty provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		identities: make(map[string]Identity),
		sessions:   make(map[string]string),
		now:        time.Now,
	}
}

// SetClock replaces the clock used to stamp CreatedAt.
func (m *MemoryProvider) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryProvider) CreateIdentity(_ context.Context, req CreateRequest) (*Identity, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.identities {
		if id.Email == email {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, email)
		}
	}

	id := Identity{ID: uuid.NewString(), Email: email, CreatedAt: m.now().UTC()}
	m.identities[id.ID] = id
	return &id, nil
}

func (m *MemoryProvider) DeleteIdentity(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.identities, id)
	for token, owner := range m.sessions {
		if owner == id {
			delete(m.sessions, token)
		}
	}
	return nil
}

func (m *MemoryProvider) ListIdentities(_ context.Context, page, perPage int) ([]Identity, error) {
	if page < 1 || perPage < 1 {
		return nil, fmt.Errorf("page and perPage must be positive")
	}

	m.mu.RLock()
	all := make([]Identity, 0, len(m.identities))
	for _, id := range m.identities {
		all = append(all, id)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	start := (page - 1) * perPage
	if start >= len(all) {
		return []Identity{}, nil
	}
	end := start + perPage
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

func (m *MemoryProvider) ValidateSession(_ context.Context, token string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.sessions[token]
	if !ok {
		return nil, ErrInvalidSession
	}
	ident, ok := m.identities[id]
	if !ok {
		return nil, ErrInvalidSession
	}
	return &Session{UserID: ident.ID, Email: ident.Email}, nil
}

// IssueSession returns a new session token for an existing identity.
func (m *MemoryProvider) IssueSession(id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.identities[id]; !ok {
		return "", fmt.Errorf("unknown identity %s", id)
	}

	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	token := hex.EncodeToString(buf)
	m.sessions[token] = id
	return token, nil
}

// RevokeSession invalidates a token.
func (m *MemoryProvider) RevokeSession(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
}

// Seed inserts an identity with a fixed id, replacing any existing one.
func (m *MemoryProvider) Seed(id Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id.Email = strings.ToLower(id.Email)
	m.identities[id.ID] = id
}

var _ Provider = (*MemoryProvider)(nil)
