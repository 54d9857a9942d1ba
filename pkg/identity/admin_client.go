package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// AdminConfig configures the provider's user admin API.
type AdminConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
	Timeout      time.Duration
}

// AdminClient calls the provider's admin REST API with a client-credentials
// token.
type AdminClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAdminClient creates an admin client. Tokens are fetched lazily and
// refreshed by the oauth2 transport.
func NewAdminClient(ctx context.Context, cfg AdminConfig) *AdminClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: timeout})
	client := cc.Client(ctx)
	client.Timeout = timeout

	return &AdminClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: client,
	}
}

type adminUser struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func (u adminUser) identity() Identity {
	return Identity{ID: u.ID, Email: u.Email, CreatedAt: u.CreatedAt}
}

// CreateIdentity creates a confirmed identity.
func (c *AdminClient) CreateIdentity(ctx context.Context, req CreateRequest) (*Identity, error) {
	body, err := json.Marshal(struct {
		CreateRequest
		EmailConfirm bool `json:"email_confirm"`
	}{req, true})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/admin/users", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, req.Email)
	case resp.StatusCode >= 300:
		return nil, statusError("create identity", resp)
	}

	var u adminUser
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("failed to decode identity: %w", err)
	}
	id := u.identity()
	return &id, nil
}

// DeleteIdentity deletes an identity. A 404 counts as success.
func (c *AdminClient) DeleteIdentity(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/admin/users/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode < 300 {
		return nil
	}
	return statusError("delete identity", resp)
}

// ListIdentities lists one page of identities.
func (c *AdminClient) ListIdentities(ctx context.Context, page, perPage int) ([]Identity, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))

	resp, err := c.do(ctx, http.MethodGet, "/admin/users?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, statusError("list identities", resp)
	}

	var out struct {
		Users []adminUser `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode identities: %w", err)
	}

	ids := make([]Identity, 0, len(out.Users))
	for _, u := range out.Users {
		ids = append(ids, u.identity())
	}
	return ids, nil
}

func (c *AdminClient) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity provider request failed: %w", err)
	}
	return resp, nil
}

func statusError(op string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s: identity provider returned %d: %s", op, resp.StatusCode, strings.TrimSpace(string(msg)))
}
