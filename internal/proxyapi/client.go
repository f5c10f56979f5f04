// Package proxyapi is the client for the upstream proxy provisioning API.
// The provider exposes two auth modes with different quota-usage response
// shapes; the mode is resolved once at construction.
package proxyapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

type SubUser struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Password     string    `json:"password"`
	ServiceType  string    `json:"service_type"`
	TrafficLimit int64     `json:"traffic_limit"`
	TrafficUsed  int64     `json:"traffic_used"`
	CreatedAt    time.Time `json:"created_at"`
}

// Usage is the normalized quota reading regardless of which API shape
// produced it.
type Usage struct {
	UsedBytes  int64
	QuotaBytes int64
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	auth authMode

	mu    sync.Mutex
	token string
}

// authMode is the tagged union over the two ways the provider
// authenticates: a static API key header, or a login call that yields a
// bearer token.
type authMode interface {
	apply(req *http.Request, token string)
	needsLogin() bool
}

type apiKeyAuth struct{ key string }

func (a apiKeyAuth) apply(req *http.Request, _ string) {
	req.Header.Set("X-Api-Key", a.key)
}

func (a apiKeyAuth) needsLogin() bool { return false }

type loginAuth struct {
	login    string
	password string
}

func (a loginAuth) apply(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func (a loginAuth) needsLogin() bool { return true }

func NewWithAPIKey(baseURL, key string, logger *slog.Logger) *Client {
	return newClient(baseURL, apiKeyAuth{key: key}, logger)
}

func NewWithLogin(baseURL, login, password string, logger *slog.Logger) *Client {
	return newClient(baseURL, loginAuth{login: login, password: password}, logger)
}

func newClient(baseURL string, auth authMode, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		auth:    auth,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With("component", "proxyapi"),
	}
}

// UsesSessionTokenAPI reports whether traffic usage must be read via the
// legacy session-token endpoint instead of the sub-user listing.
func (c *Client) UsesSessionTokenAPI() bool {
	return c.auth.needsLogin()
}

// Login authenticates against the provider in login/password mode. A no-op
// in API-key mode.
func (c *Client) Login(ctx context.Context) error {
	la, ok := c.auth.(loginAuth)
	if !ok {
		return nil
	}

	body := map[string]string{"login": la.login, "password": la.password}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/auth/login", body, &resp, false); err != nil {
		return fmt.Errorf("provider login failed: %w", err)
	}

	c.mu.Lock()
	c.token = resp.Token
	c.mu.Unlock()

	c.logger.Info("authenticated against proxy provider")
	return nil
}

func (c *Client) ListSubUsers(ctx context.Context) ([]SubUser, error) {
	var resp struct {
		SubUsers []SubUser `json:"sub_users"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/sub-users", nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to list sub-users: %w", err)
	}
	return resp.SubUsers, nil
}

func (c *Client) CreateSubUser(ctx context.Context, username, password, serviceType string, quotaBytes int64) (*SubUser, error) {
	body := map[string]interface{}{
		"username":      username,
		"password":      password,
		"service_type":  serviceType,
		"traffic_limit": quotaBytes,
	}
	var resp struct {
		SubUser SubUser `json:"sub_user"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/sub-users", body, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to create sub-user: %w", err)
	}
	return &resp.SubUser, nil
}

func (c *Client) UpdateSubUser(ctx context.Context, id string, quotaBytes int64, password string) error {
	body := map[string]interface{}{}
	if quotaBytes > 0 {
		body["traffic_limit"] = quotaBytes
	}
	if password != "" {
		body["password"] = password
	}
	if err := c.doJSON(ctx, http.MethodPatch, "/v1/sub-users/"+id, body, nil, true); err != nil {
		return fmt.Errorf("failed to update sub-user %s: %w", id, err)
	}
	return nil
}

func (c *Client) DeleteSubUser(ctx context.Context, id string) error {
	if err := c.doJSON(ctx, http.MethodDelete, "/v1/sub-users/"+id, nil, nil, true); err != nil {
		return fmt.Errorf("failed to delete sub-user %s: %w", id, err)
	}
	return nil
}

// GetTrafficUsage returns the normalized usage for one sub-user identity.
// The legacy session-token API exposes a dedicated traffic endpoint; the
// key API only embeds usage in the sub-user listing.
func (c *Client) GetTrafficUsage(ctx context.Context, username string) (*Usage, error) {
	if c.UsesSessionTokenAPI() {
		var resp struct {
			Traffic struct {
				Used  int64 `json:"used"`
				Limit int64 `json:"limit"`
			} `json:"traffic"`
		}
		if err := c.doJSON(ctx, http.MethodGet, "/v1/sub-users/"+username+"/traffic", nil, &resp, true); err != nil {
			return nil, fmt.Errorf("failed to get traffic usage for %s: %w", username, err)
		}
		return &Usage{UsedBytes: resp.Traffic.Used, QuotaBytes: resp.Traffic.Limit}, nil
	}

	subUsers, err := c.ListSubUsers(ctx)
	if err != nil {
		return nil, err
	}
	for _, su := range subUsers {
		if su.Username == username {
			return &Usage{UsedBytes: su.TrafficUsed, QuotaBytes: su.TrafficLimit}, nil
		}
	}
	return nil, fmt.Errorf("sub-user %s not found upstream", username)
}

// FindSubUser looks an identity up in the provider's known set.
func (c *Client) FindSubUser(ctx context.Context, username string) (*SubUser, error) {
	subUsers, err := c.ListSubUsers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range subUsers {
		if subUsers[i].Username == username {
			return &subUsers[i], nil
		}
	}
	return nil, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}, authed bool) error {
	return c.doJSONOnce(ctx, method, path, body, out, authed, true)
}

func (c *Client) doJSONOnce(ctx context.Context, method, path string, body, out interface{}, authed, allowRelogin bool) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if authed {
		c.mu.Lock()
		token := c.token
		c.mu.Unlock()

		if c.auth.needsLogin() && token == "" {
			if err := c.Login(ctx); err != nil {
				return err
			}
			c.mu.Lock()
			token = c.token
			c.mu.Unlock()
		}
		c.auth.apply(req, token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && c.auth.needsLogin() && allowRelogin {
		// Bearer token expired; one re-login attempt.
		if err := c.Login(ctx); err != nil {
			return err
		}
		return c.doJSONOnce(ctx, method, path, body, out, authed, false)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode, string(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode provider response: %w", err)
		}
	}

	return nil
}
