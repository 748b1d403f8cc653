package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TokenPair is the identity service's response to a login or refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// loginRequest is the body for POST /identity/login.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// refreshRequest is the body for POST /identity/refresh.
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// IdentityClient talks to the identity service's unauthenticated endpoints.
// It deliberately bypasses the Pipeline: login and refresh must never
// trigger a nested refresh themselves.
type IdentityClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewIdentityClient creates an identity client against baseURL.
func NewIdentityClient(baseURL string, timeout time.Duration) *IdentityClient {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &IdentityClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Login exchanges email+password for a token pair.
func (c *IdentityClient) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	return c.exchange(ctx, "/identity/login", loginRequest{Email: email, Password: password})
}

// Refresh exchanges a refresh token for a new token pair.
func (c *IdentityClient) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	return c.exchange(ctx, "/identity/refresh", refreshRequest{RefreshToken: refreshToken})
}

func (c *IdentityClient) exchange(ctx context.Context, path string, body interface{}) (*TokenPair, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
			URL:        c.baseURL + path,
		}
	}

	var pair TokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		return nil, fmt.Errorf("identity service returned an incomplete token pair")
	}
	return &pair, nil
}
