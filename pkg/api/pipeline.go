package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// DefaultRequestTimeout bounds every request issued through the pipeline.
const DefaultRequestTimeout = 10 * time.Second

// TokenSource provides the live access token for outbound requests and the
// single-flight refresh used when a request comes back unauthorized.
// pkg/session's Manager is the canonical implementation.
type TokenSource interface {
	// AccessToken returns the current access token, or "" when anonymous.
	AccessToken() string
	// HasRefreshToken reports whether a refresh can be attempted at all.
	HasRefreshToken() bool
	// Refresh mints a new access token, deduplicating concurrent callers.
	// Returns the new token, or an error when the session is gone.
	Refresh(ctx context.Context) (string, error)
}

// HTTPError represents a non-2xx response with status code and body.
type HTTPError struct {
	StatusCode int
	Message    string
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s (URL: %s)", e.StatusCode, e.Message, e.URL)
}

// IsUnauthorized reports whether err is a 401-class HTTPError.
func IsUnauthorized(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusUnauthorized
}

// Pipeline is the authenticated request pipeline. It injects the current
// bearer token into every request and transparently retries exactly once
// after a shared token refresh when a request comes back 401.
type Pipeline struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	logger     *slog.Logger
}

// NewPipeline creates a pipeline against baseURL. tokens may be nil for a
// purely anonymous pipeline (no header injected, no refresh attempted).
func NewPipeline(baseURL string, tokens TokenSource, timeout time.Duration, logger *slog.Logger) *Pipeline {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
		logger:     logger,
	}
}

// Do sends one logical request. body is JSON-marshalled when non-nil; a 2xx
// response is decoded into out when out is non-nil.
//
// On a 401 the pipeline funnels into the TokenSource's single-flight refresh
// and resends exactly once with whatever token the shared refresh produced.
// A 401 on the resend, or a refresh that yields no token, surfaces to the
// caller as the unauthorized error; a second refresh is never triggered for
// the same logical request.
func (p *Pipeline) Do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	token := ""
	if p.tokens != nil {
		token = p.tokens.AccessToken()
	}

	err := p.send(ctx, method, path, query, payload, token, out)
	if err == nil {
		return nil
	}

	if !IsUnauthorized(err) || p.tokens == nil || !p.tokens.HasRefreshToken() {
		return err
	}

	newToken, refreshErr := p.tokens.Refresh(ctx)
	if refreshErr != nil || newToken == "" {
		p.logger.Debug("refresh yielded no token, surfacing original response",
			"method", method, "path", path, "error", refreshErr)
		return err
	}

	p.logger.Debug("retrying request with refreshed token", "method", method, "path", path)
	return p.send(ctx, method, path, query, payload, newToken, out)
}

// send performs a single HTTP round trip.
func (p *Pipeline) send(ctx context.Context, method, path string, query url.Values, payload []byte, token string, out interface{}) error {
	u, err := url.Parse(p.baseURL + path)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
			URL:        u.String(),
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
