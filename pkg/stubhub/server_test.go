package stubhub

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderdesk/orderdesk-go/pkg/api"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New(Options{
		Secret: []byte("test-secret"),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	s.AddUser(User{ID: "u1", Email: "op@example.com", Password: "hunter2", Roles: []string{"operator"}})
	ts := httptest.NewServer(s.Echo())
	t.Cleanup(ts.Close)
	return s, ts
}

func login(t *testing.T, baseURL, email, password string) *api.TokenPair {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	resp, err := http.Post(baseURL+"/identity/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var pair api.TokenPair
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pair))
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	return &pair
}

func authedGet(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest("GET", url, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestLoginAndMe(t *testing.T) {
	_, ts := newTestServer(t)
	pair := login(t, ts.URL, "op@example.com", "hunter2")

	resp := authedGet(t, ts.URL+"/api/identity/me", pair.AccessToken)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var me struct {
		ID    string   `json:"id"`
		Email string   `json:"email"`
		Roles []string `json:"roles"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
	assert.Equal(t, "u1", me.ID)
	assert.Equal(t, "op@example.com", me.Email)
	assert.Equal(t, []string{"operator"}, me.Roles)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	_, ts := newTestServer(t)
	body, _ := json.Marshal(map[string]string{"email": "op@example.com", "password": "wrong"})
	resp, err := http.Post(ts.URL+"/identity/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRefreshTokenIsSingleUse(t *testing.T) {
	_, ts := newTestServer(t)
	pair := login(t, ts.URL, "op@example.com", "hunter2")

	refresh := func(token string) *http.Response {
		body, _ := json.Marshal(map[string]string{"refreshToken": token})
		resp, err := http.Post(ts.URL+"/identity/refresh", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		return resp
	}

	resp := refresh(pair.RefreshToken)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rotated api.TokenPair
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rotated))
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	// The consumed token is gone.
	resp2 := refresh(pair.RefreshToken)
	defer func() { _ = resp2.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)

	// The rotated one works.
	resp3 := refresh(rotated.RefreshToken)
	defer func() { _ = resp3.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp3.StatusCode)
}

func TestExpiredAccessTokenRejected(t *testing.T) {
	_, ts := newTestServer(t)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"iat": time.Now().Add(-2 * time.Hour).Unix(),
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	token, err := expired.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	resp := authedGet(t, ts.URL+"/api/identity/me", token)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestForgedAccessTokenRejected(t *testing.T) {
	_, ts := newTestServer(t)

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	token, err := forged.SignedString([]byte("wrong-secret"))
	require.NoError(t, err)

	resp := authedGet(t, ts.URL+"/api/identity/me", token)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestNotificationsListAndMarkRead(t *testing.T) {
	s, ts := newTestServer(t)
	s.AddNotification(api.Notification{ID: "n1", Message: "order received", IsRead: true})
	s.AddNotification(api.Notification{ID: "n2", Message: "order shipped"})
	pair := login(t, ts.URL, "op@example.com", "hunter2")

	list := func(unreadOnly string) []api.Notification {
		resp := authedGet(t, ts.URL+"/api/notifications?unreadOnly="+unreadOnly, pair.AccessToken)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out []api.Notification
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out
	}

	all := list("false")
	require.Len(t, all, 2)
	assert.Equal(t, "n2", all[0].ID, "newest first")

	unread := list("true")
	require.Len(t, unread, 1)
	assert.Equal(t, "n2", unread[0].ID)

	req, _ := http.NewRequest("POST", ts.URL+"/api/notifications/n2/mark-read", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	assert.Empty(t, list("true"))

	req, _ = http.NewRequest("POST", ts.URL+"/api/notifications/ghost/mark-read", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEndpointsRequireAuth(t *testing.T) {
	_, ts := newTestServer(t)
	for _, url := range []string{
		ts.URL + "/api/identity/me",
		ts.URL + "/api/notifications",
	} {
		resp, err := http.Get(url)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, url)
	}
}

func TestStubPushStoresNotification(t *testing.T) {
	_, ts := newTestServer(t)
	body, _ := json.Marshal(api.Notification{Message: "order delayed", OrderID: "o1"})
	resp, err := http.Post(ts.URL+"/stub/push", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	pair := login(t, ts.URL, "op@example.com", "hunter2")
	listResp := authedGet(t, ts.URL+"/api/notifications?unreadOnly=false", pair.AccessToken)
	defer func() { _ = listResp.Body.Close() }()
	var out []api.Notification
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&out))
	require.Len(t, out, 1)
	assert.Equal(t, "order delayed", out[0].Message)
	assert.NotEmpty(t, out[0].ID, "ids are assigned when missing")
	assert.False(t, out[0].IsRead)
}

func TestLoadSeedAndApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	content := `users:
  - id: u1
    email: op@example.com
    password: hunter2
    roles: [operator]
notifications:
  - id: n1
    order_id: o1
    message: order received
    is_read: true
  - id: n2
    order_id: o1
    message: order shipped
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	seed, err := LoadSeed(path)
	require.NoError(t, err)
	require.Len(t, seed.Users, 1)
	require.Len(t, seed.Notifications, 2)

	s, ts := newTestServer(t)
	s.Apply(seed)

	pair := login(t, ts.URL, "op@example.com", "hunter2")
	resp := authedGet(t, ts.URL+"/api/notifications?unreadOnly=false", pair.AccessToken)
	defer func() { _ = resp.Body.Close() }()
	var out []api.Notification
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out, 2)
	assert.Equal(t, "n2", out[0].ID, "seed files list oldest first")
}

func TestStartAndShutdown(t *testing.T) {
	s := New(Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx, "127.0.0.1:0") }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
