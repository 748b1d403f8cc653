package notifications

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderdesk/orderdesk-go/pkg/api"
	"github.com/orderdesk/orderdesk-go/pkg/credentials"
	"github.com/orderdesk/orderdesk-go/pkg/session"
)

// fakeChannel records lifecycle calls.
type fakeChannel struct {
	mu      sync.Mutex
	handler func(api.Notification)
	started bool
	closed  bool
}

func (c *fakeChannel) OnNotification(fn func(api.Notification)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = fn
}

func (c *fakeChannel) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
}

func (c *fakeChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeChannel) isStarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) deliver(n api.Notification) {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler != nil {
		handler(n)
	}
}

// nullExchanger satisfies session.IdentityExchanger for runners that never
// log in or refresh during the test.
type nullExchanger struct{}

func (nullExchanger) Login(ctx context.Context, email, password string) (*api.TokenPair, error) {
	panic("unexpected login")
}

func (nullExchanger) Refresh(ctx context.Context, refreshToken string) (*api.TokenPair, error) {
	panic("unexpected refresh")
}

type runnerHarness struct {
	runner   *Runner
	store    *Store
	sessions *session.Manager

	mu    sync.Mutex
	built []*fakeChannel
}

func newRunnerHarness(t *testing.T, authenticated bool) *runnerHarness {
	t.Helper()

	credStore := credentials.NewMemoryStore()
	if authenticated {
		credStore.Save(credentials.Credential{
			AccessToken:  "tok",
			RefreshToken: "r",
			ExpiresAt:    time.Now().Add(time.Hour),
		}, credentials.Identity{ID: "u1"})
	}

	mgr := session.NewManager(credStore, nullExchanger{}, discardLogger())
	t.Cleanup(mgr.Close)
	if authenticated {
		mgr.Bootstrap(context.Background())
		require.Equal(t, session.StateAuthenticated, mgr.State())
	}

	store := NewStore(&fakeRemote{}, discardLogger())
	h := &runnerHarness{store: store, sessions: mgr}
	h.runner = NewRunner(store, mgr, "ws://hub", discardLogger())
	h.runner.newChannel = func() Channel {
		ch := &fakeChannel{}
		h.mu.Lock()
		h.built = append(h.built, ch)
		h.mu.Unlock()
		return ch
	}
	return h
}

func (h *runnerHarness) channels() []*fakeChannel {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*fakeChannel, len(h.built))
	copy(out, h.built)
	return out
}

func TestRunnerStartsChannelOnCredentialUpdate(t *testing.T) {
	h := newRunnerHarness(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		h.runner.Run(ctx)
		close(done)
	}()

	// Anonymous at start: no channel yet.
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, h.channels())

	h.sessions.Events().Publish(session.CredentialUpdated{})
	require.Eventually(t, func() bool {
		chs := h.channels()
		return len(chs) == 1 && chs[0].isStarted()
	}, 2*time.Second, 10*time.Millisecond)

	// Further credential updates reuse the live channel.
	h.sessions.Events().Publish(session.CredentialUpdated{})
	h.sessions.Events().Publish(session.CredentialUpdated{})
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, h.channels(), 1)

	// Pushes flow from the channel into the store.
	h.channels()[0].deliver(api.Notification{ID: "n1", Message: "order shipped"})
	assert.Equal(t, 1, h.store.UnreadCount())

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop on context cancel")
	}
	assert.True(t, h.channels()[0].isClosed(), "channel torn down when the runner stops")
}

func TestRunnerStartsImmediatelyWhenAuthenticated(t *testing.T) {
	h := newRunnerHarness(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.runner.Run(ctx)

	require.Eventually(t, func() bool {
		chs := h.channels()
		return len(chs) == 1 && chs[0].isStarted()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunnerTearsDownOnLogoutAndRebuildsOnLogin(t *testing.T) {
	h := newRunnerHarness(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.runner.Run(ctx)

	require.Eventually(t, func() bool { return len(h.channels()) == 1 },
		2*time.Second, 10*time.Millisecond)

	h.sessions.Events().Publish(session.LoggedOut{})
	require.Eventually(t, func() bool { return h.channels()[0].isClosed() },
		2*time.Second, 10*time.Millisecond)

	// The next login builds a fresh channel instance.
	h.sessions.Events().Publish(session.CredentialUpdated{})
	require.Eventually(t, func() bool {
		chs := h.channels()
		return len(chs) == 2 && chs[1].isStarted() && !chs[1].isClosed()
	}, 2*time.Second, 10*time.Millisecond)
}
