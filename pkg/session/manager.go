package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/orderdesk/orderdesk-go/pkg/api"
	"github.com/orderdesk/orderdesk-go/pkg/credentials"
)

// DefaultRefreshThreshold is how long before expiry a proactive refresh runs.
const DefaultRefreshThreshold = 5 * time.Minute

// ErrNoToken is returned to every refresh caller when no usable token could
// be produced. The session has already failed closed by the time callers see
// this.
var ErrNoToken = errors.New("no token available")

// IdentityExchanger covers the identity service's unauthenticated token
// endpoints. *api.IdentityClient is the production implementation.
type IdentityExchanger interface {
	Login(ctx context.Context, email, password string) (*api.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*api.TokenPair, error)
}

// IdentityFetcher fetches the authenticated user through the request
// pipeline. *api.Pipeline is the production implementation; it is attached
// after construction because the pipeline itself needs the Manager as its
// token source.
type IdentityFetcher interface {
	Me(ctx context.Context) (*credentials.Identity, error)
}

// Manager owns the token lifecycle: bootstrap, login, logout, proactive
// refresh scheduling, and the single-flight refresh shared by every
// component that hits an expired credential. It is the only writer of the
// credential store and implements api.TokenSource.
type Manager struct {
	store     credentials.Store
	exchanger IdentityExchanger
	logger    *slog.Logger
	threshold time.Duration
	bus       *Bus

	// refreshGroup deduplicates concurrent refresh operations: at most one
	// network refresh call is outstanding process-wide, and every caller
	// observes its outcome.
	refreshGroup singleflight.Group

	mu      sync.Mutex
	snap    Snapshot
	timer   *time.Timer
	fetcher IdentityFetcher
}

// NewManager creates a Manager with the default refresh threshold.
func NewManager(store credentials.Store, exchanger IdentityExchanger, logger *slog.Logger) *Manager {
	return NewManagerWithThreshold(store, exchanger, logger, DefaultRefreshThreshold)
}

// NewManagerWithThreshold creates a Manager with a custom refresh threshold.
func NewManagerWithThreshold(store credentials.Store, exchanger IdentityExchanger, logger *slog.Logger, threshold time.Duration) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:     store,
		exchanger: exchanger,
		logger:    logger,
		threshold: threshold,
		bus:       NewBus(logger),
		snap:      Snapshot{State: StateAnonymous},
	}
}

// SetIdentityFetcher attaches the pipeline used to fetch the identity during
// login. Must be called before Login.
func (m *Manager) SetIdentityFetcher(f IdentityFetcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetcher = f
}

// Events returns the bus carrying CredentialUpdated and LoggedOut broadcasts.
func (m *Manager) Events() *Bus {
	return m.bus
}

// Snapshot returns a copy of the current session state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// State returns the current session state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.State
}

// Bootstrap restores the persisted session. A valid stored credential goes
// straight to Authenticated; an expired one gets a single silent refresh
// before falling back to Anonymous.
func (m *Manager) Bootstrap(ctx context.Context) {
	cred, id, ok := m.store.Load()
	if !ok {
		m.mu.Lock()
		m.snap = Snapshot{State: StateAnonymous}
		m.mu.Unlock()
		return
	}

	if !cred.Expired() {
		m.mu.Lock()
		m.snap = Snapshot{State: StateAuthenticated, Identity: id, Credential: cred}
		m.armTimerLocked(cred)
		m.mu.Unlock()
		m.bus.Publish(CredentialUpdated{Credential: cred})
		m.logger.Info("session restored", "user", id.Email, "expires_at", cred.ExpiresAt)
		return
	}

	m.mu.Lock()
	m.snap = Snapshot{State: StateRefreshing, Identity: id, Credential: cred}
	m.mu.Unlock()

	m.logger.Info("stored credential expired, attempting silent refresh")
	if _, err := m.Refresh(ctx); err != nil {
		m.mu.Lock()
		m.snap = Transition(m.snap, LoggedOut{})
		m.mu.Unlock()
	}
}

// Login performs the credential exchange, persists the credential, fetches
// the identity through the pipeline, and persists both. Failure at any step
// leaves no partial session behind.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	m.mu.Lock()
	fetcher := m.fetcher
	m.snap = Transition(m.snap, LoginStarted{})
	m.mu.Unlock()

	if fetcher == nil {
		m.failLogin("identity fetcher not attached")
		return fmt.Errorf("identity fetcher not attached")
	}

	pair, err := m.exchanger.Login(ctx, email, password)
	if err != nil {
		m.failLogin(err.Error())
		return fmt.Errorf("login failed: %w", err)
	}

	cred := credentials.NewCredential(pair.AccessToken, pair.RefreshToken)

	// Install the credential before the identity fetch so the pipeline can
	// authenticate it. Identity is persisted in a second step.
	m.mu.Lock()
	m.snap.Credential = cred
	m.mu.Unlock()
	m.store.Save(cred, credentials.Identity{})

	id, err := fetcher.Me(ctx)
	if err != nil {
		// Roll back the partially persisted session.
		m.store.Clear()
		m.mu.Lock()
		m.stopTimerLocked()
		m.mu.Unlock()
		m.failLogin(err.Error())
		return fmt.Errorf("fetching identity: %w", err)
	}

	m.mu.Lock()
	// The identity fetch may itself have rotated the credential through a
	// refresh; persist whatever is current, not the pair from the exchange.
	cred = m.snap.Credential
	m.snap = Transition(m.snap, LoginSucceeded{Identity: *id, Credential: cred})
	m.armTimerLocked(cred)
	m.mu.Unlock()

	m.store.Save(cred, *id)
	m.bus.Publish(CredentialUpdated{Credential: cred})
	m.logger.Info("login succeeded", "user", id.Email)
	return nil
}

// Logout clears the persisted session, cancels the proactive refresh timer,
// and broadcasts the logout.
func (m *Manager) Logout() {
	m.store.Clear()
	m.mu.Lock()
	m.stopTimerLocked()
	m.snap = Transition(m.snap, LoggedOut{})
	m.mu.Unlock()
	m.bus.Publish(LoggedOut{})
	m.logger.Info("logged out")
}

// Refresh mints a new access token. Concurrent callers share one in-flight
// refresh and all observe the same outcome. On failure the session fails
// closed: the store is cleared, LoggedOut is broadcast, and every caller
// gets ErrNoToken.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	v, err, _ := m.refreshGroup.Do("refresh", func() (interface{}, error) {
		return m.doRefresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) doRefresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	refreshToken := m.snap.Credential.RefreshToken
	identity := m.snap.Identity
	if refreshToken == "" {
		if cred, id, ok := m.store.Load(); ok {
			refreshToken, identity = cred.RefreshToken, id
		}
	}
	if refreshToken == "" {
		m.mu.Unlock()
		return "", ErrNoToken
	}
	m.snap = Transition(m.snap, RefreshStarted{})
	m.mu.Unlock()

	pair, err := m.exchanger.Refresh(ctx, refreshToken)
	if err != nil {
		// Network failure and a rejected refresh token are treated alike:
		// the refresh outcome is ambiguous or fatal, so fail closed.
		m.logger.Warn("token refresh failed, clearing session", "error", err)
		m.store.Clear()
		m.mu.Lock()
		m.stopTimerLocked()
		m.snap = Transition(m.snap, RefreshFailed{Reason: err.Error()})
		m.mu.Unlock()
		m.bus.Publish(LoggedOut{})
		return "", ErrNoToken
	}

	cred := credentials.NewCredential(pair.AccessToken, pair.RefreshToken)
	m.store.Save(cred, identity)

	m.mu.Lock()
	m.snap = Transition(m.snap, CredentialUpdated{Credential: cred})
	m.snap.Identity = identity
	m.armTimerLocked(cred)
	m.mu.Unlock()

	m.bus.Publish(CredentialUpdated{Credential: cred})
	m.logger.Info("credential refreshed", "expires_at", cred.ExpiresAt)
	return cred.AccessToken, nil
}

// AccessToken implements api.TokenSource.
func (m *Manager) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.Credential.AccessToken
}

// HasRefreshToken implements api.TokenSource.
func (m *Manager) HasRefreshToken() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.Credential.RefreshToken != ""
}

// Close cancels the proactive timer and closes the event bus.
func (m *Manager) Close() {
	m.mu.Lock()
	m.stopTimerLocked()
	m.mu.Unlock()
	m.bus.Close()
}

func (m *Manager) failLogin(reason string) {
	m.mu.Lock()
	m.snap = Transition(m.snap, LoginFailed{Reason: reason})
	m.mu.Unlock()
}

// armTimerLocked schedules the proactive refresh for
// max(0, timeUntilExpiry - threshold) from now. Caller holds m.mu.
func (m *Manager) armTimerLocked(cred credentials.Credential) {
	m.stopTimerLocked()
	delay := cred.TimeUntilExpiry() - m.threshold
	if delay < 0 {
		delay = 0
	}
	m.timer = time.AfterFunc(delay, m.onRefreshTimer)
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// onRefreshTimer fires when the installed credential enters the refresh
// window. An already-expired credential is unusable for a refresh exchange
// against a server that checks it, so the session logs out instead.
func (m *Manager) onRefreshTimer() {
	m.mu.Lock()
	if !m.snap.State.Authenticated() {
		m.mu.Unlock()
		return
	}
	ttl := m.snap.Credential.TimeUntilExpiry()
	m.mu.Unlock()

	switch {
	case ttl <= 0:
		m.logger.Warn("credential expired before proactive refresh, logging out")
		m.Logout()
	case ttl <= m.threshold:
		if _, err := m.Refresh(context.Background()); err != nil {
			m.logger.Warn("proactive refresh failed", "error", err)
		}
	default:
		// A newer credential was installed between arming and firing.
		m.mu.Lock()
		if m.snap.State.Authenticated() {
			m.armTimerLocked(m.snap.Credential)
		}
		m.mu.Unlock()
	}
}
