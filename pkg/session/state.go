package session

import "github.com/orderdesk/orderdesk-go/pkg/credentials"

// State is the reconciled session state consumed by the rest of the client.
type State int

const (
	// StateAnonymous means no usable credential exists.
	StateAnonymous State = iota
	// StateAuthenticating means a login exchange is in flight.
	StateAuthenticating
	// StateAuthenticated means a valid credential and identity are installed.
	StateAuthenticated
	// StateRefreshing means a refresh is in flight; the existing credential
	// remains usable until the refresh resolves.
	StateRefreshing
	// StateFailed means the last login or refresh failed terminally.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Authenticated reports whether the session holds a usable credential.
func (s State) Authenticated() bool {
	return s == StateAuthenticated || s == StateRefreshing
}

// Snapshot is the full session state at a point in time.
type Snapshot struct {
	State      State
	Identity   credentials.Identity
	Credential credentials.Credential
	Reason     string
}

// Event is a session transition input. CredentialUpdated and LoggedOut are
// also broadcast on the Bus so other components (push channel lifecycle,
// UI state) can react without polling the Manager.
type Event interface {
	isSessionEvent()
}

// LoginStarted marks the beginning of a login exchange.
type LoginStarted struct{}

// LoginSucceeded installs a fresh identity and credential.
type LoginSucceeded struct {
	Identity   credentials.Identity
	Credential credentials.Credential
}

// LoginFailed records a terminal login failure.
type LoginFailed struct{ Reason string }

// RefreshStarted marks the beginning of a token refresh.
type RefreshStarted struct{}

// CredentialUpdated installs a new credential, keeping the identity.
// Broadcast on the Bus after every successful refresh and login.
type CredentialUpdated struct{ Credential credentials.Credential }

// RefreshFailed records a terminal refresh failure. The session fails
// closed: the credential is gone.
type RefreshFailed struct{ Reason string }

// LoggedOut drops all session state. Broadcast on the Bus.
type LoggedOut struct{}

func (LoginStarted) isSessionEvent()      {}
func (LoginSucceeded) isSessionEvent()    {}
func (LoginFailed) isSessionEvent()       {}
func (RefreshStarted) isSessionEvent()    {}
func (CredentialUpdated) isSessionEvent() {}
func (RefreshFailed) isSessionEvent()     {}
func (LoggedOut) isSessionEvent()         {}

// Transition is the pure session state machine. It never performs I/O;
// persistence and broadcasting are the Manager's responsibility.
func Transition(snap Snapshot, ev Event) Snapshot {
	switch e := ev.(type) {
	case LoginStarted:
		return Snapshot{State: StateAuthenticating}
	case LoginSucceeded:
		return Snapshot{State: StateAuthenticated, Identity: e.Identity, Credential: e.Credential}
	case LoginFailed:
		return Snapshot{State: StateFailed, Reason: e.Reason}
	case RefreshStarted:
		snap.State = StateRefreshing
		return snap
	case CredentialUpdated:
		snap.State = StateAuthenticated
		snap.Credential = e.Credential
		snap.Reason = ""
		return snap
	case RefreshFailed:
		return Snapshot{State: StateFailed, Reason: e.Reason}
	case LoggedOut:
		return Snapshot{State: StateAnonymous}
	default:
		return snap
	}
}
