package notifications

import (
	"context"
	"log/slog"

	"github.com/orderdesk/orderdesk-go/pkg/api"
	"github.com/orderdesk/orderdesk-go/pkg/hub"
	"github.com/orderdesk/orderdesk-go/pkg/session"
)

// Channel is the part of hub.Channel the runner drives.
type Channel interface {
	OnNotification(func(api.Notification))
	Start(ctx context.Context)
	Close()
}

// Runner gates the push channel on session state: a channel instance exists
// only while the session is authenticated, is torn down on logout, and a
// fresh instance is built on the next login. The channel never outlives its
// token; its token getter reads the live credential from the session.
type Runner struct {
	store      *Store
	sessions   *session.Manager
	logger     *slog.Logger
	newChannel func() Channel

	channel Channel
}

// NewRunner creates a runner that feeds store from a hub channel at hubURL.
func NewRunner(store *Store, sessions *session.Manager, hubURL string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		store:    store,
		sessions: sessions,
		logger:   logger,
	}
	r.newChannel = func() Channel {
		return hub.NewChannel(hubURL, sessions.AccessToken, logger)
	}
	return r
}

// Run subscribes to session events and manages the channel lifecycle until
// ctx is cancelled. Blocks; run it on its own goroutine when combined with
// other work.
func (r *Runner) Run(ctx context.Context) {
	events, unsubscribe := r.sessions.Events().Subscribe()
	defer unsubscribe()
	defer r.teardown()

	if r.sessions.State().Authenticated() {
		r.ensureChannel(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.(type) {
			case session.CredentialUpdated:
				r.ensureChannel(ctx)
			case session.LoggedOut:
				r.teardown()
			}
		}
	}
}

// ensureChannel starts a channel if none is live. An existing channel keeps
// running across credential updates: its reconnects read the live token.
func (r *Runner) ensureChannel(ctx context.Context) {
	if r.channel != nil {
		return
	}
	ch := r.newChannel()
	ch.OnNotification(r.store.OnPush)
	ch.Start(ctx)
	r.channel = ch
	r.logger.Debug("push channel started")
}

func (r *Runner) teardown() {
	if r.channel == nil {
		return
	}
	r.channel.Close()
	r.channel = nil
	r.logger.Debug("push channel torn down")
}
