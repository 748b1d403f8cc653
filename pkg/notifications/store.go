package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/orderdesk/orderdesk-go/pkg/api"
)

// Remote covers the notification endpoints the store needs from the request
// pipeline. *api.Pipeline is the production implementation.
type Remote interface {
	Notifications(ctx context.Context, unreadOnly bool) ([]api.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
}

// MarkError reports a failed remote mark-read. The local mutation it follows
// is not rolled back; the error is informational and never affects the
// session or the push channel.
type MarkError struct {
	ID  string
	Err error
}

func (e *MarkError) Error() string {
	return fmt.Sprintf("failed to mark notification %s read remotely: %v", e.ID, e.Err)
}

func (e *MarkError) Unwrap() error { return e.Err }

// Store reconciles the paginated notification snapshot with hub pushes and
// local optimistic read-state mutations. The unread counter is maintained
// incrementally; only a full snapshot replacement recounts by scanning.
type Store struct {
	remote Remote
	logger *slog.Logger

	mu       sync.Mutex
	items    []api.Notification // newest first
	unread   int
	pushHook func(api.Notification)
}

// NewStore creates an empty store backed by remote.
func NewStore(remote Remote, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{remote: remote, logger: logger}
}

// LoadSnapshot replaces the whole sequence from a full fetch and recounts
// unread entries by scanning.
func (s *Store) LoadSnapshot(ctx context.Context) error {
	list, err := s.remote.Notifications(ctx, false)
	if err != nil {
		return fmt.Errorf("loading notification snapshot: %w", err)
	}

	unread := 0
	for _, n := range list {
		if !n.IsRead {
			unread++
		}
	}

	s.mu.Lock()
	s.items = list
	s.unread = unread
	s.mu.Unlock()

	s.logger.Debug("notification snapshot loaded", "count", len(list), "unread", unread)
	return nil
}

// SetPushHook registers a callback invoked after every applied push.
// Used by consumers that render pushes as they arrive.
func (s *Store) SetPushHook(fn func(api.Notification)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushHook = fn
}

// OnPush prepends a hub push to the sequence. Pushed notifications are
// always unread.
func (s *Store) OnPush(n api.Notification) {
	n.IsRead = false

	s.mu.Lock()
	s.items = append([]api.Notification{n}, s.items...)
	s.unread++
	hook := s.pushHook
	s.mu.Unlock()

	if hook != nil {
		hook(n)
	}
}

// MarkRead optimistically flips the entry's read flag, then persists the
// mutation remotely. The counter only moves when the entry was previously
// unread, so duplicate calls are idempotent. A remote failure is returned as
// a *MarkError but the local mutation stands.
func (s *Store) MarkRead(ctx context.Context, id string) error {
	s.mu.Lock()
	found := false
	for i := range s.items {
		if s.items[i].ID == id {
			found = true
			if !s.items[i].IsRead {
				s.items[i].IsRead = true
				s.unread--
			}
			break
		}
	}
	s.mu.Unlock()

	if !found {
		return fmt.Errorf("notification %s not found", id)
	}

	if err := s.remote.MarkNotificationRead(ctx, id); err != nil {
		markErr := &MarkError{ID: id, Err: err}
		s.logger.Warn("remote mark-read failed, local state kept", "id", id, "error", err)
		return markErr
	}
	return nil
}

// MarkAllRead flips every unread entry and zeroes the counter, then issues
// one remote call per id concurrently. Partial failure is reported, not
// reconciled per item.
func (s *Store) MarkAllRead(ctx context.Context) error {
	s.mu.Lock()
	var ids []string
	for i := range s.items {
		if !s.items[i].IsRead {
			ids = append(ids, s.items[i].ID)
			s.items[i].IsRead = true
		}
	}
	s.unread = 0
	s.mu.Unlock()

	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := s.remote.MarkNotificationRead(ctx, id); err != nil {
				return &MarkError{ID: id, Err: err}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Warn("mark-all-read partially failed", "error", err)
		return err
	}
	return nil
}

// Items returns a copy of the sequence, newest first.
func (s *Store) Items() []api.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.Notification, len(s.items))
	copy(out, s.items)
	return out
}

// UnreadCount returns the current unread counter.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}
