package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/orderdesk/orderdesk-go/pkg/credentials"
)

// Notification is a notification as served by the notifications API and the
// push hub. IsRead is the only field the client ever mutates.
type Notification struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"orderId,omitempty"`
	Message   string    `json:"message"`
	Status    string    `json:"status,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	IsRead    bool      `json:"isRead"`
}

// Me fetches the authenticated user's identity.
func (p *Pipeline) Me(ctx context.Context) (*credentials.Identity, error) {
	var id credentials.Identity
	if err := p.Do(ctx, "GET", "/api/identity/me", nil, nil, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

// Notifications fetches the notification snapshot, newest first.
func (p *Pipeline) Notifications(ctx context.Context, unreadOnly bool) ([]Notification, error) {
	query := url.Values{"unreadOnly": {strconv.FormatBool(unreadOnly)}}
	var list []Notification
	if err := p.Do(ctx, "GET", "/api/notifications", query, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// MarkNotificationRead persists the read flag for one notification.
func (p *Pipeline) MarkNotificationRead(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("notification ID is required")
	}
	return p.Do(ctx, "POST", "/api/notifications/"+id+"/mark-read", nil, nil, nil)
}
