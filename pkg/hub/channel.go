package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/orderdesk/orderdesk-go/pkg/api"
)

const (
	// backoffBase is the reconnect delay for the first attempt; each further
	// consecutive failure doubles it.
	backoffBase = time.Second
	// backoffMax caps the reconnect delay.
	backoffMax = 60 * time.Second
)

// State is the push channel connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Message types on the wire. The client only ever sends JoinUserGroup; the
// server only ever pushes ReceiveNotification.
const (
	msgJoinUserGroup       = "JoinUserGroup"
	msgReceiveNotification = "ReceiveNotification"
)

// wireMessage is the JSON envelope for hub traffic in both directions.
type wireMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// pushPayload is the notification shape the hub pushes. NotificationStatus
// carries the order status when present; Status is a legacy alias some hub
// versions still emit.
type pushPayload struct {
	ID                 string    `json:"id"`
	Type               string    `json:"type,omitempty"`
	OrderID            string    `json:"orderId,omitempty"`
	Status             string    `json:"status,omitempty"`
	Message            string    `json:"message"`
	CreatedAt          time.Time `json:"createdAt"`
	NotificationStatus string    `json:"notificationStatus,omitempty"`
}

func (p pushPayload) notification() api.Notification {
	status := p.NotificationStatus
	if status == "" {
		status = p.Status
	}
	return api.Notification{
		ID:        p.ID,
		OrderID:   p.OrderID,
		Message:   p.Message,
		Status:    status,
		CreatedAt: p.CreatedAt,
	}
}

// wsConn abstracts the websocket connection so the channel can be tested
// without a real server. *websocket.Conn satisfies this interface.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens a hub connection authenticated with token.
type Dialer func(ctx context.Context, url, token string) (wsConn, error)

func dialWebsocket(ctx context.Context, rawURL, token string) (wsConn, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.Dial(ctx, rawURL, &websocket.DialOptions{ //nolint:bodyclose // websocket.Dial closes the response body internally
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("dialing hub: %w", err)
	}
	return conn, nil
}

// Channel maintains one persistent push connection. It reconnects with
// exponential backoff for as long as its context lives, re-running the
// JoinUserGroup handshake after every reconnect (group membership does not
// survive a transport-level reconnect).
//
// The token getter is read at every (re)connect, so a reconnect picks up a
// refreshed access token without the channel knowing a refresh happened.
type Channel struct {
	url     string
	tokenFn func() string
	logger  *slog.Logger
	dial    Dialer

	state atomic.Int32

	mu      sync.Mutex
	handler func(api.Notification)
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewChannel creates a channel against the hub URL. tokenFn must return the
// live access token.
func NewChannel(url string, tokenFn func() string, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		url:     url,
		tokenFn: tokenFn,
		logger:  logger,
		dial:    dialWebsocket,
	}
}

// OnNotification registers the single handler for inbound pushes. Must be
// called before Start.
func (c *Channel) OnNotification(fn func(api.Notification)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = fn
}

// State returns the current connection state.
func (c *Channel) State() State {
	return State(c.state.Load())
}

// Start launches the connect/read/reconnect loop. It returns immediately;
// the loop runs until ctx is cancelled or Close is called.
func (c *Channel) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.started = true
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.run(runCtx)
}

// Close tears the channel down and waits for the loop to exit. Safe to call
// when not connected or more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.done)
	defer c.state.Store(int32(StateDisconnected))

	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}

		if failures > 0 {
			c.state.Store(int32(StateReconnecting))
			delay := backoffDelay(failures - 1)
			c.logger.Debug("waiting before reconnect", "delay", delay, "failures", failures)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		} else {
			c.state.Store(int32(StateConnecting))
		}

		conn, err := c.dial(ctx, c.url, c.tokenFn())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("hub connect failed", "error", err)
			failures++
			continue
		}

		if err := c.join(ctx, conn); err != nil {
			_ = conn.Close(websocket.StatusInternalError, "join failed")
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("hub join failed", "error", err)
			failures++
			continue
		}

		c.state.Store(int32(StateConnected))
		c.logger.Info("hub connected", "url", c.url)
		failures = 0

		err = c.readLoop(ctx, conn)
		_ = conn.Close(websocket.StatusNormalClosure, "")
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("hub connection lost", "error", err)
		failures = 1
	}
}

// join performs the post-connect handshake that tells the hub which logical
// user to route pushes to.
func (c *Channel) join(ctx context.Context, conn wsConn) error {
	data, err := json.Marshal(wireMessage{Type: msgJoinUserGroup})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// readLoop delivers pushes to the handler in network-arrival order until the
// connection drops.
func (c *Channel) readLoop(ctx context.Context, conn wsConn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var msg wireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("unparseable hub frame", "bytes", len(data))
			continue
		}
		if msg.Type != msgReceiveNotification {
			c.logger.Debug("ignoring hub message", "type", msg.Type)
			continue
		}

		var payload pushPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.logger.Warn("failed to decode notification push", "error", err)
			continue
		}

		c.mu.Lock()
		handler := c.handler
		c.mu.Unlock()
		if handler != nil {
			handler(payload.notification())
		}
	}
}

// backoffDelay returns min(2^attempt * 1s, 60s).
func backoffDelay(attempt int) time.Duration {
	if attempt > 6 {
		return backoffMax
	}
	delay := backoffBase << uint(attempt)
	if delay > backoffMax {
		delay = backoffMax
	}
	return delay
}
