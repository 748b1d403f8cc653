package stubhub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/orderdesk/orderdesk-go/pkg/api"
	"github.com/orderdesk/orderdesk-go/pkg/credentials"
)

// DefaultAccessTTL is how long stub access tokens live. Short enough that a
// long-running dev session exercises the refresh path.
const DefaultAccessTTL = 15 * time.Minute

// Options configures a stub server.
type Options struct {
	// Secret signs the stub's HS256 access tokens.
	Secret []byte
	// AccessTTL overrides DefaultAccessTTL when positive.
	AccessTTL time.Duration
	Logger    *slog.Logger
}

// Server is a local stand-in for the identity service, the notifications API
// and the push hub. It exists so the CLI and SDK can be exercised without
// the real backend; its wire contracts mirror production.
type Server struct {
	echo      *echo.Echo
	secret    []byte
	accessTTL time.Duration
	logger    *slog.Logger

	joins atomic.Int64

	mu            sync.Mutex
	users         map[string]User // keyed by email
	notifications []api.Notification
	refreshTokens map[string]string // refresh token -> user id
	conns         map[*hubConn]struct{}
}

// User is a seeded stub account.
type User struct {
	ID       string   `yaml:"id" json:"id"`
	Email    string   `yaml:"email" json:"email"`
	Password string   `yaml:"password" json:"-"`
	Roles    []string `yaml:"roles" json:"roles"`
}

type hubConn struct {
	conn   *websocket.Conn
	writeC chan api.Notification
	userID string
	joined bool
}

// New creates a stub server.
func New(opts Options) *Server {
	if len(opts.Secret) == 0 {
		opts.Secret = []byte("orderdesk-stub-secret")
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = DefaultAccessTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{
		echo:          echo.New(),
		secret:        opts.Secret,
		accessTTL:     opts.AccessTTL,
		logger:        opts.Logger,
		users:         make(map[string]User),
		refreshTokens: make(map[string]string),
		conns:         make(map[*hubConn]struct{}),
	}

	s.echo.HideBanner = true
	s.echo.Use(middleware.Recover())

	s.echo.POST("/identity/login", s.handleLogin)
	s.echo.POST("/identity/refresh", s.handleRefresh)
	s.echo.GET("/api/identity/me", s.handleMe)
	s.echo.GET("/api/notifications", s.handleNotifications)
	s.echo.POST("/api/notifications/:id/mark-read", s.handleMarkRead)
	s.echo.GET("/hub/notifications", s.handleHub)
	s.echo.POST("/stub/push", s.handleStubPush)

	return s
}

// Echo returns the underlying echo instance for serving or testing.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// JoinCount reports how many JoinUserGroup handshakes the hub has seen.
func (s *Server) JoinCount() int64 {
	return s.joins.Load()
}

// AddUser seeds an account.
func (s *Server) AddUser(u User) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.Email] = u
}

// AddNotification seeds a notification without pushing it.
func (s *Server) AddNotification(n api.Notification) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append([]api.Notification{n}, s.notifications...)
}

// Push stores a notification and pushes it to every joined hub connection.
func (s *Server) Push(n api.Notification) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	n.IsRead = false

	s.mu.Lock()
	s.notifications = append([]api.Notification{n}, s.notifications...)
	for hc := range s.conns {
		if !hc.joined {
			continue
		}
		select {
		case hc.writeC <- n:
		default:
			s.logger.Warn("dropping push for slow hub connection")
		}
	}
	s.mu.Unlock()
}

func (s *Server) handleLogin(c echo.Context) error {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	s.mu.Lock()
	user, ok := s.users[req.Email]
	s.mu.Unlock()
	if !ok || user.Password != req.Password {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}

	pair, err := s.issueTokens(user)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pair)
}

func (s *Server) handleRefresh(c echo.Context) error {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	s.mu.Lock()
	userID, ok := s.refreshTokens[req.RefreshToken]
	if ok {
		// Refresh tokens are single-use; the pair is rotated.
		delete(s.refreshTokens, req.RefreshToken)
	}
	var user User
	for _, u := range s.users {
		if u.ID == userID {
			user = u
			break
		}
	}
	s.mu.Unlock()

	if !ok || user.ID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid refresh token")
	}

	pair, err := s.issueTokens(user)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pair)
}

func (s *Server) handleMe(c echo.Context) error {
	user, err := s.authenticate(c.Request())
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	return c.JSON(http.StatusOK, credentials.Identity{
		ID:    user.ID,
		Email: user.Email,
		Roles: user.Roles,
	})
}

func (s *Server) handleNotifications(c echo.Context) error {
	if _, err := s.authenticate(c.Request()); err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	unreadOnly := c.QueryParam("unreadOnly") == "true"

	s.mu.Lock()
	out := make([]api.Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		if unreadOnly && n.IsRead {
			continue
		}
		out = append(out, n)
	}
	s.mu.Unlock()

	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleMarkRead(c echo.Context) error {
	if _, err := s.authenticate(c.Request()); err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	id := c.Param("id")

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.notifications {
		if s.notifications[i].ID == id {
			s.notifications[i].IsRead = true
			return c.NoContent(http.StatusNoContent)
		}
	}
	return echo.NewHTTPError(http.StatusNotFound, "notification not found")
}

// handleStubPush injects a notification and pushes it to joined connections.
// Dev-only endpoint, not part of the production contract.
func (s *Server) handleStubPush(c echo.Context) error {
	var n api.Notification
	if err := c.Bind(&n); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	s.Push(n)
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleHub(c echo.Context) error {
	user, err := s.authenticate(c.Request())
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	hc := &hubConn{
		conn:   conn,
		writeC: make(chan api.Notification, 16),
		userID: user.ID,
	}
	s.mu.Lock()
	s.conns[hc] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, hc)
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := c.Request().Context()
	go s.writeLoop(ctx, hc)
	return s.readLoop(ctx, hc)
}

func (s *Server) readLoop(ctx context.Context, hc *hubConn) error {
	for {
		_, data, err := hc.conn.Read(ctx)
		if err != nil {
			return nil
		}
		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "JoinUserGroup" {
			s.joins.Add(1)
			s.mu.Lock()
			hc.joined = true
			s.mu.Unlock()
			s.logger.Debug("hub connection joined", "user", hc.userID)
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, hc *hubConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-hc.writeC:
			if !ok {
				return
			}
			payload, err := json.Marshal(n)
			if err != nil {
				continue
			}
			env, err := json.Marshal(struct {
				Type    string          `json:"type"`
				Payload json.RawMessage `json:"payload"`
			}{Type: "ReceiveNotification", Payload: payload})
			if err != nil {
				continue
			}
			if err := hc.conn.Write(ctx, websocket.MessageText, env); err != nil {
				return
			}
		}
	}
}

// issueTokens mints a real HS256 JWT so the client's expiry parsing is
// exercised end to end, plus an opaque single-use refresh token.
func (s *Server) issueTokens(user User) (*api.TokenPair, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   user.ID,
		"email": user.Email,
		"iat":   now.Unix(),
		"exp":   now.Add(s.accessTTL).Unix(),
	})
	access, err := token.SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refresh := uuid.New().String()
	s.mu.Lock()
	s.refreshTokens[refresh] = user.ID
	s.mu.Unlock()

	return &api.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// authenticate verifies the bearer token (header or access_token query
// parameter, for websocket clients that cannot set headers) and resolves the
// seeded user.
func (s *Server) authenticate(r *http.Request) (User, error) {
	raw := ""
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		raw = strings.TrimPrefix(auth, "Bearer ")
	} else if q := r.URL.Query().Get("access_token"); q != "" {
		raw = q
	}
	if raw == "" {
		return User{}, fmt.Errorf("missing bearer token")
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return User{}, fmt.Errorf("invalid access token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return User{}, fmt.Errorf("invalid token claims")
	}
	sub, _ := claims["sub"].(string)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == sub {
			return u, nil
		}
	}
	return User{}, fmt.Errorf("unknown user")
}

// Start serves on addr until the context is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	errC := make(chan error, 1)
	go func() {
		errC <- s.echo.Start(addr)
	}()

	select {
	case err := <-errC:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	}
}
