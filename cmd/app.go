package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/orderdesk/orderdesk-go/pkg/api"
	"github.com/orderdesk/orderdesk-go/pkg/config"
	"github.com/orderdesk/orderdesk-go/pkg/credentials"
	"github.com/orderdesk/orderdesk-go/pkg/session"
)

var (
	configPath string
	verbose    bool
)

// addCommonFlags registers the flags shared by every top-level command.
func addCommonFlags(c *cobra.Command) {
	c.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file path")
	c.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
}

// app holds the wired client: config, credential store, session manager and
// request pipeline. Each CLI invocation constructs one app, bootstraps the
// persisted session, and tears it down on exit.
type app struct {
	cfg      *config.Config
	store    *credentials.FileStore
	sessions *session.Manager
	pipeline *api.Pipeline
	logger   *slog.Logger
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	if verbose || cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	store := credentials.NewFileStore(cfg.StateDir, logger)
	identity := api.NewIdentityClient(cfg.APIBaseURL, cfg.RequestTimeout)
	sessions := session.NewManagerWithThreshold(store, identity, logger, cfg.RefreshThreshold)
	pipeline := api.NewPipeline(cfg.APIBaseURL, sessions, cfg.RequestTimeout, logger)
	sessions.SetIdentityFetcher(pipeline)

	return &app{
		cfg:      cfg,
		store:    store,
		sessions: sessions,
		pipeline: pipeline,
		logger:   logger,
	}, nil
}

// bootstrap restores the persisted session.
func (a *app) bootstrap(ctx context.Context) {
	a.sessions.Bootstrap(ctx)
}

func (a *app) close() {
	a.sessions.Close()
}
