package cmd

import (
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/orderdesk/orderdesk-go/pkg/stubhub"
)

var (
	stubAddr string
	stubSeed string
)

// StubhubCmd runs the local development stub of the backend: identity
// endpoints, notifications API and push hub in one process.
var StubhubCmd = &cobra.Command{
	Use:   "stubhub",
	Short: "Run a local OrderDesk backend stub",
	Long: `Run a local stand-in for the identity service, notifications API and
push hub, seeded from a YAML fixture file.

Example:
  orderdesk stubhub --addr :8080 --seed seed.yaml`,
	RunE: runStubhub,
}

func init() {
	addCommonFlags(StubhubCmd)
	StubhubCmd.Flags().StringVar(&stubAddr, "addr", ":8080", "Address to listen on")
	StubhubCmd.Flags().StringVar(&stubSeed, "seed", "", "Path to a YAML seed fixture")
}

func runStubhub(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	server := stubhub.New(stubhub.Options{Logger: logger})

	if stubSeed != "" {
		seed, err := stubhub.LoadSeed(stubSeed)
		if err != nil {
			return err
		}
		server.Apply(seed)
		logger.Info("seed applied", "users", len(seed.Users), "notifications", len(seed.Notifications))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("stub hub listening", "addr", stubAddr)
	if err := server.Start(ctx, stubAddr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
