package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// WhoamiCmd prints the current session's identity.
var WhoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the current session",
	RunE:  runWhoami,
}

func init() {
	addCommonFlags(WhoamiCmd)
}

func runWhoami(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	a.bootstrap(cmd.Context())

	snap := a.sessions.Snapshot()
	if !snap.State.Authenticated() {
		return fmt.Errorf("not logged in")
	}

	fmt.Printf("User:    %s (%s)\n", snap.Identity.Email, snap.Identity.ID)
	if len(snap.Identity.Roles) > 0 {
		fmt.Printf("Roles:   %s\n", strings.Join(snap.Identity.Roles, ", "))
	}
	fmt.Printf("Expires: %s\n", snap.Credential.ExpiresAt.Format("2006-01-02 15:04:05"))
	return nil
}
