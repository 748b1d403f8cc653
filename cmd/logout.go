package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// LogoutCmd clears the persisted session.
var LogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out of OrderDesk",
	RunE:  runLogout,
}

func init() {
	addCommonFlags(LogoutCmd)
}

func runLogout(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	a.sessions.Logout()
	fmt.Println("Logged out")
	return nil
}
