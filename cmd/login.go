package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var loginEmail string

// LoginCmd authenticates against the identity service and persists the
// resulting session.
var LoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to OrderDesk",
	Long:  "Authenticate with email and password and persist the session for later commands",
	RunE:  runLogin,
}

func init() {
	addCommonFlags(LoginCmd)
	LoginCmd.Flags().StringVarP(&loginEmail, "email", "e", "", "Account email")
}

func runLogin(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	reader := bufio.NewReader(os.Stdin)

	email := loginEmail
	if email == "" {
		fmt.Print("Email: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read email: %w", err)
		}
		email = strings.TrimSpace(line)
	}
	if email == "" {
		return fmt.Errorf("email cannot be empty")
	}

	fmt.Print("Password: ")
	line, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	password := strings.TrimSpace(line)
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}

	if err := a.sessions.Login(cmd.Context(), email, password); err != nil {
		return err
	}

	snap := a.sessions.Snapshot()
	fmt.Printf("Logged in as %s\n", snap.Identity.Email)
	return nil
}
