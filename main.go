package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/orderdesk/orderdesk-go/cmd"
)

var rootCmd = &cobra.Command{
	Use:   "orderdesk",
	Short: "OrderDesk client CLI",
	Long:  "Command line client for the OrderDesk platform: session management and real-time notifications",
}

func init() {
	rootCmd.AddCommand(cmd.LoginCmd)
	rootCmd.AddCommand(cmd.LogoutCmd)
	rootCmd.AddCommand(cmd.WhoamiCmd)
	rootCmd.AddCommand(cmd.NotificationsCmd)
	rootCmd.AddCommand(cmd.StubhubCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}
