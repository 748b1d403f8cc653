package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/orderdesk/orderdesk-go/pkg/api"
	"github.com/orderdesk/orderdesk-go/pkg/notifications"
)

var listUnreadOnly bool

// NotificationsCmd groups the notification operations.
var NotificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"notif"},
	Short:   "Work with OrderDesk notifications",
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List notifications",
	RunE:  runList,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream notifications in real time",
	Long:  "Connect to the push hub and print notifications as they arrive; reconnects automatically until interrupted",
	RunE:  runWatch,
}

var markReadCmd = &cobra.Command{
	Use:   "mark-read [id]",
	Short: "Mark one notification as read",
	Args:  cobra.ExactArgs(1),
	RunE:  runMarkRead,
}

var markAllReadCmd = &cobra.Command{
	Use:   "mark-all-read",
	Short: "Mark every notification as read",
	RunE:  runMarkAllRead,
}

func init() {
	addCommonFlags(NotificationsCmd)
	listCmd.Flags().BoolVar(&listUnreadOnly, "unread", false, "Only show unread notifications")

	NotificationsCmd.AddCommand(listCmd)
	NotificationsCmd.AddCommand(watchCmd)
	NotificationsCmd.AddCommand(markReadCmd)
	NotificationsCmd.AddCommand(markAllReadCmd)
}

// authedApp builds the app and requires a restored, authenticated session.
func authedApp(cmd *cobra.Command) (*app, error) {
	a, err := newApp()
	if err != nil {
		return nil, err
	}
	a.bootstrap(cmd.Context())
	if !a.sessions.State().Authenticated() {
		a.close()
		return nil, fmt.Errorf("not logged in, run 'orderdesk login' first")
	}
	return a, nil
}

func printNotification(n api.Notification) {
	marker := "*"
	if n.IsRead {
		marker = " "
	}
	line := fmt.Sprintf("%s %s  %s", marker, n.CreatedAt.Format("2006-01-02 15:04"), n.Message)
	if n.OrderID != "" {
		line += fmt.Sprintf(" (order %s)", n.OrderID)
	}
	fmt.Printf("%s  [%s]\n", line, n.ID)
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := authedApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	list, err := a.pipeline.Notifications(cmd.Context(), listUnreadOnly)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No notifications")
		return nil
	}
	for _, n := range list {
		printNotification(n)
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := authedApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := notifications.NewStore(a.pipeline, a.logger)
	if err := store.LoadSnapshot(ctx); err != nil {
		return err
	}
	fmt.Printf("%d unread notifications, watching for new ones (Ctrl+C to stop)\n", store.UnreadCount())

	store.SetPushHook(func(n api.Notification) {
		printNotification(n)
	})

	runner := notifications.NewRunner(store, a.sessions, a.cfg.HubURL, a.logger)
	runner.Run(ctx)
	return nil
}

func runMarkRead(cmd *cobra.Command, args []string) error {
	a, err := authedApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	store := notifications.NewStore(a.pipeline, a.logger)
	if err := store.LoadSnapshot(cmd.Context()); err != nil {
		return err
	}
	if err := store.MarkRead(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Marked %s read (%d unread left)\n", args[0], store.UnreadCount())
	return nil
}

func runMarkAllRead(cmd *cobra.Command, args []string) error {
	a, err := authedApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	store := notifications.NewStore(a.pipeline, a.logger)
	if err := store.LoadSnapshot(cmd.Context()); err != nil {
		return err
	}
	if err := store.MarkAllRead(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("All notifications marked read")
	return nil
}
