package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	var flags configFlags

	rootCmd := &cobra.Command{
		Use:   "push-receiver",
		Short: "Receive Firebase push notifications over MCS",
		Long: `push-receiver registers a device with GCM/FCM and keeps an MCS session
open to mtalk.google.com, printing every decrypted message as a JSON line.

Configuration is read from the environment (PUSH_SENDER_ID, PUSH_BUNDLE_ID,
PUSH_VAPID_KEY, PUSH_HEARTBEAT, PUSH_STATE_DIR, PUSH_DEBUG,
PUSH_METRICS_ADDR). Flags override the environment.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := setup(cmd.Context(), cmd, &flags)
			if err != nil {
				return err
			}
			cmd.SetContext(ctx)
			return nil
		},
	}
	flags.register(rootCmd)

	rootCmd.AddCommand(
		listenCmd(),
		registerCmd(),
		checkinCmd(),
		unregisterCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		stop()
		os.Exit(1)
	}
}
