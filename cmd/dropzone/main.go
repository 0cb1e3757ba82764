// Command dropzone is the operator CLI: key and password helpers, one-off
// maintenance against the configured stores, and the docker compose dev stack.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "dropzone:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "dropzone",
		Short: "DropZone operator CLI",
		Long: `dropzone generates keys and password hashes, inspects or purges shares in the
configured metadata store, runs a one-off expiry sweep and drives the docker compose stack.
Store settings are read from the same environment (and .env file) as the server.`,
		SilenceUsage: true,
	}
	root.AddCommand(
		newKeygenCmd(),
		newHashPasswordCmd(),
		newSweepCmd(),
		newInspectCmd(),
		newPurgeCmd(),
		newStackCmd(),
		newGoTestCmd(),
	)
	return root
}
