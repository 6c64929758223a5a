// Command clipdrop is the operator CLI for a ClipDrop store: it uploads
// files and clipboard content, reads them back, manages retention and
// organisation, and runs the sweeper or the long-lived daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "clipdrop: %v\n", err)
		os.Exit(1)
	}
}
