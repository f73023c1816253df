package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/harun/mcpagent/internal/cli"
)

func main() {
	// SIGINT is handled per command; SIGTERM ends the process cleanly so
	// deferred provider shutdown still runs.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if err := cli.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
