package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aristath/autopilot/internal/cli"
)

var version = "dev"

func main() {
	// Cancelling the context stops the engine and kills agent subprocesses.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCmd(version).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
