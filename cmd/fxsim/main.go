package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fxsim/internal/cli"
	"fxsim/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCmd(logging.NewLogger()).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
