package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// main wires the command tree and cancels it on SIGINT/SIGTERM. Business
// logic lives in internal packages.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
