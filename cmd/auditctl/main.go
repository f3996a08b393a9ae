// Command auditctl inspects and migrates the humancheck audit store.
//
// Usage:
//
//	auditctl migrate                      # bring the store header up to date
//	auditctl report --limit 20            # counts plus the last 20 entries
//	auditctl report --decision rejected   # only rejected attempts
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
