// Command viewcounts works with view-count snapshots outside the stats
// service: it shows what the site would display and regenerates the
// snapshot bundled with the frontend.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("viewcounts failed", "error", err)
		stop()
		os.Exit(1)
	}
}
