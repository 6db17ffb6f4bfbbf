package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ddevcap/viewstats/api"
	"github.com/ddevcap/viewstats/api/handler"
	"github.com/ddevcap/viewstats/catalog"
	"github.com/ddevcap/viewstats/config"
	"github.com/ddevcap/viewstats/stats"
	"github.com/ddevcap/viewstats/store"
	"github.com/ddevcap/viewstats/youtube"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	cat, err := catalog.Load(cfg.CatalogFile)
	if err != nil {
		slog.Error("failed to load catalog", "error", err)
		os.Exit(1)
	}

	usage := youtube.NewUsageTracker()
	client, err := youtube.NewClient(cfg, usage)
	if err != nil {
		slog.Error("cannot fetch view counts", "error", err)
		os.Exit(1)
	}
	slog.Info("using YouTube API key", "key", cfg.MaskedAPIKey())

	st, err := store.Open(context.Background(), cfg.CacheURL)
	if err != nil {
		slog.Error("failed to open cache store", "error", err)
		os.Exit(1)
	}
	defer func() { _ = st.Close() }()

	coord := stats.NewCoordinator(cat, st, client, stats.Options{
		Threshold:      cfg.ServerStaleAfter,
		RefreshTimeout: cfg.RefreshTimeout,
	})

	wsHub := handler.NewWSHub()
	coord.OnRefresh(wsHub.Publish)

	h, stopLimiter := api.NewRouter(cfg, coord, usage, wsHub)

	// Warm the cache at startup and keep it warm so visitors rarely wait on the API.
	warmer := api.NewWarmer(coord, cfg.WarmInterval)
	warmer.Start(context.Background())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	// Start server in a goroutine so we can listen for shutdown signals.
	go func() {
		slog.Info("view stats service listening",
			"addr", cfg.ListenAddr,
			"videos", len(cat.Descriptors),
			"stale_after", cfg.ServerStaleAfter,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt or SIGTERM (e.g. from container orchestration).
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server...")

	wsHub.Shutdown()
	warmer.Stop()
	stopLimiter()
	usage.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	slog.Info("server stopped")
}
