package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/ddevcap/viewstats/stats"
)

// Warmer queries the coordinator at startup and then periodically, so the
// record is usually refreshed before a visitor finds it stale.
type Warmer struct {
	coord    *stats.Coordinator
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewWarmer creates a warmer. A non-positive interval only warms once.
func NewWarmer(coord *stats.Coordinator, interval time.Duration) *Warmer {
	return &Warmer{
		coord:    coord,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins the background warm loop.
func (w *Warmer) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go func() {
		defer close(w.done)
		w.warm(ctx)
		if w.interval <= 0 {
			return
		}

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.warm(ctx)
			}
		}
	}()
}

// Stop signals the warm loop to stop and waits for it.
func (w *Warmer) Stop() {
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
}

func (w *Warmer) warm(ctx context.Context) {
	snap := w.coord.Stats(ctx)
	if ctx.Err() != nil {
		return
	}
	if snap.Outcome != stats.OutcomeCached {
		slog.Info("cache warmed", "outcome", snap.Outcome, "last_update", snap.LastUpdate)
	}
}
