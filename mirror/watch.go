package mirror

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ddevcap/viewstats/store"
)

const (
	watchMinBackoff = time.Second
	watchMaxBackoff = time.Minute
)

// Watch subscribes to the websocket feed at wsURL and offers every pushed
// snapshot to the mirror. It reconnects with backoff until ctx ends.
func (m *Mirror) Watch(ctx context.Context, wsURL string) {
	backoff := watchMinBackoff
	for ctx.Err() == nil {
		if m.watchOnce(ctx, wsURL) {
			backoff = watchMinBackoff
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, watchMaxBackoff)
	}
}

// watchOnce reads one connection until it fails. It reports whether any
// message was received.
func (m *Mirror) watchOnce(ctx context.Context, wsURL string) bool {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		slog.Debug("mirror: websocket dial failed", "url", wsURL, "error", err)
		return false
	}
	defer func() { _ = conn.Close() }()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	received := false
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Debug("mirror: websocket closed", "error", err)
			}
			return received
		}
		received = true
		rec, err := store.Decode(msg)
		if err != nil {
			slog.Debug("mirror: ignoring unreadable push", "error", err)
			continue
		}
		m.Offer(ctx, *rec, "push")
	}
}
