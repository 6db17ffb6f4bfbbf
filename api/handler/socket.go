package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ddevcap/viewstats/stats"
	"github.com/ddevcap/viewstats/store"
)

const (
	// wsPingInterval is how often the server pings connected clients.
	wsPingInterval = 30 * time.Second
	// wsReadDeadline is the maximum time to wait for a pong before considering the connection dead.
	wsReadDeadline = 90 * time.Second
	// wsWriteTimeout bounds a single frame write.
	wsWriteTimeout = 10 * time.Second
	// wsSendBuffer is the number of pushes queued per client before new
	// ones are dropped for it.
	wsSendBuffer = 4
)

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
	// The feed is public and read-only, like the stats endpoint.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// WSHub tracks subscribers of the stats feed so refreshed records can be
// pushed to them and connections closed during graceful shutdown.
type WSHub struct {
	mu       sync.Mutex
	clients  map[*wsClient]struct{}
	done     chan struct{} // closed on shutdown
	shutdown sync.Once
}

func NewWSHub() *WSHub {
	return &WSHub{
		clients: make(map[*wsClient]struct{}),
		done:    make(chan struct{}),
	}
}

func (h *WSHub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *WSHub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// Len returns the number of connected subscribers.
func (h *WSHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish pushes rec to every subscriber. It never blocks: a subscriber
// whose queue is full misses this push.
func (h *WSHub) Publish(rec store.Record) {
	msg, err := json.Marshal(rec)
	if err != nil {
		slog.Error("ws: encode record", "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slog.Debug("ws: subscriber queue full, dropping push")
		}
	}
}

// Shutdown closes all active WebSocket connections and signals handlers to exit.
func (h *WSHub) Shutdown() {
	h.shutdown.Do(func() {
		close(h.done)
		h.mu.Lock()
		defer h.mu.Unlock()
		for c := range h.clients {
			_ = c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second),
			)
			_ = c.conn.Close()
		}
		h.clients = make(map[*wsClient]struct{})
	})
}

// WebSocketHandler handles GET /api/youtube-stats/ws. The persisted record
// is sent right after the upgrade, then every refreshed record as it is
// saved. Clients only need to read.
func WebSocketHandler(hub *WSHub, coord *stats.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
		hub.add(client)
		defer func() {
			hub.remove(client)
			_ = conn.Close()
		}()

		if rec, err := coord.Peek(c.Request.Context()); err == nil && rec != nil {
			rec.Data = coord.Catalog().Complete(rec.Data)
			msg, _ := json.Marshal(rec)
			if err := write(conn, msg); err != nil {
				return
			}
		}

		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()

		_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
			return nil
		})

		readErr := make(chan error, 1)
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					readErr <- err
					return
				}
			}
		}()

		for {
			select {
			case <-hub.done:
				return
			case msg := <-client.send:
				if err := write(conn, msg); err != nil {
					slog.Debug("ws: push write error", "error", err)
					return
				}
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					slog.Debug("ws: ping write error", "error", err)
					return
				}
			case err := <-readErr:
				if websocket.IsUnexpectedCloseError(err,
					websocket.CloseGoingAway,
					websocket.CloseNormalClosure,
					websocket.CloseNoStatusReceived,
				) {
					slog.Debug("ws: unexpected close", "error", err)
				}
				return
			}
		}
	}
}

func write(conn *websocket.Conn, msg []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, msg)
}
