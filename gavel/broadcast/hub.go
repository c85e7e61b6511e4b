package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hammerlane/gavel/gavel/auction"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	clientSendBuf  = 64
	broadcastDepth = 256
)

// Hub fans engine events out to websocket viewers. It satisfies
// auction.NotificationSink; a full buffer or a slow client is a dropped
// frame, never back-pressure on the engine.
type Hub struct {
	upgrader websocket.Upgrader

	register   chan *client
	unregister chan *client
	broadcast  chan []byte

	// done is closed when Run exits so client pumps never block on a
	// channel nobody drains anymore.
	done chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, broadcastDepth),
		done:       make(chan struct{}),
	}
}

// Publish implements auction.NotificationSink.
func (h *Hub) Publish(ctx context.Context, event auction.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	select {
	case h.broadcast <- payload:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("broadcast queue full: %w", ctx.Err())
	}
}

// Run owns the client set until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	clients := make(map[*client]struct{})

	defer func() {
		close(h.done)
		for c := range clients {
			c.close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-h.register:
			clients[c] = struct{}{}
			slog.Info("Viewer connected",
				slog.String("remote", c.remote),
				slog.Int("viewers", len(clients)))
		case c := <-h.unregister:
			if _, ok := clients[c]; ok {
				delete(clients, c)
				c.close()
			}
		case payload := <-h.broadcast:
			for c := range clients {
				select {
				case c.send <- payload:
				default:
					// Slow viewer; cut it loose rather than stall the fan-out.
					delete(clients, c)
					c.close()
				}
			}
		}
	}
}

// ServeHTTP upgrades a viewer connection and starts its pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade viewer connection",
			slog.Any("error", err))
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, clientSendBuf),
		remote: conn.RemoteAddr().String(),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump(h)
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	remote string
	closed bool
}

func (c *client) close() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; viewers are read-only. It exists to
// notice closed connections.
func (c *client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
