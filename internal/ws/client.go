package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 2048

	// Per-client outbound queue depth
	sendBufferSize = 256
)

// MessageHandler processes an inbound text frame from an observer
type MessageHandler func(message []byte)

// Client represents one connected WebSocket observer
type Client struct {
	registry *Registry
	conn     *websocket.Conn
	send     chan []byte
	handler  MessageHandler

	closeOnce sync.Once
}

// NewClient wraps an upgraded connection. handler may be nil for one-way
// streams.
func NewClient(registry *Registry, conn *websocket.Conn, handler MessageHandler) *Client {
	return &Client{
		registry: registry,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		handler:  handler,
	}
}

// trySend queues a frame without blocking. A full queue means the observer
// cannot keep up; the caller drops it.
func (c *Client) trySend(message []byte) bool {
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// ReadPump pumps messages from the connection to the handler. It owns the
// read side and drives connection teardown.
func (c *Client) ReadPump() {
	defer func() {
		c.registry.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.registry.log.Debugw("WebSocket read error", "stream", c.registry.stream, "error", err)
			}
			break
		}
		if c.handler != nil {
			c.handler(message)
		}
	}
}

// WritePump pumps queued frames to the connection and keeps it alive with
// periodic pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Registry closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS upgrades an HTTP request and attaches the connection to the
// registry. The client is registered before the upgrade handshake completes
// so that a broadcast racing the handshake is queued rather than missed;
// the write pump delivers it once the connection is up.
func ServeWS(registry *Registry, upgrader websocket.Upgrader, handler MessageHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client := NewClient(registry, nil, handler)
		registry.Register(client)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			registry.Unregister(client)
			registry.log.Warnw("WebSocket upgrade failed", "stream", registry.stream, "error", err)
			return
		}
		client.conn = conn

		go client.WritePump()
		go client.ReadPump()
	}
}
