package ws

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Client wraps a websocket connection as a hub subscriber. Writes are
// serialized; gorilla connections do not allow concurrent writers.
type Client struct {
	mu   sync.Mutex
	conn *websocket.Conn
	log  *slog.Logger
}

// NewClient constructs a client wrapper around an upgraded connection.
func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{conn: conn, log: logger}
}

// Send writes one text message to the connection.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.log.Warn("websocket send failed", "error", err)
		_ = c.conn.Close()
		return err
	}
	return nil
}

// Close terminates the connection.
func (c *Client) Close() {
	_ = c.conn.Close()
}

// ReadUntilClose consumes and discards inbound frames until the peer
// disconnects. Running it keeps close handshakes and pings flowing.
func (c *Client) ReadUntilClose() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
