package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 5 * time.Second
	pongTimeout  = 60 * time.Second
	pingEvery    = pongTimeout * 9 / 10
	maxInbound   = 512
)

// Client is a websocket subscriber. The feed is server to client only; inbound
// frames other than control frames are discarded.
type Client struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	log       *slog.Logger
	closeOnce sync.Once
	closed    chan struct{}
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{conn: conn, log: logger, closed: make(chan struct{})}
}

// Send writes one text frame.
func (c *Client) Send(payload []byte) error {
	return c.write(websocket.TextMessage, payload)
}

func (c *Client) write(kind int, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(kind, payload); err != nil {
		c.log.Debug("websocket write failed", "error", err)
		return err
	}
	return nil
}

// Listen blocks until the peer goes away or stops answering pings, then closes
// the connection.
func (c *Client) Listen() {
	defer c.Close()
	c.conn.SetReadLimit(maxInbound)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	go c.keepalive()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) keepalive() {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

// Close terminates the connection. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}
