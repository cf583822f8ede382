package ws

import (
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/support-desk/internal/auth"
	"github.com/spec-kit/support-desk/internal/config"
)

// Client wraps one websocket connection. Writes go through the buffered send
// channel so only the write pump ever touches the socket.
type Client struct {
	conn      *websocket.Conn
	principal *auth.Principal
	send      chan []byte
	cfg       config.WebsocketConfig
	logger    *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, principal *auth.Principal, cfg config.WebsocketConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	size := cfg.SendBufferSize
	if size <= 0 {
		size = 256
	}
	return &Client{
		conn:      conn,
		principal: principal,
		send:      make(chan []byte, size),
		cfg:       cfg,
		logger:    logger,
	}
}

// Principal returns the authenticated caller behind the socket.
func (c *Client) Principal() *auth.Principal {
	return c.principal
}

// enqueue hands a frame to the write pump. Returns false when the buffer is
// full or the client is already gone.
func (c *Client) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// markClosed stops further enqueues. The hub closes the send channel only
// after this, so the write pump drains without racing producers.
func (c *Client) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// closeSlow tears down a connection whose buffer overflowed.
func (c *Client) closeSlow() {
	c.markClosed()
	_ = c.conn.Close()
}

// ReadPump consumes frames until the connection drops, invoking handle for
// each inbound message. Runs on the connection's goroutine.
func (c *Client) ReadPump(handle func(*Client, []byte)) {
	c.conn.SetReadLimit(c.cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait()))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait()))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		handle(c, raw)
	}
}

// WritePump flushes the send channel and keeps the connection alive with
// periodic pings. Runs on its own goroutine per connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod())
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait()))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait()))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
