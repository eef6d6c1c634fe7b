package ws

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Conn is the subset of the websocket connection the client wrapper needs.
// *websocket.Conn from gofiber/websocket satisfies it; tests use fakes.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// Message types mirrored from the websocket package so callers of the Conn
// interface do not need the concrete dependency.
const (
	TextMessage  = 1
	CloseMessage = 8
	PingMessage  = 9
)

// Client wraps one live connection for a user. It owns the outbound buffer;
// writes to the socket happen only in WritePump.
type Client struct {
	userID   string
	socketID string
	openedAt time.Time
	conn     Conn

	send chan []byte

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func NewClient(conn Conn, userID, socketID string, sendBuffer int) *Client {
	return &Client{
		userID:   userID,
		socketID: socketID,
		openedAt: time.Now().UTC(),
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
}

func (c *Client) User() string        { return c.userID }
func (c *Client) SocketID() string    { return c.socketID }
func (c *Client) OpenedAt() time.Time { return c.openedAt }

// TrySend queues a frame without blocking. It reports false when the
// connection is closed or its buffer is full; a full buffer means the peer
// has stalled and the caller should treat this connection as unreachable.
func (c *Client) TrySend(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	return c.conn.Close()
}

// Done is closed when the client has been shut down.
func (c *Client) Done() <-chan struct{} { return c.done }

// WritePump drains the outbound buffer onto the socket and keeps the
// connection alive with pings. It exits when the client is closed or a
// write fails; either way the socket is closed on return.
func (c *Client) WritePump(pingInterval, writeDeadline time.Duration, log *zap.SugaredLogger) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(CloseMessage, []byte{}, time.Now().Add(time.Second))
			return
		case b := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(TextMessage, b); err != nil {
				log.Warnw("write failed", "user_id", c.userID, "socket_id", c.socketID, "err", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(PingMessage, []byte("ping"), time.Now().Add(writeDeadline)); err != nil {
				log.Warnw("ping failed", "user_id", c.userID, "socket_id", c.socketID, "err", err)
				return
			}
		}
	}
}
