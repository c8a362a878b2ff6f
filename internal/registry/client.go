package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Config holds per-connection transport timings.
type Config struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

// DefaultConfig returns the transport timings used when none are configured.
func DefaultConfig() Config {
	return Config{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingInterval:   54 * time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     256,
	}
}

// Client is one live connection of one user. A user may hold arbitrarily
// many concurrent clients (multi-device). Clients are ephemeral and never
// persisted.
type Client struct {
	ID     uuid.UUID
	UserID uuid.UUID
	Send   chan []byte

	conn      *websocket.Conn
	cfg       Config
	closeOnce sync.Once
}

// NewClient wraps a websocket connection. conn may be nil in tests that only
// exercise the send channel.
func NewClient(userID uuid.UUID, conn *websocket.Conn, cfg Config) *Client {
	if cfg.SendBuffer <= 0 {
		cfg = DefaultConfig()
	}
	return &Client{
		ID:     uuid.New(),
		UserID: userID,
		Send:   make(chan []byte, cfg.SendBuffer),
		conn:   conn,
		cfg:    cfg,
	}
}

// enqueue offers data to the send channel without blocking. A full buffer
// means the consumer is too slow to keep its connection.
func (c *Client) enqueue(data []byte) bool {
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// close shuts the send channel exactly once, terminating the write pump.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.Send)
	})
}

// ReadPump consumes inbound frames until the connection dies, then
// unregisters. Must run in its own goroutine, one per connection.
func (c *Client) ReadPump(reg *Registry, handler func(*Client, []byte)) {
	defer func() {
		reg.Unregister(c.ID)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		handler(c, message)
	}
}

// WritePump drains the send channel onto the socket and emits keep-alive
// pings. A failed write or ping closes the socket, which makes ReadPump
// unregister the connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
