package ws

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/danghamo/techtrack/pkg/logger"
)

var (
	// ErrClientClosed is returned when sending to a closed client
	ErrClientClosed = errors.New("client closed")
	// ErrSendBufferFull is returned when the client's outbound buffer is full
	ErrSendBufferFull = errors.New("client send buffer full")
)

// frameCeilingFactor scales MaxMessageBytes into the transport read limit.
// Frames up to the ceiling are drained and reported, larger ones close the
// connection with 1009.
const frameCeilingFactor = 16

// PumpConfig holds the timing and size limits of a connection
type PumpConfig struct {
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64
}

// DefaultPumpConfig returns the limits used when none are configured
func DefaultPumpConfig() PumpConfig {
	return PumpConfig{
		WriteTimeout:    10 * time.Second,
		PongTimeout:     60 * time.Second,
		PingInterval:    54 * time.Second,
		MaxMessageBytes: 4096,
	}
}

// Client is one live WebSocket connection. All writes go through the
// buffered send channel, which is drained by WritePump.
type Client struct {
	ID string

	conn      *websocket.Conn
	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	logger    *logger.Logger
}

// NewClient wraps conn. conn may be nil for clients that never touch the
// network (tests).
func NewClient(conn *websocket.Conn, sendBuffer int, log *logger.Logger) *Client {
	if sendBuffer <= 0 {
		sendBuffer = 1
	}
	id := uuid.NewString()
	return &Client{
		ID:     id,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
		logger: log.WithConnection(id),
	}
}

// Send enqueues data without blocking
func (c *Client) Send(data []byte) error {
	select {
	case <-c.closed:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Open reports whether the client has not been closed
func (c *Client) Open() bool {
	select {
	case <-c.closed:
		return false
	default:
		return true
	}
}

// Done is closed once the client is closed
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

// Close sends a close frame and closes the transport. Safe to call more
// than once and from any goroutine.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.conn == nil {
			return
		}
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = c.conn.Close()
	})
}

// WritePump drains the send buffer onto the socket and keeps the
// connection alive with pings. Returns when the client is closed or a
// write fails.
func (c *Client) WritePump(cfg PumpConfig) {
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.closed:
			return
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("Write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("Ping failed", zap.Error(err))
				return
			}
		}
	}
}

// ReadPump reads text frames and hands each to handle in receipt order.
// A frame over MaxMessageBytes is discarded and reported to tooLarge with
// its size, and reading continues. Returns when the peer goes away, the
// read deadline passes or the client is closed.
func (c *Client) ReadPump(cfg PumpConfig, handle func(message []byte), tooLarge func(size int64)) {
	defer c.Close()

	limit := cfg.MaxMessageBytes
	if limit > 0 {
		c.conn.SetReadLimit(limit * frameCeilingFactor)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})

	for {
		_, r, err := c.conn.NextReader()
		if err != nil {
			c.logReadError(err)
			return
		}

		if limit <= 0 {
			message, err := io.ReadAll(r)
			if err != nil {
				c.logReadError(err)
				return
			}
			handle(message)
			continue
		}

		message, err := io.ReadAll(io.LimitReader(r, limit+1))
		if err != nil {
			c.logReadError(err)
			return
		}
		if int64(len(message)) <= limit {
			handle(message)
			continue
		}

		rest, err := io.Copy(io.Discard, r)
		if err != nil {
			c.logReadError(err)
			return
		}
		if tooLarge != nil {
			tooLarge(int64(len(message)) + rest)
		}
	}
}

func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("Inbound frame over transport limit, closing", zap.Error(err))
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived):
		c.logger.Warn("Unexpected connection close", zap.Error(err))
	}
}
