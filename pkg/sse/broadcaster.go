package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danghamo/techtrack/internal/api/jsonrpcx"
	"github.com/danghamo/techtrack/pkg/logger"
)

// Config configures a Broadcaster
type Config struct {
	// Buffer is the number of events queued per subscriber before drops
	Buffer    int
	Heartbeat time.Duration
}

// DefaultConfig returns the settings used when none are given
func DefaultConfig() Config {
	return Config{Buffer: 64, Heartbeat: 30 * time.Second}
}

// Client is one SSE subscriber. Only the request goroutine writes to the
// response; broadcasts go through the send queue.
type Client struct {
	ID   string
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

// Broadcaster fans JSON-RPC notifications out to SSE subscribers
type Broadcaster struct {
	logger   *logger.Logger
	config   Config
	mutex    sync.RWMutex
	clients  map[string]*Client
	shutdown chan struct{}
	once     sync.Once
}

// NewBroadcaster creates a new SSE broadcaster
func NewBroadcaster(log *logger.Logger, config Config) *Broadcaster {
	defaults := DefaultConfig()
	if config.Buffer <= 0 {
		config.Buffer = defaults.Buffer
	}
	if config.Heartbeat <= 0 {
		config.Heartbeat = defaults.Heartbeat
	}

	return &Broadcaster{
		logger:   log.WithComponent("sse-broadcaster"),
		config:   config,
		clients:  make(map[string]*Client),
		shutdown: make(chan struct{}),
	}
}

// AddClient registers a new subscriber
func (b *Broadcaster) AddClient() *Client {
	client := &Client{
		ID:   uuid.NewString(),
		send: make(chan []byte, b.config.Buffer),
		done: make(chan struct{}),
	}

	b.mutex.Lock()
	b.clients[client.ID] = client
	b.mutex.Unlock()

	b.logger.Debug("SSE client connected", zap.String("clientId", client.ID))
	return client
}

// RemoveClient removes a subscriber. Idempotent.
func (b *Broadcaster) RemoveClient(clientID string) {
	b.mutex.Lock()
	client, exists := b.clients[clientID]
	delete(b.clients, clientID)
	b.mutex.Unlock()

	if exists {
		client.close()
		b.logger.Debug("SSE client disconnected", zap.String("clientId", clientID))
	}
}

// BroadcastToAll queues a notification for every subscriber and returns
// how many accepted it. Full queues drop the event.
func (b *Broadcaster) BroadcastToAll(notification jsonrpcx.Notification) int {
	data, err := json.Marshal(notification)
	if err != nil {
		b.logger.Error("Failed to marshal JSON-RPC notification", zap.Error(err))
		return 0
	}

	b.mutex.RLock()
	defer b.mutex.RUnlock()

	delivered := 0
	for _, client := range b.clients {
		select {
		case client.send <- data:
			delivered++
		default:
			b.logger.Warn("SSE client queue full, dropping event",
				zap.String("clientId", client.ID),
				zap.String("method", notification.Method))
		}
	}
	return delivered
}

// GetClientCount returns the number of connected subscribers
func (b *Broadcaster) GetClientCount() int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.clients)
}

// Close ends every open stream. Safe to call more than once.
func (b *Broadcaster) Close() {
	b.once.Do(func() {
		b.logger.Debug("Shutting down SSE broadcaster")
		close(b.shutdown)

		b.mutex.Lock()
		defer b.mutex.Unlock()
		for clientID, client := range b.clients {
			client.close()
			delete(b.clients, clientID)
		}
	})
}

// HandleSSE streams notifications to the caller until it disconnects or
// the broadcaster closes
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		b.logger.Error("SSE: Client does not support flusher interface")
		http.Error(w, "Server-Sent Events not supported", http.StatusInternalServerError)
		return
	}

	select {
	case <-b.shutdown:
		http.Error(w, "Shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	// Streams outlive the server's write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	client := b.AddClient()
	defer b.RemoveClient(client.ID)

	if err := writeEvent(w, flusher, fmt.Sprintf(`{"type":"connected","client_id":"%s"}`, client.ID)); err != nil {
		return
	}

	heartbeat := time.NewTicker(b.config.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-client.done:
			return
		case <-b.shutdown:
			return
		case <-r.Context().Done():
			b.logger.Debug("SSE request context cancelled", zap.String("clientId", client.ID))
			return
		case data := <-client.send:
			if err := writeEvent(w, flusher, string(data)); err != nil {
				b.logger.Warn("Failed to send to client", zap.String("clientId", client.ID), zap.Error(err))
				return
			}
		case <-heartbeat.C:
			beat := fmt.Sprintf(`{"type":"heartbeat","timestamp":"%s"}`, time.Now().UTC().Format(time.RFC3339))
			if err := writeEvent(w, flusher, beat); err != nil {
				b.logger.Warn("Failed to send heartbeat", zap.String("clientId", client.ID), zap.Error(err))
				return
			}
		}
	}
}

// writeEvent writes one SSE data event in a single write
func writeEvent(w http.ResponseWriter, flusher http.Flusher, data string) error {
	payload := "data: " + data + "\n\n"
	n, err := w.Write([]byte(payload))
	if err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	if n != len(payload) {
		return fmt.Errorf("incomplete write: wrote %d/%d bytes", n, len(payload))
	}
	flusher.Flush()
	return nil
}
