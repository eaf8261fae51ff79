package ws

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/danghamo/techtrack/pkg/logger"
)

type registration struct {
	identity int64
	client   *Client
}

type broadcastRequest struct {
	payload       []byte
	excludeConnID string
	delivered     chan int
}

// Stats is a point-in-time view of the hub
type Stats struct {
	Identified int     `json:"identified"`
	Identities []int64 `json:"identities"`
}

// Hub is the connection registry. A single goroutine owns the identity
// maps; every mutation and enumeration is a command sent to it.
type Hub struct {
	logger *logger.Logger

	// Owned by run()
	clients    map[int64]*Client
	identities map[*Client]int64

	register   chan registration
	unregister chan *Client
	broadcast  chan broadcastRequest
	inspect    chan func()

	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// NewHub creates a hub and starts its loop
func NewHub(log *logger.Logger) *Hub {
	h := &Hub{
		logger:     log.WithComponent("ws-hub"),
		clients:    make(map[int64]*Client),
		identities: make(map[*Client]int64),
		register:   make(chan registration),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastRequest),
		inspect:    make(chan func()),
		quit:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}

	go h.run()

	return h
}

// Register binds client to identity, replacing whatever client held it.
// A client already bound to another identity moves to the new one.
func (h *Hub) Register(identity int64, client *Client) {
	select {
	case h.register <- registration{identity: identity, client: client}:
	case <-h.quit:
		h.logger.Debug("Register after hub closed", zap.String("conn_id", client.ID))
	}
}

// Unregister removes the binding owned by client, if any
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// Broadcast enqueues payload on every registered open client except the
// one whose ID is excludeConnID. Returns the number of clients reached.
func (h *Hub) Broadcast(payload []byte, excludeConnID string) int {
	req := broadcastRequest{
		payload:       payload,
		excludeConnID: excludeConnID,
		delivered:     make(chan int, 1),
	}

	select {
	case h.broadcast <- req:
	case <-h.quit:
		return 0
	}

	select {
	case n := <-req.delivered:
		return n
	case <-h.stopped:
		return 0
	}
}

// Lookup returns the client bound to identity, or nil
func (h *Hub) Lookup(identity int64) *Client {
	var client *Client
	h.query(func() { client = h.clients[identity] })
	return client
}

// IdentityOf returns the identity client is bound to
func (h *Hub) IdentityOf(client *Client) (int64, bool) {
	var (
		identity int64
		ok       bool
	)
	h.query(func() { identity, ok = h.identities[client] })
	return identity, ok
}

// Count returns the number of registered identities
func (h *Hub) Count() int {
	var n int
	h.query(func() { n = len(h.clients) })
	return n
}

// Stats returns a snapshot of the registry
func (h *Hub) Stats() Stats {
	stats := Stats{Identities: []int64{}}
	h.query(func() {
		stats.Identified = len(h.clients)
		for identity := range h.clients {
			stats.Identities = append(stats.Identities, identity)
		}
	})
	return stats
}

// Close stops the hub and closes every registered client
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		h.logger.Debug("Shutting down hub")
		close(h.quit)
		<-h.stopped
		h.logger.Debug("Hub shutdown complete")
	})
}

// Done is closed when the hub starts shutting down
func (h *Hub) Done() <-chan struct{} {
	return h.quit
}

// query runs fn on the hub goroutine and waits for it
func (h *Hub) query(fn func()) {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}

	select {
	case h.inspect <- wrapped:
		<-done
	case <-h.quit:
	}
}

func (h *Hub) run() {
	defer close(h.stopped)

	for {
		select {
		case <-h.quit:
			h.closeAll()
			return
		case reg := <-h.register:
			h.safely("register", func() { h.bind(reg.identity, reg.client) })
		case client := <-h.unregister:
			h.safely("unregister", func() { h.unbind(client) })
		case req := <-h.broadcast:
			delivered := 0
			h.safely("broadcast", func() { delivered = h.fanOut(req.payload, req.excludeConnID) })
			req.delivered <- delivered
		case fn := <-h.inspect:
			h.safely("inspect", fn)
		}
	}
}

// safely keeps the loop alive across a panicking command
func (h *Hub) safely(op string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Recovered from panic in hub", zap.String("op", op), zap.Any("panic", r))
		}
	}()
	fn()
}

func (h *Hub) bind(identity int64, client *Client) {
	if previous, ok := h.identities[client]; ok && previous != identity {
		if h.clients[previous] == client {
			delete(h.clients, previous)
		}
		h.logger.Debug("Connection re-identified",
			zap.String("conn_id", client.ID),
			zap.Int64("from", previous),
			zap.Int64("to", identity))
	}

	if old, ok := h.clients[identity]; ok && old != client {
		delete(h.identities, old)
		h.logger.Debug("Identity taken over by new connection",
			zap.Int64("technician_id", identity),
			zap.String("old_conn_id", old.ID),
			zap.String("conn_id", client.ID))
	}

	h.clients[identity] = client
	h.identities[client] = identity
}

func (h *Hub) unbind(client *Client) {
	identity, ok := h.identities[client]
	if !ok {
		return
	}
	delete(h.identities, client)
	if h.clients[identity] == client {
		delete(h.clients, identity)
	}
	h.logger.Debug("Connection unregistered",
		zap.String("conn_id", client.ID),
		zap.Int64("technician_id", identity))
}

func (h *Hub) fanOut(payload []byte, excludeConnID string) int {
	delivered := 0
	var stale []*Client

	for identity, client := range h.clients {
		if excludeConnID != "" && client.ID == excludeConnID {
			continue
		}

		err := client.Send(payload)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrClientClosed):
			stale = append(stale, client)
		default:
			h.logger.Warn("Dropping message for slow client",
				zap.String("conn_id", client.ID),
				zap.Int64("technician_id", identity),
				zap.Error(err))
		}
	}

	for _, client := range stale {
		h.unbind(client)
	}

	return delivered
}

func (h *Hub) closeAll() {
	for client := range h.identities {
		client.Close()
	}
	h.clients = make(map[int64]*Client)
	h.identities = make(map[*Client]int64)
}
