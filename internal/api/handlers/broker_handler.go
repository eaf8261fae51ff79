package handlers

import (
	"net/http"
	"sort"

	"github.com/danghamo/techtrack/internal/api/jsonrpcx"
	"github.com/danghamo/techtrack/pkg/ws"
)

// HubStats reports registry state
type HubStats interface {
	Stats() ws.Stats
}

// ConnectionCounter reports open sockets, identified or not
type ConnectionCounter interface {
	ActiveConnections() int64
}

// BrokerHandler exposes broker state over JSON-RPC 2.0
type BrokerHandler struct {
	hub         HubStats
	connections ConnectionCounter
}

// NewBrokerHandler creates a new broker handler
func NewBrokerHandler(hub HubStats, connections ConnectionCounter) *BrokerHandler {
	return &BrokerHandler{hub: hub, connections: connections}
}

// BrokerStatsResponse represents broker state
type BrokerStatsResponse struct {
	Connections int64   `json:"connections"`
	Identified  int     `json:"identified"`
	Identities  []int64 `json:"identities"`
}

// Stats handles POST /api/v1/broker.Stats
// @Summary Broker statistics
// @Description Open socket count and identities currently registered
// @Tags broker
// @Accept json
// @Produce json
// @Success 200 {object} jsonrpcx.ResponseT[BrokerStatsResponse] "Broker statistics"
// @Router /api/v1/broker.Stats [post]
func (h *BrokerHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonrpcx.WithError(r, nil, jsonrpcx.MethodNotFound, "Method not allowed")
		return
	}

	req, err := jsonrpcx.ParseRequest(r)
	if err != nil {
		jsonrpcx.WithError(r, nil, jsonrpcx.ParseError, "Invalid JSON-RPC request")
		return
	}

	stats := h.hub.Stats()
	sort.Slice(stats.Identities, func(i, j int) bool { return stats.Identities[i] < stats.Identities[j] })

	jsonrpcx.Success(w, req.ID, BrokerStatsResponse{
		Connections: h.connections.ActiveConnections(),
		Identified:  stats.Identified,
		Identities:  stats.Identities,
	})
}
