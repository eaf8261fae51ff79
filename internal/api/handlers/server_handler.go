package handlers

import (
	"net/http"
	"time"

	"github.com/danghamo/techtrack/internal/api/jsonrpcx"
)

// ServerInfo is the static part of server.Info
type ServerInfo struct {
	Version      string `json:"version"`
	Environment  string `json:"environment"`
	SocketPath   string `json:"socket_path"`
	StreamPath   string `json:"stream_path,omitempty"`
	Store        string `json:"store"`
	EchoToSender bool   `json:"echo_to_sender"`
}

// ServerHandler handles server information requests
type ServerHandler struct {
	info      ServerInfo
	startedAt time.Time
	now       func() time.Time
}

// NewServerHandler creates a new server handler
func NewServerHandler(info ServerInfo) *ServerHandler {
	return &ServerHandler{info: info, startedAt: time.Now(), now: time.Now}
}

// ServerInfoResponse represents server information
type ServerInfoResponse struct {
	ServerInfo
	StartedAt     string `json:"started_at"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Info handles POST /api/v1/server.Info
// @Summary Server information
// @Description Build, endpoints and uptime of this broker
// @Tags server
// @Accept json
// @Produce json
// @Success 200 {object} jsonrpcx.ResponseT[ServerInfoResponse] "Server information"
// @Router /api/v1/server.Info [post]
func (h *ServerHandler) Info(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonrpcx.WithError(r, nil, jsonrpcx.MethodNotFound, "Method not allowed")
		return
	}

	req, err := jsonrpcx.ParseRequest(r)
	if err != nil {
		jsonrpcx.WithError(r, nil, jsonrpcx.ParseError, "Invalid JSON-RPC request")
		return
	}

	jsonrpcx.Success(w, req.ID, ServerInfoResponse{
		ServerInfo:    h.info,
		StartedAt:     h.startedAt.UTC().Format(time.RFC3339),
		UptimeSeconds: int64(h.now().Sub(h.startedAt).Seconds()),
	})
}
