package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/danghamo/techtrack/internal/api/wsproto"
	cqrsevents "github.com/danghamo/techtrack/internal/cqrs"
	"github.com/danghamo/techtrack/internal/domain/shared"
	"github.com/danghamo/techtrack/internal/domain/technician"
	"github.com/danghamo/techtrack/pkg/logger"
	"github.com/danghamo/techtrack/pkg/ws"
)

// LocationRecorder accepts samples and serves the snapshot
type LocationRecorder interface {
	RecordLocation(ctx context.Context, sample technician.LocationSample, originConnID string) (*cqrsevents.LocationUpdatedEvent, error)
	Directory(ctx context.Context) ([]*technician.Technician, error)
}

// Registry binds connections to technician identities
type Registry interface {
	Register(identity int64, client *ws.Client)
	Unregister(client *ws.Client)
	Done() <-chan struct{}
}

// SocketConfig holds per-connection limits
type SocketConfig struct {
	Pump           ws.PumpConfig
	SendBuffer     int
	RateLimit      float64 // inbound messages per second, 0 disables
	RateBurst      int
	AllowedOrigins []string
}

// LocationSocketHandler upgrades requests to WebSockets and runs the
// location protocol on each connection
type LocationSocketHandler struct {
	logger    *logger.Logger
	registry  Registry
	locations LocationRecorder
	config    SocketConfig
	upgrader  websocket.Upgrader
	active    atomic.Int64
	now       func() time.Time
}

// NewLocationSocketHandler creates a new socket handler
func NewLocationSocketHandler(logger *logger.Logger, registry Registry, locations LocationRecorder, config SocketConfig) *LocationSocketHandler {
	h := &LocationSocketHandler{
		logger:    logger.WithComponent("location-socket"),
		registry:  registry,
		locations: locations,
		config:    config,
		now:       time.Now,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(config.AllowedOrigins),
	}
	return h
}

// ActiveConnections returns the number of open sockets
func (h *LocationSocketHandler) ActiveConnections() int64 {
	return h.active.Load()
}

// ServeHTTP handles GET /ws/locations
func (h *LocationSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		h.logger.Debug("WebSocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	client := ws.NewClient(conn, h.config.SendBuffer, h.logger)
	s := &session{
		handler: h,
		client:  client,
		logger:  h.logger.WithConnection(client.ID),
		ctx:     r.Context(),
	}
	if h.config.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(h.config.RateLimit), h.config.RateBurst)
	}

	h.active.Add(1)
	s.logger.Info("Connection opened", zap.String("remote_addr", r.RemoteAddr))

	go client.WritePump(h.config.Pump)
	go func() {
		select {
		case <-h.registry.Done():
			client.Close()
		case <-client.Done():
		}
	}()

	client.ReadPump(h.config.Pump, s.handle, s.handleTooLarge)

	h.registry.Unregister(client)
	client.Close()
	h.active.Add(-1)
	s.logger.Info("Connection closed", zap.Int64("technician_id", s.identity))
}

// session is the protocol state of one connection. Only the read loop
// touches it.
type session struct {
	handler  *LocationSocketHandler
	client   *ws.Client
	logger   *logger.Logger
	limiter  *rate.Limiter
	ctx      context.Context
	identity int64 // 0 while unidentified
}

func (s *session) handle(raw []byte) {
	if s.limiter != nil && !s.limiter.Allow() {
		s.replyError("rate limit exceeded")
		return
	}

	env, err := wsproto.DecodeEnvelope(raw)
	if err != nil {
		s.replyError(err.Error())
		return
	}

	switch env.Type {
	case wsproto.TypeInitialData:
		s.handleInitialData(env)
	case wsproto.TypeLocationUpdate:
		s.handleLocationUpdate(env)
	default:
		s.replyError(fmt.Sprintf("unknown message type %q", env.Type))
	}
}

func (s *session) handleTooLarge(size int64) {
	s.logger.Warn("Dropped oversized message", zap.Int64("size", size))
	s.replyError(fmt.Sprintf("message exceeds %d bytes", s.handler.config.Pump.MaxMessageBytes))
}

func (s *session) handleInitialData(env wsproto.Envelope) {
	switch {
	case env.UserID > 0:
		s.identify(env.UserID)
	case s.identity == 0:
		s.replyError("userId is required")
		return
	}

	technicians, err := s.handler.locations.Directory(s.ctx)
	if err != nil {
		s.logger.Error("Failed to load snapshot", zap.Error(err))
		s.replyError("snapshot unavailable")
		return
	}

	payload, err := wsproto.NewInitialData(technicians)
	if err != nil {
		s.logger.Error("Failed to encode snapshot", zap.Error(err))
		s.replyError("snapshot unavailable")
		return
	}
	s.reply(payload)
}

func (s *session) handleLocationUpdate(env wsproto.Envelope) {
	payload, err := wsproto.DecodeLocationUpdate(env.Data)
	if err != nil {
		s.replyError(err.Error())
		return
	}

	identity := env.UserID
	if fromData := payload.Identity(); fromData > 0 {
		if identity > 0 && identity != fromData {
			s.replyError(fmt.Sprintf("userId mismatch: envelope %d, data %d", identity, fromData))
			return
		}
		identity = fromData
	}
	if identity <= 0 {
		identity = s.identity
	}
	if identity <= 0 {
		s.replyError("userId is required")
		return
	}
	s.identify(identity)

	if payload.Latitude == nil || payload.Longitude == nil {
		s.replyError("latitude and longitude are required")
		return
	}

	sample := technician.LocationSample{
		TechnicianID: technician.ID(identity),
		Latitude:     *payload.Latitude,
		Longitude:    *payload.Longitude,
		CapturedAt:   wsproto.ParseTimestamp(payload.Timestamp, s.handler.now()),
	}

	if _, err := s.handler.locations.RecordLocation(s.ctx, sample, s.client.ID); err != nil {
		if shared.IsInvalidLocation(err) || shared.IsInvalidIdentity(err) {
			s.replyError(err.Error())
			return
		}
		s.logger.Error("Failed to record location", zap.Int64("technician_id", identity), zap.Error(err))
	}
}

// identify (re)binds the connection. Registering on every message lets a
// connection take its identity back after being superseded.
func (s *session) identify(identity int64) {
	if s.identity != identity {
		s.logger.Info("Connection identified",
			zap.Int64("technician_id", identity),
			zap.Int64("previous", s.identity))
	}
	s.identity = identity
	s.handler.registry.Register(identity, s.client)
}

func (s *session) reply(payload []byte) {
	if err := s.client.Send(payload); err != nil {
		s.logger.Debug("Reply dropped", zap.Error(err))
	}
}

func (s *session) replyError(message string) {
	s.logger.Debug("Protocol error", zap.String("error", message))
	s.reply(wsproto.NewError(message))
}

// originChecker allows every origin when the list is empty or holds "*"
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}

	set := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.ToLower(origin)] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[strings.ToLower(origin)]
	}
}
