package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/components/cqrs"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	"github.com/danghamo/techtrack/internal/api/handlers"
	"github.com/danghamo/techtrack/internal/api/jsonrpcx"
	"github.com/danghamo/techtrack/internal/api/middleware"
	"github.com/danghamo/techtrack/internal/app/service"
	cqrsevents "github.com/danghamo/techtrack/internal/cqrs"
	cqrshandlers "github.com/danghamo/techtrack/internal/cqrs/handlers"
	"github.com/danghamo/techtrack/internal/domain/technician"
	"github.com/danghamo/techtrack/pkg/autorouter"
	"github.com/danghamo/techtrack/pkg/config"
	"github.com/danghamo/techtrack/pkg/logger"
	"github.com/danghamo/techtrack/pkg/sse"
	"github.com/danghamo/techtrack/pkg/ws"
)

// Version is reported by server.Info and the startup log
const Version = "0.1.0"

const apiPrefix = "/api/v1/"

// HealthChecker reports whether the position store is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	httpServer      *http.Server
	logger          *logger.Logger
	config          *config.Config
	mux             *http.ServeMux
	health          HealthChecker
	hub             *ws.Hub
	sseBroadcaster  *sse.Broadcaster // nil when the stream is disabled
	pipeline        *cqrsevents.Pipeline
	socketHandler   *handlers.LocationSocketHandler
	technicianHdlr  *handlers.TechnicianHandler
	brokerHandler   *handlers.BrokerHandler
	serverHandler   *handlers.ServerHandler
	pipelineErr     chan error
	pipelineStarted bool
	shutdownOnce    sync.Once
	shutdownErr     error
}

// NewServer wires the hub, event pipeline and handlers. A nil health
// checker means an in-memory store.
func NewServer(cfg *config.Config, log *logger.Logger, repo technician.Repository, health HealthChecker) (*Server, error) {
	apiLogger := log.WithComponent("api")

	pipeline, err := cqrsevents.NewPipeline(cqrsevents.PipelineConfig{
		OutputBuffer: cfg.Events.OutputBuffer,
		CloseTimeout: cfg.Events.CloseTimeout,
		TraceLogging: cfg.Events.TraceLogging,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create event pipeline: %w", err)
	}

	hub := ws.NewHub(log)
	locations := service.NewLocationService(log, repo, pipeline)

	broadcastHandler := cqrshandlers.NewBroadcastHandler(hub, cfg.Broker.EchoToSender, log)
	eventHandlers := []cqrs.EventHandler{
		cqrs.NewEventHandler("BroadcastLocationUpdate", broadcastHandler.HandleLocationUpdatedEvent),
	}

	var sseBroadcaster *sse.Broadcaster
	if cfg.Stream.Enabled {
		sseBroadcaster = sse.NewBroadcaster(log, sse.Config{
			Buffer:    cfg.Stream.Buffer,
			Heartbeat: cfg.Stream.Heartbeat,
		})
		sseEventHandler := cqrshandlers.NewSSEEventHandler(sseBroadcaster, log)
		eventHandlers = append(eventHandlers,
			cqrs.NewEventHandler("StreamLocationUpdate", sseEventHandler.HandleLocationUpdatedEvent))
	}

	if err := pipeline.AddHandlers(eventHandlers...); err != nil {
		hub.Close()
		return nil, fmt.Errorf("failed to register event handlers: %w", err)
	}

	socketHandler := handlers.NewLocationSocketHandler(log, hub, locations, handlers.SocketConfig{
		Pump: ws.PumpConfig{
			WriteTimeout:    cfg.Broker.WriteTimeout,
			PongTimeout:     cfg.Broker.PongTimeout,
			PingInterval:    cfg.Broker.PingInterval,
			MaxMessageBytes: cfg.Broker.MaxMessageBytes,
		},
		SendBuffer:     cfg.Broker.SendBuffer,
		RateLimit:      cfg.Broker.RateLimit,
		RateBurst:      cfg.Broker.RateBurst,
		AllowedOrigins: cfg.Broker.AllowedOrigins,
	})

	mux := http.NewServeMux()
	server := &Server{
		httpServer: &http.Server{
			Addr:         cfg.Server.GetServerAddr(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
		logger:         apiLogger,
		config:         cfg,
		mux:            mux,
		health:         health,
		hub:            hub,
		sseBroadcaster: sseBroadcaster,
		pipeline:       pipeline,
		socketHandler:  socketHandler,
		technicianHdlr: handlers.NewTechnicianHandler(log, locations),
		brokerHandler:  handlers.NewBrokerHandler(hub, socketHandler),
		serverHandler: handlers.NewServerHandler(handlers.ServerInfo{
			Version:      Version,
			Environment:  cfg.Server.Environment,
			SocketPath:   cfg.Broker.Path,
			StreamPath:   streamPath(cfg),
			Store:        cfg.Store.Driver,
			EchoToSender: cfg.Broker.EchoToSender,
		}),
		pipelineErr: make(chan error, 1),
	}

	if err := server.setupRoutes(); err != nil {
		hub.Close()
		return nil, err
	}
	server.setupMiddleware()

	return server, nil
}

// setupRoutes configures the server routes
func (s *Server) setupRoutes() error {
	// Health check endpoint (pure REST)
	s.mux.HandleFunc(s.config.Server.HealthCheckPath, s.healthCheckHandler)

	// Swagger documentation endpoint
	s.mux.HandleFunc("/swagger/", httpSwagger.WrapHandler)

	// Location socket
	s.mux.Handle(s.config.Broker.Path, s.socketHandler)

	// Read-only location stream for dashboards
	if s.sseBroadcaster != nil {
		s.mux.HandleFunc(s.config.Stream.Path, s.sseBroadcaster.HandleSSE)
	}

	// JSON-RPC endpoints
	rpcLimit := autorouter.Middleware(middleware.RateLimit(s.logger, 20, 40))

	technicianRouter := autorouter.NewAutoRouter(s.mux, autorouter.RegistrationOptions{
		Prefix:       apiPrefix,
		MethodPrefix: "technician.",
	}, s.logger)
	if err := technicianRouter.RegisterHandlersWith(s.technicianHdlr, rpcLimit); err != nil {
		return fmt.Errorf("failed to register technician handlers: %w", err)
	}
	technicianRouter.LogRegisteredHandlers(s.technicianHdlr)

	brokerRouter := autorouter.NewAutoRouter(s.mux, autorouter.RegistrationOptions{
		Prefix:       apiPrefix,
		MethodPrefix: "broker.",
	}, s.logger)
	if err := brokerRouter.RegisterHandlersWith(s.brokerHandler, rpcLimit); err != nil {
		return fmt.Errorf("failed to register broker handlers: %w", err)
	}
	brokerRouter.LogRegisteredHandlers(s.brokerHandler)

	if err := autorouter.QuickRegister(s.mux, apiPrefix, "server.", s.serverHandler, s.logger); err != nil {
		return fmt.Errorf("failed to register server handlers: %w", err)
	}

	s.mux.HandleFunc(apiPrefix+"ping", s.handlePing)
	return nil
}

// setupMiddleware applies middleware to all routes
func (s *Server) setupMiddleware() {
	middlewareChain := middleware.Chain(
		middleware.Recovery(s.logger),
		middleware.ErrorAdapter(s.logger),
		middleware.CORS(middleware.CORSOptions{
			AllowedOrigins: s.config.CORS.AllowedOrigins,
			AllowedMethods: s.config.CORS.AllowedMethods,
			AllowedHeaders: s.config.CORS.AllowedHeaders,
		}),
		middleware.Logging(s.logger),
	)

	s.httpServer.Handler = middlewareChain(s.mux)
}

// Handler returns the root handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// startPipeline runs the event router and waits until handlers are
// subscribed, so no update is published into the void.
func (s *Server) startPipeline(ctx context.Context) error {
	go func() {
		if err := s.pipeline.Run(ctx); err != nil {
			s.logger.Error("Event pipeline error", zap.Error(err))
			s.pipelineErr <- err
		}
	}()

	select {
	case <-s.pipeline.Running():
		s.pipelineStarted = true
		return nil
	case err := <-s.pipelineErr:
		return fmt.Errorf("event pipeline failed to start: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start starts the pipeline and the HTTP server, and blocks until ctx is
// cancelled or the listener fails
func (s *Server) Start(ctx context.Context) error {
	if err := s.startPipeline(ctx); err != nil {
		return err
	}

	s.logger.Info("Starting HTTP server",
		zap.String("address", s.httpServer.Addr),
		zap.String("socket_path", s.config.Broker.Path))

	serveErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		s.logger.Error("HTTP server error", zap.Error(err))
		_ = s.Shutdown()
		return err
	}

	return s.Shutdown()
}

// Shutdown closes every socket, drains HTTP and stops the pipeline, in
// that order. Safe to call more than once.
func (s *Server) Shutdown() error {
	s.shutdownOnce.Do(func() {
		s.logger.Info("Shutting down HTTP server")

		// Hijacked connections are not tracked by http.Server, and
		// streams never finish on their own
		s.hub.Close()
		if s.sseBroadcaster != nil {
			s.sseBroadcaster.Close()
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("Server shutdown error", zap.Error(err))
			s.shutdownErr = err
		}

		if s.pipelineStarted {
			if err := s.pipeline.Close(); err != nil && s.shutdownErr == nil {
				s.shutdownErr = err
			}
		}

		s.logger.Info("HTTP server stopped")
	})
	return s.shutdownErr
}

// GetAddr returns the server address
func (s *Server) GetAddr() string {
	return s.httpServer.Addr
}

type healthCheck struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type healthResponse struct {
	Status      string                 `json:"status"`
	Checks      map[string]healthCheck `json:"checks"`
	Connections int64                  `json:"connections"`
	Time        string                 `json:"time"`
}

// healthCheckHandler handles health check requests
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:      "healthy",
		Checks:      make(map[string]healthCheck),
		Connections: s.socketHandler.ActiveConnections(),
		Time:        time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	if s.health == nil {
		resp.Checks["store"] = healthCheck{Status: "memory"}
	} else if err := s.health.HealthCheck(r.Context()); err != nil {
		s.logger.Error("Redis health check failed", zap.Error(err))
		resp.Status = "unhealthy"
		resp.Checks["redis"] = healthCheck{Status: "down", Error: err.Error()}
		status = http.StatusServiceUnavailable
	} else {
		resp.Checks["redis"] = healthCheck{Status: "up"}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// handlePing handles ping requests (hybrid JSON-RPC)
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonrpcx.WithError(r, nil, jsonrpcx.MethodNotFound, "Method not allowed")
		return
	}

	req, err := jsonrpcx.ParseRequest(r)
	if err != nil {
		jsonrpcx.WithError(r, nil, jsonrpcx.ParseError, "Invalid JSON-RPC request")
		return
	}

	jsonrpcx.Success(w, req.ID, map[string]string{"message": "pong"})
}

func streamPath(cfg *config.Config) string {
	if !cfg.Stream.Enabled {
		return ""
	}
	return cfg.Stream.Path
}
