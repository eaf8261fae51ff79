package handlers

import (
	"context"

	"go.uber.org/zap"

	"github.com/danghamo/techtrack/internal/api/jsonrpcx"
	"github.com/danghamo/techtrack/internal/api/wsproto"
	cqrsevents "github.com/danghamo/techtrack/internal/cqrs"
	"github.com/danghamo/techtrack/pkg/logger"
)

// MethodLocationUpdated is the notification method on the location stream
const MethodLocationUpdated = "technician.location.updated"

// SSEBroadcaster pushes notifications to stream subscribers
type SSEBroadcaster interface {
	BroadcastToAll(notification jsonrpcx.Notification) int
}

// SSEEventHandler mirrors location events onto the read-only SSE stream
type SSEEventHandler struct {
	sseBroadcaster SSEBroadcaster
	logger         *logger.Logger
}

// NewSSEEventHandler creates a new SSE event handler
func NewSSEEventHandler(sseBroadcaster SSEBroadcaster, logger *logger.Logger) *SSEEventHandler {
	return &SSEEventHandler{
		sseBroadcaster: sseBroadcaster,
		logger:         logger.WithComponent("sse-event-handler"),
	}
}

// HandleLocationUpdatedEvent sends the update to every stream subscriber.
// Always acks.
func (h *SSEEventHandler) HandleLocationUpdatedEvent(ctx context.Context, event *cqrsevents.LocationUpdatedEvent) error {
	notification := jsonrpcx.NewNotification(MethodLocationUpdated, wsproto.LocationUpdateData{
		UserID:       event.TechnicianID,
		TechnicianID: event.TechnicianID,
		Latitude:     event.Latitude,
		Longitude:    event.Longitude,
		Timestamp:    wsproto.FormatTimestamp(event.Timestamp),
	})

	delivered := h.sseBroadcaster.BroadcastToAll(notification)

	h.logger.Debug("Location update streamed",
		zap.Int64("technician_id", event.TechnicianID),
		zap.String("request_id", event.RequestID),
		zap.Int("subscribers", delivered))

	return nil
}
