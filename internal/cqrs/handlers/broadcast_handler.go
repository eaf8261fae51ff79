package handlers

import (
	"context"

	"go.uber.org/zap"

	"github.com/danghamo/techtrack/internal/api/wsproto"
	cqrsevents "github.com/danghamo/techtrack/internal/cqrs"
	"github.com/danghamo/techtrack/pkg/logger"
)

// Broadcaster fans a frame out to connected clients
type Broadcaster interface {
	Broadcast(payload []byte, excludeConnID string) int
}

// BroadcastHandler turns location events into location-update frames
type BroadcastHandler struct {
	broadcaster  Broadcaster
	echoToSender bool
	logger       *logger.Logger
}

// NewBroadcastHandler creates a new broadcast handler. With echoToSender
// false the originating connection is skipped.
func NewBroadcastHandler(broadcaster Broadcaster, echoToSender bool, logger *logger.Logger) *BroadcastHandler {
	return &BroadcastHandler{
		broadcaster:  broadcaster,
		echoToSender: echoToSender,
		logger:       logger.WithComponent("broadcast-handler"),
	}
}

// HandleLocationUpdatedEvent broadcasts an accepted position. It never
// returns an error: a nacked event would be redelivered forever.
func (h *BroadcastHandler) HandleLocationUpdatedEvent(ctx context.Context, event *cqrsevents.LocationUpdatedEvent) error {
	payload, err := wsproto.NewLocationUpdate(event.TechnicianID, event.Latitude, event.Longitude, event.Timestamp)
	if err != nil {
		h.logger.Error("Failed to encode location update",
			zap.Int64("technician_id", event.TechnicianID),
			zap.String("request_id", event.RequestID),
			zap.Error(err))
		return nil
	}

	exclude := ""
	if !h.echoToSender {
		exclude = event.OriginConnectionID
	}

	delivered := h.broadcaster.Broadcast(payload, exclude)

	h.logger.Debug("Location update broadcast",
		zap.Int64("technician_id", event.TechnicianID),
		zap.String("request_id", event.RequestID),
		zap.Int("delivered", delivered))

	return nil
}
