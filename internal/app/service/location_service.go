package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	cqrsevents "github.com/danghamo/techtrack/internal/cqrs"
	"github.com/danghamo/techtrack/internal/domain/shared"
	"github.com/danghamo/techtrack/internal/domain/technician"
	"github.com/danghamo/techtrack/pkg/logger"
)

// LocationService accepts position samples, persists them and publishes
// LocationUpdatedEvent for fan-out
type LocationService struct {
	logger     *logger.Logger
	repository technician.Repository
	publisher  cqrsevents.EventPublisher
	now        func() time.Time
}

// NewLocationService creates a new location service
func NewLocationService(
	logger *logger.Logger,
	repository technician.Repository,
	publisher cqrsevents.EventPublisher,
) *LocationService {
	return &LocationService{
		logger:     logger.WithComponent("location-service"),
		repository: repository,
		publisher:  publisher,
		now:        time.Now,
	}
}

// RecordLocation validates sample, stores it and publishes the update.
// Invalid samples return a domain error and touch nothing. A store failure
// is logged and the update is still published.
//
// The published timestamp is the stored LastActive, so broadcasts and later
// snapshots agree. The client's CapturedAt is only logged. When the store
// fails the service clock is used.
func (s *LocationService) RecordLocation(ctx context.Context, sample technician.LocationSample, originConnID string) (*cqrsevents.LocationUpdatedEvent, error) {
	if err := sample.Validate(); err != nil {
		return nil, err
	}

	log := s.logger.WithTechnician(int64(sample.TechnicianID))

	recordedAt := s.now()
	stored, err := s.repository.UpdateLocation(ctx, sample.TechnicianID, sample.Latitude, sample.Longitude)
	switch {
	case err != nil:
		log.Error("Failed to persist location, broadcasting anyway",
			zap.Float64("latitude", sample.Latitude),
			zap.Float64("longitude", sample.Longitude),
			zap.Error(err))
	case stored != nil && stored.LastActive != nil:
		recordedAt = *stored.LastActive
	}

	event := &cqrsevents.LocationUpdatedEvent{
		TechnicianID:       int64(sample.TechnicianID),
		Latitude:           sample.Latitude,
		Longitude:          sample.Longitude,
		Timestamp:          recordedAt.UTC(),
		OriginConnectionID: originConnID,
		RequestID:          uuid.New().String(),
	}

	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Error("Failed to publish location update",
			zap.String("request_id", event.RequestID),
			zap.Error(err))
		return event, fmt.Errorf("failed to publish location update: %w", err)
	}

	log.Debug("Location recorded",
		zap.String("request_id", event.RequestID),
		zap.Time("captured_at", sample.CapturedAt),
		zap.Time("recorded_at", event.Timestamp))

	return event, nil
}

// Directory returns every known technician ordered by ID
func (s *LocationService) Directory(ctx context.Context) ([]*technician.Technician, error) {
	technicians, err := s.repository.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list technicians: %w", err)
	}
	return technicians, nil
}

// Technician returns one directory record
func (s *LocationService) Technician(ctx context.Context, id technician.ID) (*technician.Technician, error) {
	if !id.Valid() {
		return nil, shared.NewDomainErrorf(shared.ErrCodeInvalidIdentity, "technician id must be a positive integer, got %d", id)
	}

	t, err := s.repository.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get technician: %w", err)
	}
	if t == nil {
		return nil, shared.ErrNotFound(fmt.Sprintf("technician %s", id))
	}
	return t, nil
}
