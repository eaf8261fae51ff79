package cqrs

import (
	"context"
	"time"
)

// LocationUpdatedEvent is published once a technician's position has been
// accepted and handed to the position store
type LocationUpdatedEvent struct {
	TechnicianID       int64     `json:"technician_id"`
	Latitude           float64   `json:"latitude"`
	Longitude          float64   `json:"longitude"`
	Timestamp          time.Time `json:"timestamp"`
	OriginConnectionID string    `json:"origin_connection_id,omitempty"`
	RequestID          string    `json:"request_id"`
}

// EventPublisher interface for publishing events
type EventPublisher interface {
	Publish(ctx context.Context, event interface{}) error
}
