// Package wsproto defines the JSON messages exchanged over the location
// socket.
package wsproto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/danghamo/techtrack/internal/domain/technician"
)

// Message types
const (
	TypeInitialData    = "initial-data"
	TypeLocationUpdate = "location-update"
	TypeError          = "error"
)

// Envelope is the outer shape of every inbound message
type Envelope struct {
	Type   string          `json:"type"`
	UserID int64           `json:"userId,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// LocationUpdatePayload is the data of an inbound location-update
type LocationUpdatePayload struct {
	UserID       int64    `json:"userId"`
	TechnicianID int64    `json:"technicianId"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	Timestamp    string   `json:"timestamp"`
}

// Identity returns the first positive identity carried by the payload
func (p LocationUpdatePayload) Identity() int64 {
	if p.UserID > 0 {
		return p.UserID
	}
	return p.TechnicianID
}

// LocationUpdateData is the data of an outbound location-update
type LocationUpdateData struct {
	UserID       int64   `json:"userId"`
	TechnicianID int64   `json:"technicianId"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Timestamp    string  `json:"timestamp"`
}

// LocationUpdateMessage is broadcast after a position is accepted
type LocationUpdateMessage struct {
	Type   string             `json:"type"`
	UserID int64              `json:"userId"`
	Data   LocationUpdateData `json:"data"`
}

// SummaryLocation is a coordinate pair inside a snapshot entry
type SummaryLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// TechnicianSummary is one snapshot entry of an initial-data reply
type TechnicianSummary struct {
	UserID     int64            `json:"userId"`
	TechID     string           `json:"techId"`
	Username   string           `json:"username"`
	FirstName  string           `json:"firstName"`
	LastName   string           `json:"lastName"`
	Location   *SummaryLocation `json:"location"`
	LastActive *string          `json:"lastActive"`
}

// InitialDataMessage answers an initial-data request
type InitialDataMessage struct {
	Type string              `json:"type"`
	Data []TechnicianSummary `json:"data"`
}

// ErrorMessage reports a protocol error to one connection
type ErrorMessage struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// DecodeEnvelope parses an inbound frame
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("malformed message: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("malformed message: missing type")
	}
	return env, nil
}

// DecodeLocationUpdate parses the data of a location-update. Missing data
// decodes to an empty payload.
func DecodeLocationUpdate(data json.RawMessage) (LocationUpdatePayload, error) {
	var payload LocationUpdatePayload
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return payload, nil
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return LocationUpdatePayload{}, fmt.Errorf("malformed location payload: %w", err)
	}
	return payload, nil
}

// ParseTimestamp returns the client timestamp when it is valid RFC 3339,
// otherwise now. The result is always UTC.
func ParseTimestamp(raw string, now time.Time) time.Time {
	if raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return ts.UTC()
		}
	}
	return now.UTC()
}

// FormatTimestamp renders a timestamp the way it goes out on the wire
func FormatTimestamp(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

// NewLocationUpdate builds an outbound location-update frame
func NewLocationUpdate(technicianID int64, latitude, longitude float64, ts time.Time) ([]byte, error) {
	return json.Marshal(LocationUpdateMessage{
		Type:   TypeLocationUpdate,
		UserID: technicianID,
		Data: LocationUpdateData{
			UserID:       technicianID,
			TechnicianID: technicianID,
			Latitude:     latitude,
			Longitude:    longitude,
			Timestamp:    FormatTimestamp(ts),
		},
	})
}

// NewInitialData builds a snapshot frame from the directory
func NewInitialData(technicians []*technician.Technician) ([]byte, error) {
	summaries := make([]TechnicianSummary, 0, len(technicians))
	for _, t := range technicians {
		summaries = append(summaries, Summarize(t))
	}
	return json.Marshal(InitialDataMessage{Type: TypeInitialData, Data: summaries})
}

// Summarize converts a directory record into a snapshot entry
func Summarize(t *technician.Technician) TechnicianSummary {
	summary := TechnicianSummary{
		UserID:    int64(t.ID),
		TechID:    t.TechID,
		Username:  t.Username,
		FirstName: t.FirstName,
		LastName:  t.LastName,
	}
	if t.Location != nil {
		summary.Location = &SummaryLocation{Latitude: t.Location.Latitude, Longitude: t.Location.Longitude}
	}
	if t.LastActive != nil {
		at := FormatTimestamp(*t.LastActive)
		summary.LastActive = &at
	}
	return summary
}

// NewError builds an outbound error frame
func NewError(message string) []byte {
	data, err := json.Marshal(ErrorMessage{Type: TypeError, Data: message})
	if err != nil {
		return []byte(`{"type":"error","data":"internal error"}`)
	}
	return data
}
