package technician

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/danghamo/techtrack/internal/domain/shared"
)

// ID identifies one technician. Valid IDs are positive.
type ID int64

// Valid reports whether id can identify a technician
func (id ID) Valid() bool {
	return id > 0
}

// String returns string representation
func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseID converts a wire identity into an ID
func ParseID(raw int64) (ID, error) {
	id := ID(raw)
	if !id.Valid() {
		return 0, shared.NewDomainErrorf(shared.ErrCodeInvalidIdentity, "technician id must be a positive integer, got %d", raw)
	}
	return id, nil
}

// Location is a WGS84 coordinate pair
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// LocationSample is one position report from a technician's device
type LocationSample struct {
	TechnicianID ID        `json:"technician_id" validate:"gt=0"`
	Latitude     float64   `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude    float64   `json:"longitude" validate:"gte=-180,lte=180"`
	CapturedAt   time.Time `json:"captured_at"`
}

var sampleValidator = validator.New()

// Validate rejects samples whose identity is missing or whose coordinates
// are not finite numbers within WGS84 bounds. NaN and infinities fail the
// range comparisons.
func (s LocationSample) Validate() error {
	err := sampleValidator.Struct(s)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return shared.WrapDomainError(err, shared.ErrCodeInvalidLocation, "invalid location sample")
	}

	switch field := verrs[0]; field.StructField() {
	case "TechnicianID":
		return shared.NewDomainErrorf(shared.ErrCodeInvalidIdentity, "technician id must be a positive integer, got %d", s.TechnicianID)
	case "Latitude":
		return shared.NewDomainErrorf(shared.ErrCodeInvalidLocation, "latitude must be a number between -90 and 90, got %v", s.Latitude)
	case "Longitude":
		return shared.NewDomainErrorf(shared.ErrCodeInvalidLocation, "longitude must be a number between -180 and 180, got %v", s.Longitude)
	default:
		return shared.NewDomainErrorf(shared.ErrCodeInvalidLocation, "invalid location sample field %s", field.Field())
	}
}

// Location returns the coordinate pair of the sample
func (s LocationSample) Location() Location {
	return Location{Latitude: s.Latitude, Longitude: s.Longitude}
}

// Technician is the directory record of a field technician and their last
// known position
type Technician struct {
	ID         ID         `json:"id"`
	TechID     string     `json:"tech_id"`
	Username   string     `json:"username"`
	FirstName  string     `json:"first_name"`
	LastName   string     `json:"last_name"`
	Location   *Location  `json:"location,omitempty"`
	LastActive *time.Time `json:"last_active,omitempty"`
}

// NewTechnician creates a directory record without a known position
func NewTechnician(id ID, techID, username, firstName, lastName string) (*Technician, error) {
	if !id.Valid() {
		return nil, shared.NewDomainErrorf(shared.ErrCodeInvalidIdentity, "technician id must be a positive integer, got %d", id)
	}
	return &Technician{
		ID:        id,
		TechID:    techID,
		Username:  username,
		FirstName: firstName,
		LastName:  lastName,
	}, nil
}

// MoveTo records a new last-known position
func (t *Technician) MoveTo(lat, lon float64, at time.Time) {
	t.Location = &Location{Latitude: lat, Longitude: lon}
	at = at.UTC()
	t.LastActive = &at
}

// DisplayName returns "First Last", falling back to the username
func (t *Technician) DisplayName() string {
	switch {
	case t.FirstName != "" && t.LastName != "":
		return fmt.Sprintf("%s %s", t.FirstName, t.LastName)
	case t.FirstName != "":
		return t.FirstName
	default:
		return t.Username
	}
}

// Clone returns a deep copy so stored records are never aliased
func (t *Technician) Clone() *Technician {
	if t == nil {
		return nil
	}
	c := *t
	if t.Location != nil {
		loc := *t.Location
		c.Location = &loc
	}
	if t.LastActive != nil {
		at := *t.LastActive
		c.LastActive = &at
	}
	return &c
}
