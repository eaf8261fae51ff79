package technician

import "context"

// Repository is the position store: the durable source of each
// technician's last-known location
type Repository interface {
	// UpdateLocation stores a new last-known position for id and stamps
	// LastActive with the store's clock. Unknown technicians are created.
	UpdateLocation(ctx context.Context, id ID, latitude, longitude float64) (*Technician, error)

	// ListAll returns every known technician ordered by ID (read-only)
	ListAll(ctx context.Context) ([]*Technician, error)

	// GetByID retrieves a technician, or nil when unknown (read-only)
	GetByID(ctx context.Context, id ID) (*Technician, error)

	// Save upserts a directory record, keeping the stored position when t has none
	Save(ctx context.Context, t *Technician) error
}
