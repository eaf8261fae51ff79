package technician

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps technicians in process memory. Used when no Redis
// is configured and by tests.
type MemoryRepository struct {
	mu          sync.RWMutex
	technicians map[ID]*Technician
	now         func() time.Time
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		technicians: make(map[ID]*Technician),
		now:         time.Now,
	}
}

// UpdateLocation implements Repository
func (r *MemoryRepository) UpdateLocation(ctx context.Context, id ID, latitude, longitude float64) (*Technician, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.technicians[id]
	if !ok {
		t = &Technician{ID: id}
		r.technicians[id] = t
	}
	t.MoveTo(latitude, longitude, r.now())

	return t.Clone(), nil
}

// ListAll implements Repository
func (r *MemoryRepository) ListAll(ctx context.Context) ([]*Technician, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Technician, 0, len(r.technicians))
	for _, t := range r.technicians {
		result = append(result, t.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	return result, nil
}

// GetByID implements Repository
func (r *MemoryRepository) GetByID(ctx context.Context, id ID) (*Technician, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.technicians[id].Clone(), nil
}

// Save implements Repository
func (r *MemoryRepository) Save(ctx context.Context, t *Technician) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t == nil || !t.ID.Valid() {
		return fmt.Errorf("cannot save technician without a valid id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.technicians[t.ID] = mergeProfile(r.technicians[t.ID], t)
	return nil
}

// mergeProfile applies the directory fields of incoming over current,
// keeping the current position when incoming carries none
func mergeProfile(current, incoming *Technician) *Technician {
	merged := incoming.Clone()
	if current != nil && merged.Location == nil {
		merged.Location = current.Clone().Location
		merged.LastActive = current.Clone().LastActive
	}
	return merged
}
