package service

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	cqrsevents "github.com/danghamo/techtrack/internal/cqrs"
	"github.com/danghamo/techtrack/internal/domain/shared"
	"github.com/danghamo/techtrack/internal/domain/technician"
	"github.com/danghamo/techtrack/pkg/logger"
)

// MockRepository is a mock implementation of technician.Repository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) UpdateLocation(ctx context.Context, id technician.ID, latitude, longitude float64) (*technician.Technician, error) {
	args := m.Called(ctx, id, latitude, longitude)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*technician.Technician), args.Error(1)
}

func (m *MockRepository) ListAll(ctx context.Context) ([]*technician.Technician, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*technician.Technician), args.Error(1)
}

func (m *MockRepository) GetByID(ctx context.Context, id technician.ID) (*technician.Technician, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*technician.Technician), args.Error(1)
}

func (m *MockRepository) Save(ctx context.Context, t *technician.Technician) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

// MockPublisher is a mock implementation of cqrs.EventPublisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, event interface{}) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func newTestService(repo *MockRepository, publisher *MockPublisher) *LocationService {
	svc := NewLocationService(logger.NewNop(), repo, publisher)
	svc.now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	return svc
}

func TestLocationService_RecordLocation(t *testing.T) {
	ctx := context.Background()

	t.Run("should persist once and publish the stored time", func(t *testing.T) {
		repo := new(MockRepository)
		publisher := new(MockPublisher)
		svc := newTestService(repo, publisher)

		captured := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
		stored := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		repo.On("UpdateLocation", ctx, technician.ID(1), 43.65, -79.38).
			Return(&technician.Technician{ID: 1, LastActive: &stored}, nil).Once()
		publisher.On("Publish", ctx, mock.MatchedBy(func(e *cqrsevents.LocationUpdatedEvent) bool {
			return e.TechnicianID == 1 && e.Latitude == 43.65 && e.Longitude == -79.38 &&
				e.Timestamp.Equal(stored) && e.OriginConnectionID == "conn-a" && e.RequestID != ""
		})).Return(nil).Once()

		event, err := svc.RecordLocation(ctx, technician.LocationSample{
			TechnicianID: 1, Latitude: 43.65, Longitude: -79.38, CapturedAt: captured,
		}, "conn-a")

		require.NoError(t, err)
		require.NotNil(t, event)
		assert.Equal(t, stored, event.Timestamp)
		repo.AssertNumberOfCalls(t, "UpdateLocation", 1)
		repo.AssertExpectations(t)
		publisher.AssertExpectations(t)
	})

	t.Run("should use the service clock when the record has no time", func(t *testing.T) {
		repo := new(MockRepository)
		publisher := new(MockPublisher)
		svc := newTestService(repo, publisher)

		repo.On("UpdateLocation", ctx, technician.ID(2), 1.0, 2.0).Return(&technician.Technician{ID: 2}, nil)
		publisher.On("Publish", ctx, mock.Anything).Return(nil)

		event, err := svc.RecordLocation(ctx, technician.LocationSample{TechnicianID: 2, Latitude: 1, Longitude: 2}, "")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), event.Timestamp)
	})

	t.Run("should reject invalid samples without side effects", func(t *testing.T) {
		samples := []technician.LocationSample{
			{TechnicianID: 1, Latitude: 200, Longitude: 0},
			{TechnicianID: 1, Latitude: 0, Longitude: -181},
			{TechnicianID: 1, Latitude: math.NaN(), Longitude: 0},
			{TechnicianID: 1, Latitude: 0, Longitude: math.Inf(-1)},
			{TechnicianID: 0, Latitude: 1, Longitude: 1},
		}

		for _, sample := range samples {
			repo := new(MockRepository)
			publisher := new(MockPublisher)
			svc := newTestService(repo, publisher)

			event, err := svc.RecordLocation(ctx, sample, "conn")
			require.Error(t, err)
			assert.Nil(t, event)
			assert.True(t, shared.IsInvalidLocation(err) || shared.IsInvalidIdentity(err))

			repo.AssertNotCalled(t, "UpdateLocation", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
		}
	})

	t.Run("should publish even when persistence fails", func(t *testing.T) {
		repo := new(MockRepository)
		publisher := new(MockPublisher)
		svc := newTestService(repo, publisher)

		repo.On("UpdateLocation", ctx, technician.ID(3), 5.0, 6.0).Return(nil, errors.New("redis down")).Once()
		publisher.On("Publish", ctx, mock.Anything).Return(nil).Once()

		event, err := svc.RecordLocation(ctx, technician.LocationSample{
			TechnicianID: 3, Latitude: 5, Longitude: 6, CapturedAt: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		}, "conn")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), event.Timestamp)
		publisher.AssertExpectations(t)
	})

	t.Run("should surface publish failure", func(t *testing.T) {
		repo := new(MockRepository)
		publisher := new(MockPublisher)
		svc := newTestService(repo, publisher)

		repo.On("UpdateLocation", ctx, technician.ID(4), 0.0, 0.0).Return(&technician.Technician{ID: 4}, nil)
		publisher.On("Publish", ctx, mock.Anything).Return(errors.New("bus closed"))

		_, err := svc.RecordLocation(ctx, technician.LocationSample{TechnicianID: 4}, "conn")
		require.Error(t, err)
		assert.False(t, shared.IsInvalidLocation(err))
	})
}

func TestLocationService_Directory(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	svc := newTestService(repo, new(MockPublisher))

	all := []*technician.Technician{{ID: 1}, {ID: 2}}
	repo.On("ListAll", ctx).Return(all, nil).Once()

	result, err := svc.Directory(ctx)
	require.NoError(t, err)
	assert.Len(t, result, 2)

	repo.On("ListAll", ctx).Return(nil, errors.New("boom")).Once()
	_, err = svc.Directory(ctx)
	assert.Error(t, err)
}

func TestLocationService_Technician(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	svc := newTestService(repo, new(MockPublisher))

	repo.On("GetByID", ctx, technician.ID(1)).Return(&technician.Technician{ID: 1, Username: "alice"}, nil)
	repo.On("GetByID", ctx, technician.ID(2)).Return(nil, nil)

	found, err := svc.Technician(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "alice", found.Username)

	_, err = svc.Technician(ctx, 2)
	assert.True(t, shared.IsNotFound(err))

	_, err = svc.Technician(ctx, 0)
	assert.True(t, shared.IsInvalidIdentity(err))
}
