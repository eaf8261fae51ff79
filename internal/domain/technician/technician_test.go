package technician

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/techtrack/internal/domain/shared"
)

func TestParseID(t *testing.T) {
	id, err := ParseID(42)
	require.NoError(t, err)
	assert.Equal(t, ID(42), id)
	assert.Equal(t, "42", id.String())

	for _, raw := range []int64{0, -1} {
		_, err := ParseID(raw)
		assert.True(t, shared.IsInvalidIdentity(err), "raw=%d", raw)
	}
}

func TestLocationSample_Validate(t *testing.T) {
	tests := []struct {
		name         string
		sample       LocationSample
		wantIdentity bool
		wantLocation bool
	}{
		{name: "valid", sample: LocationSample{TechnicianID: 1, Latitude: 43.65, Longitude: -79.38}},
		{name: "bounds inclusive", sample: LocationSample{TechnicianID: 1, Latitude: -90, Longitude: 180}},
		{name: "zero coordinates", sample: LocationSample{TechnicianID: 1}},
		{name: "missing identity", sample: LocationSample{Latitude: 1, Longitude: 1}, wantIdentity: true},
		{name: "negative identity", sample: LocationSample{TechnicianID: -3, Latitude: 1, Longitude: 1}, wantIdentity: true},
		{name: "latitude too large", sample: LocationSample{TechnicianID: 1, Latitude: 200, Longitude: 0}, wantLocation: true},
		{name: "longitude too small", sample: LocationSample{TechnicianID: 1, Latitude: 0, Longitude: -180.5}, wantLocation: true},
		{name: "latitude NaN", sample: LocationSample{TechnicianID: 1, Latitude: math.NaN(), Longitude: 0}, wantLocation: true},
		{name: "longitude infinite", sample: LocationSample{TechnicianID: 1, Latitude: 0, Longitude: math.Inf(1)}, wantLocation: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sample.Validate()
			if !tt.wantIdentity && !tt.wantLocation {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantIdentity, shared.IsInvalidIdentity(err))
			assert.Equal(t, tt.wantLocation, shared.IsInvalidLocation(err))
		})
	}
}

func TestTechnician_MoveTo(t *testing.T) {
	tech, err := NewTechnician(7, "T-007", "jdoe", "Jane", "Doe")
	require.NoError(t, err)
	assert.Nil(t, tech.Location)
	assert.Nil(t, tech.LastActive)

	at := time.Date(2024, 5, 1, 8, 30, 0, 0, time.FixedZone("EST", -5*3600))
	tech.MoveTo(43.65, -79.38, at)

	require.NotNil(t, tech.Location)
	assert.Equal(t, Location{Latitude: 43.65, Longitude: -79.38}, *tech.Location)
	require.NotNil(t, tech.LastActive)
	assert.Equal(t, time.UTC, tech.LastActive.Location())
	assert.True(t, at.Equal(*tech.LastActive))
}

func TestNewTechnician_InvalidID(t *testing.T) {
	_, err := NewTechnician(0, "", "ghost", "", "")
	assert.True(t, shared.IsInvalidIdentity(err))
}

func TestTechnician_Clone(t *testing.T) {
	tech, _ := NewTechnician(1, "T-1", "a", "A", "B")
	tech.MoveTo(1, 2, time.Now())

	c := tech.Clone()
	c.Location.Latitude = 50
	*c.LastActive = time.Time{}

	assert.Equal(t, 1.0, tech.Location.Latitude)
	assert.False(t, tech.LastActive.IsZero())

	var nilTech *Technician
	assert.Nil(t, nilTech.Clone())
}

func TestTechnician_DisplayName(t *testing.T) {
	assert.Equal(t, "Jane Doe", (&Technician{FirstName: "Jane", LastName: "Doe", Username: "jd"}).DisplayName())
	assert.Equal(t, "Jane", (&Technician{FirstName: "Jane", Username: "jd"}).DisplayName())
	assert.Equal(t, "jd", (&Technician{Username: "jd"}).DisplayName())
}
