package geo

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewPositionValidatesRanges(t *testing.T) {
	_, err := NewPosition(91, 0)
	require.ErrorIs(t, err, ErrInvalidLatitude)

	_, err = NewPosition(0, -181)
	require.ErrorIs(t, err, ErrInvalidLongitude)

	_, err = NewPosition(math.NaN(), 0)
	require.ErrorIs(t, err, ErrInvalidLatitude)

	pos, err := NewPosition(51.1605, 71.4704)
	require.NoError(t, err)
	require.False(t, pos.Timestamp.IsZero())
}

func TestValidateRequiresTimestamp(t *testing.T) {
	pos := Position{Latitude: 10, Longitude: 10}
	require.ErrorIs(t, pos.Validate(), ErrZeroTimestamp)

	pos.Timestamp = time.Now()
	require.NoError(t, pos.Validate())
}

func TestHaversineKnownDistances(t *testing.T) {
	// same point
	require.Zero(t, HaversineKM(51.16, 71.47, 51.16, 71.47))

	// one degree of latitude is roughly 111 km
	d := HaversineKM(51.0, 71.0, 52.0, 71.0)
	require.InDelta(t, 111.2, d, 1.0)

	// symmetry
	require.InDelta(t,
		HaversineKM(51.0, 71.0, 52.0, 72.0),
		HaversineKM(52.0, 72.0, 51.0, 71.0),
		1e-9)
}

func TestDistanceKMMatchesHaversine(t *testing.T) {
	a := Position{Latitude: 51.0, Longitude: 71.0, Timestamp: time.Now()}
	b := Position{Latitude: 51.001, Longitude: 71.0, Timestamp: time.Now()}
	require.InDelta(t, HaversineKM(51.0, 71.0, 51.001, 71.0), a.DistanceKM(b), 1e-12)
}
