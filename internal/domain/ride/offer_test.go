package ride

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewOfferValidation(t *testing.T) {
	pickup := Stop{Latitude: 51.1, Longitude: 71.4}
	dropoff := Stop{Latitude: 51.2, Longitude: 71.5}

	_, err := NewOffer("  ", pickup, dropoff, 10, 2)
	require.ErrorIs(t, err, ErrOfferIDRequired)

	_, err = NewOffer("r-1", pickup, dropoff, -1, 2)
	require.ErrorIs(t, err, ErrNegativeFare)

	_, err = NewOffer("r-1", Stop{Latitude: 95}, dropoff, 10, 2)
	require.Error(t, err)

	offer, err := NewOffer("r-1", pickup, dropoff, 10, 2)
	require.NoError(t, err)
	require.Equal(t, "r-1", offer.ID)
	require.False(t, offer.ReceivedAt.IsZero())
}

func TestTripKMPrefersBackendEstimate(t *testing.T) {
	pickup := Stop{Latitude: 51.0, Longitude: 71.0}
	dropoff := Stop{Latitude: 52.0, Longitude: 71.0}

	offer, err := NewOffer("r-1", pickup, dropoff, 10, 7.5)
	require.NoError(t, err)
	require.Equal(t, 7.5, offer.TripKM())

	// without an estimate, fall back to straight-line distance (~111 km)
	offer, err = NewOffer("r-2", pickup, dropoff, 10, 0)
	require.NoError(t, err)
	require.InDelta(t, 111.2, offer.TripKM(), 1.0)
}

func TestPresentationStateActive(t *testing.T) {
	require.False(t, PresentationNone.Active())
	require.True(t, PresentationPresented.Active())
	require.True(t, PresentationAccepting.Active())
	require.False(t, PresentationResolved.Active())
}
