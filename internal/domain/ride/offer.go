package ride

import (
	"errors"
	"strings"
	"time"

	"ride-hail-driver/internal/domain/geo"
)

// Stop is one endpoint of an offered trip.
type Stop struct {
	Latitude  float64
	Longitude float64
	Address   string
}

// Offer is a candidate trip surfaced to the driver.
type Offer struct {
	ID                string
	Pickup            Stop
	Dropoff           Stop
	EstimatedFare     float64
	EstimatedDistance float64 // km
	ReceivedAt        time.Time
}

var (
	ErrOfferIDRequired = errors.New("ride offer id is required")
	ErrNegativeFare    = errors.New("estimated fare cannot be negative")
)

// NewOffer validates and constructs an Offer stamped with its arrival time.
func NewOffer(id string, pickup, dropoff Stop, fare, distanceKM float64) (*Offer, error) {
	if id = strings.TrimSpace(id); id == "" {
		return nil, ErrOfferIDRequired
	}
	if fare < 0 {
		return nil, ErrNegativeFare
	}
	if err := validStop(pickup); err != nil {
		return nil, err
	}
	if err := validStop(dropoff); err != nil {
		return nil, err
	}

	return &Offer{
		ID:                id,
		Pickup:            pickup,
		Dropoff:           dropoff,
		EstimatedFare:     fare,
		EstimatedDistance: distanceKM,
		ReceivedAt:        time.Now().UTC(),
	}, nil
}

// TripKM returns the straight-line pickup->dropoff distance when the
// backend did not provide an estimate.
func (offer *Offer) TripKM() float64 {
	if offer.EstimatedDistance > 0 {
		return offer.EstimatedDistance
	}
	return geo.HaversineKM(
		offer.Pickup.Latitude, offer.Pickup.Longitude,
		offer.Dropoff.Latitude, offer.Dropoff.Longitude,
	)
}

func validStop(stop Stop) error {
	if stop.Latitude < -90 || stop.Latitude > 90 {
		return geo.ErrInvalidLatitude
	}
	if stop.Longitude < -180 || stop.Longitude > 180 {
		return geo.ErrInvalidLongitude
	}
	return nil
}
