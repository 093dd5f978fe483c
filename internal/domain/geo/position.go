package geo

import (
	"errors"
	"math"
	"time"
)

// Position is a single device location sample.
type Position struct {
	Latitude       float64
	Longitude      float64
	Timestamp      time.Time
	SpeedKMH       float64
	HeadingDegrees float64
	AccuracyMeters float64
}

var (
	ErrInvalidLatitude  = errors.New("latitude must be between -90 and 90")
	ErrInvalidLongitude = errors.New("longitude must be between -180 and 180")
	ErrZeroTimestamp    = errors.New("position timestamp is required")
)

// NewPosition constructs a validated Position stamped "now" (UTC).
func NewPosition(lat, lng float64) (Position, error) {
	pos := Position{
		Latitude:  lat,
		Longitude: lng,
		Timestamp: time.Now().UTC(),
	}
	if err := pos.Validate(); err != nil {
		return Position{}, err
	}
	return pos, nil
}

// Validate checks coordinate ranges and the timestamp.
func (pos Position) Validate() error {
	if math.IsNaN(pos.Latitude) || pos.Latitude < -90 || pos.Latitude > 90 {
		return ErrInvalidLatitude
	}
	if math.IsNaN(pos.Longitude) || pos.Longitude < -180 || pos.Longitude > 180 {
		return ErrInvalidLongitude
	}
	if pos.Timestamp.IsZero() {
		return ErrZeroTimestamp
	}
	return nil
}

// DistanceKM returns the haversine distance to another position in kilometers.
func (pos Position) DistanceKM(other Position) float64 {
	return HaversineKM(pos.Latitude, pos.Longitude, other.Latitude, other.Longitude)
}

// HaversineKM computes the great-circle distance between two coordinates in km.
func HaversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371.0 // Earth radius in km
	a1 := lat1 * math.Pi / 180
	a2 := lat2 * math.Pi / 180
	da := (lat2 - lat1) * math.Pi / 180
	db := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(da/2)*math.Sin(da/2) +
		math.Cos(a1)*math.Cos(a2)*math.Sin(db/2)*math.Sin(db/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
