package restapi

import (
	"time"

	"ride-hail-driver/internal/domain/geo"
)

type availabilityRequest struct {
	Availability string         `json:"availability"` // "available" | "offline"
	Location     *locationStamp `json:"location,omitempty"`
}

type rideActionRequest struct {
	DriverID string `json:"driver_id"`
	Reason   string `json:"reason,omitempty"`
}

type locationStamp struct {
	Lat            float64   `json:"lat"`
	Lng            float64   `json:"lng"`
	Timestamp      time.Time `json:"timestamp"`
	SpeedKMH       float64   `json:"speed_kmh,omitempty"`
	HeadingDegrees float64   `json:"heading_degrees,omitempty"`
}

func stampOf(pos geo.Position) *locationStamp {
	return &locationStamp{
		Lat:            pos.Latitude,
		Lng:            pos.Longitude,
		Timestamp:      pos.Timestamp,
		SpeedKMH:       pos.SpeedKMH,
		HeadingDegrees: pos.HeadingDegrees,
	}
}

// Stats is the driver performance summary returned by the backend.
type Stats struct {
	RidesCompleted int     `json:"rides_completed"`
	Earnings       float64 `json:"earnings"`
	OnlineMinutes  int     `json:"online_minutes"`
	Rating         float64 `json:"rating"`
}
