package contracts

import (
	"encoding/json"
	"time"
)

// Envelope is the socket frame shared by both directions. AckID is set on
// emissions that expect an acknowledgment; the server echoes it back in an
// "ack" frame so the client can resolve the pending record.
type Envelope struct {
	Type  string          `json:"type"`
	AckID string          `json:"ack_id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AuthFrame is the first frame sent after the socket upgrade.
type AuthFrame struct {
	Type  string `json:"type"` // "auth"
	Token string `json:"token"`
}

// GeoPoint is the shared coordinate shape on the wire.
type GeoPoint struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

// LocationStamp is a timestamped coordinate with optional motion data.
type LocationStamp struct {
	Lat            float64   `json:"lat"`
	Lng            float64   `json:"lng"`
	Timestamp      time.Time `json:"timestamp"`
	SpeedKMH       float64   `json:"speed_kmh,omitempty"`
	HeadingDegrees float64   `json:"heading_degrees,omitempty"`
}

// DriverConnect announces presence and joins the (driver, role) room.
// Ack expected, fallback on timeout.
type DriverConnect struct {
	DriverID string         `json:"driverId"`
	UserID   string         `json:"userId"`
	Role     string         `json:"role"`
	Location *LocationStamp `json:"location,omitempty"`
}

// DriverStatus is the availability/location hint broadcast.
// Ack expected, fallback on timeout.
type DriverStatus struct {
	DriverID    string         `json:"driverId"`
	UserID      string         `json:"userId"`
	IsAvailable bool           `json:"isAvailable"`
	Location    *LocationStamp `json:"location,omitempty"`
}

// DriverLocation is the fire-and-forget continuous tracking ping.
type DriverLocation struct {
	DriverID string        `json:"driverId"`
	UserID   string        `json:"userId"`
	Location LocationStamp `json:"location"`
}

// RideAccepted is the best-effort acceptance broadcast keyed by ride id.
// Ack expected, fallback on timeout.
type RideAccepted struct {
	RideID   string `json:"rideId"`
	DriverID string `json:"driverId"`
	UserID   string `json:"userId"`
}

// IncomingRide is the inbound ride-offer payload.
type IncomingRide struct {
	RideID            string   `json:"ride_id"`
	Pickup            GeoPoint `json:"pickup_location"`
	Dropoff           GeoPoint `json:"destination_location"`
	EstimatedFare     float64  `json:"estimated_fare,omitempty"`
	EstimatedDistance float64  `json:"estimated_distance_km,omitempty"`
}

// RideUpdate is an opaque status change for a ride in progress.
type RideUpdate struct {
	RideID string          `json:"ride_id"`
	Status string          `json:"status"`
	Detail json.RawMessage `json:"detail,omitempty"`
}

// RideCancelled tells the driver the counterpart withdrew the ride.
type RideCancelled struct {
	RideID string `json:"ride_id"`
	Reason string `json:"reason,omitempty"`
}
