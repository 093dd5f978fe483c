package contracts

import "time"

// MessageMeta adds cross-cutting headers telemetry messages carry.
type MessageMeta struct {
	CorrelationID string    `json:"correlation_id,omitempty"`
	Producer      string    `json:"producer,omitempty"`
	SentAt        time.Time `json:"sent_at,omitempty"`
}

// DriverStatusMessage mirrors a status change to the fleet backplane.
// Routing key: "driver.status.{driver_id}" on ExchangeDriverTopic.
type DriverStatusMessage struct {
	DriverID  string    `json:"driver_id"`
	Status    string    `json:"status"` // OFFLINE|AVAILABLE
	Timestamp time.Time `json:"timestamp"`
	MessageMeta
}

// LocationUpdateMessage mirrors a location sample to the fleet backplane.
// Exchange: ExchangeLocationFanout (fanout, no routing key).
type LocationUpdateMessage struct {
	DriverID       string    `json:"driver_id"`
	Location       GeoPoint  `json:"location"`
	SpeedKMH       float64   `json:"speed_kmh,omitempty"`
	HeadingDegrees float64   `json:"heading_degrees,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	MessageMeta
}
