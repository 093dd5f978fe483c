package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"ride-hail-driver/internal/common/contextx"
	"ride-hail-driver/internal/common/log"
	"ride-hail-driver/internal/domain/driver"
	"ride-hail-driver/internal/domain/geo"
	"ride-hail-driver/internal/general/contracts"
)

const producerName = "driver-agent"

// Publisher mirrors driver state onto the fleet telemetry backplane.
// Every method is best-effort: publish failures are logged and swallowed
// so the backplane can never block the driver's own flow.
type Publisher struct {
	client *Client
	logger *slog.Logger
}

func NewPublisher(client *Client, logger *slog.Logger) *Publisher {
	return &Publisher{client: client, logger: logger}
}

func (p *Publisher) MirrorStatus(ctx context.Context, driverID string, availability driver.Availability, at time.Time) {
	msg := contracts.DriverStatusMessage{
		DriverID:  driverID,
		Status:    string(availability),
		Timestamp: at,
		MessageMeta: contracts.MessageMeta{
			CorrelationID: contextx.GetRequestID(ctx),
			Producer:      producerName,
			SentAt:        time.Now().UTC(),
		},
	}
	p.publish(ctx, contracts.ExchangeDriverTopic, contracts.RouteDriverStatusPrefix+driverID, "telemetry_status", msg)
}

func (p *Publisher) MirrorLocation(ctx context.Context, driverID string, pos geo.Position) {
	msg := contracts.LocationUpdateMessage{
		DriverID: driverID,
		Location: contracts.GeoPoint{
			Lat: pos.Latitude,
			Lng: pos.Longitude,
		},
		SpeedKMH:       pos.SpeedKMH,
		HeadingDegrees: pos.HeadingDegrees,
		Timestamp:      pos.Timestamp,
		MessageMeta: contracts.MessageMeta{
			CorrelationID: contextx.GetRequestID(ctx),
			Producer:      producerName,
			SentAt:        time.Now().UTC(),
		},
	}
	p.publish(ctx, contracts.ExchangeLocationFanout, "", "telemetry_location", msg)
}

func (p *Publisher) publish(ctx context.Context, exchange, routingKey, action string, msg any) {
	body, err := json.Marshal(msg)
	if err != nil {
		log.Error(ctx, p.logger, action, "Failed to encode telemetry message", err)
		return
	}
	if err := p.client.PublishMessage(exchange, routingKey, body); err != nil {
		log.Error(ctx, p.logger, action, "Failed to publish telemetry message", err,
			"exchange", exchange)
	}
}
