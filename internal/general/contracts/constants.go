package contracts

// Socket events consumed (server -> client)
const (
	EventIncomingRide  = "incomingRide"
	EventRideRequest   = "rideRequest" // legacy alias of incomingRide
	EventRideUpdate    = "rideUpdate"
	EventRideCancelled = "rideCancelled"
	EventAck           = "ack"
)

// Socket events emitted (client -> server)
const (
	EventDriverConnect  = "driver:connect"
	EventDriverStatus   = "driver:status"
	EventDriverLocation = "driver:location"
	EventRideAccepted   = "rideAccepted"
)

// Telemetry exchanges (RabbitMQ)
const (
	ExchangeDriverTopic    = "driver_topic"
	ExchangeLocationFanout = "location_fanout"
)

// Telemetry routing patterns
const (
	RouteDriverStatusPrefix = "driver.status." // {driver_id}
)
