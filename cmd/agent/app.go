package main

import (
	"context"
	"log/slog"
	"time"

	"ride-hail-driver/internal/common/contextx"
	"ride-hail-driver/internal/common/log"
	"ride-hail-driver/internal/control"
	"ride-hail-driver/internal/coordinator"
	"ride-hail-driver/internal/domain/driver"
	"ride-hail-driver/internal/domain/ride"
	"ride-hail-driver/internal/general/config"
	"ride-hail-driver/internal/general/contracts"
	"ride-hail-driver/internal/general/jwt"
	geoprovider "ride-hail-driver/internal/geo"
	"ride-hail-driver/internal/journal"
	"ride-hail-driver/internal/restapi"
	"ride-hail-driver/internal/scheduler"
	"ride-hail-driver/internal/status"
	"ride-hail-driver/internal/telemetry"
	"ride-hail-driver/internal/transport"
)

const acceptTimeout = 10 * time.Second

// run wires the agent together and blocks until the context is cancelled.
func run(ctx context.Context, configPath string) error {
	logger := log.New("driver-agent")
	ctx = contextx.WithRequestID(ctx, "startup-001")
	log.Info(ctx, logger, "init_start", "Driver agent initializing")

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		log.Error(ctx, logger, "config_load_fail", "Failed to load config file", err)
		return err
	}
	log.Info(ctx, logger, "config_loaded", "Configuration loaded")

	// the driver token carries both identities the backend keys on
	jwtManager := jwt.NewManager(cfg.JWT.SecretKey, 2*time.Hour)
	claims, err := jwtManager.ParseDriverToken(cfg.Driver.Token)
	if err != nil {
		log.Error(ctx, logger, "token_invalid", "Driver token failed validation", err)
		return err
	}

	session, err := driver.NewSession(claims.Subject, claims.AccountID)
	if err != nil {
		log.Error(ctx, logger, "session_init_fail", "Failed to initialize driver session", err)
		return err
	}
	log.Info(ctx, logger, "session_ready", "Driver session initialized",
		"driver_id", session.DriverID)

	// optional session journal for restart reconciliation
	var sessionJournal *journal.Journal
	if cfg.JournalEnabled() {
		pool, err := journal.NewPool(ctx, cfg, logger)
		if err != nil {
			log.Error(ctx, logger, "db_connection_failed", "Failed to initialize Postgres pool", err)
			return err
		}
		defer pool.Close()

		sessionJournal = journal.New(pool, logger)
		if err := sessionJournal.Migrate(ctx); err != nil {
			log.Error(ctx, logger, "db_migrate_failed", "Failed to apply journal schema", err)
			return err
		}

		// availability always restarts Offline; only the last position survives
		if snap, ok := sessionJournal.ReconcileAtBoot(ctx, session.DriverID); ok && snap.Position != nil {
			session.SetLastPosition(*snap.Position)
			log.Info(ctx, logger, "session_restored", "Last known position restored from journal",
				"lat", snap.Position.Latitude, "lng", snap.Position.Longitude)
		}
	}

	// optional fleet telemetry mirror
	var mirror *telemetry.Publisher
	if cfg.TelemetryEnabled() {
		tele, err := telemetry.Connect(ctx, cfg, logger)
		if err != nil {
			log.Error(ctx, logger, "rabbitmq_connection_failed", "Failed to connect telemetry backplane", err)
			return err
		}
		defer tele.Close()
		mirror = telemetry.NewPublisher(tele, logger)
	}

	backend := restapi.New(cfg.REST.BaseURL, cfg.Driver.Token, session.DriverID, cfg.RESTTimeout(), logger)
	provider := geoprovider.NewReplay(cfg.Location.StartLat, cfg.Location.StartLng)

	channel := transport.NewChannel(cfg.Socket.URL, cfg.Driver.Token, transport.Identity{
		DriverID:  session.DriverID,
		AccountID: session.AccountID,
	}, cfg.PingInterval(), logger)
	defer channel.Close()

	sync := status.New(session, backend, channel, provider.Permission,
		cfg.AckTimeout(), cfg.Policy.ForceOfflineOnInactive, logger)
	if mirror != nil {
		sync.BindMirror(mirror)
	}
	if sessionJournal != nil {
		sync.BindJournal(sessionJournal)
	}

	tracker := scheduler.New(provider, sync, scheduler.Config{
		MinInterval:       cfg.MinSampleInterval(),
		MinDistanceMeters: cfg.Location.MinDistanceMeters,
	}, logger)
	defer tracker.Stop()
	sync.BindTracker(tracker)

	coord := coordinator.New(session, backend, channel, &logPresenter{logger: logger},
		cfg.AckTimeout(), acceptTimeout, logger)
	defer coord.Close()

	channel.Subscribe(contracts.EventIncomingRide, coord.HandleIncomingRide)
	channel.Subscribe(contracts.EventRideRequest, coord.HandleIncomingRide)
	channel.Subscribe(contracts.EventRideUpdate, coord.HandleRideUpdate)
	channel.Subscribe(contracts.EventRideCancelled, coord.HandleRideCancelled)

	reconnect := make(chan struct{}, 1)
	channel.OnDisconnect(func() {
		session.SetConnectionState(driver.ConnDisconnected)
		coord.HandleDisconnect()
		select {
		case reconnect <- struct{}{}:
		default:
		}
	})

	// single-shot foreground fetch; a denied permission is not fatal here,
	// it only blocks going Available later
	if err := tracker.Seed(ctx); err != nil {
		log.Error(ctx, logger, "location_seed_failed", "Initial position fetch failed", err)
	}

	if err := connectChannel(ctx, session, channel, cfg.AckTimeout()); err != nil {
		log.Error(ctx, logger, "ws_initial_connect_failed", "Initial socket connect failed; reconnect loop takes over", err)
		select {
		case reconnect <- struct{}{}:
		default:
		}
	}

	go reconnectLoop(ctx, session, channel, sync, cfg.AckTimeout(), reconnect, logger)

	handler := control.NewHandler(session, sync, coord, backend, logger)
	server := control.NewServer(cfg.Control.Port, handler, logger)

	log.Info(ctx, logger, "agent_started", "Driver agent running",
		"driver_id", session.DriverID, "control_port", cfg.Control.Port)

	return server.Serve(ctx)
}

// connectChannel dials the socket and records the lifecycle transition on
// the session.
func connectChannel(ctx context.Context, session *driver.Session, channel *transport.Channel, ackTimeout time.Duration) error {
	var loc *contracts.LocationStamp
	if pos, ok := session.LastPosition(); ok {
		loc = &contracts.LocationStamp{
			Lat:            pos.Latitude,
			Lng:            pos.Longitude,
			Timestamp:      pos.Timestamp,
			SpeedKMH:       pos.SpeedKMH,
			HeadingDegrees: pos.HeadingDegrees,
		}
	}

	session.SetConnectionState(driver.ConnConnecting)
	if err := channel.Connect(ctx, loc, ackTimeout); err != nil {
		session.SetConnectionState(driver.ConnDisconnected)
		return err
	}
	session.SetConnectionState(driver.ConnConnected)
	return nil
}

// reconnectLoop re-establishes the socket after a drop with exponential
// backoff, then replays the current availability so the backend converges.
func reconnectLoop(ctx context.Context, session *driver.Session, channel *transport.Channel, sync *status.Synchronizer, ackTimeout time.Duration, trigger <-chan struct{}, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-trigger:
		}

		backoff := time.Second
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}

			attemptCtx := contextx.WithNewRequestID(ctx)
			if err := connectChannel(attemptCtx, session, channel, ackTimeout); err != nil {
				log.Info(attemptCtx, logger, "ws_reconnect_failed", "Socket reconnect failed; backing off",
					"backoff", backoff.String())
				if backoff < 30*time.Second {
					backoff *= 2
				}
				continue
			}

			log.Info(attemptCtx, logger, "ws_reconnected", "Socket channel re-established")
			// push current availability so both channels agree again
			if err := sync.SetAvailability(attemptCtx, session.Availability()); err != nil {
				log.Error(attemptCtx, logger, "status_replay_failed", "Post-reconnect status replay failed", err)
			}
			break
		}
	}
}

// logPresenter is the headless stand-in for the on-device UI layer.
type logPresenter struct {
	logger *slog.Logger
}

func (p *logPresenter) PresentOffer(ctx context.Context, offer *ride.Offer) {
	log.Info(ctx, p.logger, "offer_presented", "Ride offer presented to driver",
		"ride_id", offer.ID, "trip_km", offer.TripKM(), "estimated_fare", offer.EstimatedFare)
}

func (p *logPresenter) ClearOffer(ctx context.Context, rideID string, resolution ride.Resolution, reason string) {
	log.Info(ctx, p.logger, "offer_cleared", "Ride offer cleared",
		"ride_id", rideID, "resolution", string(resolution), "reason", reason)
}

func (p *logPresenter) OfferAccepted(ctx context.Context, rideID string) {
	log.Info(ctx, p.logger, "offer_accepted", "Ride acceptance committed",
		"ride_id", rideID)
}

func (p *logPresenter) SurfaceError(ctx context.Context, rideID string, err error) {
	log.Error(ctx, p.logger, "offer_action_failed", "Authoritative ride action failed", err,
		"ride_id", rideID)
}
