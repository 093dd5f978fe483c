package status

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ride-hail-driver/internal/common/log"
	"ride-hail-driver/internal/domain/driver"
	"ride-hail-driver/internal/domain/geo"
	"ride-hail-driver/internal/general/contracts"
)

// ErrPermissionBlocked is surfaced when the driver tries to go Available
// without a usable location permission. No automatic retry; the caller
// shows a persistent prompt.
var ErrPermissionBlocked = errors.New("location permission required to go available")

// Backend is the REST slice the synchronizer needs. REST is the source of
// truth for availability; the backend's matching engine consults it.
type Backend interface {
	UpdateAvailability(ctx context.Context, availability driver.Availability, pos *geo.Position) error
	UpdateLocation(ctx context.Context, pos geo.Position) error
}

// Broadcaster is the socket slice used for low-latency hints.
type Broadcaster interface {
	Emit(event string, payload any) error
	EmitWithAck(ctx context.Context, event string, payload any, timeout time.Duration, fallbackOnTimeout bool) error
}

// Mirror fans state changes out to the fleet telemetry backplane.
// Purely best-effort; implementations never return errors.
type Mirror interface {
	MirrorStatus(ctx context.Context, driverID string, availability driver.Availability, at time.Time)
	MirrorLocation(ctx context.Context, driverID string, pos geo.Position)
}

// Journal persists snapshots for restart reconciliation.
type Journal interface {
	SaveSnapshot(ctx context.Context, snap driver.Snapshot) error
}

// Tracker is the background location sampling lifecycle, started when the
// driver becomes Available and stopped when they go Offline.
type Tracker interface {
	Start(ctx context.Context) error
	Stop()
}

// Synchronizer reconciles the driver's availability and last-known position
// across the REST channel and the socket channel. Both channels are updated
// on every change; a REST failure never blocks the socket broadcast.
type Synchronizer struct {
	session    *driver.Session
	backend    Backend
	channel    Broadcaster
	permission func() geo.PermissionState
	logger     *slog.Logger

	ackTimeout             time.Duration
	forceOfflineOnInactive bool

	// optional collaborators
	mirror  Mirror
	journal Journal
	tracker Tracker
}

// New builds a synchronizer. Mirror, journal and tracker are optional and
// may be wired later via the Bind helpers.
func New(session *driver.Session, backend Backend, channel Broadcaster, permission func() geo.PermissionState, ackTimeout time.Duration, forceOfflineOnInactive bool, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		session:                session,
		backend:                backend,
		channel:                channel,
		permission:             permission,
		logger:                 logger,
		ackTimeout:             ackTimeout,
		forceOfflineOnInactive: forceOfflineOnInactive,
	}
}

// BindMirror attaches the telemetry mirror.
func (s *Synchronizer) BindMirror(m Mirror) { s.mirror = m }

// BindJournal attaches the session journal.
func (s *Synchronizer) BindJournal(j Journal) { s.journal = j }

// BindTracker attaches the background location tracker.
func (s *Synchronizer) BindTracker(t Tracker) { s.tracker = t }

// HandleAppState maps an app-lifecycle transition onto availability.
// Foreground makes the driver Available; Background changes nothing (the
// driver stays reachable); Inactive forces Offline only when the
// configuration flag says so.
func (s *Synchronizer) HandleAppState(ctx context.Context, state driver.AppState) error {
	switch state {
	case driver.AppForeground:
		return s.SetAvailability(ctx, driver.AvailabilityAvailable)
	case driver.AppBackground:
		log.Debug(ctx, s.logger, "app_background", "App backgrounded; availability unchanged",
			"availability", s.session.Availability().String())
		return nil
	case driver.AppInactive:
		if !s.forceOfflineOnInactive {
			log.Debug(ctx, s.logger, "app_inactive", "App inactive; policy keeps availability unchanged")
			return nil
		}
		return s.SetAvailability(ctx, driver.AvailabilityOffline)
	default:
		return errors.New("unknown app state: " + state.String())
	}
}

// SetAvailability applies an availability change and propagates it to both
// channels. Repeated calls with the same value are safe; the backend treats
// status updates as last-write-wins keyed by timestamp.
func (s *Synchronizer) SetAvailability(ctx context.Context, availability driver.Availability) error {
	if !availability.Valid() {
		return driver.ErrInvalidAvailability
	}

	if availability.Online() && !s.permission().Usable() {
		log.Info(ctx, s.logger, "permission_blocked", "Cannot go available without location permission",
			"permission", s.permission().String())
		return ErrPermissionBlocked
	}

	changed := s.session.SetAvailability(availability)
	log.Info(ctx, s.logger, "availability_set", "Driver availability updated",
		"availability", availability.String(), "changed", changed)

	s.propagateStatus(ctx)
	s.syncTracker(ctx, availability)

	return nil
}

// HandlePosition forwards one location sample to both channels with an
// identical (lat, lng, timestamp) triple.
func (s *Synchronizer) HandlePosition(ctx context.Context, pos geo.Position) {
	if err := pos.Validate(); err != nil {
		log.Error(ctx, s.logger, "position_invalid", "Dropping invalid position sample", err)
		return
	}

	s.session.SetLastPosition(pos)

	// informational write: failures are silent beyond the log, the next
	// periodic update self-heals
	if err := s.backend.UpdateLocation(ctx, pos); err != nil {
		log.Error(ctx, s.logger, "rest_location_failed", "REST location update failed", err)
	}

	ping := contracts.DriverLocation{
		DriverID: s.session.DriverID,
		UserID:   s.session.AccountID,
		Location: stampOf(pos),
	}
	_ = s.channel.Emit(contracts.EventDriverLocation, ping)

	if s.mirror != nil {
		s.mirror.MirrorLocation(ctx, s.session.DriverID, pos)
	}
	s.saveSnapshot(ctx)
}

// propagateStatus pushes the current availability to REST and the socket.
// Best-effort parallel propagation, not a transaction.
func (s *Synchronizer) propagateStatus(ctx context.Context) {
	availability := s.session.Availability()

	var posPtr *geo.Position
	if pos, ok := s.session.LastPosition(); ok {
		posPtr = &pos
	}

	if err := s.backend.UpdateAvailability(ctx, availability, posPtr); err != nil {
		log.Error(ctx, s.logger, "rest_status_failed", "REST availability update failed; socket hint still goes out", err,
			"availability", availability.String())
	}

	hint := contracts.DriverStatus{
		DriverID:    s.session.DriverID,
		UserID:      s.session.AccountID,
		IsAvailable: availability.Online(),
	}
	if posPtr != nil {
		stamp := stampOf(*posPtr)
		hint.Location = &stamp
	}
	_ = s.channel.EmitWithAck(ctx, contracts.EventDriverStatus, hint, s.ackTimeout, true)

	if s.mirror != nil {
		s.mirror.MirrorStatus(ctx, s.session.DriverID, availability, time.Now().UTC())
	}
	s.saveSnapshot(ctx)
}

// syncTracker enforces the tracking lifecycle: background sampling runs
// exactly while the driver is Available. Failing to stop it would keep
// draining battery and reporting stale locations.
func (s *Synchronizer) syncTracker(ctx context.Context, availability driver.Availability) {
	if s.tracker == nil {
		return
	}
	if availability.Online() {
		if err := s.tracker.Start(ctx); err != nil {
			log.Error(ctx, s.logger, "tracker_start_failed", "Background location tracking failed to start", err)
		}
		return
	}
	s.tracker.Stop()
}

func (s *Synchronizer) saveSnapshot(ctx context.Context) {
	if s.journal == nil {
		return
	}
	if err := s.journal.SaveSnapshot(ctx, s.session.Snapshot()); err != nil {
		log.Error(ctx, s.logger, "journal_save_failed", "Session snapshot write failed", err)
	}
}

func stampOf(pos geo.Position) contracts.LocationStamp {
	return contracts.LocationStamp{
		Lat:            pos.Latitude,
		Lng:            pos.Longitude,
		Timestamp:      pos.Timestamp,
		SpeedKMH:       pos.SpeedKMH,
		HeadingDegrees: pos.HeadingDegrees,
	}
}
