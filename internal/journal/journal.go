package journal

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ride-hail-driver/internal/common/log"
	"ride-hail-driver/internal/domain/driver"
	"ride-hail-driver/internal/domain/geo"
)

// Journal persists the driver session state the agent needs to reconcile
// after a process restart: a current-state snapshot plus shift rows
// bounding every Available period. All writes are best-effort.
type Journal struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New wraps a connected pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Journal {
	return &Journal{pool: pool, logger: logger}
}

// Migrate creates the journal tables when missing.
func (j *Journal) Migrate(ctx context.Context) error {
	_, err := j.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS driver_shifts (
			id          BIGSERIAL PRIMARY KEY,
			driver_id   TEXT        NOT NULL,
			started_at  TIMESTAMPTZ NOT NULL,
			ended_at    TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS session_snapshots (
			driver_id    TEXT PRIMARY KEY,
			account_id   TEXT        NOT NULL,
			availability TEXT        NOT NULL,
			connection   TEXT        NOT NULL,
			latitude     DOUBLE PRECISION,
			longitude    DOUBLE PRECISION,
			recorded_at  TIMESTAMPTZ,
			updated_at   TIMESTAMPTZ NOT NULL
		);
	`)
	return err
}

// SaveSnapshot upserts the current-state row and keeps the shift rows in
// step: going Available opens a shift if none is open, going Offline
// closes any open one.
func (j *Journal) SaveSnapshot(ctx context.Context, snap driver.Snapshot) error {
	var lat, lng *float64
	var recordedAt *time.Time
	if snap.Position != nil {
		lat = &snap.Position.Latitude
		lng = &snap.Position.Longitude
		recordedAt = &snap.Position.Timestamp
	}

	_, err := j.pool.Exec(ctx, `
		INSERT INTO session_snapshots
			(driver_id, account_id, availability, connection, latitude, longitude, recorded_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (driver_id) DO UPDATE SET
			account_id   = EXCLUDED.account_id,
			availability = EXCLUDED.availability,
			connection   = EXCLUDED.connection,
			latitude     = EXCLUDED.latitude,
			longitude    = EXCLUDED.longitude,
			recorded_at  = EXCLUDED.recorded_at,
			updated_at   = EXCLUDED.updated_at
	`, snap.DriverID, snap.AccountID, snap.Availability.String(), snap.Connection.String(),
		lat, lng, recordedAt, snap.TakenAt)
	if err != nil {
		return err
	}

	if snap.Availability.Online() {
		return j.openShiftIfNeeded(ctx, snap.DriverID, snap.TakenAt)
	}
	return j.closeOpenShifts(ctx, snap.DriverID, snap.TakenAt)
}

// LoadSnapshot fetches the persisted state for boot-time reconciliation.
// Returns ok=false when the driver has no snapshot yet.
func (j *Journal) LoadSnapshot(ctx context.Context, driverID string) (driver.Snapshot, bool, error) {
	var (
		snap         driver.Snapshot
		availability string
		connection   string
		lat, lng     *float64
		recordedAt   *time.Time
	)

	err := j.pool.QueryRow(ctx, `
		SELECT driver_id, account_id, availability, connection, latitude, longitude, recorded_at, updated_at
		FROM session_snapshots
		WHERE driver_id = $1
	`, driverID).Scan(&snap.DriverID, &snap.AccountID, &availability, &connection, &lat, &lng, &recordedAt, &snap.TakenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return driver.Snapshot{}, false, nil
	}
	if err != nil {
		return driver.Snapshot{}, false, err
	}

	snap.Availability = driver.Availability(availability)
	snap.Connection = driver.ConnectionState(connection)
	if lat != nil && lng != nil {
		pos := geo.Position{Latitude: *lat, Longitude: *lng}
		if recordedAt != nil {
			pos.Timestamp = *recordedAt
		}
		snap.Position = &pos
	}
	return snap, true, nil
}

// ReconcileAtBoot closes shifts left open by a crash and returns the last
// snapshot, if one exists. Availability always restarts Offline; only the
// last position is carried over.
func (j *Journal) ReconcileAtBoot(ctx context.Context, driverID string) (driver.Snapshot, bool) {
	now := time.Now().UTC()
	if err := j.closeOpenShifts(ctx, driverID, now); err != nil {
		log.Error(ctx, j.logger, "journal_reconcile_failed", "Could not close stale shifts", err,
			"driver_id", driverID)
	}

	snap, ok, err := j.LoadSnapshot(ctx, driverID)
	if err != nil {
		log.Error(ctx, j.logger, "journal_load_failed", "Could not load boot snapshot", err,
			"driver_id", driverID)
		return driver.Snapshot{}, false
	}
	if ok && snap.Availability.Online() {
		log.Info(ctx, j.logger, "journal_stale_availability", "Previous session ended while Available; restarting Offline",
			"driver_id", driverID)
	}
	return snap, ok
}

func (j *Journal) openShiftIfNeeded(ctx context.Context, driverID string, at time.Time) error {
	_, err := j.pool.Exec(ctx, `
		INSERT INTO driver_shifts (driver_id, started_at)
		SELECT $1, $2
		WHERE NOT EXISTS (
			SELECT 1 FROM driver_shifts WHERE driver_id = $1 AND ended_at IS NULL
		)
	`, driverID, at)
	return err
}

func (j *Journal) closeOpenShifts(ctx context.Context, driverID string, at time.Time) error {
	_, err := j.pool.Exec(ctx, `
		UPDATE driver_shifts
		SET ended_at = $2
		WHERE driver_id = $1 AND ended_at IS NULL
	`, driverID, at)
	return err
}
