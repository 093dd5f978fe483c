package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ride-hail-driver/internal/common/contextx"
	"ride-hail-driver/internal/common/log"
	"ride-hail-driver/internal/domain/geo"
	geoprovider "ride-hail-driver/internal/geo"
)

// Sink receives the samples the scheduler lets through.
type Sink interface {
	HandlePosition(ctx context.Context, pos geo.Position)
}

// Config carries the background sampling floors. Both come from
// configuration, never hardcoded.
type Config struct {
	MinInterval       time.Duration
	MinDistanceMeters float64
}

// Scheduler decides when the Geo Provider samples position: a single-shot
// high-accuracy fetch on initialization, then interval/distance-gated
// background sampling while the driver is Available. Samples are delivered
// by the provider on its own goroutine and handed to the sink with a fresh
// request context, never assuming ordering against foreground fetches.
type Scheduler struct {
	provider geoprovider.Provider
	sink     Sink
	cfg      Config
	logger   *slog.Logger

	mu      sync.Mutex
	release func()
	last    *geo.Position
	lastAt  time.Time
}

// New builds a scheduler; Start/Stop drive the background watch.
func New(provider geoprovider.Provider, sink Sink, cfg Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		provider: provider,
		sink:     sink,
		cfg:      cfg,
		logger:   logger,
	}
}

// Seed performs the one-time foreground fetch that centers the map and
// seeds the last-known position.
func (s *Scheduler) Seed(ctx context.Context) error {
	pos, err := s.provider.Current(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.remember(pos)
	s.mu.Unlock()

	log.Info(ctx, s.logger, "location_seeded", "Initial position fetched",
		"lat", pos.Latitude, "lng", pos.Longitude)
	s.sink.HandlePosition(ctx, pos)
	return nil
}

// Start registers the long-running background watch. Idempotent: a second
// Start while running is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.release != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	// The triggering context is often a short-lived request (the availability
	// toggle); the watch must outlive it and end only through Stop.
	watchCtx := context.WithoutCancel(ctx)
	release, err := s.provider.Watch(watchCtx, geoprovider.WatchConfig{
		MinInterval:       s.cfg.MinInterval,
		MinDistanceMeters: s.cfg.MinDistanceMeters,
	}, s.onSample)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.release != nil {
		// lost the race with a concurrent Start; keep the first watch
		s.mu.Unlock()
		release()
		return nil
	}
	s.release = release
	s.mu.Unlock()

	log.Info(ctx, s.logger, "tracking_started", "Background location tracking started",
		"min_interval", s.cfg.MinInterval.String(), "min_distance_m", s.cfg.MinDistanceMeters)
	return nil
}

// Stop releases the background watch. Idempotent; must run on teardown or
// the OS task keeps draining battery and reporting stale positions.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	release := s.release
	s.release = nil
	s.mu.Unlock()

	if release != nil {
		release()
		log.Info(context.Background(), s.logger, "tracking_stopped", "Background location tracking released")
	}
}

// onSample gates a background sample on the interval and distance floors,
// then hands it into the sink. The floors are enforced here as well as in
// the provider so any Provider implementation is safe.
func (s *Scheduler) onSample(pos geo.Position) {
	s.mu.Lock()
	if !s.lastAt.IsZero() && pos.Timestamp.Sub(s.lastAt) < s.cfg.MinInterval {
		s.mu.Unlock()
		return
	}
	if s.last != nil && s.cfg.MinDistanceMeters > 0 {
		if s.last.DistanceKM(pos)*1000 < s.cfg.MinDistanceMeters {
			s.mu.Unlock()
			return
		}
	}
	s.remember(pos)
	s.mu.Unlock()

	ctx := contextx.WithNewRequestID(context.Background())
	s.sink.HandlePosition(ctx, pos)
}

// remember must be called with s.mu held.
func (s *Scheduler) remember(pos geo.Position) {
	copied := pos
	s.last = &copied
	s.lastAt = pos.Timestamp
}
