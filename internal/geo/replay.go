package geo

import (
	"context"
	"math"
	"sync"
	"time"

	"ride-hail-driver/internal/domain/geo"
)

// Replay is a deterministic Provider that drifts north-east from a start
// point on every sample. It stands in for the device location service in
// the agent binary and in tests; the permission state is settable so
// denied-permission flows can be exercised.
type Replay struct {
	mu         sync.Mutex
	permission geo.PermissionState
	lat        float64
	lng        float64
	stepM      float64
	speedKMH   float64
}

// NewReplay starts a replay route at the given coordinate.
func NewReplay(startLat, startLng float64) *Replay {
	return &Replay{
		permission: geo.PermissionGranted,
		lat:        startLat,
		lng:        startLng,
		stepM:      25,
		speedKMH:   30,
	}
}

// SetPermission overrides the reported permission state.
func (r *Replay) SetPermission(state geo.PermissionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.permission = state
}

func (r *Replay) Permission() geo.PermissionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.permission
}

func (r *Replay) Current(ctx context.Context) (geo.Position, error) {
	if err := ctx.Err(); err != nil {
		return geo.Position{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.permission.Usable() {
		return geo.Position{}, ErrPermissionDenied
	}

	return geo.Position{
		Latitude:       r.lat,
		Longitude:      r.lng,
		Timestamp:      time.Now().UTC(),
		SpeedKMH:       r.speedKMH,
		HeadingDegrees: 45,
		AccuracyMeters: 5,
	}, nil
}

func (r *Replay) Watch(ctx context.Context, cfg WatchConfig, fn func(geo.Position)) (func(), error) {
	r.mu.Lock()
	usable := r.permission.Usable()
	r.mu.Unlock()
	if !usable {
		return nil, ErrPermissionDenied
	}

	interval := cfg.MinInterval
	if interval <= 0 {
		interval = time.Second
	}

	done := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(done) }) }

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(r.advance())
			}
		}
	}()

	return stop, nil
}

// advance moves the simulated driver one step along the route.
func (r *Replay) advance() geo.Position {
	r.mu.Lock()
	defer r.mu.Unlock()

	// meters -> degrees; longitude step shrinks with latitude
	dLat := r.stepM / 111_000.0
	dLng := r.stepM / (111_000.0 * math.Cos(r.lat*math.Pi/180))
	r.lat += dLat
	r.lng += dLng

	return geo.Position{
		Latitude:       r.lat,
		Longitude:      r.lng,
		Timestamp:      time.Now().UTC(),
		SpeedKMH:       r.speedKMH,
		HeadingDegrees: 45,
		AccuracyMeters: 8,
	}
}
