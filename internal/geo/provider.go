package geo

import (
	"context"
	"errors"
	"time"

	"ride-hail-driver/internal/domain/geo"
)

var (
	ErrPermissionDenied = errors.New("geo: location permission denied")
	ErrNoFix            = errors.New("geo: no position fix available")
)

// WatchConfig carries the OS-level sampling floors for a background watch.
type WatchConfig struct {
	MinInterval       time.Duration
	MinDistanceMeters float64
}

// Provider wraps the device location service. Implementations deliver
// watch samples asynchronously with no ordering guarantee relative to
// single-shot fetches.
type Provider interface {
	// Permission classifies the current location-access grant.
	Permission() geo.PermissionState

	// Current performs a single-shot high-accuracy fetch.
	Current(ctx context.Context) (geo.Position, error)

	// Watch starts a long-running sampling task honoring cfg's floors and
	// delivers each sample to fn. The returned stop function releases the
	// task; failing to call it leaks the underlying OS registration.
	Watch(ctx context.Context, cfg WatchConfig, fn func(geo.Position)) (stop func(), err error)
}
