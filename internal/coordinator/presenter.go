package coordinator

import (
	"context"

	"ride-hail-driver/internal/domain/ride"
)

// Presenter is the boundary to the excluded UI layer. Implementations
// surface offers and notices to the driver; the coordinator never renders
// anything itself. All calls arrive on the coordinator's run loop.
type Presenter interface {
	// PresentOffer surfaces a new offer (and may re-center the map and
	// raise a local alert).
	PresentOffer(ctx context.Context, offer *ride.Offer)

	// ClearOffer removes the active offer. The resolution distinguishes a
	// driver decline from a counterpart cancellation.
	ClearOffer(ctx context.Context, rideID string, resolution ride.Resolution, reason string)

	// OfferAccepted confirms the authoritative accept committed.
	OfferAccepted(ctx context.Context, rideID string)

	// SurfaceError reports a failed authoritative action on the offer.
	SurfaceError(ctx context.Context, rideID string, err error)
}

// NopPresenter discards every notification; useful in tests and headless runs.
type NopPresenter struct{}

func (NopPresenter) PresentOffer(context.Context, *ride.Offer)                   {}
func (NopPresenter) ClearOffer(context.Context, string, ride.Resolution, string) {}
func (NopPresenter) OfferAccepted(context.Context, string)                       {}
func (NopPresenter) SurfaceError(context.Context, string, error)                 {}
