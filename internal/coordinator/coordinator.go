package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"ride-hail-driver/internal/common/contextx"
	"ride-hail-driver/internal/common/log"
	"ride-hail-driver/internal/domain/driver"
	"ride-hail-driver/internal/domain/ride"
	"ride-hail-driver/internal/general/contracts"
)

var (
	ErrNoActiveOffer  = errors.New("no offer is currently presented")
	ErrOfferMismatch  = errors.New("ride id does not match the presented offer")
	ErrAcceptInFlight = errors.New("an accept is already in flight")
)

// Backend is the REST slice used for the authoritative accept/decline.
type Backend interface {
	AcceptRide(ctx context.Context, rideID string) error
	DeclineRide(ctx context.Context, rideID, reason string) error
}

// Broadcaster is the socket slice used for the best-effort acceptance hint.
type Broadcaster interface {
	EmitWithAck(ctx context.Context, event string, payload any, timeout time.Duration, fallbackOnTimeout bool) error
}

// Coordinator drives the lifecycle of an incoming ride offer:
//
//	Idle -> Presented -> {Accepting -> Resolved(Accepted)} |
//	        Resolved(Declined) | Resolved(CancelledByCounterpart) -> Idle
//
// All state transitions run on a single goroutine consuming a command
// queue; inbound socket events, driver actions and async REST completions
// are all enqueued onto it. That makes Accepting a real state (other
// events are processed while an accept is in flight) and guarantees at
// most one offer is ever Presented or Accepting.
type Coordinator struct {
	session   *driver.Session
	backend   Backend
	channel   Broadcaster
	presenter Presenter
	logger    *slog.Logger

	ackTimeout    time.Duration
	acceptTimeout time.Duration // watchdog so a hung accept cannot wedge Accepting

	cmds      chan func()
	closed    chan struct{}
	closeOnce sync.Once

	// loop-owned state; touched only from the run goroutine
	current *ride.Offer
	state   ride.PresentationState
	epoch   uint64 // bumped on present/resolve; stale async completions bail
}

// New builds and starts a coordinator.
func New(session *driver.Session, backend Backend, channel Broadcaster, presenter Presenter, ackTimeout, acceptTimeout time.Duration, logger *slog.Logger) *Coordinator {
	c := &Coordinator{
		session:       session,
		backend:       backend,
		channel:       channel,
		presenter:     presenter,
		logger:        logger,
		ackTimeout:    ackTimeout,
		acceptTimeout: acceptTimeout,
		cmds:          make(chan func(), 32),
		closed:        make(chan struct{}),
		state:         ride.PresentationNone,
	}

	go c.run()

	return c
}

// Close stops the run loop.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *Coordinator) run() {
	for {
		select {
		case <-c.closed:
			return
		case cmd := <-c.cmds:
			cmd()
		}
	}
}

// post enqueues work onto the run loop; drops it if the coordinator closed.
func (c *Coordinator) post(fn func()) {
	select {
	case c.cmds <- fn:
	case <-c.closed:
	}
}

// call runs fn on the loop and waits for it, returning its error.
func (c *Coordinator) call(fn func() error) error {
	done := make(chan error, 1)
	c.post(func() { done <- fn() })
	select {
	case err := <-done:
		return err
	case <-c.closed:
		return errors.New("coordinator closed")
	}
}

// View is a copy of the loop state for diagnostics.
type View struct {
	State ride.PresentationState
	Offer *ride.Offer
}

// Snapshot returns the current presentation state and offer.
func (c *Coordinator) Snapshot() View {
	var view View
	_ = c.call(func() error {
		view.State = c.state
		if c.current != nil {
			copied := *c.current
			view.Offer = &copied
		}
		return nil
	})
	return view
}

// ---- inbound socket events (transport.Handler-compatible) ----

// HandleIncomingRide processes an inbound ride offer. Policy for an offer
// arriving while another is active: ignore the newcomer and keep the
// presented one (deterministic; the backend's own timeout reclaims it).
func (c *Coordinator) HandleIncomingRide(ctx context.Context, data json.RawMessage) {
	var payload contracts.IncomingRide
	if err := json.Unmarshal(data, &payload); err != nil {
		log.Error(ctx, c.logger, "offer_bad_payload", "Dropping unparseable ride offer", err)
		return
	}

	offer, err := ride.NewOffer(
		payload.RideID,
		ride.Stop{Latitude: payload.Pickup.Lat, Longitude: payload.Pickup.Lng, Address: payload.Pickup.Address},
		ride.Stop{Latitude: payload.Dropoff.Lat, Longitude: payload.Dropoff.Lng, Address: payload.Dropoff.Address},
		payload.EstimatedFare,
		payload.EstimatedDistance,
	)
	if err != nil {
		log.Error(ctx, c.logger, "offer_invalid", "Dropping invalid ride offer", err,
			"ride_id", payload.RideID)
		return
	}

	ctx = contextx.WithRideID(ctx, offer.ID)
	c.post(func() {
		if c.state.Active() {
			log.Info(ctx, c.logger, "offer_ignored", "Offer arrived while another is active; ignoring",
				"active_ride_id", c.current.ID, "ignored_ride_id", offer.ID)
			return
		}

		c.current = offer
		c.state = ride.PresentationPresented
		c.epoch++

		log.Info(ctx, c.logger, "offer_presented", "Ride offer surfaced to driver",
			"fare", offer.EstimatedFare, "trip_km", offer.TripKM())
		c.presenter.PresentOffer(ctx, offer)
	})
}

// HandleRideUpdate consumes an opaque status change. Updates for a ride the
// coordinator is not tracking are logged no-ops; inbound ordering is not
// guaranteed, so stale updates are expected.
func (c *Coordinator) HandleRideUpdate(ctx context.Context, data json.RawMessage) {
	var payload contracts.RideUpdate
	if err := json.Unmarshal(data, &payload); err != nil {
		log.Error(ctx, c.logger, "ride_update_bad_payload", "Dropping unparseable ride update", err)
		return
	}

	ctx = contextx.WithRideID(ctx, payload.RideID)
	c.post(func() {
		if c.current == nil || c.current.ID != payload.RideID {
			log.Debug(ctx, c.logger, "ride_update_stale", "Update for an untracked ride; ignoring",
				"status", payload.Status)
			return
		}
		log.Info(ctx, c.logger, "ride_update", "Ride status update received",
			"status", payload.Status)
	})
}

// HandleRideCancelled processes a counterpart cancellation. In Presented or
// Accepting this clears local state immediately and surfaces a notice
// distinct from a decline; a cancellation while an accept call is in flight
// wins, and the later accept completion is ignored.
func (c *Coordinator) HandleRideCancelled(ctx context.Context, data json.RawMessage) {
	var payload contracts.RideCancelled
	if err := json.Unmarshal(data, &payload); err != nil {
		log.Error(ctx, c.logger, "ride_cancel_bad_payload", "Dropping unparseable cancellation", err)
		return
	}

	ctx = contextx.WithRideID(ctx, payload.RideID)
	c.post(func() {
		if c.current == nil || c.current.ID != payload.RideID || !c.state.Active() {
			log.Debug(ctx, c.logger, "ride_cancel_stale", "Cancellation for an inactive ride; ignoring",
				"reason", payload.Reason)
			return
		}

		wasAccepting := c.state == ride.PresentationAccepting
		c.resolve()

		log.Info(ctx, c.logger, "offer_cancelled", "Counterpart cancelled the ride",
			"reason", payload.Reason, "accept_in_flight", wasAccepting)
		c.presenter.ClearOffer(ctx, payload.RideID, ride.ResolutionCancelledByCounterpart, payload.Reason)
	})
}

// HandleDisconnect clears any active offer after a transport drop; the
// backend re-offers or expires it server-side.
func (c *Coordinator) HandleDisconnect() {
	ctx := contextx.WithNewRequestID(context.Background())
	c.post(func() {
		if c.current == nil || !c.state.Active() {
			return
		}
		rideID := c.current.ID
		c.resolve()

		log.Info(ctx, c.logger, "offer_dropped_on_disconnect", "Active offer cleared after disconnect",
			"ride_id", rideID)
		c.presenter.ClearOffer(ctx, rideID, ride.ResolutionCancelledByCounterpart, "connection lost")
	})
}

// ---- driver actions ----

// Accept commits the acceptance of the presented offer. The REST call is
// the authoritative commit and runs off-loop bounded by the watchdog
// timeout; its completion is posted back onto the loop. Validation errors
// are returned synchronously; the final outcome reaches the Presenter.
func (c *Coordinator) Accept(ctx context.Context, rideID string) error {
	ctx = contextx.WithRideID(ctx, rideID)
	return c.call(func() error {
		switch {
		case c.current == nil || c.state == ride.PresentationNone:
			return ErrNoActiveOffer
		case c.current.ID != rideID:
			return ErrOfferMismatch
		case c.state == ride.PresentationAccepting:
			return ErrAcceptInFlight
		case c.state != ride.PresentationPresented:
			return ErrNoActiveOffer
		}

		c.state = ride.PresentationAccepting
		epoch := c.epoch

		log.Info(ctx, c.logger, "accept_started", "Accepting ride via REST")
		go c.commitAccept(ctx, rideID, epoch)
		return nil
	})
}

// commitAccept performs the bounded REST call and reports back to the loop.
func (c *Coordinator) commitAccept(ctx context.Context, rideID string, epoch uint64) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.acceptTimeout)
	defer cancel()

	err := c.backend.AcceptRide(callCtx, rideID)

	c.post(func() {
		if c.epoch != epoch || c.state != ride.PresentationAccepting {
			// the offer resolved while the call was in flight (counterpart
			// cancellation wins the race); never report Accepted here
			log.Info(ctx, c.logger, "accept_result_stale", "Accept completion after resolution; ignoring",
				"rest_error", err != nil)
			return
		}

		if err != nil {
			c.state = ride.PresentationPresented
			log.Error(ctx, c.logger, "accept_failed", "REST accept failed; offer stays presented", err)
			c.presenter.SurfaceError(ctx, rideID, err)
			return
		}

		// REST committed; the broadcast is a non-binding hint and cannot
		// change the outcome
		broadcast := contracts.RideAccepted{
			RideID:   rideID,
			DriverID: c.session.DriverID,
			UserID:   c.session.AccountID,
		}
		_ = c.channel.EmitWithAck(ctx, contracts.EventRideAccepted, broadcast, c.ackTimeout, true)

		c.resolve()
		log.Info(ctx, c.logger, "offer_accepted", "Ride accepted")
		c.presenter.OfferAccepted(ctx, rideID)
	})
}

// Decline rejects the presented offer. The offer is cleared locally even if
// the REST call fails; the backend's own timeout expires it server-side, and
// the driver must not stay stuck looking at a stale offer.
func (c *Coordinator) Decline(ctx context.Context, rideID, reason string) error {
	ctx = contextx.WithRideID(ctx, rideID)
	return c.call(func() error {
		switch {
		case c.current == nil || !c.state.Active():
			return ErrNoActiveOffer
		case c.current.ID != rideID:
			return ErrOfferMismatch
		case c.state == ride.PresentationAccepting:
			return ErrAcceptInFlight
		}

		c.resolve()

		log.Info(ctx, c.logger, "offer_declined", "Ride declined", "reason", reason)
		c.presenter.ClearOffer(ctx, rideID, ride.ResolutionDeclined, reason)

		go func() {
			callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.acceptTimeout)
			defer cancel()
			if err := c.backend.DeclineRide(callCtx, rideID, reason); err != nil {
				log.Error(ctx, c.logger, "decline_rest_failed", "REST decline failed; offer already cleared locally", err)
			}
		}()
		return nil
	})
}

// resolve clears the active offer and returns the machine to Idle. Must run
// on the loop.
func (c *Coordinator) resolve() {
	c.current = nil
	c.state = ride.PresentationNone
	c.epoch++
}
