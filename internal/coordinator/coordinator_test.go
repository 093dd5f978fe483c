package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ride-hail-driver/internal/domain/driver"
	"ride-hail-driver/internal/domain/ride"
	"ride-hail-driver/internal/general/contracts"
)

// mockBackend records accept/decline calls and can block the accept until
// released, to exercise the in-flight window.
type mockBackend struct {
	mu           sync.Mutex
	acceptCalls  []string
	declineCalls []string
	acceptErr    error
	acceptGate   chan struct{} // when set, AcceptRide blocks until closed
}

func (m *mockBackend) AcceptRide(ctx context.Context, rideID string) error {
	m.mu.Lock()
	m.acceptCalls = append(m.acceptCalls, rideID)
	gate := m.acceptGate
	err := m.acceptErr
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (m *mockBackend) DeclineRide(ctx context.Context, rideID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.declineCalls = append(m.declineCalls, rideID)
	return nil
}

func (m *mockBackend) accepts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.acceptCalls...)
}

func (m *mockBackend) declines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.declineCalls...)
}

type emission struct {
	event    string
	fallback bool
}

type mockBroadcaster struct {
	mu        sync.Mutex
	emissions []emission
}

func (m *mockBroadcaster) EmitWithAck(ctx context.Context, event string, payload any, timeout time.Duration, fallbackOnTimeout bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emissions = append(m.emissions, emission{event: event, fallback: fallbackOnTimeout})
	return nil
}

func (m *mockBroadcaster) emitted() []emission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]emission(nil), m.emissions...)
}

type clearedEvent struct {
	rideID     string
	resolution ride.Resolution
	reason     string
}

type recordingPresenter struct {
	mu        sync.Mutex
	presented []string
	cleared   []clearedEvent
	accepted  []string
	surfaced  []error
}

func (p *recordingPresenter) PresentOffer(_ context.Context, offer *ride.Offer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.presented = append(p.presented, offer.ID)
}

func (p *recordingPresenter) ClearOffer(_ context.Context, rideID string, resolution ride.Resolution, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleared = append(p.cleared, clearedEvent{rideID: rideID, resolution: resolution, reason: reason})
}

func (p *recordingPresenter) OfferAccepted(_ context.Context, rideID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accepted = append(p.accepted, rideID)
}

func (p *recordingPresenter) SurfaceError(_ context.Context, _ string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.surfaced = append(p.surfaced, err)
}

func (p *recordingPresenter) snapshot() (presented []string, cleared []clearedEvent, accepted []string, surfaced []error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.presented...),
		append([]clearedEvent(nil), p.cleared...),
		append([]string(nil), p.accepted...),
		append([]error(nil), p.surfaced...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCoordinator(t *testing.T, backend *mockBackend) (*Coordinator, *mockBroadcaster, *recordingPresenter) {
	t.Helper()
	session, err := driver.NewSession("driver-1", "account-1")
	require.NoError(t, err)

	channel := &mockBroadcaster{}
	presenter := &recordingPresenter{}
	coord := New(session, backend, channel, presenter, 50*time.Millisecond, time.Second, testLogger())
	t.Cleanup(coord.Close)
	return coord, channel, presenter
}

func offerPayload(t *testing.T, rideID string) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(contracts.IncomingRide{
		RideID:            rideID,
		Pickup:            contracts.GeoPoint{Lat: 51.1, Lng: 71.4},
		Dropoff:           contracts.GeoPoint{Lat: 51.2, Lng: 71.5},
		EstimatedFare:     12.5,
		EstimatedDistance: 3.4,
	})
	require.NoError(t, err)
	return data
}

func present(t *testing.T, coord *Coordinator, rideID string) {
	t.Helper()
	coord.HandleIncomingRide(context.Background(), offerPayload(t, rideID))
	require.Eventually(t, func() bool {
		return coord.Snapshot().State == ride.PresentationPresented
	}, time.Second, 5*time.Millisecond)
}

func TestOfferPresentedThenDeclined(t *testing.T) {
	backend := &mockBackend{}
	coord, _, presenter := newTestCoordinator(t, backend)

	present(t, coord, "ride-1")

	presented, _, _, _ := presenter.snapshot()
	require.Equal(t, []string{"ride-1"}, presented)

	require.NoError(t, coord.Decline(context.Background(), "ride-1", "too far"))

	view := coord.Snapshot()
	require.Equal(t, ride.PresentationNone, view.State)
	require.Nil(t, view.Offer)

	_, cleared, _, _ := presenter.snapshot()
	require.Len(t, cleared, 1)
	require.Equal(t, ride.ResolutionDeclined, cleared[0].resolution)
	require.Equal(t, "too far", cleared[0].reason)

	// the authoritative decline still reaches REST in the background
	require.Eventually(t, func() bool {
		return len(backend.declines()) == 1
	}, time.Second, 5*time.Millisecond)

	// declining again is an error: the machine is back to Idle
	require.ErrorIs(t, coord.Decline(context.Background(), "ride-1", ""), ErrNoActiveOffer)
}

func TestAcceptCommitsThenBroadcasts(t *testing.T) {
	backend := &mockBackend{}
	coord, channel, presenter := newTestCoordinator(t, backend)

	present(t, coord, "ride-2")
	require.NoError(t, coord.Accept(context.Background(), "ride-2"))

	require.Eventually(t, func() bool {
		_, _, accepted, _ := presenter.snapshot()
		return len(accepted) == 1
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, []string{"ride-2"}, backend.accepts())

	emissions := channel.emitted()
	require.Len(t, emissions, 1)
	require.Equal(t, contracts.EventRideAccepted, emissions[0].event)
	require.True(t, emissions[0].fallback)

	require.Equal(t, ride.PresentationNone, coord.Snapshot().State)
}

func TestAcceptValidation(t *testing.T) {
	backend := &mockBackend{acceptGate: make(chan struct{})}
	coord, _, _ := newTestCoordinator(t, backend)

	require.ErrorIs(t, coord.Accept(context.Background(), "ride-3"), ErrNoActiveOffer)

	present(t, coord, "ride-3")
	require.ErrorIs(t, coord.Accept(context.Background(), "other"), ErrOfferMismatch)

	require.NoError(t, coord.Accept(context.Background(), "ride-3"))
	require.ErrorIs(t, coord.Accept(context.Background(), "ride-3"), ErrAcceptInFlight)
	require.ErrorIs(t, coord.Decline(context.Background(), "ride-3", ""), ErrAcceptInFlight)

	close(backend.acceptGate)
}

func TestAcceptFailureKeepsOfferPresented(t *testing.T) {
	restErr := errors.New("backend rejected")
	backend := &mockBackend{acceptErr: restErr}
	coord, channel, presenter := newTestCoordinator(t, backend)

	present(t, coord, "ride-4")
	require.NoError(t, coord.Accept(context.Background(), "ride-4"))

	require.Eventually(t, func() bool {
		_, _, _, surfaced := presenter.snapshot()
		return len(surfaced) == 1
	}, time.Second, 5*time.Millisecond)

	_, _, accepted, surfaced := presenter.snapshot()
	require.Empty(t, accepted)
	require.ErrorIs(t, surfaced[0], restErr)
	require.Empty(t, channel.emitted())

	// the offer survives the failure and can still be declined
	require.Equal(t, ride.PresentationPresented, coord.Snapshot().State)
	require.NoError(t, coord.Decline(context.Background(), "ride-4", "gave up"))
}

func TestCancellationBeatsAcceptInFlight(t *testing.T) {
	backend := &mockBackend{acceptGate: make(chan struct{})}
	coord, _, presenter := newTestCoordinator(t, backend)

	present(t, coord, "ride-5")
	require.NoError(t, coord.Accept(context.Background(), "ride-5"))

	cancel, err := json.Marshal(contracts.RideCancelled{RideID: "ride-5", Reason: "passenger cancelled"})
	require.NoError(t, err)
	coord.HandleRideCancelled(context.Background(), cancel)

	require.Eventually(t, func() bool {
		_, cleared, _, _ := presenter.snapshot()
		return len(cleared) == 1
	}, time.Second, 5*time.Millisecond)

	// let the REST accept complete after the cancellation resolved the offer
	close(backend.acceptGate)

	// the stale completion must never surface as Accepted
	time.Sleep(100 * time.Millisecond)
	_, cleared, accepted, _ := presenter.snapshot()
	require.Empty(t, accepted)
	require.Equal(t, ride.ResolutionCancelledByCounterpart, cleared[0].resolution)
	require.Equal(t, ride.PresentationNone, coord.Snapshot().State)
}

func TestSecondOfferIgnoredWhileActive(t *testing.T) {
	backend := &mockBackend{}
	coord, _, presenter := newTestCoordinator(t, backend)

	present(t, coord, "ride-6")
	coord.HandleIncomingRide(context.Background(), offerPayload(t, "ride-7"))

	// still tracking the first offer
	require.Eventually(t, func() bool {
		view := coord.Snapshot()
		return view.Offer != nil && view.Offer.ID == "ride-6"
	}, time.Second, 5*time.Millisecond)

	presented, _, _, _ := presenter.snapshot()
	require.Equal(t, []string{"ride-6"}, presented)

	// once the first resolves, a new offer is presentable again
	require.NoError(t, coord.Decline(context.Background(), "ride-6", ""))
	present(t, coord, "ride-8")
}

func TestDisconnectClearsActiveOffer(t *testing.T) {
	backend := &mockBackend{}
	coord, _, presenter := newTestCoordinator(t, backend)

	present(t, coord, "ride-9")
	coord.HandleDisconnect()

	require.Eventually(t, func() bool {
		_, cleared, _, _ := presenter.snapshot()
		return len(cleared) == 1
	}, time.Second, 5*time.Millisecond)

	_, cleared, _, _ := presenter.snapshot()
	require.Equal(t, ride.ResolutionCancelledByCounterpart, cleared[0].resolution)
	require.Equal(t, ride.PresentationNone, coord.Snapshot().State)
	require.Empty(t, backend.declines())
}

func TestStaleRideUpdateIgnored(t *testing.T) {
	backend := &mockBackend{}
	coord, _, _ := newTestCoordinator(t, backend)

	update, err := json.Marshal(contracts.RideUpdate{RideID: "ghost", Status: "en_route"})
	require.NoError(t, err)
	coord.HandleRideUpdate(context.Background(), update)

	require.Equal(t, ride.PresentationNone, coord.Snapshot().State)
}
