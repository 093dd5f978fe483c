package telemetry

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ride-hail-driver/internal/domain/driver"
	"ride-hail-driver/internal/domain/geo"
)

func newDisconnectedClient() *Client {
	return &Client{
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		logCtx:    context.Background(),
		closed:    make(chan struct{}),
		reconnect: make(chan struct{}, 1),
	}
}

func TestPublishFailsFastWhenDisconnected(t *testing.T) {
	client := newDisconnectedClient()

	err := client.PublishMessage("driver_topic", "driver.status.driver-1", []byte(`{}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "connection is not open")
}

func TestConcurrentPublishesReturn(t *testing.T) {
	client := newDisconnectedClient()

	// publishes snapshot the session under the serialization lock; none may
	// block the others
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = client.PublishMessage("location_fanout", "", []byte(`{}`))
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publishes did not return")
	}
}

func TestMirrorSwallowsPublishFailure(t *testing.T) {
	pub := NewPublisher(newDisconnectedClient(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	// best-effort: a dead backplane must never surface into the caller
	pub.MirrorStatus(context.Background(), "driver-1", driver.AvailabilityAvailable, time.Now().UTC())
	pub.MirrorLocation(context.Background(), "driver-1", geo.Position{
		Latitude:  51.16,
		Longitude: 71.47,
		Timestamp: time.Now().UTC(),
	})
}
