package transport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"ride-hail-driver/internal/domain/driver"
	"ride-hail-driver/internal/general/contracts"
)

const testToken = "test-driver-token"

// fakeBackendServer is a minimal stand-in for the real-time backend: it
// performs the auth-first-frame exchange and records every envelope.
type fakeBackendServer struct {
	t       *testing.T
	ackAll  bool
	authOK  bool
	srv     *httptest.Server
	mu      sync.Mutex
	frames  []contracts.Envelope
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func newFakeBackend(t *testing.T, ackAll bool) *fakeBackendServer {
	t.Helper()
	f := &fakeBackendServer{t: t, ackAll: ackAll, authOK: true}
	upgrader := websocket.Upgrader{}

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		var auth contracts.AuthFrame
		if err := conn.ReadJSON(&auth); err != nil {
			_ = conn.Close()
			return
		}
		if auth.Type != "auth" || !strings.HasSuffix(auth.Token, testToken) || !f.authOK {
			f.write(conn, contracts.Envelope{Type: "auth_failed"})
			_ = conn.Close()
			return
		}
		f.write(conn, contracts.Envelope{Type: "auth_success"})

		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()

		for {
			var env contracts.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			f.mu.Lock()
			f.frames = append(f.frames, env)
			f.mu.Unlock()

			if f.ackAll && env.AckID != "" {
				f.write(conn, contracts.Envelope{Type: contracts.EventAck, AckID: env.AckID})
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeBackendServer) write(conn *websocket.Conn, env contracts.Envelope) {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	_ = conn.WriteJSON(env)
}

func (f *fakeBackendServer) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeBackendServer) received(event string) []contracts.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []contracts.Envelope
	for _, env := range f.frames {
		if env.Type == event {
			out = append(out, env)
		}
	}
	return out
}

// sendEvent pushes a server-initiated event down the open connection.
func (f *fakeBackendServer) sendEvent(env contracts.Envelope) {
	var conn *websocket.Conn
	require.Eventually(f.t, func() bool {
		f.mu.Lock()
		conn = f.conn
		f.mu.Unlock()
		return conn != nil
	}, time.Second, 5*time.Millisecond)
	f.write(conn, env)
}

func (f *fakeBackendServer) dropConnection() {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func newTestChannel(t *testing.T, url string) *Channel {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ch := NewChannel(url, testToken, Identity{DriverID: "driver-1", AccountID: "account-1"},
		time.Minute, logger)
	t.Cleanup(ch.Close)
	return ch
}

func TestConnectAuthAndAnnounce(t *testing.T) {
	backend := newFakeBackend(t, true)
	ch := newTestChannel(t, backend.url())

	require.NoError(t, ch.Connect(context.Background(), nil, time.Second))
	require.Equal(t, driver.ConnConnected, ch.State())

	// the presence announcement goes out with an ack id and resolves
	require.Eventually(t, func() bool {
		return len(backend.received(contracts.EventDriverConnect)) == 1
	}, time.Second, 5*time.Millisecond)
	require.NotEmpty(t, backend.received(contracts.EventDriverConnect)[0].AckID)

	require.Eventually(t, func() bool {
		return ch.PendingAcks() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestAuthRejected(t *testing.T) {
	backend := newFakeBackend(t, true)
	backend.authOK = false
	ch := newTestChannel(t, backend.url())

	err := ch.Connect(context.Background(), nil, time.Second)
	require.ErrorIs(t, err, ErrAuthRejected)
	require.Equal(t, driver.ConnDisconnected, ch.State())
}

func TestEmitWithAckFallsBackExactlyOnce(t *testing.T) {
	backend := newFakeBackend(t, false) // never acks
	ch := newTestChannel(t, backend.url())
	require.NoError(t, ch.Connect(context.Background(), nil, 50*time.Millisecond))

	require.NoError(t, ch.EmitWithAck(context.Background(), contracts.EventDriverStatus,
		contracts.DriverStatus{DriverID: "driver-1", IsAvailable: true}, 50*time.Millisecond, true))

	// original emission plus one fallback re-emission, then silence
	require.Eventually(t, func() bool {
		return len(backend.received(contracts.EventDriverStatus)) == 2
	}, time.Second, 5*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	frames := backend.received(contracts.EventDriverStatus)
	require.Len(t, frames, 2)
	require.NotEmpty(t, frames[0].AckID)
	require.Empty(t, frames[1].AckID) // the fallback is not tracked again
	require.Equal(t, 0, ch.PendingAcks())
}

func TestNoFallbackWhenNotRequested(t *testing.T) {
	backend := newFakeBackend(t, false)
	ch := newTestChannel(t, backend.url())
	require.NoError(t, ch.Connect(context.Background(), nil, 50*time.Millisecond))

	require.NoError(t, ch.EmitWithAck(context.Background(), contracts.EventDriverLocation,
		contracts.DriverLocation{DriverID: "driver-1"}, 50*time.Millisecond, false))

	time.Sleep(200 * time.Millisecond)
	require.Len(t, backend.received(contracts.EventDriverLocation), 1)
	require.Equal(t, 0, ch.PendingAcks())
}

func TestLateAckAfterFallbackIsNoOp(t *testing.T) {
	backend := newFakeBackend(t, false)
	ch := newTestChannel(t, backend.url())
	require.NoError(t, ch.Connect(context.Background(), nil, 50*time.Millisecond))

	require.NoError(t, ch.EmitWithAck(context.Background(), contracts.EventDriverStatus,
		contracts.DriverStatus{DriverID: "driver-1"}, 50*time.Millisecond, true))

	require.Eventually(t, func() bool {
		return len(backend.received(contracts.EventDriverStatus)) == 2
	}, time.Second, 5*time.Millisecond)

	// ack the original emission long after the fallback already fired
	ackID := backend.received(contracts.EventDriverStatus)[0].AckID
	backend.sendEvent(contracts.Envelope{Type: contracts.EventAck, AckID: ackID})

	time.Sleep(100 * time.Millisecond)
	require.Len(t, backend.received(contracts.EventDriverStatus), 2)
	require.Equal(t, driver.ConnConnected, ch.State())
}

func TestImmediateAcksStopTimersCleanly(t *testing.T) {
	backend := newFakeBackend(t, true) // acks every frame as fast as it can
	ch := newTestChannel(t, backend.url())
	require.NoError(t, ch.Connect(context.Background(), nil, time.Second))

	// each ack races the fallback timer on the read-loop goroutine
	for i := 0; i < 50; i++ {
		require.NoError(t, ch.EmitWithAck(context.Background(), contracts.EventDriverStatus,
			contracts.DriverStatus{DriverID: "driver-1", IsAvailable: true}, 100*time.Millisecond, true))
	}

	require.Eventually(t, func() bool {
		return ch.PendingAcks() == 0
	}, 2*time.Second, 5*time.Millisecond)

	// every emission was acked, so no fallback re-emission ever fires
	time.Sleep(200 * time.Millisecond)
	require.Len(t, backend.received(contracts.EventDriverStatus), 50)
}

func TestInboundEventsReachSubscribers(t *testing.T) {
	backend := newFakeBackend(t, true)
	ch := newTestChannel(t, backend.url())

	got := make(chan string, 1)
	ch.Subscribe(contracts.EventIncomingRide, func(ctx context.Context, data json.RawMessage) {
		got <- string(data)
	})

	require.NoError(t, ch.Connect(context.Background(), nil, time.Second))
	backend.sendEvent(contracts.Envelope{Type: contracts.EventIncomingRide, Data: []byte(`{"ride_id":"r-1"}`)})

	select {
	case data := <-got:
		require.Contains(t, data, "r-1")
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the event")
	}
}

func TestDisconnectAbandonsPendingAcks(t *testing.T) {
	backend := newFakeBackend(t, false)
	ch := newTestChannel(t, backend.url())

	dropped := make(chan struct{}, 1)
	ch.OnDisconnect(func() { dropped <- struct{}{} })

	require.NoError(t, ch.Connect(context.Background(), nil, time.Second))
	require.NoError(t, ch.EmitWithAck(context.Background(), contracts.EventDriverStatus,
		contracts.DriverStatus{DriverID: "driver-1"}, 10*time.Second, true))
	require.Equal(t, 1, ch.PendingAcks())

	backend.dropConnection()

	select {
	case <-dropped:
	case <-time.After(time.Second):
		t.Fatal("disconnect callback never fired")
	}
	require.Equal(t, 0, ch.PendingAcks())
	require.Equal(t, driver.ConnDisconnected, ch.State())

	// emitting on a dead channel fails fast instead of hanging
	err := ch.EmitWithAck(context.Background(), contracts.EventDriverStatus, nil, time.Second, false)
	require.ErrorIs(t, err, ErrNotConnected)
}
