package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"ride-hail-driver/internal/common/contextx"
	"ride-hail-driver/internal/common/log"
	"ride-hail-driver/internal/domain/driver"
	"ride-hail-driver/internal/general/contracts"
)

const (
	authWindow     = 5 * time.Second
	pongWait       = 60 * time.Second
	writeWait      = 5 * time.Second
	maxFrameSize   = 1 << 20 // 1 MiB
	dispatchBuffer = 64
)

var (
	ErrNotConnected = errors.New("transport: channel is not connected")
	ErrAuthRejected = errors.New("transport: server rejected authentication")
	ErrClosed       = errors.New("transport: channel closed")
)

// Handler consumes one inbound event payload. Handlers for all events run on
// a single dispatcher goroutine, so they never observe each other mid-flight.
type Handler func(ctx context.Context, data json.RawMessage)

// Identity is the pair of ids the backend needs on every emission.
type Identity struct {
	DriverID  string
	AccountID string
}

// Channel owns the one persistent socket connection to the backend and the
// emit / emit-with-acknowledgment primitives on top of it.
type Channel struct {
	url          string
	token        string
	identity     Identity
	pingInterval time.Duration
	logger       *slog.Logger
	dialer       *websocket.Dialer

	mu      sync.Mutex // guards conn, state, pending, gen
	conn    *websocket.Conn
	state   driver.ConnectionState
	pending map[string]*pendingAck
	gen     uint64 // connection generation; stale readers/pingers bail out

	writeMu sync.Mutex

	handlerMu    sync.RWMutex
	handlers     map[string][]Handler
	onDisconnect func()

	events    chan contracts.Envelope
	closeOnce sync.Once
	closed    chan struct{}
}

// NewChannel builds a disconnected channel. Call Connect to bring it up.
func NewChannel(url, token string, identity Identity, pingInterval time.Duration, logger *slog.Logger) *Channel {
	ch := &Channel{
		url:          url,
		token:        token,
		identity:     identity,
		pingInterval: pingInterval,
		logger:       logger,
		dialer:       &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		state:        driver.ConnDisconnected,
		pending:      make(map[string]*pendingAck),
		handlers:     make(map[string][]Handler),
		events:       make(chan contracts.Envelope, dispatchBuffer),
		closed:       make(chan struct{}),
	}

	go ch.dispatchLoop()

	return ch
}

// Subscribe registers a handler for an inbound event type. Must be called
// before Connect; the registry is not protected against concurrent Connect.
func (c *Channel) Subscribe(event string, h Handler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
}

// OnDisconnect registers a callback invoked after a transport-level drop.
func (c *Channel) OnDisconnect(fn func()) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onDisconnect = fn
}

// State returns the current connection lifecycle state.
func (c *Channel) State() driver.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PendingAcks reports how many emissions are still awaiting acknowledgment.
func (c *Channel) PendingAcks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Connect is idempotent: on an already-connected channel it only re-announces
// presence. Otherwise it dials, authenticates, starts the read/ping loops and
// joins the driver's room via the driver:connect announcement.
func (c *Channel) Connect(ctx context.Context, loc *contracts.LocationStamp, ackTimeout time.Duration) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	c.mu.Lock()
	if c.state == driver.ConnConnected {
		c.mu.Unlock()
		log.Debug(ctx, c.logger, "ws_reannounce", "Channel already connected; re-announcing presence")
		return c.announce(ctx, loc, ackTimeout)
	}
	if c.state == driver.ConnConnecting {
		c.mu.Unlock()
		return errors.New("transport: connect already in progress")
	}
	c.state = driver.ConnConnecting
	c.mu.Unlock()

	conn, err := c.dialAndAuth(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = driver.ConnDisconnected
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.state = driver.ConnConnected
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	go c.readLoop(conn, gen)
	go c.pingLoop(conn, gen)

	log.Info(ctx, c.logger, "ws_connected", "Socket channel connected",
		"driver_id", c.identity.DriverID)

	return c.announce(ctx, loc, ackTimeout)
}

// dialAndAuth upgrades the connection and performs the auth-first-frame
// exchange the backend requires.
func (c *Channel) dialAndAuth(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport dial: %w", err)
	}

	conn.SetReadLimit(maxFrameSize)

	auth := contracts.AuthFrame{Type: "auth", Token: "Bearer " + c.token}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(auth); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("transport auth write: %w", err)
	}

	// the server must confirm auth within the window
	_ = conn.SetReadDeadline(time.Now().Add(authWindow))
	var reply contracts.Envelope
	if err := conn.ReadJSON(&reply); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("transport auth read: %w", err)
	}
	if reply.Type != "auth_success" {
		_ = conn.Close()
		return nil, ErrAuthRejected
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(_ string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	return conn, nil
}

// announce joins the (driver, role) room so offers reach this client.
func (c *Channel) announce(ctx context.Context, loc *contracts.LocationStamp, ackTimeout time.Duration) error {
	payload := contracts.DriverConnect{
		DriverID: c.identity.DriverID,
		UserID:   c.identity.AccountID,
		Role:     "driver",
		Location: loc,
	}
	return c.EmitWithAck(ctx, contracts.EventDriverConnect, payload, ackTimeout, true)
}

// Emit sends a fire-and-forget event. Network failures degrade to a logged
// outcome; the returned error lets callers decide whether to retry later.
func (c *Channel) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("transport encode %s: %w", event, err)
	}
	if err := c.writeEnvelope(contracts.Envelope{Type: event, Data: data}); err != nil {
		log.Error(context.Background(), c.logger, "ws_emit_failed", "Fire-and-forget emit failed", err,
			"event", event)
		return err
	}
	return nil
}

// EmitWithAck sends an event that expects a backend acknowledgment. If the
// ack does not arrive within timeout and fallbackOnTimeout is set, the same
// payload is re-emitted once without ack tracking; this is a best-effort
// degrade path, never a retry loop, so the backend cannot observe duplicate
// side effects from one logical emission.
func (c *Channel) EmitWithAck(ctx context.Context, event string, payload any, timeout time.Duration, fallbackOnTimeout bool) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("transport encode %s: %w", event, err)
	}

	ackID := uuid.NewString()
	record := &pendingAck{
		event:    event,
		payload:  data,
		issuedAt: time.Now().UTC(),
		timeout:  timeout,
		fallback: fallbackOnTimeout,
	}
	// armed before the record is published to the registry; the read loop
	// may observe the record the instant it lands in c.pending
	record.timer = time.AfterFunc(timeout, func() {
		c.ackTimedOut(ackID, record)
	})

	c.mu.Lock()
	if c.state != driver.ConnConnected {
		c.mu.Unlock()
		record.abandon()
		log.Error(ctx, c.logger, "ws_emit_skipped", "Emit with ack on a disconnected channel", ErrNotConnected,
			"event", event)
		return ErrNotConnected
	}
	c.pending[ackID] = record
	c.mu.Unlock()

	if err := c.writeEnvelope(contracts.Envelope{Type: event, AckID: ackID, Data: data}); err != nil {
		c.dropPending(ackID)
		record.abandon()
		log.Error(ctx, c.logger, "ws_emit_failed", "Emit with ack failed at write", err,
			"event", event, "ack_id", ackID)
		return err
	}

	log.Debug(ctx, c.logger, "ws_emitted", "Event emitted awaiting ack",
		"event", event, "ack_id", ackID, "timeout_ms", timeout.Milliseconds(), "fallback", fallbackOnTimeout)

	return nil
}

// ackTimedOut fires when the ack window elapses. The settle CAS guarantees
// the fallback re-emission happens at most once per logical emission.
func (c *Channel) ackTimedOut(ackID string, record *pendingAck) {
	if !record.settle() {
		return // ack won the race
	}
	c.dropPending(ackID)

	ctx := context.Background()
	if !record.fallback {
		log.Info(ctx, c.logger, "ws_ack_timeout", "Ack window elapsed; dropping emission",
			"event", record.event, "ack_id", ackID)
		return
	}

	log.Info(ctx, c.logger, "ws_ack_fallback", "Ack window elapsed; re-emitting without ack tracking",
		"event", record.event, "ack_id", ackID)
	if err := c.writeEnvelope(contracts.Envelope{Type: record.event, Data: record.payload}); err != nil {
		log.Error(ctx, c.logger, "ws_fallback_failed", "Fallback re-emission failed", err,
			"event", record.event, "ack_id", ackID)
	}
}

// handleAck resolves the pending record for an inbound ack frame. A late ack
// after the timeout fallback is a logged no-op, not a second side effect.
func (c *Channel) handleAck(env contracts.Envelope) {
	c.mu.Lock()
	record, ok := c.pending[env.AckID]
	if ok {
		delete(c.pending, env.AckID)
	}
	c.mu.Unlock()

	ctx := context.Background()
	if !ok || !record.settle() {
		log.Debug(ctx, c.logger, "ws_ack_late", "Ignoring ack for an already-settled emission",
			"ack_id", env.AckID)
		return
	}
	if record.timer != nil {
		record.timer.Stop()
	}

	log.Debug(ctx, c.logger, "ws_ack_applied", "Ack received",
		"event", record.event, "ack_id", env.AckID,
		"latency_ms", time.Since(record.issuedAt).Milliseconds())
}

func (c *Channel) dropPending(ackID string) {
	c.mu.Lock()
	delete(c.pending, ackID)
	c.mu.Unlock()
}

// writeEnvelope serializes writes; gorilla connections allow one writer.
func (c *Channel) writeEnvelope(env contracts.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if conn == nil || state != driver.ConnConnected {
		return ErrNotConnected
	}

	frame, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// readLoop pulls frames until the transport drops, routing acks to the
// pending registry and everything else to the dispatcher.
func (c *Channel) readLoop(conn *websocket.Conn, gen uint64) {
	ctx := contextx.WithNewRequestID(context.Background())
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error(ctx, c.logger, "ws_unexpected_close", "Socket closed unexpectedly", err)
			} else {
				log.Info(ctx, c.logger, "ws_connection_closed", "Socket closed")
			}
			c.markDisconnected(gen)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var env contracts.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			log.Error(ctx, c.logger, "ws_bad_frame", "Dropping unparseable frame", err,
				"size", len(payload))
			continue
		}

		if env.Type == contracts.EventAck {
			c.handleAck(env)
			continue
		}

		select {
		case c.events <- env:
		case <-c.closed:
			return
		}
	}
}

// pingLoop keeps the connection alive; a failed ping closes the socket,
// which unblocks the read loop and triggers the disconnect path.
func (c *Channel) pingLoop(conn *websocket.Conn, gen uint64) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			if c.currentGen() != gen {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *Channel) currentGen() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// markDisconnected transitions to Disconnected and abandons every pending
// acknowledgment so no callback can fire on a stale ack after reconnection.
func (c *Channel) markDisconnected(gen uint64) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return // a newer connection already took over
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state = driver.ConnDisconnected
	abandoned := c.pending
	c.pending = make(map[string]*pendingAck)
	c.mu.Unlock()

	for _, record := range abandoned {
		record.abandon()
	}

	log.Info(context.Background(), c.logger, "ws_disconnected", "Channel disconnected; pending acks cleared",
		"abandoned", len(abandoned))

	c.handlerMu.RLock()
	notify := c.onDisconnect
	c.handlerMu.RUnlock()
	if notify != nil {
		notify()
	}
}

// dispatchLoop serializes all inbound event handling on one goroutine.
func (c *Channel) dispatchLoop() {
	for {
		select {
		case <-c.closed:
			return
		case env := <-c.events:
			ctx := contextx.WithNewRequestID(context.Background())

			c.handlerMu.RLock()
			handlers := c.handlers[env.Type]
			c.handlerMu.RUnlock()

			if len(handlers) == 0 {
				log.Debug(ctx, c.logger, "ws_unhandled_event", "No handler for inbound event",
					"event", env.Type)
				continue
			}
			for _, h := range handlers {
				h(ctx, env.Data)
			}
		}
	}
}

// Close tears the channel down for good.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		gen := c.gen
		c.mu.Unlock()
		c.markDisconnected(gen)
	})
}
