package driver

import (
	"errors"
	"strings"
	"sync"
	"time"

	"ride-hail-driver/internal/domain/geo"
)

// Session is the live state of the authenticated driver actor.
//
// The backend keys sockets by driver (profile) id but auth by account id,
// so both identifiers travel together. Mutation is confined to the Status
// Synchronizer and the Ride Lifecycle Coordinator; the internal mutex makes
// that safe across their goroutines.
type Session struct {
	DriverID  string
	AccountID string
	StartedAt time.Time

	mu           sync.RWMutex
	availability Availability
	connection   ConnectionState
	lastPosition *geo.Position
}

var (
	ErrDriverIDRequired  = errors.New("driver id is required")
	ErrAccountIDRequired = errors.New("account id is required")
)

// NewSession creates a session for a freshly logged-in driver.
// Availability defaults to Offline until the app reaches foreground
// and a position is known.
func NewSession(driverID, accountID string) (*Session, error) {
	if driverID = strings.TrimSpace(driverID); driverID == "" {
		return nil, ErrDriverIDRequired
	}
	if accountID = strings.TrimSpace(accountID); accountID == "" {
		return nil, ErrAccountIDRequired
	}

	return &Session{
		DriverID:     driverID,
		AccountID:    accountID,
		StartedAt:    time.Now().UTC(),
		availability: AvailabilityOffline,
		connection:   ConnDisconnected,
	}, nil
}

// Availability returns the current availability.
func (session *Session) Availability() Availability {
	session.mu.RLock()
	defer session.mu.RUnlock()
	return session.availability
}

// SetAvailability records a new availability and reports whether it changed.
func (session *Session) SetAvailability(availability Availability) bool {
	session.mu.Lock()
	defer session.mu.Unlock()
	if session.availability == availability {
		return false
	}
	session.availability = availability
	return true
}

// ConnectionState returns the current socket lifecycle state.
func (session *Session) ConnectionState() ConnectionState {
	session.mu.RLock()
	defer session.mu.RUnlock()
	return session.connection
}

// SetConnectionState records the socket lifecycle state.
func (session *Session) SetConnectionState(state ConnectionState) {
	session.mu.Lock()
	defer session.mu.Unlock()
	session.connection = state
}

// LastPosition returns the last known position, if any.
func (session *Session) LastPosition() (geo.Position, bool) {
	session.mu.RLock()
	defer session.mu.RUnlock()
	if session.lastPosition == nil {
		return geo.Position{}, false
	}
	return *session.lastPosition, true
}

// SetLastPosition records the last known position.
func (session *Session) SetLastPosition(pos geo.Position) {
	session.mu.Lock()
	defer session.mu.Unlock()
	copied := pos
	session.lastPosition = &copied
}

// Snapshot is an immutable copy of the session state, safe to serialize.
type Snapshot struct {
	DriverID     string
	AccountID    string
	Availability Availability
	Connection   ConnectionState
	Position     *geo.Position
	TakenAt      time.Time
}

// Snapshot copies the current state under the lock.
func (session *Session) Snapshot() Snapshot {
	session.mu.RLock()
	defer session.mu.RUnlock()

	snap := Snapshot{
		DriverID:     session.DriverID,
		AccountID:    session.AccountID,
		Availability: session.availability,
		Connection:   session.connection,
		TakenAt:      time.Now().UTC(),
	}
	if session.lastPosition != nil {
		copied := *session.lastPosition
		snap.Position = &copied
	}
	return snap
}
