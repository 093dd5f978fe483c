package transport

import (
	"encoding/json"
	"sync/atomic"
	"time"
)

// pendingAck is the bookkeeping for a single emission awaiting confirmation.
// Owned exclusively by the Channel; settled exactly once, so a late ack after
// the timeout fallback (or after a disconnect) can never trigger a second
// side effect.
type pendingAck struct {
	event    string
	payload  json.RawMessage
	issuedAt time.Time
	timeout  time.Duration
	fallback bool

	timer   *time.Timer
	settled atomic.Bool
}

// settle claims the pending record. Only the first caller wins; every
// subsequent path (late ack, racing timer, disconnect sweep) is a no-op.
func (p *pendingAck) settle() bool {
	return p.settled.CompareAndSwap(false, true)
}

// abandon settles the record and stops its timer without any callback.
func (p *pendingAck) abandon() {
	p.settle()
	if p.timer != nil {
		p.timer.Stop()
	}
}
