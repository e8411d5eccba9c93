// Package circuitbreaker tracks upstream health per service and sheds
// traffic while a service is failing. State can be mirrored to the shared
// store so gateway instances agree on open circuits.
package circuitbreaker

import (
	"sync"
	"time"
)

// State is the circuit state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config holds per-service breaker settings.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit from CLOSED.
	FailureThreshold int

	// ResetTimeout is how long an open circuit rejects traffic before a
	// probe is admitted.
	ResetTimeout time.Duration

	// SuccessesBeforeReset is how much one success shrinks the failure
	// count while CLOSED. Zero means 1.
	SuccessesBeforeReset int

	// Distributed mirrors state to the shared store.
	Distributed bool
}

func (c Config) normalized() Config {
	if c.SuccessesBeforeReset <= 0 {
		c.SuccessesBeforeReset = 1
	}
	return c
}

// Snapshot is a point-in-time copy of breaker state, used for the store
// mirror and for health reporting.
type Snapshot struct {
	State       State
	Failures    int
	LastFailure time.Time
	NextAttempt time.Time
}

// Transition records a state change produced by a breaker operation.
type Transition struct {
	From State
	To   State
}

// Breaker is the state machine for one upstream service. All methods are
// safe for concurrent use; mutating methods return the post-operation
// snapshot taken under the same lock, plus the transition if one occurred.
type Breaker struct {
	mu  sync.Mutex
	cfg Config

	state       State
	failures    int
	lastFailure time.Time
	nextAttempt time.Time

	// probeInFlight gates HALF_OPEN to a single concurrent probe.
	probeInFlight bool

	nowFn func() time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg Config) *Breaker {
	return &Breaker{
		cfg:   cfg.normalized(),
		state: StateClosed,
		nowFn: time.Now,
	}
}

// Config returns the breaker settings.
func (b *Breaker) Config() Config {
	return b.cfg
}

// SetNow overrides the clock, for tests.
func (b *Breaker) SetNow(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nowFn = now
}

// IsAllowed reports whether a request may pass. While OPEN, the first call
// at or after the reset deadline flips the circuit to HALF_OPEN and is
// admitted as the probe; concurrent callers keep being rejected until the
// probe resolves.
func (b *Breaker) IsAllowed() (bool, Snapshot, *Transition) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true, b.snapshotLocked(), nil
	case StateOpen:
		if b.nowFn().Before(b.nextAttempt) {
			return false, b.snapshotLocked(), nil
		}
		trans := b.transitionLocked(StateHalfOpen)
		b.probeInFlight = true
		return true, b.snapshotLocked(), trans
	case StateHalfOpen:
		if b.probeInFlight {
			return false, b.snapshotLocked(), nil
		}
		b.probeInFlight = true
		return true, b.snapshotLocked(), nil
	}
	return false, b.snapshotLocked(), nil
}

// RecordSuccess applies a successful upstream outcome.
func (b *Breaker) RecordSuccess() (Snapshot, *Transition) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var trans *Transition
	switch b.state {
	case StateClosed:
		b.failures -= b.cfg.SuccessesBeforeReset
		if b.failures < 0 {
			b.failures = 0
		}
	case StateHalfOpen:
		b.probeInFlight = false
		trans = b.transitionLocked(StateClosed)
	case StateOpen:
		// Late result from a request admitted before the circuit opened.
	}
	return b.snapshotLocked(), trans
}

// RecordFailure applies a failed upstream outcome.
func (b *Breaker) RecordFailure() (Snapshot, *Transition) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.nowFn()
	b.lastFailure = now

	var trans *Transition
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			trans = b.transitionLocked(StateOpen)
			b.nextAttempt = now.Add(b.cfg.ResetTimeout)
		}
	case StateHalfOpen:
		b.probeInFlight = false
		trans = b.transitionLocked(StateOpen)
		b.nextAttempt = now.Add(b.cfg.ResetTimeout)
	case StateOpen:
	}
	return b.snapshotLocked(), trans
}

// Reset forces the breaker back to CLOSED with a clean failure count.
func (b *Breaker) Reset() (Snapshot, *Transition) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var trans *Transition
	if b.state != StateClosed {
		trans = b.transitionLocked(StateClosed)
	} else {
		b.failures = 0
	}
	return b.snapshotLocked(), trans
}

// Snapshot returns the current state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

// Restore overwrites local state from a store mirror snapshot.
func (b *Breaker) Restore(snap Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = snap.State
	b.failures = snap.Failures
	b.lastFailure = snap.LastFailure
	b.nextAttempt = snap.NextAttempt
	b.probeInFlight = false
}

func (b *Breaker) transitionLocked(to State) *Transition {
	from := b.state
	b.state = to
	if to == StateClosed {
		b.failures = 0
		b.nextAttempt = time.Time{}
	}
	return &Transition{From: from, To: to}
}

func (b *Breaker) snapshotLocked() Snapshot {
	return Snapshot{
		State:       b.state,
		Failures:    b.failures,
		LastFailure: b.lastFailure,
		NextAttempt: b.nextAttempt,
	}
}
