package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the state of the circuit breaker.
type State int

const (
	// Closed is the initial state where calls are allowed.
	Closed State = iota
	// Open means the circuit has tripped and calls fail fast.
	Open
	// HalfOpen lets a single trial call through to probe recovery.
	HalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case Closed:
		return "Closed"
	case Open:
		return "Open"
	case HalfOpen:
		return "Half-Open"
	default:
		return "Unknown"
	}
}

// ErrCircuitOpen is returned when the breaker rejects a call without running it.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Settings configures a Breaker.
type Settings struct {
	FailureThreshold uint32        // consecutive failures that open the circuit
	SuccessThreshold uint32        // consecutive half-open successes that close it again
	Timeout          time.Duration // how long the circuit stays open
	Now              func() time.Time
}

// Breaker guards calls to an unreliable dependency.
type Breaker struct {
	settings  Settings
	mutex     sync.Mutex
	state     State
	failures  uint32
	successes uint32
	openedAt  time.Time
	probing   bool // a half-open trial call is in flight
}

// New creates a Breaker. Zero thresholds default to 5 failures and 1 success.
func New(settings Settings) *Breaker {
	if settings.FailureThreshold == 0 {
		settings.FailureThreshold = 5
	}
	if settings.SuccessThreshold == 0 {
		settings.SuccessThreshold = 1
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 30 * time.Second
	}
	if settings.Now == nil {
		settings.Now = time.Now
	}
	return &Breaker{settings: settings}
}

// State returns the current state, moving Open to HalfOpen once the timeout has elapsed.
func (b *Breaker) State() State {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.refresh()
	return b.state
}

// Do runs fn under the breaker and returns its result.
func Do[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	if err := b.acquire(); err != nil {
		return zero, err
	}
	res, err := fn()
	b.record(err)
	if err != nil {
		return zero, err
	}
	return res, nil
}

// Execute is the non-generic form of Do.
func (b *Breaker) Execute(fn func() error) error {
	_, err := Do(b, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

func (b *Breaker) acquire() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.refresh()
	switch b.state {
	case Open:
		return ErrCircuitOpen
	case HalfOpen:
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.state == HalfOpen {
		b.probing = false
		if err != nil {
			b.trip()
			return
		}
		b.successes++
		if b.successes >= b.settings.SuccessThreshold {
			b.state = Closed
			b.failures = 0
			b.successes = 0
		}
		return
	}

	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.settings.FailureThreshold {
		b.trip()
	}
}

// refresh must be called with the mutex held.
func (b *Breaker) refresh() {
	if b.state == Open && b.settings.Now().Sub(b.openedAt) >= b.settings.Timeout {
		b.state = HalfOpen
		b.successes = 0
		b.probing = false
	}
}

func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = b.settings.Now()
	b.failures = 0
	b.successes = 0
}
