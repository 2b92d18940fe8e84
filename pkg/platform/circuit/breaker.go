// Package circuit provides a two-state circuit breaker for stores that can
// fall back to a degraded path, such as a shared consent store backed by the
// visitor's cookie.
package circuit

import "sync"

type State int

const (
	// StateClosed routes calls to the primary backend.
	StateClosed State = iota
	// StateOpen routes calls to the fallback until the primary recovers.
	StateOpen
)

// StateChange reports a transition caused by the last recorded result.
type StateChange struct {
	Opened bool
	Closed bool
}

// Breaker opens after failureThreshold consecutive failures and closes again
// after successThreshold consecutive successes.
type Breaker struct {
	mu               sync.Mutex
	state            State
	name             string
	failureCount     int
	successCount     int
	failureThreshold int
	successThreshold int
	onChange         func(name string, change StateChange)
}

type Option func(*Breaker)

// WithOnChange registers fn to run after the circuit opens or closes. It is
// called without the breaker's lock held.
func WithOnChange(fn func(name string, change StateChange)) Option {
	return func(b *Breaker) {
		b.onChange = fn
	}
}

// WithFailureThreshold sets the consecutive failures that open the circuit. Default 5.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithSuccessThreshold sets the consecutive successes that close it again. Default 3.
func WithSuccessThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.successThreshold = n
		}
	}
}

func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		state:            StateClosed,
		failureThreshold: 5,
		successThreshold: 3,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *Breaker) Name() string {
	return b.name
}

func (b *Breaker) IsOpen() bool {
	return b.State() == StateOpen
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// RecordFailure counts a failed primary call. useFallback is true while the
// circuit is open, including the call that opened it.
func (b *Breaker) RecordFailure() (useFallback bool, change StateChange) {
	b.mu.Lock()
	b.failureCount++
	b.successCount = 0
	if b.state == StateClosed && b.failureCount >= b.failureThreshold {
		b.state = StateOpen
		change.Opened = true
	}
	useFallback = b.state == StateOpen
	b.mu.Unlock()

	b.notify(change)
	return useFallback, change
}

// RecordSuccess counts a successful primary call. usePrimary is false until
// enough successes have closed an open circuit.
func (b *Breaker) RecordSuccess() (usePrimary bool, change StateChange) {
	b.mu.Lock()
	if b.state == StateOpen {
		b.successCount++
		if b.successCount >= b.successThreshold {
			b.state = StateClosed
			b.failureCount = 0
			b.successCount = 0
			change.Closed = true
		}
	} else {
		b.failureCount = 0
	}
	usePrimary = b.state == StateClosed
	b.mu.Unlock()

	b.notify(change)
	return usePrimary, change
}

func (b *Breaker) notify(change StateChange) {
	if b.onChange != nil && (change.Opened || change.Closed) {
		b.onChange(b.name, change)
	}
}

// Reset closes the circuit and clears both counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failureCount = 0
	b.successCount = 0
}
