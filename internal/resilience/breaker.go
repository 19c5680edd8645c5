package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Mapetere/latterpay/internal/logging"
)

// ErrCircuitOpen is returned while the breaker is rejecting calls.
var ErrCircuitOpen = errors.New("circuit open: service temporarily unavailable")

type CircuitState string

const (
	StateClosed   CircuitState = "closed"
	StateOpen     CircuitState = "open"
	StateHalfOpen CircuitState = "half_open"
)

// CircuitBreaker isolates a failing dependency. It opens after
// failureThreshold consecutive failures, rejects calls for recoveryTimeout,
// then lets a single probe through in half-open.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	recoveryTimeout  time.Duration

	mu          sync.Mutex
	state       CircuitState
	failures    int
	lastFailure time.Time
	probing     bool
}

func NewCircuitBreaker(name string, failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		state:            StateClosed,
	}
}

// State reports the current state, moving open breakers to half-open once the
// recovery timeout has elapsed.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked(time.Now())
}

func (b *CircuitBreaker) stateLocked(now time.Time) CircuitState {
	if b.state == StateOpen && now.Sub(b.lastFailure) > b.recoveryTimeout {
		b.state = StateHalfOpen
		logging.Logger.WithField("breaker", b.name).Info("circuit breaker half-open")
	}
	return b.state
}

// Do runs fn under the breaker. Calls rejected while open return
// ErrCircuitOpen without invoking fn.
func (b *CircuitBreaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	b.mu.Lock()
	state := b.stateLocked(time.Now())
	if state == StateOpen {
		b.mu.Unlock()
		return ErrCircuitOpen
	}
	// Half-open admits one call at a time; concurrent callers are
	// rejected until it reports back.
	if state == StateHalfOpen {
		if b.probing {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.probing = true
	}
	b.mu.Unlock()

	if err := fn(ctx); err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

func (b *CircuitBreaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
	b.failures++
	b.lastFailure = time.Now()
	if b.state == StateHalfOpen || b.failures >= b.failureThreshold {
		if b.state != StateOpen {
			logging.Logger.WithField("breaker", b.name).
				WithField("failures", b.failures).
				Warn("circuit breaker open")
		}
		b.state = StateOpen
	}
}

func (b *CircuitBreaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
	b.failures = 0
	b.state = StateClosed
}
