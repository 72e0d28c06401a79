package remote

import (
	"sync"
	"time"

	"go.uber.org/zap"

	pkgerrors "github.com/engramdb/engram/pkg/errors"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker protects the remote server from request storms while it is
// failing. Closed passes everything through; after failureThreshold
// consecutive failures it opens and rejects immediately; once resetTimeout
// elapses a single probe is allowed through (half-open) and its outcome
// decides the next state.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            breakerState
	failures         int
	failureThreshold int
	resetTimeout     time.Duration
	openedAt         time.Time
	logger           *zap.Logger
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration, logger *zap.Logger) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		logger:           logger,
	}
}

// Allow reports whether a request may proceed, transitioning open -> half-open
// when the reset timeout has elapsed
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateOpen:
		if time.Since(b.openedAt) < b.resetTimeout {
			return pkgerrors.NewConnectionError("remote",
				errCircuitOpen)
		}
		b.transition(stateHalfOpen)
		return nil
	default:
		return nil
	}
}

// RecordSuccess resets the breaker toward closed
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state != stateClosed {
		b.transition(stateClosed)
	}
}

// RecordFailure counts a failure, opening the breaker at the threshold. A
// half-open probe failure reopens immediately.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == stateHalfOpen || b.failures >= b.failureThreshold {
		b.openedAt = time.Now()
		b.transition(stateOpen)
	}
}

// State returns the current state name for diagnostics
func (b *CircuitBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}

func (b *CircuitBreaker) transition(next breakerState) {
	if b.state == next {
		return
	}
	b.logger.Warn("circuit breaker state change",
		zap.String("from", b.state.String()),
		zap.String("to", next.String()),
		zap.Int("failures", b.failures))
	b.state = next
}
