// Package partner provides the RTB partner client with failure isolation
package partner

import (
	"errors"
	"sync"
	"time"
)

// Circuit breaker states
const (
	StateClosed   = "closed"    // Normal operation
	StateOpen     = "open"      // Failing, rejecting requests
	StateHalfOpen = "half-open" // Testing if the partner recovered
)

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig holds circuit breaker configuration
type BreakerConfig struct {
	FailureThreshold int           // Consecutive failures before opening
	Cooldown         time.Duration // Time to wait before half-open

	// OnStateChange, when set, receives the new state on every
	// transition. Invoked with the breaker lock held; must not call
	// back into the breaker.
	OnStateChange func(state string)
}

// DefaultBreakerConfig returns the contract defaults: open after 5
// consecutive failures, 30 second cooldown, single half-open trial.
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// Breaker implements the circuit breaker pattern around partner calls.
// It is owned by whoever constructs it; sharing one across engines is a
// deliberate choice made by the caller, never implicit.
type Breaker struct {
	config *BreakerConfig

	mu              sync.RWMutex
	state           string
	failures        int
	lastFailureTime time.Time
	trialInFlight   bool

	totalRequests  int64
	totalFailures  int64
	totalSuccesses int64
	totalRejected  int64
}

// NewBreaker creates a circuit breaker in the closed state
func NewBreaker(config *BreakerConfig) *Breaker {
	if config == nil {
		config = DefaultBreakerConfig()
	}
	return &Breaker{
		config: config,
		state:  StateClosed,
	}
}

// Execute runs fn with circuit breaker protection
func (cb *Breaker) Execute(fn func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn()
	cb.afterRequest(err)
	return err
}

// beforeRequest checks whether the call may proceed
func (cb *Breaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(cb.lastFailureTime) > cb.config.Cooldown {
			cb.setState(StateHalfOpen)
			cb.trialInFlight = true
			return nil
		}
		cb.totalRejected++
		return ErrCircuitOpen

	case StateHalfOpen:
		// Only one trial call at a time while half-open
		if cb.trialInFlight {
			cb.totalRejected++
			return ErrCircuitOpen
		}
		cb.trialInFlight = true
		return nil
	}

	return nil
}

// afterRequest records the result of a call
func (cb *Breaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.trialInFlight = false

	if err != nil {
		cb.totalFailures++
		cb.failures++
		cb.lastFailureTime = time.Now()

		switch cb.state {
		case StateClosed:
			if cb.failures >= cb.config.FailureThreshold {
				cb.setState(StateOpen)
			}
		case StateHalfOpen:
			cb.setState(StateOpen)
		}
		return
	}

	cb.totalSuccesses++
	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		// Trial succeeded: full reset
		cb.setState(StateClosed)
		cb.failures = 0
	}
}

// setState transitions the breaker and notifies the observer. Callers
// must hold cb.mu.
func (cb *Breaker) setState(state string) {
	if cb.state == state {
		return
	}
	cb.state = state
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(state)
	}
}

// State returns the current circuit breaker state
func (cb *Breaker) State() string {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// IsOpen returns true if the circuit breaker is open
func (cb *Breaker) IsOpen() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state == StateOpen
}

// Reset returns the breaker to the closed state
func (cb *Breaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateClosed)
	cb.failures = 0
	cb.trialInFlight = false
}

// BreakerStats holds circuit breaker counters
type BreakerStats struct {
	State          string `json:"state"`
	TotalRequests  int64  `json:"total_requests"`
	TotalFailures  int64  `json:"total_failures"`
	TotalSuccesses int64  `json:"total_successes"`
	TotalRejected  int64  `json:"total_rejected"`
	Failures       int    `json:"current_failures"`
}

// Stats returns a snapshot of the breaker counters
func (cb *Breaker) Stats() BreakerStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return BreakerStats{
		State:          cb.state,
		TotalRequests:  cb.totalRequests,
		TotalFailures:  cb.totalFailures,
		TotalSuccesses: cb.totalSuccesses,
		TotalRejected:  cb.totalRejected,
		Failures:       cb.failures,
	}
}
