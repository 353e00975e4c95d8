// Package resilience guards bar feeds with a circuit breaker so a failing
// venue is paused instead of polled on every tick.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"    // Normal operation
	CircuitOpen     CircuitState = "OPEN"      // Failing, rejecting calls
	CircuitHalfOpen CircuitState = "HALF_OPEN" // One probe allowed through
)

// ErrCircuitOpen is returned while the circuit rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a probe
	Cooldown time.Duration
}

// DefaultCircuitBreakerConfig returns the defaults used for bar feeds.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// CircuitBreaker counts consecutive failures of one feed.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	now    func() time.Time

	mu          sync.Mutex
	state       CircuitState
	failures    int
	openedAt    time.Time
	probing     bool
	rejected    int64
	totalErrors int64
}

// NewCircuitBreaker creates a closed circuit breaker. Non-positive settings
// fall back to the defaults.
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = def.Cooldown
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		now:    time.Now,
		state:  CircuitClosed,
	}
}

// Allow reports whether a call may proceed. While open it returns
// ErrCircuitOpen; after the cooldown a single probe is let through.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.Cooldown {
			cb.rejected++
			return ErrCircuitOpen
		}
		cb.state = CircuitHalfOpen
		cb.probing = true
		return nil
	case CircuitHalfOpen:
		if cb.probing {
			cb.rejected++
			return ErrCircuitOpen
		}
		cb.probing = true
	}
	return nil
}

// Record reports the outcome of an allowed call.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probing = false
	if err == nil {
		cb.state = CircuitClosed
		cb.failures = 0
		return
	}

	cb.totalErrors++
	cb.failures++
	if cb.state == CircuitHalfOpen || cb.failures >= cb.config.FailureThreshold {
		cb.state = CircuitOpen
		cb.openedAt = cb.now()
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the circuit breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Stats returns circuit breaker statistics.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitBreakerStats{
		Name:            cb.name,
		State:           cb.state,
		CurrentFailures: cb.failures,
		TotalFailures:   cb.totalErrors,
		TotalRejected:   cb.rejected,
	}
}

// CircuitBreakerStats holds circuit breaker statistics.
type CircuitBreakerStats struct {
	Name            string
	State           CircuitState
	CurrentFailures int
	TotalFailures   int64
	TotalRejected   int64
}
