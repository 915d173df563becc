// Package circuitbreaker guards calls to the wallet RPC service. When the
// wallet keeps failing the breaker opens and callers fail fast instead of
// piling timeouts onto a dead backend.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/wallet-gateway/internal/logging"
)

// State represents the circuit breaker state
type State string

const (
	// StateClosed means calls are allowed
	StateClosed State = "closed"
	// StateOpen means calls are blocked
	StateOpen State = "open"
	// StateHalfOpen means the breaker is probing whether the backend recovered
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("wallet backend circuit breaker is open")

// Config configures a circuit breaker
type Config struct {
	Name string
	// MaxConsecutiveFails opens the breaker when reached.
	MaxConsecutiveFails int
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// HalfOpenSuccesses closes the breaker again when reached.
	HalfOpenSuccesses int
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig(name string) *Config {
	return &Config{
		Name:                name,
		MaxConsecutiveFails: 5,
		Cooldown:            30 * time.Second,
		HalfOpenSuccesses:   2,
	}
}

// CircuitBreaker implements the circuit breaker pattern.
type CircuitBreaker struct {
	name                string
	maxConsecutiveFails int
	cooldown            time.Duration
	halfOpenSuccesses   int

	mu               sync.Mutex
	state            State
	consecutiveFails int
	probeSuccesses   int
	lastStateChange  time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config *Config) *CircuitBreaker {
	return &CircuitBreaker{
		name:                config.Name,
		maxConsecutiveFails: config.MaxConsecutiveFails,
		cooldown:            config.Cooldown,
		halfOpenSuccesses:   config.HalfOpenSuccesses,
		state:               StateClosed,
		lastStateChange:     time.Now(),
	}
}

// Execute runs fn under breaker protection. When the breaker is open the
// call is refused with ErrCircuitOpen and fn never runs.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn()
	cb.afterRequest(err)
	return err
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.lastStateChange) < cb.cooldown {
			return ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
		cb.probeSuccesses = 0
		logging.GetGlobalLogger().WithFields(map[string]interface{}{
			"circuitBreaker": cb.name,
			"state":          StateHalfOpen,
		}).Info("circuit breaker probing the backend")
	}
	return nil
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.onFailure()
	} else {
		cb.onSuccess()
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.consecutiveFails = 0

	if cb.state == StateHalfOpen {
		cb.probeSuccesses++
		if cb.probeSuccesses >= cb.halfOpenSuccesses {
			cb.setState(StateClosed)
			logging.GetGlobalLogger().WithFields(map[string]interface{}{
				"circuitBreaker": cb.name,
				"state":          StateClosed,
			}).Info("circuit breaker closed after recovery")
		}
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.consecutiveFails++

	switch cb.state {
	case StateClosed:
		if cb.consecutiveFails >= cb.maxConsecutiveFails {
			cb.setState(StateOpen)
			logging.GetGlobalLogger().WithFields(map[string]interface{}{
				"circuitBreaker":   cb.name,
				"state":            StateOpen,
				"consecutiveFails": cb.consecutiveFails,
			}).Warn("circuit breaker opened")
		}
	case StateHalfOpen:
		// One failed probe reopens the breaker.
		cb.setState(StateOpen)
		logging.GetGlobalLogger().WithFields(map[string]interface{}{
			"circuitBreaker": cb.name,
			"state":          StateOpen,
		}).Warn("circuit breaker reopened after failed probe")
	}
}

func (cb *CircuitBreaker) setState(state State) {
	cb.state = state
	cb.lastStateChange = time.Now()
}
