// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package breaker provides per-backend circuit breakers for the proxy.
package breaker

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker configuration.
type Config struct {
	// MaxFailures is the number of consecutive failures before opening the circuit.
	MaxFailures int
	// ResetTimeout is how long to wait in Open state before transitioning to HalfOpen.
	ResetTimeout time.Duration
	// SuccessThreshold is the number of consecutive successes in HalfOpen before closing.
	SuccessThreshold int
}

// StateFunc observes state transitions. It runs with the breaker locked and
// must not call back into it.
type StateFunc func(name string, from, to State)

// CircuitBreaker guards calls to a single backend.
type CircuitBreaker struct {
	mu              sync.Mutex
	name            string
	config          Config
	state           State
	failures        int
	successes       int
	lastStateChange time.Time
	onStateChange   StateFunc
	now             func() time.Time
}

// New creates a new circuit breaker for the backend called name.
func New(name string, config Config) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}

	return &CircuitBreaker{
		name:            name,
		config:          config,
		state:           StateClosed,
		lastStateChange: time.Now(),
		now:             time.Now,
	}
}

// Name returns the backend the breaker guards.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Call executes fn if the circuit breaker allows it and records its outcome.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.Allow(); err != nil {
		return err
	}

	err := fn()

	cb.Record(err)
	return err
}

// Allow reports whether a call may proceed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastStateChange) >= cb.config.ResetTimeout {
			cb.setState(StateHalfOpen)
			return nil
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}

// Record updates the breaker with the outcome of a call.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.onSuccess()
		return
	}

	cb.failures++
	cb.successes = 0
	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.setState(StateOpen)
		}
	case StateHalfOpen:
		cb.setState(StateOpen)
	}
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.setState(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) setState(newState State) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = cb.now()

	switch newState {
	case StateClosed:
		cb.failures = 0
		cb.successes = 0
	case StateHalfOpen:
		cb.successes = 0
	}

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, oldState, newState)
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns circuit breaker statistics.
func (cb *CircuitBreaker) Stats() (state State, failures, successes int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state, cb.failures, cb.successes
}

// Group lazily creates one breaker per backend address.
type Group struct {
	mu            sync.Mutex
	config        Config
	breakers      map[string]*CircuitBreaker
	onStateChange StateFunc
	now           func() time.Time
}

// GroupOption configures a Group.
type GroupOption func(*Group)

// WithStateChange registers fn on every breaker of the group.
func WithStateChange(fn StateFunc) GroupOption {
	return func(g *Group) {
		g.onStateChange = fn
	}
}

// WithClock overrides the time source of every breaker of the group.
func WithClock(now func() time.Time) GroupOption {
	return func(g *Group) {
		g.now = now
	}
}

// NewGroup returns an empty group sharing config.
func NewGroup(config Config, opts ...GroupOption) *Group {
	g := &Group{
		config:   config,
		breakers: make(map[string]*CircuitBreaker),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Get returns the breaker for backend, creating it on first use.
func (g *Group) Get(backend string) *CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cb, ok := g.breakers[backend]; ok {
		return cb
	}
	cb := New(backend, g.config)
	cb.onStateChange = g.onStateChange
	cb.now = g.now
	cb.lastStateChange = g.now()
	g.breakers[backend] = cb
	return cb
}

// Len returns the number of tracked backends.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.breakers)
}
