// Package circuitbreaker implements the per-sub-provider circuit breaker
// the load balancer consults before including a candidate in selection.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the circuit breaker's FSM state: closed (normal), open
// (tripped, rejecting), half-open (trial request in flight).
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config controls the FSM's thresholds and timing.
type Config struct {
	// Threshold is consecutiveErrors before closed -> open.
	Threshold int

	// Timeout bounds a single guarded call.
	Timeout time.Duration

	// ResetTimeout is how long open waits before trying half-open.
	ResetTimeout time.Duration

	// HalfOpenMaxCalls caps concurrent trial calls while half-open.
	HalfOpenMaxCalls int

	// HealthFloor is the health score below which isAvailable() refuses
	// selection even while closed, per §4.3's isAvailable() definition.
	HealthFloor float64

	OnStateChange func(from State, to State)
}

// DefaultConfig: 10 consecutive failures trip the breaker; half-open allows
// one trial. No error time window is applied: the failure count resets only
// on a success or Reset.
func DefaultConfig() *Config {
	return &Config{
		Threshold:        10,
		Timeout:          30 * time.Second,
		ResetTimeout:     60 * time.Second,
		HalfOpenMaxCalls: 1,
		HealthFloor:      0.7,
	}
}

// CircuitBreaker guards calls against a single sub-provider.
type CircuitBreaker interface {
	Call(ctx context.Context, fn func() error) error
	CallWithResult(ctx context.Context, fn func() (any, error)) (any, error)

	// State returns the current FSM state.
	State() State

	// IsAvailable implements §4.3's isAvailable(): enabled AND
	// state ∈ {closed, half-open} AND healthScore > HealthFloor.
	IsAvailable(enabled bool, healthScore float64) bool

	// RecordSuccess and RecordFailure let the caller drive the FSM
	// directly from the classified outcome of a dispatched request,
	// bypassing Call/CallWithResult when the dispatcher already owns the
	// request lifecycle (the common path via retrydispatcher).
	RecordSuccess()
	RecordFailure()

	Reset()
}

type breaker struct {
	config *Config
	logger *zap.Logger

	mu                sync.RWMutex
	state             State
	consecutiveErrors int
	lastFailureTime   time.Time
	halfOpenCallCount int
}

// NewCircuitBreaker constructs a breaker in the closed state.
func NewCircuitBreaker(config *Config, logger *zap.Logger) CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Threshold <= 0 {
		config.Threshold = 10
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 60 * time.Second
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = 1
	}
	if config.HealthFloor <= 0 {
		config.HealthFloor = 0.7
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &breaker{config: config, logger: logger, state: StateClosed}
}

func (b *breaker) Call(ctx context.Context, fn func() error) error {
	_, err := b.CallWithResult(ctx, func() (any, error) {
		return nil, fn()
	})
	return err
}

func (b *breaker) CallWithResult(ctx context.Context, fn func() (any, error)) (any, error) {
	if err := b.beforeCall(); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	resultCh := make(chan callResult, 1)
	go func() {
		result, err := fn()
		resultCh <- callResult{result: result, err: err}
	}()

	select {
	case <-callCtx.Done():
		b.RecordFailure()
		return nil, fmt.Errorf("call timed out: %w", callCtx.Err())

	case res := <-resultCh:
		if res.err != nil && !isExcludedFromBreaker(res.err) {
			b.RecordFailure()
			return nil, res.err
		}
		if res.err != nil {
			return nil, res.err
		}
		b.RecordSuccess()
		return res.result, nil
	}
}

type callResult struct {
	result any
	err    error
}

// isExcludedFromBreaker reports whether err's message contains one of the
// client-fault error codes listed below, which do not count against the
// breaker. This list is its own; it is not the errorclassifier's excluded set.
func isExcludedFromBreaker(err error) bool {
	msg := err.Error()
	for _, code := range []string{
		"INVALID_REQUEST", "AUTHENTICATION", "UNAUTHORIZED",
		"FORBIDDEN", "QUOTA_EXCEEDED", "CONTENT_FILTERED",
		"TOOL_VALIDATION", "CONTEXT_TOO_LONG",
	} {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return false
}

func (b *breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(b.lastFailureTime) > b.config.ResetTimeout {
			b.setState(StateHalfOpen)
			b.halfOpenCallCount = 0
			b.logger.Info("circuit entering half-open")
			return nil
		}
		return ErrCircuitOpen

	case StateHalfOpen:
		if b.halfOpenCallCount >= b.config.HalfOpenMaxCalls {
			return ErrTooManyCallsInHalfOpen
		}
		b.halfOpenCallCount++
		return nil

	default:
		return fmt.Errorf("unknown circuit state: %v", b.state)
	}
}

func (b *breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.consecutiveErrors = 0
	case StateHalfOpen:
		b.logger.Info("circuit recovered", zap.Int("half_open_calls", b.halfOpenCallCount))
		b.setState(StateClosed)
		b.consecutiveErrors = 0
		b.halfOpenCallCount = 0
	case StateOpen:
		b.logger.Warn("success recorded while circuit open")
	}
}

func (b *breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveErrors++
	b.lastFailureTime = time.Now()

	switch b.state {
	case StateClosed:
		if b.consecutiveErrors >= b.config.Threshold {
			b.logger.Warn("circuit opening",
				zap.Int("consecutive_errors", b.consecutiveErrors),
				zap.Int("threshold", b.config.Threshold),
			)
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.logger.Warn("circuit re-opening from half-open")
		b.setState(StateOpen)
		b.halfOpenCallCount = 0
	case StateOpen:
	}
}

func (b *breaker) setState(newState State) {
	oldState := b.state
	b.state = newState
	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(oldState, newState)
	}
}

func (b *breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// IsAvailable implements §4.3's isAvailable() predicate.
func (b *breaker) IsAvailable(enabled bool, healthScore float64) bool {
	if !enabled {
		return false
	}
	s := b.State()
	if s != StateClosed && s != StateHalfOpen {
		return false
	}
	return healthScore > b.config.HealthFloor
}

func (b *breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldState := b.state
	b.state = StateClosed
	b.consecutiveErrors = 0
	b.halfOpenCallCount = 0

	b.logger.Info("circuit reset", zap.String("from_state", oldState.String()))

	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(oldState, StateClosed)
	}
}

var (
	ErrCircuitOpen            = errors.New("circuit breaker open")
	ErrTooManyCallsInHalfOpen = errors.New("too many calls in half-open state")
)
