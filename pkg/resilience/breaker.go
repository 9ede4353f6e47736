package resilience

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	// StateClosed lets calls pass through while counting consecutive failures.
	StateClosed BreakerState = iota
	// StateOpen rejects calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen lets calls through while probing for recovery.
	StateHalfOpen
)

// String returns the state name.
func (s BreakerState) String() string {
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

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           // Consecutive failures before opening
	SuccessThreshold int           // Consecutive half-open successes before closing
	Cooldown         time.Duration // Open duration before probing again
}

// DefaultBreakerConfig returns sensible defaults for local engine calls.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
	}
}

// CircuitOpenError is returned when a call is rejected without invoking the
// wrapped operation because the circuit is open.
type CircuitOpenError struct {
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open: retry after %s", e.RetryAfter.Round(time.Millisecond))
}

// Breaker isolates a failing operation class. Transitions are decided lazily
// at call time from wall-clock comparison; there is no background timer.
type Breaker struct {
	mu          sync.Mutex
	cfg         BreakerConfig
	state       BreakerState
	failures    int
	successes   int
	nextAttempt time.Time
	now         func() time.Time
	logger      zerolog.Logger
}

// NewBreaker creates a closed breaker. Zero or negative config fields are
// replaced with defaults.
func NewBreaker(cfg BreakerConfig, logger zerolog.Logger) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	return &Breaker{
		cfg:    cfg,
		state:  StateClosed,
		now:    time.Now,
		logger: logger,
	}
}

// Execute runs op through the breaker b. While open, op is not invoked and
// a *CircuitOpenError is returned instead.
func Execute[T any](b *Breaker, op func() (T, error)) (T, error) {
	var zero T
	if err := b.beforeCall(); err != nil {
		return zero, err
	}
	result, err := op()
	b.afterCall(err == nil)
	if err != nil {
		return zero, err
	}
	return result, nil
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to a zeroed closed state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
	b.failures = 0
	b.successes = 0
	b.nextAttempt = time.Time{}
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return nil
	}
	if remaining := b.nextAttempt.Sub(b.now()); remaining > 0 {
		return &CircuitOpenError{RetryAfter: remaining}
	}

	// Cooldown elapsed: this call probes the operation.
	b.transition(StateHalfOpen)
	b.successes = 0
	return nil
}

func (b *Breaker) afterCall(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		if ok {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.trip()
		}
	case StateHalfOpen:
		if !ok {
			b.successes = 0
			b.trip()
			return
		}
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
			b.failures = 0
			b.successes = 0
		}
	case StateOpen:
		// A call that was in flight when another one tripped the breaker.
		// Its result no longer affects the episode.
	}
}

// trip opens the circuit and schedules the next probe. Caller holds the lock.
func (b *Breaker) trip() {
	b.transition(StateOpen)
	b.nextAttempt = b.now().Add(b.cfg.Cooldown)
}

// transition changes state and logs it. Caller holds the lock.
func (b *Breaker) transition(to BreakerState) {
	if b.state == to {
		return
	}
	b.logger.Warn().
		Str("from", b.state.String()).
		Str("to", to.String()).
		Int("failures", b.failures).
		Msg("circuit breaker state change")
	b.state = to
}
