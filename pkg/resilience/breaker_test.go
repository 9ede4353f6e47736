package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// breakerHarness drives a breaker with a controllable clock and a wrapped
// operation that counts invocations.
type breakerHarness struct {
	breaker *Breaker
	clock   time.Time
	calls   int
}

func newBreakerHarness(cfg BreakerConfig) *breakerHarness {
	h := &breakerHarness{clock: time.Unix(1000, 0)}
	h.breaker = NewBreaker(cfg, zerolog.Nop())
	h.breaker.now = func() time.Time { return h.clock }
	return h
}

func (h *breakerHarness) advance(d time.Duration) {
	h.clock = h.clock.Add(d)
}

func (h *breakerHarness) call(fail bool) error {
	_, err := Execute(h.breaker, func() (int, error) {
		h.calls++
		if fail {
			return 0, errors.New("engine failure")
		}
		return 1, nil
	})
	return err
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	h := newBreakerHarness(BreakerConfig{FailureThreshold: 3, SuccessThreshold: 1, Cooldown: time.Minute})

	for i := 0; i < 3; i++ {
		require.Error(t, h.call(true))
	}
	assert.Equal(t, StateOpen, h.breaker.State())

	// While open the wrapped operation must not be invoked.
	before := h.calls
	err := h.call(false)
	require.Error(t, err)
	var openErr *CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Greater(t, openErr.RetryAfter, time.Duration(0))
	assert.Equal(t, before, h.calls)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	h := newBreakerHarness(BreakerConfig{FailureThreshold: 3, SuccessThreshold: 1, Cooldown: time.Minute})

	require.Error(t, h.call(true))
	require.Error(t, h.call(true))
	require.NoError(t, h.call(false))
	require.Error(t, h.call(true))
	require.Error(t, h.call(true))

	assert.Equal(t, StateClosed, h.breaker.State())
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	h := newBreakerHarness(BreakerConfig{FailureThreshold: 2, SuccessThreshold: 2, Cooldown: time.Minute})

	require.Error(t, h.call(true))
	require.Error(t, h.call(true))
	require.Equal(t, StateOpen, h.breaker.State())

	// Cooldown elapses: the next call executes as a probe.
	h.advance(time.Minute + time.Second)
	before := h.calls
	require.NoError(t, h.call(false))
	assert.Equal(t, before+1, h.calls)
	assert.Equal(t, StateHalfOpen, h.breaker.State())

	require.NoError(t, h.call(false))
	assert.Equal(t, StateClosed, h.breaker.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	h := newBreakerHarness(BreakerConfig{FailureThreshold: 2, SuccessThreshold: 2, Cooldown: time.Minute})

	require.Error(t, h.call(true))
	require.Error(t, h.call(true))

	h.advance(time.Minute + time.Second)
	require.NoError(t, h.call(false))
	require.Equal(t, StateHalfOpen, h.breaker.State())

	// One half-open failure discards the success streak and reopens with a
	// fresh cooldown.
	require.Error(t, h.call(true))
	assert.Equal(t, StateOpen, h.breaker.State())

	h.advance(30 * time.Second)
	err := h.call(false)
	var openErr *CircuitOpenError
	require.ErrorAs(t, err, &openErr)
}

func TestBreakerReset(t *testing.T) {
	h := newBreakerHarness(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Cooldown: time.Hour})

	require.Error(t, h.call(true))
	require.Equal(t, StateOpen, h.breaker.State())

	h.breaker.Reset()
	assert.Equal(t, StateClosed, h.breaker.State())
	require.NoError(t, h.call(false))
}

func TestBreakerRejectedCallsDoNotAffectCounters(t *testing.T) {
	h := newBreakerHarness(BreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Cooldown: time.Minute})

	require.Error(t, h.call(true))
	require.Error(t, h.call(true))

	// Rejections while open must not consume the next probe.
	for i := 0; i < 5; i++ {
		require.Error(t, h.call(false))
	}
	h.advance(2 * time.Minute)
	require.NoError(t, h.call(false))
	assert.Equal(t, StateClosed, h.breaker.State())
}

func TestMeasurePassesThroughResultAndError(t *testing.T) {
	result, err := Measure(zerolog.Nop(), "noop", func() (string, error) {
		return "value", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "value", result)

	boom := errors.New("boom")
	_, err = Measure(zerolog.Nop(), "noop", func() (string, error) {
		return "", boom
	})
	assert.ErrorIs(t, err, boom)
}
