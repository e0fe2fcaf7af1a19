package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func testBreaker(threshold int, cooldown time.Duration) (*Breaker, *time.Time) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	b := NewBreaker(BreakerConfig{
		Service:          "test",
		FailureThreshold: threshold,
		Cooldown:         cooldown,
	})
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := testBreaker(3, time.Minute)

	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.Record(boom)
	}
	assert.Equal(t, BreakerClosed, b.State())

	require.NoError(t, b.Allow())
	b.Record(boom)
	assert.Equal(t, BreakerOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := testBreaker(3, time.Minute)

	boom := errors.New("boom")
	b.Record(boom)
	b.Record(boom)
	b.Record(nil)
	b.Record(boom)
	b.Record(boom)

	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	t.Run("success closes", func(t *testing.T) {
		b, now := testBreaker(1, time.Minute)
		b.Record(errors.New("boom"))
		require.ErrorIs(t, b.Allow(), ErrBreakerOpen)

		*now = now.Add(time.Minute)
		assert.Equal(t, BreakerHalfOpen, b.State())
		require.NoError(t, b.Allow())
		b.Record(nil)
		assert.Equal(t, BreakerClosed, b.State())
	})

	t.Run("failure reopens", func(t *testing.T) {
		b, now := testBreaker(1, time.Minute)
		b.Record(errors.New("boom"))

		*now = now.Add(time.Minute)
		require.NoError(t, b.Allow())
		b.Record(errors.New("still down"))
		assert.Equal(t, BreakerOpen, b.State())
		assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)
	})
}

func TestBreaker_ShouldTripFilter(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Service:          "test",
		FailureThreshold: 1,
		ShouldTrip:       IsTransient,
	})

	// Permanent errors never open the circuit.
	b.Record(errors.New("INVALID_SESSION_ID"))
	assert.Equal(t, BreakerClosed, b.State())

	b.Record(NewTransientError(errors.New("503"), 503))
	assert.Equal(t, BreakerOpen, b.State())
}

func TestBreakerDo(t *testing.T) {
	b, _ := testBreaker(1, time.Minute)

	val, err := BreakerDo(context.Background(), b, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, val)

	_, err = BreakerDo(context.Background(), b, func(ctx context.Context) (int, error) {
		return 0, errors.New("boom")
	})
	require.EqualError(t, err, "boom")

	// Circuit is now open, calls are rejected without running fn.
	called := false
	_, err = BreakerDo(context.Background(), b, func(ctx context.Context) (int, error) {
		called = true
		return 0, nil
	})
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.False(t, called)
}

func TestFromBreakerConfig(t *testing.T) {
	t.Parallel()

	cfg := FromBreakerConfig("claude", 8, 120)
	assert.Equal(t, "claude", cfg.Service)
	assert.Equal(t, 8, cfg.FailureThreshold)
	assert.Equal(t, 2*time.Minute, cfg.Cooldown)

	cfg = FromBreakerConfig("claude", 0, 0)
	assert.Equal(t, 5, cfg.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Cooldown)
}
