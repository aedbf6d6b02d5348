// common/backoff/backoff_test.go
package backoff_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YaganovValera/market-feed/common/backoff"
	"github.com/YaganovValera/market-feed/common/logger"
)

func TestExecute_SuccessFirstAttempt(t *testing.T) {
	called := 0
	err := backoff.Execute(context.Background(), backoff.Config{MaxElapsedTime: time.Second}, logger.Nop(),
		func(ctx context.Context) error {
			called++
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, 1, called)
}

func TestExecute_EventualSuccess(t *testing.T) {
	cfg := backoff.Config{
		InitialInterval: 5 * time.Millisecond,
		Multiplier:      1,
		MaxInterval:     5 * time.Millisecond,
		MaxElapsedTime:  time.Second,
	}
	called := 0
	err := backoff.Execute(context.Background(), cfg, logger.Nop(), func(ctx context.Context) error {
		called++
		if called < 3 {
			return errors.New("fail")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, called)
}

func TestExecute_MaxRetriesExceeded(t *testing.T) {
	cfg := backoff.Config{
		InitialInterval: 10 * time.Millisecond,
		Multiplier:      1,
		MaxInterval:     10 * time.Millisecond,
		MaxElapsedTime:  50 * time.Millisecond,
	}
	called := 0
	err := backoff.Execute(context.Background(), cfg, logger.Nop(), func(ctx context.Context) error {
		called++
		return errors.New("always fail")
	})
	var maxErr *backoff.ErrMaxRetries
	require.ErrorAs(t, err, &maxErr)
	assert.Equal(t, called, maxErr.Attempts)
}

func TestExecute_PermanentStopsImmediately(t *testing.T) {
	called := 0
	sentinel := errors.New("bad certificate")
	err := backoff.Execute(context.Background(), backoff.Config{}, logger.Nop(), func(ctx context.Context) error {
		called++
		return backoff.Permanent(sentinel)
	})
	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, called)
}

func TestExecute_InvalidConfig(t *testing.T) {
	err := backoff.Execute(context.Background(), backoff.Config{RandomizationFactor: 2}, logger.Nop(),
		func(ctx context.Context) error { return nil })
	assert.Error(t, err)
}

func TestStrategy_NonDecreasingUpToCap(t *testing.T) {
	s, err := backoff.NewStrategy(backoff.Config{
		InitialInterval: time.Second,
		Multiplier:      2,
		MaxInterval:     30 * time.Second,
	})
	require.NoError(t, err)

	want := []time.Duration{1, 2, 4, 8, 16, 30, 30, 30}
	var prev time.Duration
	for i, w := range want {
		got := s.Next()
		assert.Equal(t, w*time.Second, got, "attempt %d", i)
		assert.GreaterOrEqual(t, got, prev)
		prev = got
	}
}

func TestStrategy_JitterBounds(t *testing.T) {
	s, err := backoff.NewStrategy(backoff.Config{
		InitialInterval:     time.Second,
		RandomizationFactor: 0.2,
		Multiplier:          2,
		MaxInterval:         30 * time.Second,
	})
	require.NoError(t, err)

	nominal := time.Second
	for i := 0; i < 20; i++ {
		got := s.Next()
		low := time.Duration(float64(nominal)*0.8) - time.Millisecond
		high := time.Duration(float64(nominal)*1.2) + time.Millisecond
		if high > 30*time.Second {
			high = 30 * time.Second
		}
		assert.GreaterOrEqual(t, got, low, "attempt %d", i)
		assert.LessOrEqual(t, got, high, "attempt %d", i)

		nominal *= 2
		if nominal > 30*time.Second {
			nominal = 30 * time.Second
		}
	}
}

func TestStrategy_ResetIfStable(t *testing.T) {
	s, err := backoff.NewStrategy(backoff.Config{
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		ResetAfter:      time.Minute,
	})
	require.NoError(t, err)

	s.Next()
	s.Next()
	assert.Equal(t, 4*time.Second, s.Next())

	assert.False(t, s.ResetIfStable(10*time.Second))
	assert.Equal(t, 8*time.Second, s.Next())

	assert.True(t, s.ResetIfStable(61*time.Second))
	assert.Equal(t, time.Second, s.Next())
}

func TestStrategy_NeverGivesUp(t *testing.T) {
	s, err := backoff.NewStrategy(backoff.Config{
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		MaxElapsedTime:  time.Nanosecond,
	})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	assert.Equal(t, time.Millisecond, s.Next())
}
