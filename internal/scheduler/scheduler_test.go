package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestRunTicksSequentially(t *testing.T) {
	s := New(Options{Interval: 2 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var inFlight, maxInFlight, ticks atomic.Int32
	err := s.Run(ctx, func(ctx context.Context, now time.Time) error {
		n := inFlight.Add(1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		if ticks.Add(1) == 5 {
			cancel()
		}
		return errors.New("tick errors are logged, not fatal")
	})

	require.ErrorIs(t, err, context.Canceled)
	require.EqualValues(t, 5, ticks.Load())
	require.EqualValues(t, 1, maxInFlight.Load())
}

func TestRunStartupDelayHonoursCancellation(t *testing.T) {
	s := New(Options{Interval: time.Millisecond, StartupDelay: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := s.Run(ctx, func(ctx context.Context, now time.Time) error {
		t.Fatal("tick must not run during the startup delay")
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNextTickAlignment(t *testing.T) {
	s := New(Options{Interval: time.Minute, AlignToStart: true}, zerolog.Nop())
	now := time.Date(2025, 1, 1, 10, 0, 30, 0, time.UTC)
	require.Equal(t, time.Date(2025, 1, 1, 10, 1, 0, 0, time.UTC), s.nextTick(now))

	s = New(Options{}, zerolog.Nop())
	require.Equal(t, time.Second, s.Interval())
	require.Equal(t, now.Add(time.Second), s.nextTick(now))
}
