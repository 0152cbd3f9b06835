package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunTicksUntilCancelled(t *testing.T) {
	s := New(Options{Interval: 10 * time.Millisecond, Immediate: true, Name: "test"}, zerolog.Nop())

	var ticks atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, time.Time) error {
			if ticks.Add(1) == 2 {
				return errors.New("tick errors are logged, not fatal")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestNextTickAlignment(t *testing.T) {
	s := New(Options{Interval: time.Minute, AlignToStart: true}, zerolog.Nop())
	now := time.Date(2025, 5, 1, 10, 0, 30, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 5, 1, 10, 1, 0, 0, time.UTC), s.nextTick(now))

	loose := New(Options{Interval: time.Minute}, zerolog.Nop())
	assert.Equal(t, now.Add(time.Minute), loose.nextTick(now))
	assert.Equal(t, time.Minute, loose.Interval())
}

func TestNewPanicsOnZeroInterval(t *testing.T) {
	assert.Panics(t, func() { New(Options{}, zerolog.Nop()) })
}
