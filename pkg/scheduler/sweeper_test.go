package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chris/tax-credit-settlement/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunOnce(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)

	var ran atomic.Int32
	var seen atomic.Value
	s := NewSweeper(clk, time.Minute, nil,
		Task{Name: "ok", Run: func(ctx context.Context, at time.Time) error {
			ran.Add(1)
			seen.Store(at)
			return nil
		}},
		Task{Name: "broken", Run: func(ctx context.Context, at time.Time) error {
			ran.Add(1)
			return errors.New("store unavailable")
		}},
	)

	err := s.RunOnce(context.Background())

	assert.Equal(t, int32(2), ran.Load())
	assert.Equal(t, now, seen.Load())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken: store unavailable")
}

func TestRunSweepsOnEveryTick(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	sweeps := make(chan time.Time, 10)
	s := NewSweeper(clk, time.Minute, nil, Task{Name: "record", Run: func(ctx context.Context, at time.Time) error {
		sweeps <- at
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitSweep := func() time.Time {
		select {
		case at := <-sweeps:
			return at
		case <-time.After(time.Second):
			t.Fatal("sweep did not run")
			return time.Time{}
		}
	}

	first := waitSweep()
	clk.Advance(time.Minute)
	second := waitSweep()
	assert.Equal(t, time.Minute, second.Sub(first))

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
