package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chris/tax-credit-settlement/pkg/clock"
	"golang.org/x/sync/errgroup"
)

// Task is one unit of periodic work, run with the sweep's reference time.
type Task struct {
	Name string
	Run  func(ctx context.Context, now time.Time) error
}

// Sweeper runs its tasks concurrently on every tick of its clock.
type Sweeper struct {
	clock    clock.Clock
	interval time.Duration
	tasks    []Task
	logger   *slog.Logger
}

// NewSweeper creates a sweeper. A nil logger uses slog.Default().
func NewSweeper(clk clock.Clock, interval time.Duration, logger *slog.Logger, tasks ...Task) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		clock:    clk,
		interval: interval,
		tasks:    tasks,
		logger:   logger,
	}
}

// RunOnce runs every task at the clock's current time. A failing task does not
// stop the others; their errors are joined.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	now := s.clock.Now()
	errs := make([]error, len(s.tasks))

	var g errgroup.Group
	for i, task := range s.tasks {
		g.Go(func() error {
			start := time.Now()
			if err := task.Run(ctx, now); err != nil {
				errs[i] = fmt.Errorf("%s: %w", task.Name, err)
				s.logger.Error("sweep task failed",
					slog.String("task", task.Name),
					slog.String("error", err.Error()))
				return nil
			}
			s.logger.Debug("sweep task done",
				slog.String("task", task.Name),
				slog.Duration("took", time.Since(start)))
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// Run sweeps once, then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started",
		slog.Duration("interval", s.interval),
		slog.Int("tasks", len(s.tasks)))

	_ = s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return ctx.Err()
		case <-ticker.C():
			_ = s.RunOnce(ctx)
		}
	}
}
