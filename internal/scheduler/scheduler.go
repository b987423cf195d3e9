// Package scheduler runs the workflow's periodic tasks on one shared
// ticker mechanism: the timeout sweep and the day-rollover check both ride
// it rather than owning ad hoc timers.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type task struct {
	name  string
	every time.Duration
	run   func(context.Context)
}

type Scheduler struct {
	log   *zap.Logger
	tasks []task
}

func New(log *zap.Logger) *Scheduler {
	return &Scheduler{log: log}
}

// Add registers a task. Must be called before Run.
func (s *Scheduler) Add(name string, every time.Duration, run func(context.Context)) {
	s.tasks = append(s.tasks, task{name: name, every: every, run: run})
}

// Run executes each task immediately, then on its own cadence, until ctx is
// cancelled. A panicking task is logged and skipped for that tick; it must
// not take the other tasks down.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, t := range s.tasks {
		wg.Add(1)
		go func(t task) {
			defer wg.Done()
			s.loop(ctx, t)
		}(t)
	}
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, t task) {
	ticker := time.NewTicker(t.every)
	defer ticker.Stop()

	s.runOnce(ctx, t)
	for {
		select {
		case <-ctx.Done():
			s.log.Debug("scheduler task stopped", zap.String("task", t.name))
			return
		case <-ticker.C:
			s.runOnce(ctx, t)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, t task) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduler task panicked",
				zap.String("task", t.name), zap.Any("panic", r))
		}
	}()
	t.run(ctx)
}
