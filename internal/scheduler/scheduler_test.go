package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRun_ImmediateFirstRunThenCadence(t *testing.T) {
	var runs atomic.Int64
	s := New(zap.NewNop())
	s.Add("count", 20*time.Millisecond, func(context.Context) {
		runs.Add(1)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 110*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	got := runs.Load()
	assert.GreaterOrEqual(t, got, int64(3), "immediate run plus ticks")
	assert.LessOrEqual(t, got, int64(8))
}

func TestRun_PanicDoesNotKillOtherTasks(t *testing.T) {
	var healthy atomic.Int64
	s := New(zap.NewNop())
	s.Add("panics", 20*time.Millisecond, func(context.Context) {
		panic("boom")
	})
	s.Add("healthy", 20*time.Millisecond, func(context.Context) {
		healthy.Add(1)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 110*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.GreaterOrEqual(t, healthy.Load(), int64(3))
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := New(zap.NewNop())
	s.Add("noop", time.Millisecond, func(context.Context) {})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
