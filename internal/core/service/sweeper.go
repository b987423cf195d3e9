package service

import (
	"context"

	"go.uber.org/zap"
)

// TimeoutSweeper is the timeout supervisor: a stateless periodic pass over
// the ledger instead of per-order timers, so in-flight deadlines survive a
// process restart.
type TimeoutSweeper struct {
	orders *OrderService
	log    *zap.Logger
}

func NewTimeoutSweeper(orders *OrderService, log *zap.Logger) *TimeoutSweeper {
	return &TimeoutSweeper{orders: orders, log: log}
}

// Sweep runs one pass. Errors are logged, not returned: the next tick
// retries and the scheduler must keep running.
func (t *TimeoutSweeper) Sweep(ctx context.Context) {
	expired, err := t.orders.SweepExpired(ctx)
	if err != nil {
		t.log.Error("timeout sweep failed", zap.Error(err))
		return
	}
	if len(expired) > 0 {
		t.log.Info("timeout sweep expired orders", zap.Int("count", len(expired)))
	}
}
