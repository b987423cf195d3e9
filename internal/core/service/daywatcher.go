package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/orderledger/internal/core/domain"
	"github.com/roach88/orderledger/internal/event"
	"github.com/roach88/orderledger/internal/port"
)

// DayWatcher detects the midnight transition in the reference zone and
// announces it. The reclassification of "today" into "yesterday" is derived
// from CreatedAt on the next read; no order record changes here.
type DayWatcher struct {
	pub port.Publisher
	log *zap.Logger

	mu      sync.Mutex
	lastDay string
	now     func() time.Time
}

func NewDayWatcher(pub port.Publisher, log *zap.Logger) *DayWatcher {
	return &DayWatcher{pub: pub, log: log, now: time.Now}
}

// Check compares the current reference-zone date against the last observed
// one and publishes day_rolled on change. The first call only records the
// baseline.
func (w *DayWatcher) Check(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	day := domain.DayKey(now)
	if w.lastDay == "" {
		w.lastDay = day
		return
	}
	if day == w.lastDay {
		return
	}

	prev := w.lastDay
	w.lastDay = day
	w.pub.Publish(event.Event{
		Type:   event.TypeDayRolled,
		Actor:  "system",
		Reason: prev + " -> " + day,
		At:     now,
	})
	w.log.Info("day rolled", zap.String("from", prev), zap.String("to", day))
}
