package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roach88/orderledger/internal/core/domain"
	"github.com/roach88/orderledger/internal/event"
)

type capturePublisher struct {
	events []event.Event
}

func (p *capturePublisher) Publish(e event.Event) {
	p.events = append(p.events, e)
}

func TestDayWatcher(t *testing.T) {
	pub := &capturePublisher{}
	w := NewDayWatcher(pub, zap.NewNop())
	clock := &fakeClock{t: time.Date(2025, 12, 10, 23, 59, 0, 0, domain.ReferenceZone)}
	w.now = clock.Now
	ctx := context.Background()

	// First check only records the baseline.
	w.Check(ctx)
	assert.Empty(t, pub.events)

	// Same day, nothing to announce.
	clock.Advance(30 * time.Second)
	w.Check(ctx)
	assert.Empty(t, pub.events)

	// Past midnight.
	clock.Advance(time.Minute)
	w.Check(ctx)
	require.Len(t, pub.events, 1)
	assert.Equal(t, event.TypeDayRolled, pub.events[0].Type)
	assert.Equal(t, "system", pub.events[0].Actor)
	assert.Equal(t, "2025-12-10 -> 2025-12-11", pub.events[0].Reason)

	// Only one announcement per rollover.
	clock.Advance(30 * time.Second)
	w.Check(ctx)
	assert.Len(t, pub.events, 1)
}

func TestDayWatcher_UsesReferenceZone(t *testing.T) {
	pub := &capturePublisher{}
	w := NewDayWatcher(pub, zap.NewNop())
	// 17:59 UTC is 23:59 in the reference zone.
	clock := &fakeClock{t: time.Date(2025, 12, 10, 17, 59, 0, 0, time.UTC)}
	w.now = clock.Now

	w.Check(context.Background())
	clock.Advance(2 * time.Minute)
	w.Check(context.Background())
	require.Len(t, pub.events, 1)
	assert.Equal(t, "2025-12-10 -> 2025-12-11", pub.events[0].Reason)
}
