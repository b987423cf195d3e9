package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/roach88/orderledger/internal/core/domain"
	"github.com/roach88/orderledger/internal/event"
	"github.com/roach88/orderledger/internal/metrics"
	"github.com/roach88/orderledger/internal/port"
)

// duplicateWindow is how long a same-originator, same-quantity resubmission
// counts as a duplicate rather than a fresh order.
const duplicateWindow = 5 * time.Minute

// Options carry the policy knobs for OrderService.
type Options struct {
	// ProcessingTimeout is how long a processing order waits for an explicit
	// signal before the sweep auto-approves it. The auto-approve policy is
	// deliberate: the fulfillment side sends no completion signal, so
	// silence past the window means success and an explicit delete wins.
	ProcessingTimeout time.Duration
	DefaultRate       decimal.Decimal
	DefaultDueLimit   decimal.Decimal
}

// OrderService drives every order mutation through the ledger store and
// publishes the resulting events. All mutations are serialized through one
// mutex so events reach the distributor in commit order.
type OrderService struct {
	store   port.LedgerStore
	guard   port.IdempotencyGuard
	pub     port.Publisher
	log     *zap.Logger
	metrics *metrics.Metrics
	opts    Options

	mu  sync.Mutex
	now func() time.Time
}

func NewOrderService(store port.LedgerStore, guard port.IdempotencyGuard, pub port.Publisher, m *metrics.Metrics, log *zap.Logger, opts Options) *OrderService {
	if opts.ProcessingTimeout <= 0 {
		opts.ProcessingTimeout = 2 * time.Minute
	}
	return &OrderService{
		store:   store,
		guard:   guard,
		pub:     pub,
		log:     log,
		metrics: m,
		opts:    opts,
		now:     time.Now,
	}
}

// CreateOrderInput is what the messaging agent hands over for a new order.
type CreateOrderInput struct {
	GroupID          string
	OriginatorID     string
	Quantity         int
	TargetAccountID  string
	SourceMessageRef string
}

// CreateOrder validates intake, screens duplicates, and persists a pending
// order with the group's current rate snapshotted onto it.
func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*domain.Order, error) {
	if in.Quantity <= 0 {
		return nil, &domain.ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	if in.TargetAccountID == "" {
		return nil, &domain.ValidationError{Field: "targetAccountId", Reason: "must not be empty"}
	}

	if s.guard != nil && in.SourceMessageRef != "" {
		first, err := s.guard.FirstSeen(ctx, in.SourceMessageRef)
		if err != nil {
			// The guard is advisory; the ledger-level ref check below is
			// authoritative.
			s.log.Warn("idempotency guard unavailable", zap.Error(err))
		} else if !first {
			return nil, fmt.Errorf("%w: message %s already seen", domain.ErrDuplicateOrder, in.SourceMessageRef)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var created *domain.Order
	_, err := s.store.Mutate(ctx, func(l *domain.Ledger) error {
		if l.HasMessageRef(in.GroupID, in.SourceMessageRef) {
			return fmt.Errorf("%w: message %s already in ledger", domain.ErrDuplicateOrder, in.SourceMessageRef)
		}

		g := l.EnsureGroup(in.GroupID, s.opts.DefaultRate, s.opts.DefaultDueLimit)
		for _, o := range g.Entries {
			if o.OriginatorID == in.OriginatorID && o.Quantity == in.Quantity &&
				o.Status != domain.OrderStatusDeleted &&
				now.Sub(o.CreatedAt) < duplicateWindow {
				return fmt.Errorf("%w: %d units resubmitted %s after order %s",
					domain.ErrDuplicateOrder, in.Quantity, now.Sub(o.CreatedAt).Round(time.Second), o.ID)
			}
		}

		o, err := domain.NewOrder(nextOrderID(g, now), in.GroupID, in.OriginatorID,
			in.TargetAccountID, in.SourceMessageRef, in.Quantity, g.Rate, now)
		if err != nil {
			return err
		}
		g.Entries = append(g.Entries, o)
		created = o.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.pub.Publish(event.Event{
		Type:    event.TypeCreated,
		GroupID: in.GroupID,
		OrderID: created.ID,
		Actor:   in.OriginatorID,
		At:      now,
		Order:   created,
	})
	if s.metrics != nil {
		s.metrics.OrdersCreated.Inc()
	}
	s.log.Info("order created",
		zap.String("group", in.GroupID),
		zap.String("order", created.ID),
		zap.Int("quantity", in.Quantity))
	return created, nil
}

// nextOrderID derives a millisecond-timestamp id, bumped until unique
// within the group. Ids stay roughly monotonic and never repeat for the
// lifetime of the ledger.
func nextOrderID(g *domain.Group, now time.Time) string {
	ms := now.UnixMilli()
	for {
		id := fmt.Sprintf("%d", ms)
		taken := false
		for _, o := range g.Entries {
			if o.ID == id {
				taken = true
				break
			}
		}
		if !taken {
			return id
		}
		ms++
	}
}

// apply runs one guarded transition and publishes its event inside the
// serialized section, preserving per-order commit order toward observers.
func (s *OrderService) apply(ctx context.Context, groupID, orderID string, typ event.Type, actor, reason string, fn func(*domain.Order) error) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out *domain.Order
	_, err := s.store.Mutate(ctx, func(l *domain.Ledger) error {
		o, err := l.FindOrder(groupID, orderID)
		if err != nil {
			return err
		}
		if err := fn(o); err != nil {
			return err
		}
		out = o.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.pub.Publish(event.Event{
		Type:    typ,
		GroupID: groupID,
		OrderID: orderID,
		Actor:   actor,
		Reason:  reason,
		At:      s.now(),
		Order:   out,
	})
	if s.metrics != nil {
		s.metrics.Transitions.WithLabelValues(string(typ)).Inc()
	}
	return out, nil
}

func (s *OrderService) BeginProcessing(ctx context.Context, groupID, orderID, actor string) (*domain.Order, error) {
	return s.apply(ctx, groupID, orderID, event.TypeProcessing, actor, "", func(o *domain.Order) error {
		return o.BeginProcessing(actor, s.now())
	})
}

func (s *OrderService) Approve(ctx context.Context, groupID, orderID, actor string) (*domain.Order, error) {
	return s.apply(ctx, groupID, orderID, event.TypeApproved, actor, "", func(o *domain.Order) error {
		return o.Approve(actor, s.now())
	})
}

func (s *OrderService) SoftDelete(ctx context.Context, groupID, orderID, actor string) (*domain.Order, error) {
	return s.apply(ctx, groupID, orderID, event.TypeDeleted, actor, "", func(o *domain.Order) error {
		return o.SoftDelete(actor, s.now())
	})
}

func (s *OrderService) Restore(ctx context.Context, groupID, orderID, actor string) (*domain.Order, error) {
	return s.apply(ctx, groupID, orderID, event.TypeRestored, actor, "", func(o *domain.Order) error {
		return o.Restore(actor, s.now())
	})
}

func (s *OrderService) CancelProcessing(ctx context.Context, groupID, orderID, actor string) (*domain.Order, error) {
	return s.apply(ctx, groupID, orderID, event.TypeCancelled, actor, "approval retracted", func(o *domain.Order) error {
		return o.CancelProcessing(actor, s.now())
	})
}

// SweepExpired is the timeout supervisor's only write path: one pass over
// every processing order, auto-approving those whose deadline elapsed. The
// deadline derives from the persisted ProcessingStartedAt, so the sweep
// picks up where a crashed process left off.
func (s *OrderService) SweepExpired(ctx context.Context) ([]*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var expired []*domain.Order
	_, err := s.store.Mutate(ctx, func(l *domain.Ledger) error {
		for _, g := range l.Groups {
			for _, o := range g.Entries {
				if o.ExpireProcessing(now, s.opts.ProcessingTimeout) {
					expired = append(expired, o.Clone())
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, o := range expired {
		s.pub.Publish(event.Event{
			Type:    event.TypeApproved,
			GroupID: o.GroupID,
			OrderID: o.ID,
			Actor:   "system",
			Reason:  "auto-timeout",
			At:      now,
			Order:   o,
		})
		if s.metrics != nil {
			s.metrics.OrdersExpired.Inc()
		}
		s.log.Info("order auto-approved after timeout",
			zap.String("group", o.GroupID), zap.String("order", o.ID))
	}
	if s.metrics != nil {
		s.metrics.SweepRuns.Inc()
	}
	return expired, nil
}

// ListOrders returns orders, optionally filtered to one group and one
// day-relative bucket. Buckets are computed on demand; nothing is stored.
func (s *OrderService) ListOrders(ctx context.Context, groupID string, bucket domain.Bucket) ([]*domain.Order, error) {
	ledger, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var out []*domain.Order
	for id, g := range ledger.Groups {
		if groupID != "" && id != groupID {
			continue
		}
		for _, o := range g.Entries {
			if bucket != "" && !domain.InBucket(o.CreatedAt, bucket, now) {
				continue
			}
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Snapshot returns a deep copy of the whole ledger for resynchronizing
// observers.
func (s *OrderService) Snapshot(ctx context.Context) (*domain.Ledger, error) {
	ledger, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return ledger.Clone(), nil
}

// GroupStat summarizes one group over a bucket range.
type GroupStat struct {
	GroupID  string          `json:"groupId"`
	Name     string          `json:"name,omitempty"`
	Orders   int             `json:"orders"`
	Quantity int             `json:"quantity"`
	Amount   decimal.Decimal `json:"amount"`
}

// GroupStats sums quantity and amount over approved and processing entries
// inside the bucket range, per group.
func (s *OrderService) GroupStats(ctx context.Context, bucket domain.Bucket) ([]GroupStat, error) {
	ledger, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	stats := make([]GroupStat, 0, len(ledger.Groups))
	for id, g := range ledger.Groups {
		st := GroupStat{GroupID: id, Name: g.Name, Amount: decimal.Zero}
		for _, o := range g.Entries {
			if o.Status != domain.OrderStatusApproved && o.Status != domain.OrderStatusProcessing {
				continue
			}
			if bucket != "" && !domain.InBucket(o.CreatedAt, bucket, now) {
				continue
			}
			st.Orders++
			st.Quantity += o.Quantity
			st.Amount = st.Amount.Add(o.Amount())
		}
		stats = append(stats, st)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].GroupID < stats[j].GroupID })
	return stats, nil
}

// ClearGroup removes every entry of a group. Administrative, out of the hot
// path; the group itself and its rate configuration survive.
func (s *OrderService) ClearGroup(ctx context.Context, groupID, actor string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	_, err := s.store.Mutate(ctx, func(l *domain.Ledger) error {
		g, err := l.Group(groupID)
		if err != nil {
			return err
		}
		removed = len(g.Entries)
		g.Entries = nil
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.pub.Publish(event.Event{
		Type:    event.TypeCleared,
		GroupID: groupID,
		Actor:   actor,
		Reason:  fmt.Sprintf("%d entries removed", removed),
		At:      s.now(),
	})
	s.log.Info("group cleared", zap.String("group", groupID), zap.Int("removed", removed))
	return removed, nil
}

// ShiftTodayToYesterday re-dates today's unfinished orders into yesterday
// and approves them. This is the one path that mutates CreatedAt and
// ApprovedAt directly; it exists for out-of-band data correction only and
// has no place in steady-state transitions.
func (s *OrderService) ShiftTodayToYesterday(ctx context.Context, actor string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	today := domain.DayKey(now)
	start, end := domain.BucketRange(domain.BucketYesterday, now)
	approvedAt := end.Add(-time.Millisecond)

	shifted := 0
	_, err := s.store.Mutate(ctx, func(l *domain.Ledger) error {
		for _, g := range l.Groups {
			for _, o := range g.Entries {
				if o.Status != domain.OrderStatusPending && o.Status != domain.OrderStatusProcessing {
					continue
				}
				if domain.DayKey(o.CreatedAt) != today {
					continue
				}
				if err := o.Approve(actor, approvedAt); err != nil {
					return err
				}
				o.CreatedAt = o.CreatedAt.AddDate(0, 0, -1)
				if o.CreatedAt.Before(start) {
					o.CreatedAt = start
				}
				shifted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.log.Info("shifted today's unfinished orders to yesterday", zap.Int("count", shifted))
	return shifted, nil
}

// UpdateDisplayName backfills a best-effort human name onto an order.
func (s *OrderService) UpdateDisplayName(ctx context.Context, groupID, orderID, name string) error {
	if name == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.store.Mutate(ctx, func(l *domain.Ledger) error {
		o, err := l.FindOrder(groupID, orderID)
		if err != nil {
			return err
		}
		o.DisplayName = name
		o.AuditTrail = append(o.AuditTrail, domain.AuditEntry{
			Actor:  "system",
			Action: "display name backfilled",
			At:     s.now(),
		})
		return nil
	})
	return err
}

// ProcessingTimeout exposes the configured deadline for callers that render
// countdowns.
func (s *OrderService) ProcessingTimeout() time.Duration {
	return s.opts.ProcessingTimeout
}
