package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/orderledger/internal/core/domain"
	"github.com/roach88/orderledger/internal/event"
	"github.com/roach88/orderledger/internal/port"
)

// PendingCandidate is the originating process's memory of an order whose
// ledger write may still be in flight or may have been silently dropped.
// Never persisted; rebuilt from live traffic after a restart.
type PendingCandidate struct {
	GroupID          string
	OriginatorID     string
	Quantity         int
	TargetAccountID  string
	SourceMessageRef string
	LastSeenAt       time.Time
}

// PendingTracker holds recovery candidates for a short grace window.
type PendingTracker struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string][]PendingCandidate
	now     func() time.Time
}

func NewPendingTracker(ttl time.Duration) *PendingTracker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PendingTracker{
		ttl:     ttl,
		entries: make(map[string][]PendingCandidate),
		now:     time.Now,
	}
}

func trackerKey(groupID, originatorID string) string {
	return groupID + "|" + originatorID
}

func (t *PendingTracker) Track(c PendingCandidate) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c.LastSeenAt = t.now()
	key := trackerKey(c.GroupID, c.OriginatorID)
	t.entries[key] = append(t.prune(t.entries[key]), c)
}

// Forget drops the candidate once its ledger write is confirmed.
func (t *PendingTracker) Forget(groupID, originatorID, sourceMessageRef string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := trackerKey(groupID, originatorID)
	kept := t.entries[key][:0]
	for _, c := range t.entries[key] {
		if c.SourceMessageRef != sourceMessageRef {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		delete(t.entries, key)
	} else {
		t.entries[key] = kept
	}
}

// Candidates returns the unexpired candidates for an originator.
func (t *PendingTracker) Candidates(groupID, originatorID string) []PendingCandidate {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := trackerKey(groupID, originatorID)
	live := t.prune(t.entries[key])
	if len(live) == 0 {
		delete(t.entries, key)
		return nil
	}
	t.entries[key] = live
	return append([]PendingCandidate(nil), live...)
}

func (t *PendingTracker) prune(cs []PendingCandidate) []PendingCandidate {
	cutoff := t.now().Add(-t.ttl)
	kept := cs[:0]
	for _, c := range cs {
		if c.LastSeenAt.After(cutoff) {
			kept = append(kept, c)
		}
	}
	return kept
}

var quantityToken = regexp.MustCompile(`\d+`)

// extractQuantity pulls the first number out of a free-text hint like
// "1000 delivered". Zero means no usable token.
func extractQuantity(hint string) int {
	tok := quantityToken.FindString(hint)
	if tok == "" {
		return 0
	}
	n, err := strconv.Atoi(tok)
	if err != nil {
		return 0
	}
	return n
}

// RecoveryService reconciles fulfillment signals that no longer resolve to
// a live ledger entry. Ambiguity is never guessed away: a wrong
// resurrection risks double-fulfilling, so without disambiguating evidence
// the caller gets ErrAmbiguousRecovery and a human decides.
type RecoveryService struct {
	orders        *OrderService
	tracker       *PendingTracker
	resolver      port.ContactResolver
	enrichTimeout time.Duration
	log           *zap.Logger
}

func NewRecoveryService(orders *OrderService, tracker *PendingTracker, resolver port.ContactResolver, enrichTimeout time.Duration, log *zap.Logger) *RecoveryService {
	if enrichTimeout <= 0 {
		enrichTimeout = 3 * time.Second
	}
	return &RecoveryService{
		orders:        orders,
		tracker:       tracker,
		resolver:      resolver,
		enrichTimeout: enrichTimeout,
		log:           log,
	}
}

// Recover selects the originator's order the hint points at and forces it
// back into processing:
//
//  1. quantity token in the hint matching exactly one candidate wins;
//  2. otherwise a sole candidate wins by elimination;
//  3. otherwise the recovery is ambiguous and nothing is touched.
//
// When the ledger holds nothing for the originator but the pending tracker
// remembers exactly one compatible candidate, the order is recreated from
// it: that is the silently-dropped-write case the tracker exists for.
func (r *RecoveryService) Recover(ctx context.Context, groupID, originatorID, hint, actor string) (*domain.Order, error) {
	wantQty := extractQuantity(hint)

	recovered, err := r.orders.recoverMatch(ctx, groupID, originatorID, wantQty, actor)
	if err == nil {
		r.enrich(ctx, recovered)
		return recovered, nil
	}
	if !errors.Is(err, errNoCandidates) {
		return nil, err
	}

	resurrected, rerr := r.resurrectFromTracker(ctx, groupID, originatorID, wantQty, actor)
	if rerr != nil {
		return nil, fmt.Errorf("%w: no orders for originator %s", domain.ErrAmbiguousRecovery, originatorID)
	}
	r.enrich(ctx, resurrected)
	return resurrected, nil
}

func (r *RecoveryService) resurrectFromTracker(ctx context.Context, groupID, originatorID string, wantQty int, actor string) (*domain.Order, error) {
	if r.tracker == nil {
		return nil, domain.ErrAmbiguousRecovery
	}
	candidates := r.tracker.Candidates(groupID, originatorID)
	if wantQty > 0 {
		var matched []PendingCandidate
		for _, c := range candidates {
			if c.Quantity == wantQty {
				matched = append(matched, c)
			}
		}
		if len(matched) > 0 {
			candidates = matched
		}
	}
	if len(candidates) != 1 {
		return nil, domain.ErrAmbiguousRecovery
	}

	c := candidates[0]
	r.log.Warn("resurrecting order missing from ledger",
		zap.String("group", groupID),
		zap.String("originator", originatorID),
		zap.Int("quantity", c.Quantity))

	o, err := r.orders.resurrect(ctx, c, actor)
	if err != nil {
		return nil, err
	}
	r.tracker.Forget(groupID, originatorID, c.SourceMessageRef)
	return o, nil
}

// enrich backfills the requester's display name. Strictly best effort with
// its own deadline; a failure here must never fail the recovery.
func (r *RecoveryService) enrich(ctx context.Context, o *domain.Order) {
	if r.resolver == nil || o.DisplayName != "" {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, r.enrichTimeout)
	defer cancel()

	name, err := r.resolver.DisplayName(rctx, o.OriginatorID)
	if err != nil || name == "" {
		r.log.Debug("display name enrichment skipped",
			zap.String("originator", o.OriginatorID), zap.Error(err))
		return
	}
	o.DisplayName = name
	if err := r.orders.UpdateDisplayName(ctx, o.GroupID, o.ID, name); err != nil {
		r.log.Warn("failed to persist display name", zap.Error(err))
	}
}

// errNoCandidates distinguishes "originator has no ledger entries at all"
// (tracker resurrection may apply) from plain ambiguity (it may not).
var errNoCandidates = errors.New("no ledger candidates")

// recoverMatch runs the matching algorithm inside the serialized mutate
// path and marks the selection recovered.
func (s *OrderService) recoverMatch(ctx context.Context, groupID, originatorID string, wantQty int, actor string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var recovered *domain.Order
	_, err := s.store.Mutate(ctx, func(l *domain.Ledger) error {
		candidates := l.OrdersByOriginator(groupID, originatorID)
		if len(candidates) == 0 {
			return errNoCandidates
		}

		var selected *domain.Order
		if wantQty > 0 {
			var matched []*domain.Order
			for _, o := range candidates {
				if o.Quantity == wantQty {
					matched = append(matched, o)
				}
			}
			if len(matched) == 1 {
				selected = matched[0]
			}
		}
		if selected == nil && len(candidates) == 1 {
			selected = candidates[0]
		}
		if selected == nil {
			return fmt.Errorf("%w: %d candidates for originator %s, hint quantity %d",
				domain.ErrAmbiguousRecovery, len(candidates), originatorID, wantQty)
		}

		selected.MarkRecovered(actor, now)
		recovered = selected.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.pub.Publish(event.Event{
		Type:    event.TypeRecovered,
		GroupID: groupID,
		OrderID: recovered.ID,
		Actor:   actor,
		At:      now,
		Order:   recovered,
	})
	if s.metrics != nil {
		s.metrics.OrdersRecovered.Inc()
	}
	s.log.Info("order recovered",
		zap.String("group", groupID),
		zap.String("order", recovered.ID),
		zap.String("actor", actor))
	return recovered, nil
}

// resurrect recreates an order the ledger lost, directly in processing.
func (s *OrderService) resurrect(ctx context.Context, c PendingCandidate, actor string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out *domain.Order
	_, err := s.store.Mutate(ctx, func(l *domain.Ledger) error {
		g := l.EnsureGroup(c.GroupID, s.opts.DefaultRate, s.opts.DefaultDueLimit)
		o, err := domain.NewOrder(nextOrderID(g, now), c.GroupID, c.OriginatorID,
			c.TargetAccountID, c.SourceMessageRef, c.Quantity, g.Rate, now)
		if err != nil {
			return err
		}
		o.MarkRecovered(actor, now)
		g.Entries = append(g.Entries, o)
		out = o.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.pub.Publish(event.Event{
		Type:    event.TypeRecovered,
		GroupID: c.GroupID,
		OrderID: out.ID,
		Actor:   actor,
		Reason:  "resurrected from pending candidate",
		At:      now,
		Order:   out,
	})
	if s.metrics != nil {
		s.metrics.OrdersRecovered.Inc()
	}
	return out, nil
}
