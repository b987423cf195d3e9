package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusApproved   OrderStatus = "approved"
	OrderStatusDeleted    OrderStatus = "deleted"
)

// AuditEntry records one mutation. Every successful mutation appends exactly
// one entry; rejected mutations append none.
type AuditEntry struct {
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	At     time.Time `json:"at"`
}

// Order is one purchase request. UnitRate is a snapshot of the group rate at
// creation time and is never recomputed.
type Order struct {
	ID                  string          `json:"id"`
	GroupID             string          `json:"groupId"`
	OriginatorID        string          `json:"originatorId"`
	DisplayName         string          `json:"displayName,omitempty"`
	TargetAccountID     string          `json:"targetAccountId"`
	Quantity            int             `json:"quantity"`
	UnitRate            decimal.Decimal `json:"unitRate"`
	Status              OrderStatus     `json:"status"`
	CreatedAt           time.Time       `json:"createdAt"`
	ProcessingStartedAt *time.Time      `json:"processingStartedAt,omitempty"`
	ApprovedAt          *time.Time      `json:"approvedAt,omitempty"`
	DeletedAt           *time.Time      `json:"deletedAt,omitempty"`
	RecoveredAt         *time.Time      `json:"recoveredAt,omitempty"`
	SourceMessageRef    string          `json:"sourceMessageRef,omitempty"`
	AuditTrail          []AuditEntry    `json:"auditTrail,omitempty"`
}

// NewOrder validates input and produces a pending order. The rate is the
// owning group's rate at this moment.
func NewOrder(id, groupID, originatorID, targetAccountID, sourceMessageRef string, quantity int, rate decimal.Decimal, now time.Time) (*Order, error) {
	if quantity <= 0 {
		return nil, &ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	if targetAccountID == "" {
		return nil, &ValidationError{Field: "targetAccountId", Reason: "must not be empty"}
	}
	o := &Order{
		ID:               id,
		GroupID:          groupID,
		OriginatorID:     originatorID,
		TargetAccountID:  targetAccountID,
		Quantity:         quantity,
		UnitRate:         rate,
		Status:           OrderStatusPending,
		CreatedAt:        now,
		SourceMessageRef: sourceMessageRef,
	}
	o.audit(originatorID, "created", now)
	return o, nil
}

func (o *Order) audit(actor, action string, at time.Time) {
	o.AuditTrail = append(o.AuditTrail, AuditEntry{Actor: actor, Action: action, At: at})
}

func (o *Order) invalid(to OrderStatus) error {
	return fmt.Errorf("%w: %s -> %s (order %s)", ErrInvalidTransition, o.Status, to, o.ID)
}

// BeginProcessing moves pending -> processing and stamps ProcessingStartedAt.
func (o *Order) BeginProcessing(actor string, now time.Time) error {
	if o.Status != OrderStatusPending {
		return o.invalid(OrderStatusProcessing)
	}
	o.Status = OrderStatusProcessing
	o.ProcessingStartedAt = &now
	o.audit(actor, "processing", now)
	return nil
}

// Approve moves processing (normal path) or pending (administrative
// fast-path) -> approved. Re-approving an approved order is a no-op success.
// A deleted order must go through Restore instead.
func (o *Order) Approve(actor string, now time.Time) error {
	switch o.Status {
	case OrderStatusApproved:
		return nil
	case OrderStatusPending, OrderStatusProcessing:
		o.Status = OrderStatusApproved
		o.ApprovedAt = &now
		o.audit(actor, "approved", now)
		return nil
	default:
		return o.invalid(OrderStatusApproved)
	}
}

// SoftDelete tags the order deleted from any state. The record is kept so
// Restore can bring it back. Deleting a deleted order is a no-op success.
func (o *Order) SoftDelete(actor string, now time.Time) error {
	if o.Status == OrderStatusDeleted {
		return nil
	}
	o.Status = OrderStatusDeleted
	o.DeletedAt = &now
	o.audit(actor, "deleted", now)
	return nil
}

// Restore moves deleted -> approved. Restoring an approved order is a no-op
// success; any other state is an invalid transition.
func (o *Order) Restore(actor string, now time.Time) error {
	switch o.Status {
	case OrderStatusApproved:
		return nil
	case OrderStatusDeleted:
		o.Status = OrderStatusApproved
		o.ApprovedAt = &now
		o.audit(actor, "restored", now)
		return nil
	default:
		return o.invalid(OrderStatusApproved)
	}
}

// CancelProcessing returns a processing order to pending, pre-empting the
// auto-approval timeout. ProcessingStartedAt is kept as history; it is
// restamped if processing begins again.
func (o *Order) CancelProcessing(actor string, now time.Time) error {
	if o.Status != OrderStatusProcessing {
		return o.invalid(OrderStatusPending)
	}
	o.Status = OrderStatusPending
	o.audit(actor, "cancelled", now)
	return nil
}

// ExpireProcessing auto-approves a processing order whose deadline has
// elapsed. Silence after the window is treated as successful fulfillment;
// an explicit SoftDelete during the window is authoritative and wins.
// Safe to call repeatedly from a sweep; reports whether it transitioned.
func (o *Order) ExpireProcessing(now time.Time, timeout time.Duration) bool {
	if o.Status != OrderStatusProcessing || o.ProcessingStartedAt == nil {
		return false
	}
	if now.Sub(*o.ProcessingStartedAt) < timeout {
		return false
	}
	o.Status = OrderStatusApproved
	o.ApprovedAt = &now
	o.audit("system", "auto-approved", now)
	return true
}

// MarkRecovered forces the order into processing regardless of its current
// status. Recovery may resurrect an administratively deleted entry, so the
// pending-only guard of BeginProcessing does not apply here.
func (o *Order) MarkRecovered(actor string, now time.Time) {
	prior := o.Status
	o.Status = OrderStatusProcessing
	o.ProcessingStartedAt = &now
	o.RecoveredAt = &now
	o.audit(actor, fmt.Sprintf("recovered (was %s)", prior), now)
}

// Amount is Quantity x UnitRate.
func (o *Order) Amount() decimal.Decimal {
	return o.UnitRate.Mul(decimal.NewFromInt(int64(o.Quantity)))
}

// Clone returns a deep copy safe to hand to observers.
func (o *Order) Clone() *Order {
	c := *o
	c.ProcessingStartedAt = cloneTime(o.ProcessingStartedAt)
	c.ApprovedAt = cloneTime(o.ApprovedAt)
	c.DeletedAt = cloneTime(o.DeletedAt)
	c.RecoveredAt = cloneTime(o.RecoveredAt)
	c.AuditTrail = append([]AuditEntry(nil), o.AuditTrail...)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
