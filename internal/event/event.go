// Package event distributes state-change notifications to connected
// observers with at-least-once delivery and reconnect resynchronization.
package event

import (
	"time"

	"github.com/roach88/orderledger/internal/core/domain"
)

type Type string

const (
	TypeCreated    Type = "created"
	TypeProcessing Type = "processing"
	TypeApproved   Type = "approved"
	TypeDeleted    Type = "deleted"
	TypeRestored   Type = "restored"
	TypeCancelled  Type = "cancelled"
	TypeRecovered  Type = "recovered"
	TypeCleared    Type = "cleared"
	TypeDayRolled  Type = "day_rolled"
)

// Event is one committed state change. Seq is a global, gapless-per-
// distributor marker observers hand back to Resync after a reconnect.
type Event struct {
	ID      string        `json:"id"`
	Seq     uint64        `json:"seq"`
	Type    Type          `json:"type"`
	GroupID string        `json:"groupId,omitempty"`
	OrderID string        `json:"orderId,omitempty"`
	Actor   string        `json:"actor,omitempty"`
	Reason  string        `json:"reason,omitempty"`
	At      time.Time     `json:"at"`
	Order   *domain.Order `json:"order,omitempty"`
}
