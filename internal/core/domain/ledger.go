package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Group is a named collection of orders plus its rate configuration. Groups
// are created lazily on first order and never deleted automatically.
type Group struct {
	Name     string          `json:"name,omitempty"`
	Rate     decimal.Decimal `json:"rate"`
	DueLimit decimal.Decimal `json:"dueLimit"`
	Entries  []*Order        `json:"entries"`
}

// Ledger is the authoritative persisted order store, one per deployment.
type Ledger struct {
	Groups map[string]*Group `json:"groups"`
}

func NewLedger() *Ledger {
	return &Ledger{Groups: make(map[string]*Group)}
}

// Group returns the named group or ErrGroupNotFound.
func (l *Ledger) Group(groupID string) (*Group, error) {
	g, ok := l.Groups[groupID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
	}
	return g, nil
}

// EnsureGroup returns the named group, creating it with the given defaults
// on first order from a new collection.
func (l *Ledger) EnsureGroup(groupID string, rate, dueLimit decimal.Decimal) *Group {
	if l.Groups == nil {
		l.Groups = make(map[string]*Group)
	}
	g, ok := l.Groups[groupID]
	if !ok {
		g = &Group{Rate: rate, DueLimit: dueLimit}
		l.Groups[groupID] = g
	}
	return g
}

// FindOrder locates an order by id within a group.
func (l *Ledger) FindOrder(groupID, orderID string) (*Order, error) {
	g, err := l.Group(groupID)
	if err != nil {
		return nil, err
	}
	for _, o := range g.Entries {
		if o.ID == orderID {
			return o, nil
		}
	}
	return nil, fmt.Errorf("%w: %s in group %s", ErrOrderNotFound, orderID, groupID)
}

// OrdersByOriginator returns all of an originator's orders in a group,
// regardless of status. Recovery matching needs deleted entries too.
func (l *Ledger) OrdersByOriginator(groupID, originatorID string) []*Order {
	g, ok := l.Groups[groupID]
	if !ok {
		return nil
	}
	var out []*Order
	for _, o := range g.Entries {
		if o.OriginatorID == originatorID {
			out = append(out, o)
		}
	}
	return out
}

// HasMessageRef reports whether any entry in the group carries the given
// source message reference.
func (l *Ledger) HasMessageRef(groupID, ref string) bool {
	if ref == "" {
		return false
	}
	g, ok := l.Groups[groupID]
	if !ok {
		return false
	}
	for _, o := range g.Entries {
		if o.SourceMessageRef == ref {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the ledger for snapshot responses.
func (l *Ledger) Clone() *Ledger {
	c := NewLedger()
	for id, g := range l.Groups {
		cg := &Group{Name: g.Name, Rate: g.Rate, DueLimit: g.DueLimit}
		for _, o := range g.Entries {
			cg.Entries = append(cg.Entries, o.Clone())
		}
		c.Groups[id] = cg
	}
	return c
}
