package port

import (
	"context"

	"github.com/roach88/orderledger/internal/core/domain"
)

// LedgerStore owns atomic load/save of the shared order ledger.
type LedgerStore interface {
	// Load reads the current ledger. An absent store is an empty ledger on
	// first-ever run; an unreadable or malformed one is domain.ErrCorruptLedger.
	Load(ctx context.Context) (*domain.Ledger, error)

	// Save persists the ledger atomically; the stored ledger is never left
	// half-written.
	Save(ctx context.Context, l *domain.Ledger) error

	// Mutate runs load-mutate-save as a single critical section, serialized
	// against all other Mutate calls in this process. If fn returns an error
	// nothing is written.
	Mutate(ctx context.Context, fn func(*domain.Ledger) error) (*domain.Ledger, error)
}
