package port

import "github.com/roach88/orderledger/internal/event"

// Publisher receives committed mutations. Implementations must not block
// and must not fail the mutation that produced the event.
type Publisher interface {
	Publish(e event.Event)
}
