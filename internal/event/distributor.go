package event

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/roach88/orderledger/internal/metrics"
)

const (
	DefaultHistorySize = 1024
	DefaultBufferSize  = 64
)

// Subscription is one observer's live, ordered event feed. The channel is
// closed when the subscriber falls too far behind; reconnect plus Resync is
// the recovery path, not redelivery.
type Subscription struct {
	ID string
	C  <-chan Event
	ch chan Event
}

// Distributor fans out committed mutations to subscribers. Publish is
// fire-and-forget: it never blocks and never fails the mutation that
// triggered it. A bounded history ring backs Resync for reconnecting
// observers.
type Distributor struct {
	log     *zap.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	seq        uint64
	history    []Event
	historyCap int
	bufSize    int
	subs       map[string]chan Event
	lastType   map[string]Type
}

func NewDistributor(historyCap, bufSize int, m *metrics.Metrics, log *zap.Logger) *Distributor {
	if historyCap <= 0 {
		historyCap = DefaultHistorySize
	}
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Distributor{
		log:        log,
		metrics:    m,
		historyCap: historyCap,
		bufSize:    bufSize,
		subs:       make(map[string]chan Event),
		lastType:   make(map[string]Type),
	}
}

// Publish assigns the next sequence marker and fans the event out. A
// notification whose type equals the immediately preceding one for the same
// order is redundant and suppressed.
func (d *Distributor) Publish(e Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e.OrderID != "" {
		if last, ok := d.lastType[e.OrderID]; ok && last == e.Type {
			return
		}
		d.lastType[e.OrderID] = e.Type
	}

	d.seq++
	e.Seq = d.seq
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	d.history = append(d.history, e)
	if len(d.history) > d.historyCap {
		d.history = d.history[len(d.history)-d.historyCap:]
	}

	if d.metrics != nil {
		d.metrics.EventsPublished.Inc()
	}

	for id, ch := range d.subs {
		select {
		case ch <- e:
		default:
			// Subscriber stopped draining; drop it rather than block the
			// mutation path.
			close(ch)
			delete(d.subs, id)
			if d.metrics != nil {
				d.metrics.SubscribersDropped.Inc()
			}
			d.log.Warn("dropped slow subscriber", zap.String("subscriber", id))
		}
	}
}

// Subscribe returns a live feed starting at the next published event.
func (d *Distributor) Subscribe() *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan Event, d.bufSize)
	d.subs[id] = ch
	return &Subscription{ID: id, C: ch, ch: ch}
}

func (d *Distributor) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ch, ok := d.subs[id]; ok {
		close(ch)
		delete(d.subs, id)
	}
}

// Resync returns every retained event with Seq > since, in order. ok is
// false when since predates the retained window; the caller must take a
// full snapshot instead of an incremental catch-up.
func (d *Distributor) Resync(since uint64) ([]Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if since > d.seq {
		return nil, false
	}
	if len(d.history) == 0 {
		return nil, since == d.seq
	}
	oldest := d.history[0].Seq
	if since+1 < oldest {
		return nil, false
	}
	var out []Event
	for _, e := range d.history {
		if e.Seq > since {
			out = append(out, e)
		}
	}
	return out, true
}

// CurrentSeq is the marker of the most recently published event.
func (d *Distributor) CurrentSeq() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seq
}

// SubscriberCount reports connected observers, for logs and health output.
func (d *Distributor) SubscriberCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}
