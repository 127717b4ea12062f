// Package bus is the in-process publish/subscribe core of the mesh. Each
// subscriber owns a bounded channel; publish hands every subscriber an
// independent clone so one consumer's mutation cannot leak to another.
package bus

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/blackroadhq/eventmesh/internal/codec"
	"github.com/blackroadhq/eventmesh/internal/models"
)

// DefaultBuffer is the per-subscriber queue capacity when none is configured.
const DefaultBuffer = 256

// Gate decides whether a published envelope is new. Implemented by the
// idempotency tracker.
type Gate interface {
	Register(models.Envelope) bool
}

// Options configures a Bus.
type Options struct {
	// Buffer is the per-subscriber queue capacity (DefaultBuffer when <= 0).
	Buffer int
	// Tracker, when set, gates publishes: duplicates are silently dropped.
	Tracker Gate
	// OnOverflow, when set, is invoked once per envelope discarded from a slow
	// subscriber's queue. Must not block.
	OnOverflow func()
}

// Bus fans published envelopes out to all active subscribers.
type Bus struct {
	mu         sync.Mutex
	subs       map[uuid.UUID]*subscriber
	buffer     int
	tracker    Gate
	onOverflow func()
	closed     bool
}

type subscriber struct {
	ch chan models.Envelope
}

// Subscription is a live attachment to the bus. Events are consumed from
// Events(); Cancel detaches exactly once and is safe to call repeatedly.
type Subscription struct {
	id     uuid.UUID
	ch     chan models.Envelope
	bus    *Bus
	cancel sync.Once
}

// New constructs a Bus.
func New(opts Options) *Bus {
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		subs:       make(map[uuid.UUID]*subscriber),
		buffer:     buffer,
		tracker:    opts.Tracker,
		onOverflow: opts.OnOverflow,
	}
}

// Publish delivers the envelope to every active subscriber and reports whether
// it was accepted. A false return means the configured dedupe gate saw the
// envelope within its window; the drop is silent by design and must not be
// treated as failure. Delivery is decoupled from the caller: envelopes land in
// subscriber queues and are drained by consumer goroutines, so per-publisher
// FIFO holds but no cross-publisher ordering is guaranteed.
func (b *Bus) Publish(e models.Envelope) bool {
	if b.tracker != nil && !b.tracker.Register(e) {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	for _, sub := range b.subs {
		b.send(sub, codec.Clone(e))
	}
	return true
}

// send enqueues without blocking, discarding the oldest queued envelope when
// the subscriber is full (drop-oldest backpressure policy).
func (b *Bus) send(sub *subscriber, e models.Envelope) {
	for {
		select {
		case sub.ch <- e:
			return
		default:
		}
		select {
		case <-sub.ch:
			if b.onOverflow != nil {
				b.onOverflow()
			}
		default:
		}
	}
}

// Subscribe attaches a new consumer. The returned subscription sees only
// envelopes published after it attaches; nothing is replayed.
func (b *Bus) Subscribe() (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("bus closed")
	}

	id := uuid.New()
	sub := &subscriber{ch: make(chan models.Envelope, b.buffer)}
	b.subs[id] = sub
	return &Subscription{id: id, ch: sub.ch, bus: b}, nil
}

// SubscriberCount reports the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close detaches all subscribers and rejects further publishes.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Events returns the subscriber's receive channel. The channel closes after
// Cancel or bus shutdown.
func (s *Subscription) Events() <-chan models.Envelope {
	return s.ch
}

// ID identifies the subscription.
func (s *Subscription) ID() uuid.UUID { return s.id }

// Cancel detaches from the bus. Idempotent; no envelopes are delivered after
// the channel close is observed.
func (s *Subscription) Cancel() {
	s.cancel.Do(func() {
		s.bus.mu.Lock()
		sub, ok := s.bus.subs[s.id]
		if ok {
			delete(s.bus.subs, s.id)
		}
		s.bus.mu.Unlock()
		if ok {
			close(sub.ch)
		}
	})
}
