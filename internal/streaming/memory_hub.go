package streaming

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuffer is the per-subscription channel capacity.
const DefaultBuffer = 64

// subscription is one live Subscribe call.
type subscription struct {
	events chan StreamEvent
	filter EventFilter
	closed chan struct{}
	once   sync.Once
}

// MemoryHub delivers events in-process. Publishing never blocks: an event
// for a subscriber whose buffer is full is dropped and counted.
type MemoryHub struct {
	buffer int
	now    func() time.Time

	mu      sync.RWMutex
	subs    map[*subscription]struct{}
	dropped atomic.Int64
}

// HubOption configures a MemoryHub.
type HubOption func(*MemoryHub)

// WithBuffer sets the per-subscription capacity.
func WithBuffer(n int) HubOption {
	return func(h *MemoryHub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithHubClock overrides the time stamped on events published without one.
func WithHubClock(now func() time.Time) HubOption {
	return func(h *MemoryHub) { h.now = now }
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub(opts ...HubOption) *MemoryHub {
	h := &MemoryHub{
		buffer: DefaultBuffer,
		now:    time.Now,
		subs:   make(map[*subscription]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Publish stamps the event if needed and hands it to every matching subscriber.
func (h *MemoryHub) Publish(ctx context.Context, event StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = h.now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if !sub.filter.matches(event) {
			continue
		}
		select {
		case sub.events <- event:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a filtered subscription. The channel closes when the
// returned func is called or ctx ends, whichever is first.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	sub := &subscription{
		events: make(chan StreamEvent, h.buffer),
		filter: filter,
		closed: make(chan struct{}),
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	unsubscribe := func() { h.remove(sub) }
	go func() {
		select {
		case <-ctx.Done():
			h.remove(sub)
		case <-sub.closed:
		}
	}()
	return sub.events, unsubscribe, nil
}

func (h *MemoryHub) remove(sub *subscription) {
	sub.once.Do(func() {
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
		close(sub.events)
		close(sub.closed)
	})
}

// Subscribers reports the number of live subscriptions.
func (h *MemoryHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped reports how many deliveries were skipped because a subscriber
// was not keeping up.
func (h *MemoryHub) Dropped() int64 {
	return h.dropped.Load()
}
