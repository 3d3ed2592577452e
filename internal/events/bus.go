// Package events carries completion notifications from the polling engine to
// presentation subscribers. Delivery is fire-and-forget: publishing never
// blocks, and a subscriber that cannot keep up misses events rather than
// stalling the engine.
package events

import "sync"

// Kind discriminates event payloads.
type Kind string

const (
	KindItemCompleted  Kind = "item_completed"
	KindItemFailed     Kind = "item_failed"
	KindBatchCompleted Kind = "batch_completed"
	KindBatchTimedOut  Kind = "batch_timed_out"
)

// Event is one notification. Exactly one of the payload groups is set,
// according to Kind.
type Event struct {
	Kind    Kind   `json:"kind"`
	BatchID string `json:"batch_id"`

	// Item payload, for item_completed and item_failed.
	ItemID   string `json:"item_id,omitempty"`
	Filename string `json:"filename,omitempty"`
	Error    string `json:"error,omitempty"`

	// Batch payload, for batch_completed and batch_timed_out.
	Completed      int    `json:"completed,omitempty"`
	Failed         int    `json:"failed,omitempty"`
	ElapsedSeconds int    `json:"elapsed_seconds,omitempty"`
	ResultURL      string `json:"result_url,omitempty"`
}

const subscriberBuffer = 64

// Bus is an in-process publish/subscribe channel fan-out.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener. The returned cancel function must be
// called to release the subscription; the channel is closed afterwards.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking. Handlers
// return nothing; the publisher never waits on them.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber lagging; drop rather than stall the engine.
		}
	}
}
