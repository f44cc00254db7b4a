package queue

import "sync"

// Event is a progress notification for one node status change. Events
// are a pure side channel: delivery is best-effort and nothing in the
// pipeline depends on them.
type Event struct {
	NodeID     string  `json:"nodeId"`
	Queue      string  `json:"queue"`
	Status     string  `json:"status"`
	Percentage float64 `json:"percentage,omitempty"`
}

type subscriber struct {
	repoID string
	ch     chan Event
}

// EventBus fans progress events out to per-repository subscribers.
// Publishing never blocks: a subscriber that cannot keep up loses
// events rather than stalling the pipeline.
type EventBus struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// NewEventBus creates an empty bus
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[*subscriber]struct{})}
}

// Subscribe returns a channel of events for one repository and a
// cancel function that must be called when done
func (b *EventBus) Subscribe(repoID string) (<-chan Event, func()) {
	sub := &subscriber{
		repoID: repoID,
		ch:     make(chan Event, 64),
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[sub]; ok {
			delete(b.subs, sub)
			close(sub.ch)
		}
		b.mu.Unlock()
	}
	return sub.ch, cancel
}

// Publish delivers an event to every subscriber of the repository,
// dropping it for subscribers with full buffers
func (b *EventBus) Publish(repoID string, event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		if sub.repoID != repoID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
}
