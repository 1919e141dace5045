// Package notifier fans staging and confirmation events out to live
// observers. Delivery is best-effort: publishing never blocks the mutation
// that produced the event, and an observer that cannot keep up or has gone
// away is dropped rather than retried.
package notifier

import (
	"log"
	"strconv"
	"sync"

	"pesanaja/backend/internal/domain"
)

const subscriberBuffer = 64

type Subscriber struct {
	id     string
	events chan domain.ChangeEvent
}

// Events is the subscriber's receive side. The hub closes it when the
// subscriber is unsubscribed or dropped.
func (s *Subscriber) Events() <-chan domain.ChangeEvent {
	return s.events
}

type Hub struct {
	mu     sync.Mutex
	subs   map[string]*Subscriber
	nextID int
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]*Subscriber)}
}

func (h *Hub) Subscribe() *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscriber{
		id:     subscriberID(h.nextID),
		events: make(chan domain.ChangeEvent, subscriberBuffer),
	}
	if h.closed {
		close(sub.events)
		return sub
	}
	h.subs[sub.id] = sub
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(sub.id)
}

// Publish delivers the event to every live subscriber. A subscriber whose
// buffer is full is treated as unreachable and removed from the set.
func (h *Hub) Publish(event domain.ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	for id, sub := range h.subs {
		select {
		case sub.events <- event:
		default:
			log.Printf("[notifier] dropping unresponsive subscriber %s", id)
			h.dropLocked(id)
		}
	}
}

// SubscriberCount reports live subscribers; used by the health endpoint.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close drops all subscribers and rejects future publishes. Called on
// shutdown so websocket writers exit cleanly.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id := range h.subs {
		h.dropLocked(id)
	}
}

func (h *Hub) dropLocked(id string) {
	if sub, exists := h.subs[id]; exists {
		delete(h.subs, id)
		close(sub.events)
	}
}

func subscriberID(n int) string {
	return "sub-" + strconv.Itoa(n)
}
