package broadcast

import (
	"sync"
	"sync/atomic"

	"call-lead-pipeline/internal/metrics"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// Hub fans events out to subscribers. Publish never blocks on a slow
// subscriber: when its buffer is full the event is dropped for that
// subscriber only.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	buffer  int
	dropped atomic.Int64
	metrics *metrics.Registry
}

func NewHub(buffer int, m *metrics.Registry) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{subs: make(map[*Subscription]struct{}), buffer: buffer, metrics: m}
}

// Subscription receives events for one call, or every call when CallID is
// empty.
type Subscription struct {
	CallID string

	ch   chan Event
	hub  *Hub
	once sync.Once
}

func (s *Subscription) Events() <-chan Event { return s.ch }

// Close unsubscribes and closes the event channel. Safe to call twice.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		close(s.ch)
		s.hub.mu.Unlock()
	})
}

func (h *Hub) Subscribe(callID string) *Subscription {
	s := &Subscription{CallID: callID, ch: make(chan Event, h.buffer), hub: h}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Publish delivers ev to every matching subscriber. Events published by one
// goroutine reach each subscriber in publish order.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if s.CallID != "" && s.CallID != ev.CallID {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			h.dropped.Add(1)
			h.metrics.EventDropped()
		}
	}
}

// Dropped reports how many deliveries were skipped because a subscriber
// was full.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Len is the current subscriber count.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
