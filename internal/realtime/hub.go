// Package realtime fans out per-market events to live subscribers.
package realtime

import (
	"sync"
	"sync/atomic"

	"github.com/rewired-gh/verdictx/internal/metrics"
	"github.com/rewired-gh/verdictx/internal/models"
)

// EventType names what changed in a market.
type EventType string

const (
	EventMessage EventType = "message"
	EventTally   EventType = "tally"
)

// Event is one push to a market's subscribers.
type Event struct {
	Type     EventType       `json:"type"`
	MarketID string          `json:"marketId"`
	Message  *models.Message `json:"message,omitempty"`
	Tally    *models.Tally   `json:"tally,omitempty"`
}

// MessageEvent wraps an appended chat message.
func MessageEvent(msg *models.Message) Event {
	return Event{Type: EventMessage, MarketID: msg.MarketID, Message: msg}
}

// TallyEvent wraps a market's counters after a vote.
func TallyEvent(t models.Tally) Event {
	return Event{Type: EventTally, MarketID: t.MarketID, Tally: &t}
}

// Hub is a per-market publish/subscribe fan-out. Publish never blocks: a
// subscriber whose buffer is full misses the event.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*Subscription]struct{}
	buffer  int
	dropped atomic.Int64
	closed  bool
}

// Subscription receives events for one market until closed.
type Subscription struct {
	ch       chan Event
	marketID string
	hub      *Hub
	once     sync.Once
}

// NewHub creates a hub whose subscribers buffer up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers for marketID's events. The caller must Close the
// subscription when done.
func (h *Hub) Subscribe(marketID string) *Subscription {
	s := &Subscription{
		ch:       make(chan Event, h.buffer),
		marketID: marketID,
		hub:      h,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(s.ch)
		return s
	}
	set, ok := h.subs[marketID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[marketID] = set
	}
	set[s] = struct{}{}
	metrics.AddSubscribers(1)
	return s
}

// Events is closed when the subscription or the hub closes.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
	})
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[s.marketID]
	if !ok {
		return
	}
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, s.marketID)
	}
	close(s.ch)
	metrics.AddSubscribers(-1)
}

// Publish delivers ev to every subscriber of ev.MarketID and returns how
// many received it.
func (h *Hub) Publish(ev Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for s := range h.subs[ev.MarketID] {
		select {
		case s.ch <- ev:
			delivered++
		default:
			h.dropped.Add(1)
			metrics.IncHubDropped()
		}
	}
	return delivered
}

// Subscribers returns the number of open subscriptions for marketID.
func (h *Hub) Subscribers(marketID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[marketID])
}

// Dropped returns how many events were dropped since the hub started.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close ends every subscription. Later subscriptions start closed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, set := range h.subs {
		for s := range set {
			close(s.ch)
			metrics.AddSubscribers(-1)
		}
		delete(h.subs, id)
	}
}
