// Package notify fans out state-change events to subscribers, backing the
// push channel that clients watch for imminent locks.
package notify

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType identifies what happened.
type EventType string

const (
	// EventPendingLock fires once when a domain enters its grace period.
	EventPendingLock EventType = "pending_lock"
	// EventLocked fires when a domain locks.
	EventLocked EventType = "locked"
	// EventEmergencyGranted fires when an emergency grant returns a domain
	// to active.
	EventEmergencyGranted EventType = "emergency_granted"
	// EventRestarted fires when a restart unlocks a domain.
	EventRestarted EventType = "restarted"
	// EventDailyReset fires after the daily reset completes.
	EventDailyReset EventType = "daily_reset"
)

// Event is a single state-change notification.
type Event struct {
	Type         EventType `json:"type"`
	Domain       string    `json:"domain,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	GraceSeconds int64     `json:"grace_seconds,omitempty"`
	At           time.Time `json:"at"`
}

// subscriberBuffer bounds each subscriber channel. A subscriber that falls
// this far behind loses events rather than stalling publishers.
const subscriberBuffer = 16

// Hub is a fan-out broadcaster. Publish never blocks.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	logger zerolog.Logger
}

// NewHub creates an event hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		subs:   make(map[chan Event]struct{}),
		logger: logger.With().Str("component", "notify").Logger(),
	}
}

// Subscribe registers a new subscriber. The returned cancel function must be
// called to release the subscription.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber, dropping it for any
// subscriber whose buffer is full.
func (h *Hub) Publish(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs {
		select {
		case ch <- event:
		default:
			h.logger.Warn().
				Str("type", string(event.Type)).
				Str("domain", event.Domain).
				Msg("Dropping event for slow subscriber")
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
