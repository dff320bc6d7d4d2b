// Package feed fans appended session events out to live subscribers. The
// Hub is in-process; NATSBridge extends it across instances.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/id"
)

// DefaultBuffer is the number of pending deliveries a subscriber may queue.
const DefaultBuffer = 64

// Publisher receives events once they are durably appended.
type Publisher interface {
	Publish(ctx context.Context, sessionID id.ID, events []*event.Event) error
}

// Hub is an in-process publish/subscribe hub keyed by session.
// Publishing never blocks: a subscriber whose buffer is full misses the
// delivery and its Dropped counter grows. Live tails recover by falling
// back to cursor reads.
type Hub struct {
	mu     sync.RWMutex
	subs   map[id.ID]map[uint64]*Subscription
	nextID uint64
	closed bool

	buffer int
	logger *slog.Logger
	onSub  func(delta int)
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithBuffer sets the per-subscriber buffer size.
func WithBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithLogger sets the hub's logger.
func WithLogger(l *slog.Logger) HubOption {
	return func(h *Hub) { h.logger = l }
}

// WithSubscriberHook is called with +1 and -1 as subscriptions open and
// close. Metrics use it to track live tails.
func WithSubscriberHook(fn func(delta int)) HubOption {
	return func(h *Hub) { h.onSub = fn }
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		subs:   make(map[id.ID]map[uint64]*Subscription),
		buffer: DefaultBuffer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscription is one live tail of a session.
type Subscription struct {
	hub       *Hub
	key       uint64
	sessionID id.ID
	ch        chan []*event.Event
	dropped   atomic.Int64
	once      sync.Once
}

// Events delivers appended events in publish order. The channel is closed
// when the subscription or the hub is closed.
func (s *Subscription) Events() <-chan []*event.Event { return s.ch }

// SessionID returns the tailed session.
func (s *Subscription) SessionID() id.ID { return s.sessionID }

// Dropped returns how many deliveries were missed because the buffer was full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

// Subscribe opens a live tail of sessionID. Subscribing to a closed hub
// returns a subscription whose channel is already closed.
func (h *Hub) Subscribe(sessionID id.ID) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	s := &Subscription{
		hub:       h,
		key:       h.nextID,
		sessionID: sessionID,
		ch:        make(chan []*event.Event, h.buffer),
	}
	if h.closed {
		s.once.Do(func() { close(s.ch) })
		return s
	}

	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[uint64]*Subscription)
		h.subs[sessionID] = set
	}
	set[s.key] = s
	if h.onSub != nil {
		h.onSub(1)
	}
	return s
}

func (h *Hub) unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.subs[s.sessionID]; ok {
		if _, live := set[s.key]; live {
			delete(set, s.key)
			if len(set) == 0 {
				delete(h.subs, s.sessionID)
			}
			if h.onSub != nil {
				h.onSub(-1)
			}
		}
	}
	s.once.Do(func() { close(s.ch) })
}

// Publish delivers events to every subscriber of sessionID. It never blocks.
func (h *Hub) Publish(_ context.Context, sessionID id.ID, events []*event.Event) error {
	if len(events) == 0 {
		return nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, s := range h.subs[sessionID] {
		select {
		case s.ch <- events:
		default:
			if s.dropped.Add(1) == 1 {
				h.logger.Warn("live subscriber lagging, dropping deliveries",
					"session_id", sessionID,
					"subscription", s.key,
				)
			}
		}
	}
	return nil
}

// Subscribers returns the number of live tails of sessionID.
func (h *Hub) Subscribers(sessionID id.ID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

// Close ends every subscription. Later publishes are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for sid, set := range h.subs {
		for _, s := range set {
			s.once.Do(func() { close(s.ch) })
			if h.onSub != nil {
				h.onSub(-1)
			}
		}
		delete(h.subs, sid)
	}
}
