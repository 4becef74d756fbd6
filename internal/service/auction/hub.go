package auction

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// TickerBacklog is how many recent events a late ticker subscriber sees.
	TickerBacklog = 20

	subscriberBuffer = 16
)

// Subscription is one live event stream. Receive from C; call Cancel when
// done. C is closed on Cancel, on hub shutdown, or when the subscriber falls
// too far behind.
type Subscription struct {
	C <-chan ListingEvent

	cancel func()
	once   sync.Once
}

// Cancel detaches the subscription and closes its channel.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Hub fans accepted state transitions out to per-listing subscribers and the
// cross-listing ticker. Per-listing delivery order matches the sequencer's
// acceptance order for that listing. Delivery is best-effort to live
// subscribers only: a subscriber whose buffer overflows is disconnected
// rather than allowed to block the publisher.
type Hub struct {
	logger *zap.Logger

	mu       sync.RWMutex
	listings map[uuid.UUID]map[*subscriber]struct{}
	ticker   map[*subscriber]struct{}
	backlog  []ListingEvent // most recent TickerBacklog events, oldest first
	closed   bool
}

type subscriber struct {
	ch     chan ListingEvent
	closed bool
}

// NewHub creates an event fan-out hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:   logger,
		listings: make(map[uuid.UUID]map[*subscriber]struct{}),
		ticker:   make(map[*subscriber]struct{}),
	}
}

// Subscribe opens a stream of events for one listing.
func (h *Hub) Subscribe(listingID uuid.UUID) *Subscription {
	sub := &subscriber{ch: make(chan ListingEvent, subscriberBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		sub.closed = true
		return &Subscription{C: sub.ch, cancel: func() {}}
	}
	set, ok := h.listings[listingID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.listings[listingID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	return &Subscription{
		C: sub.ch,
		cancel: func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.listings[listingID]; ok {
				if _, live := set[sub]; live {
					delete(set, sub)
					if len(set) == 0 {
						delete(h.listings, listingID)
					}
					h.dropLocked(sub)
				}
			}
		},
	}
}

// SubscribeTicker opens a stream of events across all listings. The most
// recent TickerBacklog events are replayed first so late subscribers see
// recent activity.
func (h *Hub) SubscribeTicker() *Subscription {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		ch := make(chan ListingEvent)
		close(ch)
		return &Subscription{C: ch, cancel: func() {}}
	}

	// buffer must hold the replayed backlog plus headroom for live events
	sub := &subscriber{ch: make(chan ListingEvent, TickerBacklog+subscriberBuffer)}
	for _, ev := range h.backlog {
		sub.ch <- ev
	}
	h.ticker[sub] = struct{}{}
	h.mu.Unlock()

	return &Subscription{
		C: sub.ch,
		cancel: func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, live := h.ticker[sub]; live {
				delete(h.ticker, sub)
				h.dropLocked(sub)
			}
		},
	}
}

// Publish delivers an event to the listing's subscribers and the ticker.
// Called only from the owning listing's sequencer goroutine, which is what
// preserves per-listing ordering.
func (h *Hub) Publish(ev ListingEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	h.backlog = append(h.backlog, ev)
	if len(h.backlog) > TickerBacklog {
		h.backlog = h.backlog[len(h.backlog)-TickerBacklog:]
	}

	for sub := range h.listings[ev.ListingID] {
		h.sendLocked(ev.ListingID, sub, ev, h.listings[ev.ListingID])
	}
	for sub := range h.ticker {
		h.sendLocked(ev.ListingID, sub, ev, h.ticker)
	}
}

func (h *Hub) sendLocked(listingID uuid.UUID, sub *subscriber, ev ListingEvent, set map[*subscriber]struct{}) {
	select {
	case sub.ch <- ev:
	default:
		h.logger.Warn("subscriber buffer full, dropping subscriber",
			zap.String("listing_id", listingID.String()),
			zap.String("event_type", string(ev.Type)),
		)
		delete(set, sub)
		h.dropLocked(sub)
	}
}

func (h *Hub) dropLocked(sub *subscriber) {
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

// SubscriberCount returns the number of live subscriptions (listing + ticker).
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := len(h.ticker)
	for _, set := range h.listings {
		n += len(set)
	}
	return n
}

// Close disconnects every subscriber. Subsequent publishes are discarded.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for _, set := range h.listings {
		for sub := range set {
			h.dropLocked(sub)
		}
	}
	for sub := range h.ticker {
		h.dropLocked(sub)
	}
	h.listings = make(map[uuid.UUID]map[*subscriber]struct{})
	h.ticker = make(map[*subscriber]struct{})
}
