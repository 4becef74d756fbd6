package bid

import (
	"sort"

	"github.com/google/uuid"
)

// Ledger holds every bid ever placed on one listing, live and retracted.
// It is owned by that listing's sequencer and is not safe for concurrent
// use on its own.
type Ledger struct {
	listingID uuid.UUID
	byID      map[uuid.UUID]*Bid
	order     []*Bid // append order, stable tie-break source
}

// NewLedger creates an empty ledger for one listing.
func NewLedger(listingID uuid.UUID) *Ledger {
	return &Ledger{
		listingID: listingID,
		byID:      make(map[uuid.UUID]*Bid),
	}
}

// ListingID returns the owning listing id.
func (l *Ledger) ListingID() uuid.UUID {
	return l.listingID
}

// Append records an accepted bid.
func (l *Ledger) Append(b *Bid) {
	l.byID[b.ID] = b
	l.order = append(l.order, b)
}

// Get returns a bid by id.
func (l *Ledger) Get(id uuid.UUID) (*Bid, bool) {
	b, ok := l.byID[id]
	return b, ok
}

// Retract marks a bid not-live. The second return is false if the bid does
// not exist or was already retracted.
func (l *Ledger) Retract(id uuid.UUID) (*Bid, bool) {
	b, ok := l.byID[id]
	if !ok {
		return nil, false
	}
	if !b.Retract() {
		return b, false
	}
	return b, true
}

// Live returns the live bids ordered by amount descending, ties broken by
// earliest created_at (append order is the stable fallback for equal clocks).
func (l *Ledger) Live() []*Bid {
	live := make([]*Bid, 0, len(l.order))
	for _, b := range l.order {
		if b.Live {
			live = append(live, b)
		}
	}
	sort.SliceStable(live, func(i, j int) bool {
		if c := live[i].Amount.Compare(live[j].Amount); c != 0 {
			return c > 0
		}
		return live[i].CreatedAt.Before(live[j].CreatedAt)
	})
	return live
}

// All returns every bid in append order, including retracted history.
func (l *Ledger) All() []*Bid {
	out := make([]*Bid, len(l.order))
	copy(out, l.order)
	return out
}

// Len returns the total number of recorded bids.
func (l *Ledger) Len() int {
	return len(l.order)
}
