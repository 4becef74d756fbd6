package auction

import (
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/bid"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/listing"
)

// EventType classifies listing state transitions published by the engine.
type EventType string

const (
	EventListingCreated EventType = "listing.created"
	EventBidAccepted    EventType = "bid.accepted"
	EventBidRetracted   EventType = "bid.retracted"
	EventListingClosed  EventType = "listing.closed"
)

// ListingEvent is one authoritative state change for a listing. Events for a
// given listing are published in the order the sequencer accepted them; no
// ordering is guaranteed across listings.
type ListingEvent struct {
	ID        uuid.UUID        `json:"id"`
	Type      EventType        `json:"type"`
	ListingID uuid.UUID        `json:"listing_id"`
	Snapshot  listing.Snapshot `json:"snapshot"`
	Bid       *bid.Bid         `json:"bid,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

func newEvent(typ EventType, snap listing.Snapshot, b *bid.Bid) ListingEvent {
	return ListingEvent{
		ID:        uuid.New(),
		Type:      typ,
		ListingID: snap.ListingID,
		Snapshot:  snap,
		Bid:       b,
		Timestamp: time.Now().UTC(),
	}
}
