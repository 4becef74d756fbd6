package bid

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/values"
)

// Bid is a bidder's offer on a listing. Retraction clears Live but never
// deletes the record; retracted bids stay in the ledger as history.
type Bid struct {
	ID        uuid.UUID    `json:"id"`
	ListingID uuid.UUID    `json:"listing_id"`
	BidderID  uuid.UUID    `json:"bidder_id"`
	Amount    values.Money `json:"amount"`
	Live      bool         `json:"live"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// NewBid creates a live bid. Price rules (strict increase over the current
// price, no self-bids) belong to the sequencer, not the entity.
func NewBid(listingID, bidderID uuid.UUID, amount values.Money) (*Bid, error) {
	if listingID == uuid.Nil {
		return nil, errors.New("listing_id cannot be nil")
	}
	if bidderID == uuid.Nil {
		return nil, errors.New("bidder_id cannot be nil")
	}
	if !amount.IsPositive() {
		return nil, errors.New("amount must be positive")
	}

	now := time.Now().UTC()
	return &Bid{
		ID:        uuid.New(),
		ListingID: listingID,
		BidderID:  bidderID,
		Amount:    amount,
		Live:      true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Retract clears the live flag. Returns false if already retracted.
func (b *Bid) Retract() bool {
	if !b.Live {
		return false
	}
	b.Live = false
	b.UpdatedAt = time.Now().UTC()
	return true
}
