package rest

import (
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/bid"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/listing"
)

// CreateListingRequest is the payload for POST /listings. Prices are minor
// units (cents).
type CreateListingRequest struct {
	Title           string `json:"title" validate:"required,min=1,max=200"`
	Description     string `json:"description" validate:"max=5000"`
	StartPriceCents int64  `json:"start_price_cents" validate:"required,gt=0"`
	// ExpiresAt is RFC 3339.
	ExpiresAt time.Time `json:"expires_at" validate:"required"`
}

// PlaceBidRequest is the payload for POST /listings/{id}/bids.
type PlaceBidRequest struct {
	AmountCents int64 `json:"amount_cents" validate:"required,gt=0"`
}

// ListingResponse is the presentation shape of a listing.
type ListingResponse struct {
	ID              uuid.UUID  `json:"id"`
	SellerID        uuid.UUID  `json:"seller_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Slug            string     `json:"slug"`
	StartPriceCents int64      `json:"start_price_cents"`
	CurrentCents    int64      `json:"current_price_cents"`
	CurrentWinnerID *uuid.UUID `json:"current_winner_id,omitempty"`
	Status          string     `json:"status"`
	ExpiresAt       time.Time  `json:"expires_at"`
	CreatedAt       time.Time  `json:"created_at"`
}

// BidResponse is the presentation shape of a bid.
type BidResponse struct {
	ID          uuid.UUID `json:"id"`
	ListingID   uuid.UUID `json:"listing_id"`
	BidderID    uuid.UUID `json:"bidder_id"`
	AmountCents int64     `json:"amount_cents"`
	Live        bool      `json:"live"`
	CreatedAt   time.Time `json:"created_at"`
}

// SnapshotResponse wraps the engine's authoritative view.
type SnapshotResponse struct {
	ListingID       uuid.UUID  `json:"listing_id"`
	Slug            string     `json:"slug"`
	Title           string     `json:"title"`
	CurrentCents    int64      `json:"current_price_cents"`
	CurrentWinnerID *uuid.UUID `json:"current_winner_id,omitempty"`
	Status          string     `json:"status"`
	MinNextBidCents int64      `json:"min_next_bid_cents"`
	ExpiresAt       time.Time  `json:"expires_at"`
}

func toListingResponse(l *listing.Listing) ListingResponse {
	return ListingResponse{
		ID:              l.ID,
		SellerID:        l.SellerID,
		Title:           l.Title,
		Description:     l.Description,
		Slug:            l.Slug,
		StartPriceCents: l.StartPrice.Cents(),
		CurrentCents:    l.CurrentPrice.Cents(),
		CurrentWinnerID: l.CurrentWinnerID,
		Status:          l.Status.String(),
		ExpiresAt:       l.ExpiresAt,
		CreatedAt:       l.CreatedAt,
	}
}

func toBidResponse(b *bid.Bid) BidResponse {
	return BidResponse{
		ID:          b.ID,
		ListingID:   b.ListingID,
		BidderID:    b.BidderID,
		AmountCents: b.Amount.Cents(),
		Live:        b.Live,
		CreatedAt:   b.CreatedAt,
	}
}

func toSnapshotResponse(s listing.Snapshot) SnapshotResponse {
	return SnapshotResponse{
		ListingID:       s.ListingID,
		Slug:            s.Slug,
		Title:           s.Title,
		CurrentCents:    s.CurrentPrice.Cents(),
		CurrentWinnerID: s.CurrentWinnerID,
		Status:          s.Status,
		MinNextBidCents: s.MinNextBid.Cents(),
		ExpiresAt:       s.ExpiresAt,
	}
}
