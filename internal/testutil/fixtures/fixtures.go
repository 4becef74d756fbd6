// Package fixtures provides builders for test listings and bids.
package fixtures

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/bid"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/listing"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/values"
)

// ListingBuilder builds test Listing entities.
type ListingBuilder struct {
	sellerID        uuid.UUID
	title           string
	description     string
	startPriceCents int64
	expiresAt       time.Time
}

// NewListingBuilder creates a ListingBuilder with sane defaults: a fresh
// seller, a 10.00 start price, and an expiry one hour out.
func NewListingBuilder() *ListingBuilder {
	return &ListingBuilder{
		sellerID:        uuid.New(),
		title:           "Vintage mechanical keyboard",
		description:     "Tested and working.",
		startPriceCents: 1000,
		expiresAt:       time.Now().UTC().Add(time.Hour),
	}
}

// WithSeller sets the seller ID.
func (b *ListingBuilder) WithSeller(id uuid.UUID) *ListingBuilder {
	b.sellerID = id
	return b
}

// WithTitle sets the title.
func (b *ListingBuilder) WithTitle(title string) *ListingBuilder {
	b.title = title
	return b
}

// WithStartPriceCents sets the start price in cents.
func (b *ListingBuilder) WithStartPriceCents(cents int64) *ListingBuilder {
	b.startPriceCents = cents
	return b
}

// WithExpiresAt sets the expiry instant.
func (b *ListingBuilder) WithExpiresAt(at time.Time) *ListingBuilder {
	b.expiresAt = at
	return b
}

// Build constructs the listing, failing the test on invalid input.
func (b *ListingBuilder) Build(t *testing.T) *listing.Listing {
	t.Helper()
	l, err := listing.NewListing(b.sellerID, b.title, b.description,
		values.NewMoneyFromCents(b.startPriceCents), b.expiresAt, time.Now().UTC())
	require.NoError(t, err)
	return l
}

// BidBuilder builds test Bid entities.
type BidBuilder struct {
	listingID   uuid.UUID
	bidderID    uuid.UUID
	amountCents int64
}

// NewBidBuilder creates a BidBuilder targeting the given listing.
func NewBidBuilder(listingID uuid.UUID) *BidBuilder {
	return &BidBuilder{
		listingID:   listingID,
		bidderID:    uuid.New(),
		amountCents: 1100,
	}
}

// WithBidder sets the bidder ID.
func (b *BidBuilder) WithBidder(id uuid.UUID) *BidBuilder {
	b.bidderID = id
	return b
}

// WithAmountCents sets the bid amount in cents.
func (b *BidBuilder) WithAmountCents(cents int64) *BidBuilder {
	b.amountCents = cents
	return b
}

// Build constructs the bid, failing the test on invalid input.
func (b *BidBuilder) Build(t *testing.T) *bid.Bid {
	t.Helper()
	placed, err := bid.NewBid(b.listingID, b.bidderID, values.NewMoneyFromCents(b.amountCents))
	require.NoError(t, err)
	return placed
}
