package auction

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/bid"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/listing"
)

// Store is the persistence port for the engine. The write methods that touch
// both a bid row and its listing row must apply the pair atomically — the
// engine treats any Store error as "nothing happened" and leaves its
// in-memory state untouched.
type Store interface {
	// CreateListing persists a new listing.
	CreateListing(ctx context.Context, l *listing.Listing) error
	// SaveAcceptedBid persists an accepted bid together with the listing's
	// recomputed price/winner in one transaction.
	SaveAcceptedBid(ctx context.Context, b *bid.Bid, l *listing.Listing) error
	// SaveRetraction persists a bid's cleared live flag together with the
	// listing's recomputed price/winner in one transaction.
	SaveRetraction(ctx context.Context, b *bid.Bid, l *listing.Listing) error
	// CloseListing persists a listing's terminal status.
	CloseListing(ctx context.Context, l *listing.Listing) error

	// GetListing retrieves a listing by id.
	GetListing(ctx context.Context, id uuid.UUID) (*listing.Listing, error)
	// GetListingBySlug retrieves a listing by its URL slug.
	GetListingBySlug(ctx context.Context, slug string) (*listing.Listing, error)
	// ListByStatus returns listings with the given status, newest first.
	ListByStatus(ctx context.Context, status listing.Status, limit int) ([]*listing.Listing, error)
	// BidsForListing returns every bid for a listing in placement order,
	// retracted history included.
	BidsForListing(ctx context.Context, listingID uuid.UUID) ([]*bid.Bid, error)
}

// MetricsCollector receives engine-level measurements. Implementations must
// be safe for concurrent use; a nil collector disables collection.
type MetricsCollector interface {
	RecordBidAccepted(listingID uuid.UUID, amountCents int64)
	RecordBidRejected(reason string)
	RecordBidRetracted(listingID uuid.UUID)
	RecordListingClosed(status string)
	RecordQueueWait(d time.Duration)
}

// Clock abstracts wall-clock time (supports testing)
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using actual system time
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// MockClock implements Clock for testing
type MockClock struct {
	CurrentTime time.Time
}

func (m *MockClock) Now() time.Time {
	return m.CurrentTime
}

func (m *MockClock) Advance(d time.Duration) {
	m.CurrentTime = m.CurrentTime.Add(d)
}
