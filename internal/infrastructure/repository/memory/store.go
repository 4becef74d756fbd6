// Package memory provides an in-process Store for tests and single-node
// development runs. Writes copy their inputs so callers can keep mutating
// their own structs without corrupting stored state.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/bid"
	domainErrors "github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/errors"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/listing"
)

// Store keeps listings and bids in maps behind one mutex. Both rows of a
// bid write move under the same lock, matching the transactional contract
// of the persistence port.
type Store struct {
	mu       sync.RWMutex
	listings map[uuid.UUID]*listing.Listing
	slugs    map[string]uuid.UUID
	bids     map[uuid.UUID]*bid.Bid
	byLst    map[uuid.UUID][]uuid.UUID // placement order per listing
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		listings: make(map[uuid.UUID]*listing.Listing),
		slugs:    make(map[string]uuid.UUID),
		bids:     make(map[uuid.UUID]*bid.Bid),
		byLst:    make(map[uuid.UUID][]uuid.UUID),
	}
}

func (s *Store) CreateListing(_ context.Context, l *listing.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.listings[l.ID]; exists {
		return domainErrors.NewConflictError("listing already exists")
	}
	if _, exists := s.slugs[l.Slug]; exists {
		return domainErrors.NewConflictError("slug already taken")
	}

	cp := copyListing(l)
	s.listings[l.ID] = cp
	s.slugs[l.Slug] = l.ID
	return nil
}

func (s *Store) SaveAcceptedBid(_ context.Context, b *bid.Bid, l *listing.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.listings[l.ID]; !exists {
		return domainErrors.ErrListingNotFound
	}
	if _, exists := s.bids[b.ID]; exists {
		return domainErrors.NewConflictError("bid already exists")
	}

	s.bids[b.ID] = copyBid(b)
	s.byLst[l.ID] = append(s.byLst[l.ID], b.ID)
	s.listings[l.ID] = copyListing(l)
	return nil
}

func (s *Store) SaveRetraction(_ context.Context, b *bid.Bid, l *listing.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bids[b.ID]; !exists {
		return domainErrors.ErrBidNotFound
	}
	if _, exists := s.listings[l.ID]; !exists {
		return domainErrors.ErrListingNotFound
	}

	s.bids[b.ID] = copyBid(b)
	s.listings[l.ID] = copyListing(l)
	return nil
}

func (s *Store) CloseListing(_ context.Context, l *listing.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.listings[l.ID]; !exists {
		return domainErrors.ErrListingNotFound
	}
	s.listings[l.ID] = copyListing(l)
	return nil
}

func (s *Store) GetListing(_ context.Context, id uuid.UUID) (*listing.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.listings[id]
	if !ok {
		return nil, domainErrors.ErrListingNotFound
	}
	return copyListing(l), nil
}

func (s *Store) GetListingBySlug(_ context.Context, slug string) (*listing.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.slugs[slug]
	if !ok {
		return nil, domainErrors.ErrListingNotFound
	}
	return copyListing(s.listings[id]), nil
}

func (s *Store) ListByStatus(_ context.Context, status listing.Status, limit int) ([]*listing.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*listing.Listing
	for _, l := range s.listings {
		if l.Status == status {
			out = append(out, copyListing(l))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) BidsForListing(_ context.Context, listingID uuid.UUID) ([]*bid.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byLst[listingID]
	out := make([]*bid.Bid, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyBid(s.bids[id]))
	}
	return out, nil
}

func copyListing(l *listing.Listing) *listing.Listing {
	cp := *l
	if l.CurrentWinnerID != nil {
		w := *l.CurrentWinnerID
		cp.CurrentWinnerID = &w
	}
	return &cp
}

func copyBid(b *bid.Bid) *bid.Bid {
	cp := *b
	return &cp
}
