package listing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/values"
)

type Status int

const (
	StatusActive Status = iota
	StatusSold
	StatusExpired
	StatusAwaitingPayment
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusSold:
		return "sold"
	case StatusExpired:
		return "expired"
	case StatusAwaitingPayment:
		return "awaiting_payment"
	default:
		return "unknown"
	}
}

// ParseStatus converts a stored status string back to a Status
func ParseStatus(s string) (Status, error) {
	switch s {
	case "active":
		return StatusActive, nil
	case "sold":
		return StatusSold, nil
	case "expired":
		return StatusExpired, nil
	case "awaiting_payment":
		return StatusAwaitingPayment, nil
	default:
		return 0, fmt.Errorf("unknown listing status %q", s)
	}
}

// IsTerminal reports whether no further bid may mutate price or winner.
func (s Status) IsTerminal() bool {
	return s == StatusSold || s == StatusExpired
}

// Listing is one auctionable item. CurrentPrice and CurrentWinnerID are a
// derived view over the live bids; only the per-listing sequencer mutates them.
type Listing struct {
	ID              uuid.UUID    `json:"id"`
	SellerID        uuid.UUID    `json:"seller_id"`
	Title           string       `json:"title"`
	Description     string       `json:"description"`
	Slug            string       `json:"slug"`
	StartPrice      values.Money `json:"start_price"`
	CurrentPrice    values.Money `json:"current_price"`
	CurrentWinnerID *uuid.UUID   `json:"current_winner_id,omitempty"`
	Status          Status       `json:"status"`
	ExpiresAt       time.Time    `json:"expires_at"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// NewListing creates an active listing seeded at its start price. now is
// the caller's clock reading; expiry is validated against it.
func NewListing(sellerID uuid.UUID, title, description string, startPrice values.Money, expiresAt, now time.Time) (*Listing, error) {
	if sellerID == uuid.Nil {
		return nil, errors.New("seller_id cannot be nil")
	}
	if strings.TrimSpace(title) == "" {
		return nil, errors.New("title cannot be empty")
	}
	if !startPrice.IsPositive() {
		return nil, errors.New("start_price must be positive")
	}

	now = now.UTC()
	if !expiresAt.After(now) {
		return nil, errors.New("expires_at must be in the future")
	}

	id := uuid.New()
	return &Listing{
		ID:           id,
		SellerID:     sellerID,
		Title:        title,
		Description:  description,
		Slug:         Slugify(title, id),
		StartPrice:   startPrice,
		CurrentPrice: startPrice,
		Status:       StatusActive,
		ExpiresAt:    expiresAt.UTC(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Clone returns a deep copy sharing no pointers with the receiver.
func (l *Listing) Clone() *Listing {
	cp := *l
	if l.CurrentWinnerID != nil {
		w := *l.CurrentWinnerID
		cp.CurrentWinnerID = &w
	}
	return &cp
}

// IsOpen reports whether the listing accepts bids at the given instant.
// A bid at the exact expiry boundary is rejected.
func (l *Listing) IsOpen(now time.Time) bool {
	return l.Status == StatusActive && now.Before(l.ExpiresAt)
}

// Close transitions an active listing to its terminal state: sold when a
// winner is set, expired otherwise. Closing a closed listing is a no-op.
func (l *Listing) Close(now time.Time) {
	if l.Status != StatusActive {
		return
	}
	if l.CurrentWinnerID != nil {
		l.Status = StatusSold
	} else {
		l.Status = StatusExpired
	}
	l.UpdatedAt = now.UTC()
}

// SetAggregate installs a recomputed (current_price, current_winner) pair.
func (l *Listing) SetAggregate(price values.Money, winnerID *uuid.UUID, now time.Time) {
	l.CurrentPrice = price
	l.CurrentWinnerID = winnerID
	l.UpdatedAt = now.UTC()
}

// Snapshot is the authoritative view returned to callers after each
// sequenced operation and carried on every published event.
type Snapshot struct {
	ListingID       uuid.UUID    `json:"listing_id"`
	Slug            string       `json:"slug"`
	Title           string       `json:"title"`
	CurrentPrice    values.Money `json:"current_price"`
	CurrentWinnerID *uuid.UUID   `json:"current_winner_id,omitempty"`
	Status          string       `json:"status"`
	MinNextBid      values.Money `json:"min_next_bid"`
	ExpiresAt       time.Time    `json:"expires_at"`
}

// Snapshot captures the listing's current authoritative state.
func (l *Listing) Snapshot() Snapshot {
	var winner *uuid.UUID
	if l.CurrentWinnerID != nil {
		w := *l.CurrentWinnerID
		winner = &w
	}
	return Snapshot{
		ListingID:       l.ID,
		Slug:            l.Slug,
		Title:           l.Title,
		CurrentPrice:    l.CurrentPrice,
		CurrentWinnerID: winner,
		Status:          l.Status.String(),
		MinNextBid:      l.CurrentPrice.Add(values.NewMoneyFromCents(1)),
		ExpiresAt:       l.ExpiresAt,
	}
}

// Slugify derives a URL slug from the title, suffixed with the first uuid
// segment to keep slugs unique across identically-titled listings.
func Slugify(title string, id uuid.UUID) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	suffix := strings.SplitN(id.String(), "-", 2)[0]
	if slug == "" {
		return suffix
	}
	return slug + "-" + suffix
}
