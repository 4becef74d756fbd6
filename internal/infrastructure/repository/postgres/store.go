// Package postgres implements the engine's persistence port on pgx. The
// paired bid/listing writes run in one transaction so a crash can never
// leave a bid without its listing aggregate, or vice versa.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/bid"
	domainErrors "github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/errors"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/listing"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/values"
)

const uniqueViolation = "23505"

// Store persists listings and bids in postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a postgres-backed store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CreateListing(ctx context.Context, l *listing.Listing) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO listings (
			id, seller_id, title, description, slug,
			start_price_cents, current_price_cents, current_winner_id,
			status, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		l.ID, l.SellerID, l.Title, l.Description, l.Slug,
		l.StartPrice.Cents(), l.CurrentPrice.Cents(), l.CurrentWinnerID,
		l.Status.String(), l.ExpiresAt, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domainErrors.NewConflictError("listing already exists")
		}
		return fmt.Errorf("inserting listing: %w", err)
	}
	return nil
}

func (s *Store) SaveAcceptedBid(ctx context.Context, b *bid.Bid, l *listing.Listing) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO bids (id, listing_id, bidder_id, amount_cents, live, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			b.ID, b.ListingID, b.BidderID, b.Amount.Cents(), b.Live, b.CreatedAt, b.UpdatedAt,
		); err != nil {
			return fmt.Errorf("inserting bid: %w", err)
		}
		return s.updateListingTx(ctx, tx, l)
	})
}

func (s *Store) SaveRetraction(ctx context.Context, b *bid.Bid, l *listing.Listing) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE bids SET live = $2, updated_at = $3 WHERE id = $1`,
			b.ID, b.Live, b.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("updating bid: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domainErrors.ErrBidNotFound
		}
		return s.updateListingTx(ctx, tx, l)
	})
}

func (s *Store) CloseListing(ctx context.Context, l *listing.Listing) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE listings
		SET status = $2, current_winner_id = $3, updated_at = $4
		WHERE id = $1`,
		l.ID, l.Status.String(), l.CurrentWinnerID, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("closing listing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrListingNotFound
	}
	return nil
}

func (s *Store) GetListing(ctx context.Context, id uuid.UUID) (*listing.Listing, error) {
	return s.scanListing(s.pool.QueryRow(ctx, listingSelect+` WHERE id = $1`, id))
}

func (s *Store) GetListingBySlug(ctx context.Context, slug string) (*listing.Listing, error) {
	return s.scanListing(s.pool.QueryRow(ctx, listingSelect+` WHERE slug = $1`, slug))
}

func (s *Store) ListByStatus(ctx context.Context, status listing.Status, limit int) ([]*listing.Listing, error) {
	query := listingSelect + ` WHERE status = $1 ORDER BY created_at DESC`
	args := []interface{}{status.String()}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying listings: %w", err)
	}
	defer rows.Close()

	var out []*listing.Listing
	for rows.Next() {
		l, err := s.scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) BidsForListing(ctx context.Context, listingID uuid.UUID) ([]*bid.Bid, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, listing_id, bidder_id, amount_cents, live, created_at, updated_at
		FROM bids
		WHERE listing_id = $1
		ORDER BY created_at ASC, id ASC`,
		listingID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying bids: %w", err)
	}
	defer rows.Close()

	var out []*bid.Bid
	for rows.Next() {
		var (
			b           bid.Bid
			amountCents int64
		)
		if err := rows.Scan(&b.ID, &b.ListingID, &b.BidderID, &amountCents,
			&b.Live, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning bid: %w", err)
		}
		b.Amount = values.NewMoneyFromCents(amountCents)
		out = append(out, &b)
	}
	return out, rows.Err()
}

const listingSelect = `
	SELECT id, seller_id, title, description, slug,
	       start_price_cents, current_price_cents, current_winner_id,
	       status, expires_at, created_at, updated_at
	FROM listings`

func (s *Store) scanListing(row pgx.Row) (*listing.Listing, error) {
	var (
		l                  listing.Listing
		startCents         int64
		currentCents       int64
		status             string
	)
	err := row.Scan(&l.ID, &l.SellerID, &l.Title, &l.Description, &l.Slug,
		&startCents, &currentCents, &l.CurrentWinnerID,
		&status, &l.ExpiresAt, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrListingNotFound
		}
		return nil, fmt.Errorf("scanning listing: %w", err)
	}

	l.StartPrice = values.NewMoneyFromCents(startCents)
	l.CurrentPrice = values.NewMoneyFromCents(currentCents)
	l.Status, err = listing.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("scanning listing: %w", err)
	}
	return &l, nil
}

func (s *Store) updateListingTx(ctx context.Context, tx pgx.Tx, l *listing.Listing) error {
	tag, err := tx.Exec(ctx, `
		UPDATE listings
		SET current_price_cents = $2, current_winner_id = $3, status = $4, updated_at = $5
		WHERE id = $1`,
		l.ID, l.CurrentPrice.Cents(), l.CurrentWinnerID, l.Status.String(), l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating listing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrListingNotFound
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
