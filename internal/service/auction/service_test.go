package auction_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/bid"
	domainErrors "github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/errors"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/listing"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/values"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/infrastructure/repository/memory"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/service/auction"
)

func cents(n int64) values.Money {
	return values.NewMoneyFromCents(n)
}

type engineFixture struct {
	engine *auction.Engine
	store  *memory.Store
	clock  *auction.MockClock
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	store := memory.NewStore()
	clock := &auction.MockClock{CurrentTime: time.Now().UTC()}
	hub := auction.NewHub(zaptest.NewLogger(t))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	engine := auction.NewEngine(auction.DefaultConfig(), store, hub, nil, clock, logger)
	require.NoError(t, engine.Start(context.Background()))
	t.Cleanup(engine.Close)

	return &engineFixture{engine: engine, store: store, clock: clock}
}

func (f *engineFixture) createListing(t *testing.T, startCents int64) (*listing.Listing, uuid.UUID) {
	t.Helper()

	sellerID := uuid.New()
	l, err := f.engine.CreateListing(context.Background(), sellerID,
		"Vintage Omega Seamaster", "1960s automatic, serviced",
		cents(startCents), time.Now().Add(time.Hour))
	require.NoError(t, err)
	return l, sellerID
}

func TestEngine_BidRetractionSequence(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	l, _ := f.createListing(t, 1000)
	bidderA := uuid.New()
	bidderB := uuid.New()
	bidderC := uuid.New()

	// A raises the price
	snap, bidA, err := f.engine.SubmitBid(ctx, l.ID, bidderA, cents(1100))
	require.NoError(t, err)
	assert.Equal(t, int64(1100), snap.CurrentPrice.Cents())
	require.NotNil(t, snap.CurrentWinnerID)
	assert.Equal(t, bidderA, *snap.CurrentWinnerID)
	assert.Equal(t, int64(1101), snap.MinNextBid.Cents())

	// B undercuts the current price and is rejected
	snap, _, err = f.engine.SubmitBid(ctx, l.ID, bidderB, cents(1050))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domainErrors.ErrBidTooLow))
	assert.Equal(t, int64(1100), snap.CurrentPrice.Cents())

	var appErr *domainErrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, int64(1100), appErr.Details["current_price"])
	assert.Equal(t, int64(1101), appErr.Details["min_next_bid"])

	// C takes the lead
	snap, bidC, err := f.engine.SubmitBid(ctx, l.ID, bidderC, cents(1500))
	require.NoError(t, err)
	assert.Equal(t, int64(1500), snap.CurrentPrice.Cents())
	assert.Equal(t, bidderC, *snap.CurrentWinnerID)

	// retracting the leader falls back to the runner-up
	snap, err = f.engine.RetractBid(ctx, l.ID, bidC.ID, bidderC, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1100), snap.CurrentPrice.Cents())
	assert.Equal(t, bidderA, *snap.CurrentWinnerID)

	// retracting the last live bid restores the start price
	snap, err = f.engine.RetractBid(ctx, l.ID, bidA.ID, bidderA, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), snap.CurrentPrice.Cents())
	assert.Nil(t, snap.CurrentWinnerID)
	assert.Equal(t, "active", snap.Status)

	// history keeps both retracted bids
	history, err := f.engine.Bids(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, b := range history {
		assert.False(t, b.Live)
	}
}

func TestEngine_SubmitBidRejections(t *testing.T) {
	tests := []struct {
		name    string
		run     func(t *testing.T, f *engineFixture, l *listing.Listing, sellerID uuid.UUID) error
		wantErr *domainErrors.AppError
	}{
		{
			name: "seller bidding on own listing",
			run: func(t *testing.T, f *engineFixture, l *listing.Listing, sellerID uuid.UUID) error {
				_, _, err := f.engine.SubmitBid(context.Background(), l.ID, sellerID, cents(2000))
				return err
			},
			wantErr: domainErrors.ErrInvalidBidder,
		},
		{
			name: "bid equal to current price",
			run: func(t *testing.T, f *engineFixture, l *listing.Listing, _ uuid.UUID) error {
				_, _, err := f.engine.SubmitBid(context.Background(), l.ID, uuid.New(), cents(1000))
				return err
			},
			wantErr: domainErrors.ErrBidTooLow,
		},
		{
			name: "bid after expiry",
			run: func(t *testing.T, f *engineFixture, l *listing.Listing, _ uuid.UUID) error {
				f.clock.Advance(2 * time.Hour)
				_, _, err := f.engine.SubmitBid(context.Background(), l.ID, uuid.New(), cents(2000))
				return err
			},
			wantErr: domainErrors.ErrListingClosed,
		},
		{
			name: "unknown listing",
			run: func(t *testing.T, f *engineFixture, _ *listing.Listing, _ uuid.UUID) error {
				_, _, err := f.engine.SubmitBid(context.Background(), uuid.New(), uuid.New(), cents(2000))
				return err
			},
			wantErr: domainErrors.ErrListingNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(t)
			l, sellerID := f.createListing(t, 1000)

			err := tt.run(t, f, l, sellerID)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestEngine_ExpiryBoundary(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	l, _ := f.createListing(t, 1000)

	// a bid landing exactly at expires_at is already too late
	f.clock.CurrentTime = l.ExpiresAt
	_, _, err := f.engine.SubmitBid(ctx, l.ID, uuid.New(), cents(1500))
	assert.True(t, errors.Is(err, domainErrors.ErrListingClosed))

	snap, err := f.engine.Snapshot(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "expired", snap.Status)
}

func TestEngine_RetractBidRules(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	l, _ := f.createListing(t, 1000)
	bidder := uuid.New()
	_, b, err := f.engine.SubmitBid(ctx, l.ID, bidder, cents(1200))
	require.NoError(t, err)

	t.Run("non-owner cannot retract", func(t *testing.T) {
		_, err := f.engine.RetractBid(ctx, l.ID, b.ID, uuid.New(), false)
		assert.True(t, errors.Is(err, domainErrors.ErrNotBidOwner))
	})

	t.Run("unknown bid", func(t *testing.T) {
		_, err := f.engine.RetractBid(ctx, l.ID, uuid.New(), bidder, false)
		assert.True(t, errors.Is(err, domainErrors.ErrBidNotFound))
	})

	t.Run("moderator may retract any bid", func(t *testing.T) {
		snap, err := f.engine.RetractBid(ctx, l.ID, b.ID, uuid.New(), true)
		require.NoError(t, err)
		assert.Equal(t, int64(1000), snap.CurrentPrice.Cents())
	})

	t.Run("double retraction", func(t *testing.T) {
		_, err := f.engine.RetractBid(ctx, l.ID, b.ID, bidder, false)
		assert.True(t, errors.Is(err, domainErrors.ErrBidNotFound))
	})

	t.Run("retract after close", func(t *testing.T) {
		_, b2, err := f.engine.SubmitBid(ctx, l.ID, bidder, cents(1300))
		require.NoError(t, err)

		f.clock.Advance(2 * time.Hour)
		_, err = f.engine.ExpireIfDue(ctx, l.ID, f.clock.Now())
		require.NoError(t, err)

		_, err = f.engine.RetractBid(ctx, l.ID, b2.ID, bidder, false)
		assert.True(t, errors.Is(err, domainErrors.ErrListingClosed))
	})
}

func TestEngine_ConcurrentBidsDeterministicWinner(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		f := newEngineFixture(t)
		l, _ := f.createListing(t, 1000)
		bidderX := uuid.New()
		bidderY := uuid.New()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			f.engine.SubmitBid(ctx, l.ID, bidderX, cents(1100)) //nolint:errcheck
		}()
		go func() {
			defer wg.Done()
			f.engine.SubmitBid(ctx, l.ID, bidderY, cents(1200)) //nolint:errcheck
		}()
		wg.Wait()

		// whichever order the queue chose, 1200 always ends up on top: either
		// both bids clear, or 1100 arrives second and is rejected
		snap, err := f.engine.Snapshot(ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1200), snap.CurrentPrice.Cents())
		require.NotNil(t, snap.CurrentWinnerID)
		assert.Equal(t, bidderY, *snap.CurrentWinnerID)

		stored, err := f.store.GetListing(ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1200), stored.CurrentPrice.Cents())
	}
}

func TestEngine_EqualConcurrentBidsExactlyOneWins(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		f := newEngineFixture(t)
		l, _ := f.createListing(t, 1000)

		start := make(chan struct{})
		errs := make(chan error, 2)
		for j := 0; j < 2; j++ {
			go func() {
				<-start
				_, _, err := f.engine.SubmitBid(ctx, l.ID, uuid.New(), cents(1100))
				errs <- err
			}()
		}
		close(start)

		// exactly one of two equal bids clears; the other fails the
		// strictly-greater check against the new price
		var accepted, tooLow int
		for j := 0; j < 2; j++ {
			err := <-errs
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, domainErrors.ErrBidTooLow):
				tooLow++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, accepted)
		assert.Equal(t, 1, tooLow)

		snap, err := f.engine.Snapshot(ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1100), snap.CurrentPrice.Cents())
		require.NotNil(t, snap.CurrentWinnerID)
	}
}

func TestEngine_CreateListingReturnsDetachedCopy(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	l, _ := f.createListing(t, 1000)

	done := make(chan struct{})
	go func() {
		defer close(done)
		bidder := uuid.New()
		for i := int64(1); i <= 50; i++ {
			f.engine.SubmitBid(ctx, l.ID, bidder, cents(1000+i*10)) //nolint:errcheck
		}
	}()

	// reading the returned struct while the sequencer commits bids must be
	// safe; the caller holds its own copy, not the sequencer's
	for i := 0; i < 50; i++ {
		if _, err := json.Marshal(l); err != nil {
			t.Fatalf("marshal: %v", err)
		}
	}
	<-done

	assert.Equal(t, int64(1000), l.CurrentPrice.Cents())
	assert.Equal(t, listing.StatusActive, l.Status)
	assert.Nil(t, l.CurrentWinnerID)

	snap, err := f.engine.Snapshot(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), snap.CurrentPrice.Cents())
}

func TestEngine_CreateListingExpiryUsesClock(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.clock.CurrentTime = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	// in the future on the wall clock, already past on the engine's clock
	_, err := f.engine.CreateListing(ctx, uuid.New(), "Lamp", "", cents(1000), time.Now().Add(time.Hour))
	require.Error(t, err)
	assert.True(t, domainErrors.IsType(err, domainErrors.ErrorTypeValidation))

	l, err := f.engine.CreateListing(ctx, uuid.New(), "Lamp", "", cents(1000), f.clock.CurrentTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, listing.StatusActive, l.Status)
}

func TestEngine_RetiresSequencerAfterClose(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	l, _ := f.createListing(t, 1000)
	require.Equal(t, 1, f.engine.SequencerCount())

	f.clock.Advance(2 * time.Hour)
	_, err := f.engine.ExpireIfDue(ctx, l.ID, f.clock.Now())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.engine.SequencerCount() == 0
	}, time.Second, 5*time.Millisecond)

	// the closed listing stays readable through a rehydrated sequencer
	snap, err := f.engine.Snapshot(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "expired", snap.Status)

	_, _, err = f.engine.SubmitBid(ctx, l.ID, uuid.New(), cents(2000))
	assert.True(t, errors.Is(err, domainErrors.ErrListingClosed))
}

func TestEngine_ExpireSellsToHighestBidder(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	l, _ := f.createListing(t, 1000)
	winner := uuid.New()
	_, _, err := f.engine.SubmitBid(ctx, l.ID, winner, cents(2500))
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	snap, err := f.engine.ExpireIfDue(ctx, l.ID, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, "sold", snap.Status)
	assert.Equal(t, winner, *snap.CurrentWinnerID)

	// idempotent
	snap, err = f.engine.ExpireIfDue(ctx, l.ID, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, "sold", snap.Status)

	stored, err := f.store.GetListing(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, listing.StatusSold, stored.Status)
}

func TestEngine_RestartRehydratesFromStore(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	clock := &auction.MockClock{CurrentTime: time.Now().UTC()}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	first := auction.NewEngine(auction.DefaultConfig(), store, auction.NewHub(zaptest.NewLogger(t)), nil, clock, logger)
	require.NoError(t, first.Start(ctx))

	l, err := first.CreateListing(ctx, uuid.New(), "Mid-century credenza", "",
		cents(1000), time.Now().Add(time.Hour))
	require.NoError(t, err)

	bidder := uuid.New()
	_, b, err := first.SubmitBid(ctx, l.ID, bidder, cents(1800))
	require.NoError(t, err)
	first.Close()

	second := auction.NewEngine(auction.DefaultConfig(), store, auction.NewHub(zaptest.NewLogger(t)), nil, clock, logger)
	require.NoError(t, second.Start(ctx))
	t.Cleanup(second.Close)

	snap, err := second.Snapshot(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1800), snap.CurrentPrice.Cents())
	assert.Equal(t, bidder, *snap.CurrentWinnerID)

	// the rebuilt ledger still knows the bid
	snap, err = second.RetractBid(ctx, l.ID, b.ID, bidder, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), snap.CurrentPrice.Cents())
}

// failingStore accepts reads but refuses the accepted-bid write.
type failingStore struct {
	*memory.Store
}

func (f *failingStore) SaveAcceptedBid(context.Context, *bid.Bid, *listing.Listing) error {
	return errors.New("connection refused")
}

func TestEngine_StoreFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Store: memory.NewStore()}
	clock := &auction.MockClock{CurrentTime: time.Now().UTC()}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	engine := auction.NewEngine(auction.DefaultConfig(), store, auction.NewHub(zaptest.NewLogger(t)), nil, clock, logger)
	require.NoError(t, engine.Start(ctx))
	t.Cleanup(engine.Close)

	l, err := engine.CreateListing(ctx, uuid.New(), "Signed first edition", "",
		cents(1000), time.Now().Add(time.Hour))
	require.NoError(t, err)

	sub := engine.Subscribe(l.ID)
	defer sub.Cancel()

	_, _, err = engine.SubmitBid(ctx, l.ID, uuid.New(), cents(1500))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domainErrors.ErrStoreUnavailable))

	// price unchanged, nothing published
	snap, err := engine.Snapshot(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), snap.CurrentPrice.Cents())
	assert.Nil(t, snap.CurrentWinnerID)

	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected event %s after failed write", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEngine_SnapshotBySlug(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	l, _ := f.createListing(t, 1000)

	snap, err := f.engine.SnapshotBySlug(ctx, l.Slug)
	require.NoError(t, err)
	assert.Equal(t, l.ID, snap.ListingID)

	_, err = f.engine.SnapshotBySlug(ctx, "no-such-listing")
	assert.True(t, errors.Is(err, domainErrors.ErrListingNotFound))
}

func TestEngine_CreateListingValidation(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.engine.CreateListing(ctx, uuid.New(), "", "", cents(1000), time.Now().Add(time.Hour))
	require.Error(t, err)
	assert.True(t, domainErrors.IsType(err, domainErrors.ErrorTypeValidation))

	_, err = f.engine.CreateListing(ctx, uuid.New(), "Lamp", "", cents(0), time.Now().Add(time.Hour))
	require.Error(t, err)

	_, err = f.engine.CreateListing(ctx, uuid.New(), "Lamp", "", cents(1000), time.Now().Add(-time.Minute))
	require.Error(t, err)
}
