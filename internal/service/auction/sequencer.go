package auction

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/bid"
	domainErrors "github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/errors"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/listing"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/values"
)

// opResult is what a sequenced operation hands back to its caller.
type opResult struct {
	snap listing.Snapshot
	bid  *bid.Bid
	err  error
}

// operation is one queued mutation or read. reply is buffered so the loop
// never blocks on a caller that stopped waiting.
type operation struct {
	ctx   context.Context
	apply func(ctx context.Context, now time.Time) opResult
	reply chan opResult
}

// sequencer is the single-threaded actor owning one listing's state. All
// mutations of the listing and its ledger happen on the Run goroutine,
// strictly in inbox arrival order; concurrent callers only ever see
// snapshots produced after a completed operation.
type sequencer struct {
	listing *listing.Listing
	ledger  *bid.Ledger

	inbox chan *operation
	done  chan struct{}

	// onRetire unregisters the sequencer once its listing is terminal
	onRetire func(*sequencer)

	store   Store
	hub     *Hub
	metrics MetricsCollector
	clock   Clock
	logger  *slog.Logger
}

func newSequencer(l *listing.Listing, ledger *bid.Ledger, queueSize int, store Store, hub *Hub, metrics MetricsCollector, clock Clock, logger *slog.Logger) *sequencer {
	return &sequencer{
		listing: l,
		ledger:  ledger,
		inbox:   make(chan *operation, queueSize),
		done:    make(chan struct{}),
		store:   store,
		hub:     hub,
		metrics: metrics,
		clock:   clock,
		logger:  logger.With("listing_id", l.ID.String()),
	}
}

// run processes queued operations in FIFO order until ctx is canceled or
// the listing reaches a terminal state. Must be run in exactly one goroutine.
func (s *sequencer) run(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		case op := <-s.inbox:
			s.handle(op)
		}
		if s.listing.Status.IsTerminal() {
			s.retire()
			return
		}
	}
}

func (s *sequencer) handle(op *operation) {
	// canceled before reaching the head of the queue
	if err := op.ctx.Err(); err != nil {
		op.reply <- opResult{err: queueWaitError(err)}
		return
	}
	op.reply <- op.apply(op.ctx, s.clock.Now())
}

// retire unregisters the sequencer, then serves everything already queued so
// no caller is left waiting on a reply that will never come. Later reads of
// the closed listing rehydrate a fresh sequencer from the store.
func (s *sequencer) retire() {
	if s.onRetire != nil {
		s.onRetire(s)
	}
	for {
		select {
		case op := <-s.inbox:
			s.handle(op)
		default:
			return
		}
	}
}

// queueWaitError maps a context error on a queued operation to the engine's
// error taxonomy.
func queueWaitError(err error) error {
	if err == context.DeadlineExceeded {
		return domainErrors.ErrQueueTimeout
	}
	return err
}

// submitBid validates and applies a bid. The append + recompute + persist +
// publish block is atomic with respect to every other operation on this
// listing because it runs on the sequencer goroutine.
func (s *sequencer) submitBid(ctx context.Context, now time.Time, bidderID uuid.UUID, amount values.Money) opResult {
	l := s.listing

	if bidderID == l.SellerID {
		if s.metrics != nil {
			s.metrics.RecordBidRejected("invalid_bidder")
		}
		return opResult{snap: l.Snapshot(), err: domainErrors.ErrInvalidBidder}
	}

	if !l.IsOpen(now) {
		// a bid arriving past the deadline closes the listing as a side
		// effect rather than waiting for the sweeper
		s.closeIfDue(ctx, now)
		if s.metrics != nil {
			s.metrics.RecordBidRejected("listing_closed")
		}
		return opResult{snap: l.Snapshot(), err: domainErrors.ErrListingClosed}
	}

	if !amount.GreaterThan(l.CurrentPrice) {
		if s.metrics != nil {
			s.metrics.RecordBidRejected("bid_too_low")
		}
		err := domainErrors.NewBusinessError("BID_TOO_LOW", "Bid amount must exceed the current price").
			WithDetails(map[string]interface{}{
				"current_price": l.CurrentPrice.Cents(),
				"min_next_bid":  l.CurrentPrice.Cents() + 1,
			})
		return opResult{snap: l.Snapshot(), err: err}
	}

	b, err := bid.NewBid(l.ID, bidderID, amount)
	if err != nil {
		return opResult{snap: l.Snapshot(), err: domainErrors.NewValidationError("INVALID_BID", err.Error())}
	}
	b.CreatedAt = now
	b.UpdatedAt = now

	// persist first on a copy; the in-memory state only moves if the store
	// accepted the whole transaction
	winner := bidderID
	updated := *l
	updated.SetAggregate(amount, &winner, now)
	if err := s.store.SaveAcceptedBid(ctx, b, &updated); err != nil {
		s.logger.Error("failed to persist accepted bid", "bid_id", b.ID.String(), "error", err)
		return opResult{snap: l.Snapshot(), err: domainErrors.ErrStoreUnavailable.WithCause(err)}
	}

	s.ledger.Append(b)
	*l = updated

	snap := l.Snapshot()
	s.hub.Publish(newEvent(EventBidAccepted, snap, b))
	if s.metrics != nil {
		s.metrics.RecordBidAccepted(l.ID, amount.Cents())
	}
	s.logger.Info("bid accepted",
		"bid_id", b.ID.String(),
		"bidder_id", bidderID.String(),
		"amount_cents", amount.Cents(),
	)

	return opResult{snap: snap, bid: b}
}

// retractBid clears a bid's live flag and recomputes the aggregate over the
// remaining live bids.
func (s *sequencer) retractBid(ctx context.Context, now time.Time, bidID, callerID uuid.UUID, moderator bool) opResult {
	l := s.listing

	if l.Status.IsTerminal() {
		return opResult{snap: l.Snapshot(), err: domainErrors.ErrListingClosed}
	}

	b, ok := s.ledger.Get(bidID)
	if !ok || !b.Live {
		return opResult{snap: l.Snapshot(), err: domainErrors.ErrBidNotFound}
	}

	if callerID != b.BidderID && !moderator {
		return opResult{snap: l.Snapshot(), err: domainErrors.ErrNotBidOwner}
	}

	// recompute over the live set minus the retracted bid
	remaining := make([]*bid.Bid, 0, s.ledger.Len())
	for _, lb := range s.ledger.Live() {
		if lb.ID != bidID {
			remaining = append(remaining, lb)
		}
	}
	price, winnerID := listing.Recompute(l.StartPrice, remaining)

	retracted := *b
	retracted.Live = false
	retracted.UpdatedAt = now
	updated := *l
	updated.SetAggregate(price, winnerID, now)
	if err := s.store.SaveRetraction(ctx, &retracted, &updated); err != nil {
		s.logger.Error("failed to persist retraction", "bid_id", bidID.String(), "error", err)
		return opResult{snap: l.Snapshot(), err: domainErrors.ErrStoreUnavailable.WithCause(err)}
	}

	s.ledger.Retract(bidID)
	*l = updated

	snap := l.Snapshot()
	s.hub.Publish(newEvent(EventBidRetracted, snap, &retracted))
	if s.metrics != nil {
		s.metrics.RecordBidRetracted(l.ID)
	}
	s.logger.Info("bid retracted",
		"bid_id", bidID.String(),
		"caller_id", callerID.String(),
		"new_price_cents", price.Cents(),
	)

	return opResult{snap: snap}
}

// expireIfDue transitions an overdue active listing to sold or expired.
// Calling it on an already-closed or not-yet-due listing is a no-op.
func (s *sequencer) expireIfDue(ctx context.Context, now time.Time) opResult {
	s.closeIfDue(ctx, now)
	return opResult{snap: s.listing.Snapshot()}
}

func (s *sequencer) closeIfDue(ctx context.Context, now time.Time) {
	l := s.listing
	if l.Status != listing.StatusActive || now.Before(l.ExpiresAt) {
		return
	}

	updated := *l
	updated.Close(now)
	if err := s.store.CloseListing(ctx, &updated); err != nil {
		// leave the listing active; the sweeper will retry
		s.logger.Error("failed to persist listing close", "error", err)
		return
	}
	*l = updated

	snap := l.Snapshot()
	s.hub.Publish(newEvent(EventListingClosed, snap, nil))
	if s.metrics != nil {
		s.metrics.RecordListingClosed(snap.Status)
	}
	s.logger.Info("listing closed", "status", snap.Status)
}

// snapshot returns the authoritative state, sequenced after any operations
// already in the queue.
func (s *sequencer) snapshot() opResult {
	return opResult{snap: s.listing.Snapshot()}
}
