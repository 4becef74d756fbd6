package auction

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/bid"
	domainErrors "github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/errors"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/listing"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/values"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/infrastructure/telemetry"
)

// Config holds engine tuning knobs.
type Config struct {
	// OpTimeout bounds how long a caller may wait for its turn in a
	// listing's queue plus the operation itself.
	OpTimeout time.Duration
	// QueueSize is the per-listing inbox capacity.
	QueueSize int
	// SweepInterval is how often the expiration sweeper scans for overdue
	// listings.
	SweepInterval time.Duration
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		OpTimeout:     3 * time.Second,
		QueueSize:     64,
		SweepInterval: 2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.OpTimeout <= 0 {
		c.OpTimeout = d.OpTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	return c
}

// Engine decides, per listing, the authoritative current price and winner
// under concurrent submissions and retractions, and fans each accepted
// transition out to subscribers. Every mutation goes through the target
// listing's sequencer; there is no global lock and no second read-then-write
// path to listing state.
type Engine struct {
	cfg     Config
	store   Store
	hub     *Hub
	metrics MetricsCollector
	clock   Clock
	logger  *slog.Logger

	mu      sync.RWMutex
	seqs    map[uuid.UUID]*sequencer
	runCtx  context.Context
	cancel  context.CancelFunc
	started bool
}

// NewEngine creates the engine. metrics may be nil.
func NewEngine(cfg Config, store Store, hub *Hub, metrics MetricsCollector, clock Clock, logger *slog.Logger) *Engine {
	if clock == nil {
		clock = RealClock{}
	}
	runCtx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:     cfg.withDefaults(),
		store:   store,
		hub:     hub,
		metrics: metrics,
		clock:   clock,
		logger:  logger,
		seqs:    make(map[uuid.UUID]*sequencer),
		runCtx:  runCtx,
		cancel:  cancel,
	}
}

// Start loads every active listing from the store and spins up its
// sequencer so a restarted engine resumes where it left off.
func (e *Engine) Start(ctx context.Context) error {
	listings, err := e.store.ListByStatus(ctx, listing.StatusActive, 0)
	if err != nil {
		return domainErrors.Wrap(err, "loading active listings")
	}

	for _, l := range listings {
		if _, err := e.loadSequencer(ctx, l); err != nil {
			return err
		}
	}

	e.mu.Lock()
	e.started = true
	e.mu.Unlock()

	e.logger.Info("auction engine started", "active_listings", len(listings))
	return nil
}

// Close stops all sequencers and disconnects every subscriber.
func (e *Engine) Close() {
	e.cancel()
	e.hub.Close()
}

// Hub exposes the fan-out hub for transports.
func (e *Engine) Hub() *Hub {
	return e.hub
}

// CreateListing validates and persists a new listing and seeds its
// sequencer. Not a sequenced operation: nobody can race on a listing whose
// id they do not yet know. The returned listing is the caller's own copy;
// the sequencer owns its clone exclusively.
func (e *Engine) CreateListing(ctx context.Context, sellerID uuid.UUID, title, description string, startPrice values.Money, expiresAt time.Time) (*listing.Listing, error) {
	l, err := listing.NewListing(sellerID, title, description, startPrice, expiresAt, e.clock.Now())
	if err != nil {
		return nil, domainErrors.NewValidationError("INVALID_LISTING", err.Error())
	}

	if err := e.store.CreateListing(ctx, l); err != nil {
		return nil, domainErrors.ErrStoreUnavailable.WithCause(err)
	}

	e.registerSequencer(l.Clone(), bid.NewLedger(l.ID))
	e.hub.Publish(newEvent(EventListingCreated, l.Snapshot(), nil))

	e.logger.Info("listing created",
		"listing_id", l.ID.String(),
		"seller_id", sellerID.String(),
		"start_price_cents", startPrice.Cents(),
		"expires_at", l.ExpiresAt,
	)
	return l, nil
}

// SubmitBid places a bid through the listing's sequencer. On success the
// returned snapshot reflects the accepted bid.
func (e *Engine) SubmitBid(ctx context.Context, listingID, bidderID uuid.UUID, amount values.Money) (listing.Snapshot, *bid.Bid, error) {
	ctx, span := telemetry.StartEngineSpan(ctx, "submit_bid", listingID)
	var opErr error
	defer func() { telemetry.EndSpan(span, opErr) }()

	if !amount.IsPositive() {
		opErr = domainErrors.NewValidationError("INVALID_AMOUNT", "bid amount must be positive")
		return listing.Snapshot{}, nil, opErr
	}

	res := e.do(ctx, listingID, func(seq *sequencer, opCtx context.Context, now time.Time) opResult {
		return seq.submitBid(opCtx, now, bidderID, amount)
	})
	opErr = res.err
	return res.snap, res.bid, res.err
}

// RetractBid clears a bid's live flag. callerID must be the bid's own
// bidder unless moderator is set by an authorized collaborator.
func (e *Engine) RetractBid(ctx context.Context, listingID, bidID, callerID uuid.UUID, moderator bool) (listing.Snapshot, error) {
	ctx, span := telemetry.StartEngineSpan(ctx, "retract_bid", listingID)
	var opErr error
	defer func() { telemetry.EndSpan(span, opErr) }()

	res := e.do(ctx, listingID, func(seq *sequencer, opCtx context.Context, now time.Time) opResult {
		return seq.retractBid(opCtx, now, bidID, callerID, moderator)
	})
	opErr = res.err
	return res.snap, res.err
}

// ExpireIfDue closes the listing if its deadline has passed. Idempotent.
func (e *Engine) ExpireIfDue(ctx context.Context, listingID uuid.UUID, now time.Time) (listing.Snapshot, error) {
	ctx, span := telemetry.StartEngineSpan(ctx, "expire_if_due", listingID)
	var opErr error
	defer func() { telemetry.EndSpan(span, opErr) }()

	res := e.do(ctx, listingID, func(seq *sequencer, opCtx context.Context, _ time.Time) opResult {
		return seq.expireIfDue(opCtx, now)
	})
	opErr = res.err
	return res.snap, res.err
}

// Snapshot returns the authoritative state, ordered after any operations
// already queued on the listing.
func (e *Engine) Snapshot(ctx context.Context, listingID uuid.UUID) (listing.Snapshot, error) {
	res := e.do(ctx, listingID, func(seq *sequencer, _ context.Context, _ time.Time) opResult {
		return seq.snapshot()
	})
	return res.snap, res.err
}

// SnapshotBySlug resolves a slug and returns the listing's snapshot.
func (e *Engine) SnapshotBySlug(ctx context.Context, slug string) (listing.Snapshot, error) {
	l, err := e.store.GetListingBySlug(ctx, slug)
	if err != nil {
		return listing.Snapshot{}, err
	}
	return e.Snapshot(ctx, l.ID)
}

// Bids returns a listing's full bid history, retracted bids included.
func (e *Engine) Bids(ctx context.Context, listingID uuid.UUID) ([]*bid.Bid, error) {
	return e.store.BidsForListing(ctx, listingID)
}

// Browse returns listings with the given status for the presentation layer.
func (e *Engine) Browse(ctx context.Context, status listing.Status, limit int) ([]*listing.Listing, error) {
	return e.store.ListByStatus(ctx, status, limit)
}

// Subscribe opens a per-listing event stream.
func (e *Engine) Subscribe(listingID uuid.UUID) *Subscription {
	return e.hub.Subscribe(listingID)
}

// SubscribeTicker opens the cross-listing ticker stream.
func (e *Engine) SubscribeTicker() *Subscription {
	return e.hub.SubscribeTicker()
}

// do resolves the listing's sequencer, enqueues an operation, and waits for
// its result under the engine's operation timeout. An operation cancelled
// while still queued never runs; once dequeued it runs to completion even if
// the caller has stopped waiting, so a Timeout result does not imply the
// operation was dropped. A sequencer that retired between lookup and
// delivery surfaces as a closed done channel; the operation is requeued on a
// freshly loaded sequencer.
func (e *Engine) do(ctx context.Context, listingID uuid.UUID, apply func(seq *sequencer, ctx context.Context, now time.Time) opResult) opResult {
	start := e.clock.Now()
	opCtx, cancel := context.WithTimeout(ctx, e.cfg.OpTimeout)
	defer cancel()

	for attempt := 0; attempt < 2; attempt++ {
		seq, err := e.sequencerFor(opCtx, listingID)
		if err != nil {
			return opResult{err: err}
		}

		op := &operation{
			ctx:   opCtx,
			reply: make(chan opResult, 1),
		}
		op.apply = func(c context.Context, now time.Time) opResult {
			return apply(seq, c, now)
		}

		select {
		case seq.inbox <- op:
		case <-opCtx.Done():
			return opResult{err: queueWaitError(opCtx.Err())}
		case <-seq.done:
			continue
		}

		select {
		case res := <-op.reply:
			if e.metrics != nil {
				e.metrics.RecordQueueWait(e.clock.Now().Sub(start))
			}
			return res
		case <-opCtx.Done():
			return opResult{err: queueWaitError(opCtx.Err())}
		case <-seq.done:
			// the sequencer drains its inbox before exiting, so a reply that
			// is still missing now will never arrive
			select {
			case res := <-op.reply:
				if e.metrics != nil {
					e.metrics.RecordQueueWait(e.clock.Now().Sub(start))
				}
				return res
			default:
			}
		}
	}
	return opResult{err: domainErrors.NewUnavailableError("listing sequencer stopped")}
}

// sequencerFor finds a running sequencer, lazily rehydrating one from the
// store for listings created before a restart.
func (e *Engine) sequencerFor(ctx context.Context, listingID uuid.UUID) (*sequencer, error) {
	e.mu.RLock()
	seq, ok := e.seqs[listingID]
	e.mu.RUnlock()
	if ok {
		return seq, nil
	}

	l, err := e.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	return e.loadSequencer(ctx, l)
}

// loadSequencer rebuilds a listing's ledger from the store and registers a
// sequencer for it.
func (e *Engine) loadSequencer(ctx context.Context, l *listing.Listing) (*sequencer, error) {
	bids, err := e.store.BidsForListing(ctx, l.ID)
	if err != nil {
		return nil, domainErrors.Wrap(err, "loading bids")
	}

	ledger := bid.NewLedger(l.ID)
	for _, b := range bids {
		ledger.Append(b)
	}

	return e.registerSequencer(l, ledger), nil
}

func (e *Engine) registerSequencer(l *listing.Listing, ledger *bid.Ledger) *sequencer {
	e.mu.Lock()
	defer e.mu.Unlock()

	// a concurrent loader may have won the race
	if seq, ok := e.seqs[l.ID]; ok {
		return seq
	}

	seq := newSequencer(l, ledger, e.cfg.QueueSize, e.store, e.hub, e.metrics, e.clock, e.logger)
	seq.onRetire = e.evict
	e.seqs[l.ID] = seq
	go seq.run(e.runCtx)
	return seq
}

// evict drops a retiring sequencer from the registry. A newer sequencer for
// the same listing is left alone.
func (e *Engine) evict(seq *sequencer) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.seqs[seq.listing.ID] == seq {
		delete(e.seqs, seq.listing.ID)
	}
}

// SequencerCount reports how many listing sequencers are currently running.
func (e *Engine) SequencerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.seqs)
}
