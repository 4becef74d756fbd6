package auction

import (
	"context"
	"errors"
	"log/slog"
	"time"

	domainErrors "github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/errors"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/listing"
)

// Sweeper periodically closes listings whose deadline has passed without a
// bid arriving to trigger the close inline. Each expiration still goes
// through the listing's sequencer, so the sweeper can never race a bid.
type Sweeper struct {
	engine   *Engine
	store    Store
	interval time.Duration
	clock    Clock
	logger   *slog.Logger
}

// NewSweeper creates a sweeper over the engine's store.
func NewSweeper(engine *Engine, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultConfig().SweepInterval
	}
	return &Sweeper{
		engine:   engine,
		store:    engine.store,
		interval: interval,
		clock:    engine.clock,
		logger:   logger,
	}
}

// Run sweeps at a fixed interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep closes every active listing that is past its deadline. A store or
// sequencer failure on one listing is logged and does not stop the pass;
// the listing stays active and the next sweep retries it.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := s.clock.Now()

	active, err := s.store.ListByStatus(ctx, listing.StatusActive, 0)
	if err != nil {
		s.logger.Error("sweep scan failed", "error", err)
		return
	}

	for _, l := range active {
		if now.Before(l.ExpiresAt) {
			continue
		}
		if _, err := s.engine.ExpireIfDue(ctx, l.ID, now); err != nil {
			// already closed between scan and dispatch is not a failure
			if errors.Is(err, domainErrors.ErrListingNotFound) {
				continue
			}
			s.logger.Error("sweep expiration failed",
				"listing_id", l.ID.String(),
				"error", err,
			)
		}
	}
}
