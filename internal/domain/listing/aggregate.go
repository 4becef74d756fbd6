package listing

import (
	"github.com/google/uuid"

	"github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/bid"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/values"
)

// Recompute derives (current_price, current_winner) from the start price and
// the live bids. With no live bids the listing falls back to its start price
// and no winner. Amount ties resolve to the earliest bid; the strict-increase
// rule prevents ties among accepted bids, but replay of historic ledgers must
// still produce a deterministic winner.
func Recompute(startPrice values.Money, liveBids []*bid.Bid) (values.Money, *uuid.UUID) {
	if len(liveBids) == 0 {
		return startPrice, nil
	}

	top := liveBids[0]
	for _, b := range liveBids[1:] {
		if b.Amount.GreaterThan(top.Amount) {
			top = b
		} else if b.Amount.Equal(top.Amount) && b.CreatedAt.Before(top.CreatedAt) {
			top = b
		}
	}

	winner := top.BidderID
	return top.Amount, &winner
}
