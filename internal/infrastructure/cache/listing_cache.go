package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/listing"
)

// BrowseTTL is how long a browse page may be served from cache. Browse
// results are presentational; authoritative state always comes from the
// listing's sequencer.
const BrowseTTL = 2 * time.Second

// ListingCache caches browse pages so list-heavy traffic stays off the
// database between refreshes.
type ListingCache struct {
	cache  Cache
	logger *zap.Logger
}

// NewListingCache creates a browse-page cache on top of the generic cache.
func NewListingCache(cache Cache, logger *zap.Logger) *ListingCache {
	return &ListingCache{cache: cache, logger: logger}
}

func browseKey(status listing.Status, limit int) string {
	return fmt.Sprintf("browse:%s:%d", status, limit)
}

// GetBrowse returns a cached browse page, or (nil, false) on a miss.
func (c *ListingCache) GetBrowse(ctx context.Context, status listing.Status, limit int) ([]*listing.Listing, bool) {
	var out []*listing.Listing
	err := c.cache.GetJSON(ctx, browseKey(status, limit), &out)
	if err != nil {
		var notFound ErrKeyNotFound
		if !errors.As(err, &notFound) {
			c.logger.Warn("browse cache read failed", zap.Error(err))
		}
		return nil, false
	}
	return out, true
}

// PutBrowse stores a browse page. Failures are logged and swallowed; the
// cache is an optimization, never a dependency.
func (c *ListingCache) PutBrowse(ctx context.Context, status listing.Status, limit int, listings []*listing.Listing) {
	if err := c.cache.SetJSON(ctx, browseKey(status, limit), listings, BrowseTTL); err != nil {
		c.logger.Warn("browse cache write failed", zap.Error(err))
	}
}
