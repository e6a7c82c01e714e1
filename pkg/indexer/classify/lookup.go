package classify

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zephyr-analytics/zephscan/pkg/db"
	"github.com/zephyr-analytics/zephscan/pkg/db/models/indexer"
)

// DefaultCacheSize covers a few days of pricing record heights.
const DefaultCacheSize = 4096

// CachedLookup memoises found pricing records. Misses are not cached since the pricing
// stage may persist the height later in the same run.
type CachedLookup struct {
	next  db.PricingLookup
	cache *lru.Cache[uint64, *indexer.PricingRecord]
}

// NewCachedLookup wraps next with an LRU of size entries.
func NewCachedLookup(next db.PricingLookup, size int) (*CachedLookup, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[uint64, *indexer.PricingRecord](size)
	if err != nil {
		return nil, err
	}
	return &CachedLookup{next: next, cache: cache}, nil
}

func (c *CachedLookup) PricingRecord(ctx context.Context, height uint64) (*indexer.PricingRecord, error) {
	if pr, ok := c.cache.Get(height); ok {
		return pr, nil
	}
	pr, err := c.next.PricingRecord(ctx, height)
	if err != nil {
		return nil, err
	}
	c.cache.Add(height, pr)
	return pr, nil
}

// Prime seeds the cache with records just fetched by the pricing stage.
func (c *CachedLookup) Prime(recs []*indexer.PricingRecord) {
	for _, pr := range recs {
		c.cache.Add(pr.Block, pr)
	}
}

// Len reports the number of cached heights.
func (c *CachedLookup) Len() int {
	return c.cache.Len()
}
