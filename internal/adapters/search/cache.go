package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/hugo-lorenzo-mato/casework/internal/core"
)

// CachedProvider memoizes search results for identical query batches.
// Workers on different categories often issue overlapping queries.
type CachedProvider struct {
	next  core.SearchProvider
	cache *cache.Cache
}

var _ core.SearchProvider = (*CachedProvider)(nil)

// NewCachedProvider wraps next with a TTL cache. A ttl <= 0 disables caching
// and returns next unchanged.
func NewCachedProvider(next core.SearchProvider, ttl time.Duration) core.SearchProvider {
	if ttl <= 0 {
		return next
	}
	return &CachedProvider{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

// Search returns a cached result or delegates to the wrapped provider.
// Errors are never cached.
func (c *CachedProvider) Search(ctx context.Context, queries []string, limit int, threshold float64) (string, error) {
	key := cacheKey(queries, limit, threshold)
	if v, ok := c.cache.Get(key); ok {
		return v.(string), nil
	}
	out, err := c.next.Search(ctx, queries, limit, threshold)
	if err != nil {
		return "", err
	}
	c.cache.SetDefault(key, out)
	return out, nil
}

// Len returns the number of cached entries.
func (c *CachedProvider) Len() int {
	return c.cache.ItemCount()
}

// Flush empties the cache, e.g. after re-indexing.
func (c *CachedProvider) Flush() {
	c.cache.Flush()
}

func cacheKey(queries []string, limit int, threshold float64) string {
	return fmt.Sprintf("%d|%.3f|%s", limit, threshold, strings.Join(queries, "\x1f"))
}
