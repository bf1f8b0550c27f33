package routing

import (
	"context"
	"fmt"
	"time"

	"github.com/bluele/gcache"
)

// CachedSource keeps recent Route answers in an LRU cache. Stop to stop distances are requested again and again
// while classifying positions and rarely change within the expiration.
// Matrix and Legs requests pass straight through to the wrapped Source.
type CachedSource struct {
	Source
	cache gcache.Cache
}

// NewCachedSource wraps src with a cache holding up to size Route results for at most expiration
func NewCachedSource(src Source, size int, expiration time.Duration) *CachedSource {
	return &CachedSource{
		Source: src,
		cache:  gcache.New(size).LRU().Expiration(expiration).Build(),
	}
}

// Route implements Source, failures are not cached
func (c *CachedSource) Route(ctx context.Context, origin, destination Coordinate) (Result, error) {
	key := routeCacheKey(origin, destination)
	if cached, err := c.cache.Get(key); err == nil {
		if result, ok := cached.(Result); ok {
			return result, nil
		}
	}
	result, err := c.Source.Route(ctx, origin, destination)
	if err != nil {
		return result, err
	}
	_ = c.cache.Set(key, result)
	return result, nil
}

// routeCacheKey rounds coordinates to about a meter so nearly identical positions share an entry
func routeCacheKey(origin, destination Coordinate) string {
	return fmt.Sprintf("%.5f,%.5f;%.5f,%.5f",
		origin.Longitude, origin.Latitude, destination.Longitude, destination.Latitude)
}
