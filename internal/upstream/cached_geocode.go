package upstream

import (
	"context"

	"github.com/shelterline/relay/internal/cache"
	"github.com/shelterline/relay/internal/stats"
)

// CachedGeocode wraps a Geocode client with the 24-hour geocode cache of
// spec.md §4.1. Geocode results are small and stable, so they're a
// natural single-flight/LRU candidate: repeated callers resolving the
// same free text (the rewriter's utterance and session-fallback
// lookups, the router's raw and retry lookups) collapse to one call.
type CachedGeocode struct {
	inner Geocode
	cache *cache.Cache[GeocodeResult]
	stats *stats.Stats
}

// NewCachedGeocode constructs a CachedGeocode.
func NewCachedGeocode(inner Geocode, c *cache.Cache[GeocodeResult], st *stats.Stats) *CachedGeocode {
	return &CachedGeocode{inner: inner, cache: c, stats: st}
}

func (g *CachedGeocode) Resolve(ctx context.Context, text string) (GeocodeResult, error) {
	if text == "" {
		return GeocodeResult{}, nil
	}
	_, hit := g.cache.Get(text)
	result, err := g.cache.GetOrCompute(ctx, text, func(ctx context.Context) (GeocodeResult, error) {
		return g.inner.Resolve(ctx, text)
	})
	if g.stats != nil {
		g.stats.ObserveCache("geocode", hit)
	}
	return result, err
}
