package upstream_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelterline/relay/internal/cache"
	"github.com/shelterline/relay/internal/upstream"
)

type countingGeocode struct {
	calls int
}

func (g *countingGeocode) Resolve(ctx context.Context, text string) (upstream.GeocodeResult, error) {
	g.calls++
	return upstream.GeocodeResult{Location: "Austin, Texas", IsUS: true}, nil
}

func TestCachedGeocodeCollapsesRepeatedLookups(t *testing.T) {
	inner := &countingGeocode{}
	c := cache.New[upstream.GeocodeResult](time.Hour, 10)
	defer c.Close()

	g := upstream.NewCachedGeocode(inner, c, nil)

	first, err := g.Resolve(context.Background(), "Austin, Texas")
	require.NoError(t, err)
	second, err := g.Resolve(context.Background(), "Austin, Texas")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls, "second lookup should hit the cache")
}
