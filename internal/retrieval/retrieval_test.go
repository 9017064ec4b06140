package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelterline/relay/internal/cache"
	"github.com/shelterline/relay/internal/upstream"
)

type stubSearch struct {
	response upstream.SearchResponse
	err      error
	calls    int
}

func (s *stubSearch) Search(ctx context.Context, query string, opts upstream.SearchOptions) (upstream.SearchResponse, error) {
	s.calls++
	if s.err != nil {
		return upstream.SearchResponse{}, s.err
	}
	return s.response, nil
}

func newCache() *cache.Cache[PresentableAnswer] {
	return cache.New[PresentableAnswer](time.Hour, 100)
}

func TestRetrievePassesFilterAndShapesVoiceResponse(t *testing.T) {
	search := &stubSearch{response: upstream.SearchResponse{
		Results: []upstream.SearchResult{
			{Title: "Austin Safe Haven Shelter", URL: "https://example.org/shelter", Content: "Call us at 512-555-0100 or visit 100 Main St, Austin, TX 78701", Score: 0.9},
			{Title: "Things to do in Austin", URL: "https://travel.example.com", Content: "best restaurants and bars", Score: 0.95},
			{Title: "Low score shelter", URL: "https://example.org/low", Content: "shelter services", Score: 0.2},
		},
	}}
	c := newCache()
	defer c.Close()
	p := New(search, c, 3, nil, nil)

	answer, err := p.Retrieve(context.Background(), "domestic violence shelter near Austin, Texas", Options{Location: "Austin, Texas"})
	require.NoError(t, err)
	require.Len(t, answer.Results, 1)
	assert.Equal(t, "Austin Safe Haven Shelter", answer.Results[0].Title)
	assert.Equal(t, "512-555-0100", answer.Results[0].ExtractedPhones[0])
	assert.Contains(t, answer.VoiceResponse, "I found a shelter in Austin, Texas")
}

func TestRetrieveEmptyResultsUseCanonicalFallback(t *testing.T) {
	search := &stubSearch{response: upstream.SearchResponse{}}
	c := newCache()
	defer c.Close()
	p := New(search, c, 3, nil, nil)

	answer, err := p.Retrieve(context.Background(), "domestic violence shelter near Nowhere", Options{Location: "Nowhere"})
	require.NoError(t, err)
	assert.Contains(t, answer.VoiceResponse, "couldn't find any shelters")
	assert.Contains(t, answer.SMSResponse, "National Domestic Violence Hotline")
}

func TestRetrieveEmptyResultsAreNotCached(t *testing.T) {
	search := &stubSearch{response: upstream.SearchResponse{}}
	c := newCache()
	defer c.Close()
	p := New(search, c, 3, nil, nil)

	_, err := p.Retrieve(context.Background(), "q", Options{Location: "Nowhere"})
	require.NoError(t, err)
	_, err = p.Retrieve(context.Background(), "q", Options{Location: "Nowhere"})
	require.NoError(t, err)

	assert.Equal(t, 2, search.calls, "empty results should not be cached, so search runs again")
}

func TestRetrieveCachesNonEmptyResult(t *testing.T) {
	search := &stubSearch{response: upstream.SearchResponse{
		Results: []upstream.SearchResult{{Title: "Shelter A", URL: "https://example.org", Content: "shelter", Score: 0.9}},
	}}
	c := newCache()
	defer c.Close()
	p := New(search, c, 3, nil, nil)

	_, err := p.Retrieve(context.Background(), "q", Options{Location: "Austin"})
	require.NoError(t, err)
	_, err = p.Retrieve(context.Background(), "q", Options{Location: "Austin"})
	require.NoError(t, err)

	assert.Equal(t, 1, search.calls, "non-empty results should be cached")
}

func TestCleanTitleIsIdempotent(t *testing.T) {
	inputs := []string{
		"[Sponsored] Austin Shelter - Example.com",
		"Unbracketed Title",
		"   ",
		"[Tag] ",
		"Austin Shelter - Travis County - example.org",
	}
	for _, in := range inputs {
		once := cleanTitle(in)
		twice := cleanTitle(once)
		assert.Equal(t, once, twice, "clean(clean(%q)) should equal clean(%q)", in, in)
	}
}

func TestCleanTitleStripsOnlyTrailingSiteSegment(t *testing.T) {
	assert.Equal(t, "Austin Shelter - Travis County", cleanTitle("Austin Shelter - Travis County - example.org"))
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "512-555-0100", normalizePhone("call 512-555-0100 now"))
	assert.Equal(t, "512-555-0100", normalizePhone("call 512.555.0100 now"))
	assert.Equal(t, "512-555-0100", normalizePhone("call 5125550100 now"))
	assert.Equal(t, "Not available", normalizePhone("no phone here"))
}

func TestFilterDropsLowScoreAndBlockedDomains(t *testing.T) {
	raw := []upstream.SearchResult{
		{Title: "Shelter A", URL: "https://good.org", Content: "shelter services", Score: 0.8},
		{Title: "Shelter B", URL: "https://blocked.com", Content: "shelter services", Score: 0.9},
		{Title: "Shelter C", URL: "https://good.org/c", Content: "shelter services", Score: 0.3},
	}
	out := filterResults(raw, []string{"blocked.com"})
	require.Len(t, out, 1)
	assert.Equal(t, "Shelter A", out[0].Title)
}
