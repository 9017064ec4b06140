package retrieval

import (
	"context"
	"time"

	"github.com/shelterline/relay/internal/cache"
	"github.com/shelterline/relay/internal/stats"
	"github.com/shelterline/relay/internal/upstream"
)

const defaultSearchDeadline = 6 * time.Second

// Pipeline implements the retrieve() entry point of spec.md §4.5.
type Pipeline struct {
	search         upstream.Search
	cache          *cache.Cache[PresentableAnswer]
	searchDeadline time.Duration
	maxResults     int
	blockedDomains []string
	stats          *stats.Stats
}

// New constructs a Pipeline.
func New(search upstream.Search, c *cache.Cache[PresentableAnswer], maxResults int, blockedDomains []string, st *stats.Stats) *Pipeline {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &Pipeline{
		search:         search,
		cache:          c,
		searchDeadline: defaultSearchDeadline,
		maxResults:     maxResults,
		blockedDomains: blockedDomains,
		stats:          st,
	}
}

// Retrieve runs the cache-lookup/search/filter/extract/rank/shape pipeline.
func (p *Pipeline) Retrieve(ctx context.Context, query string, opts Options) (PresentableAnswer, error) {
	key := query + "|" + opts.Location

	_, hit := p.cache.Get(key)
	answer, err := p.cache.GetOrComputeCacheable(ctx, key, func(ctx context.Context) (PresentableAnswer, error) {
		return p.retrieveUncached(ctx, query, opts)
	}, func(a PresentableAnswer) bool { return len(a.Results) > 0 })
	if p.stats != nil {
		p.stats.ObserveCache("retrieval", hit)
	}
	return answer, err
}

func (p *Pipeline) retrieveUncached(ctx context.Context, query string, opts Options) (PresentableAnswer, error) {
	searchCtx, cancel := context.WithTimeout(ctx, p.searchDeadline)
	defer cancel()

	searchOpts := upstream.SearchOptions{
		Depth:          opts.Depth,
		MaxResults:     opts.MaxResults,
		IncludeDomains: opts.IncludeDomains,
		ExcludeDomains: opts.ExcludeDomains,
	}
	raw, err := p.search.Search(searchCtx, query, searchOpts)
	if p.stats != nil {
		p.stats.ObserveUpstreamCall("search", err == nil)
	}
	if err != nil {
		return PresentableAnswer{}, upstream.NewError(upstream.ClassifyTransport(searchCtx.Err()), err)
	}

	blocked := p.blockedDomains
	if len(opts.BlockedDomains) > 0 {
		blocked = opts.BlockedDomains
	}

	filtered := filterResults(raw.Results, blocked)
	extracted := extract(filtered)
	top := rankAndTrim(extracted, p.maxResults)

	if len(top) == 0 {
		return emptyAnswer(opts.Location), nil
	}

	titles := make([]string, 0, len(top))
	for _, r := range top {
		titles = append(titles, r.Title)
	}

	return PresentableAnswer{
		VoiceResponse: buildVoiceResponse(opts.Location, titles),
		SMSResponse:   buildSMSResponse(top),
		WebResponse:   buildWebResponse(top),
		Results:       top,
	}, nil
}

func emptyAnswer(location string) PresentableAnswer {
	return PresentableAnswer{
		VoiceResponse: buildVoiceResponse(location, nil),
		SMSResponse:   emptySMSResponse(),
		WebResponse:   buildWebResponse(nil),
	}
}
