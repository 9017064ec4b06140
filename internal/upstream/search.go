package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// HTTPSearchClient implements Search against a Tavily-shaped search API.
type HTTPSearchClient struct {
	http *httpVendorClient
}

// NewHTTPSearchClient creates an HTTPSearchClient.
func NewHTTPSearchClient(baseURL, apiKey string, timeout time.Duration) *HTTPSearchClient {
	return &HTTPSearchClient{http: newHTTPVendorClient("search", baseURL, apiKey, timeout)}
}

type searchRequest struct {
	Query             string   `json:"query"`
	SearchDepth       string   `json:"search_depth,omitempty"`
	MaxResults        int      `json:"max_results,omitempty"`
	IncludeDomains    []string `json:"include_domains,omitempty"`
	ExcludeDomains    []string `json:"exclude_domains,omitempty"`
	IncludeRawContent bool     `json:"include_raw_content,omitempty"`
	IncludeAnswer     bool     `json:"include_answer,omitempty"`
}

type searchResultWire struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

type searchResponseWire struct {
	Answer  string             `json:"answer"`
	Results []searchResultWire `json:"results"`
}

func (c *HTTPSearchClient) Search(ctx context.Context, query string, opts SearchOptions) (SearchResponse, error) {
	if strings.TrimSpace(query) == "" {
		return SearchResponse{}, NewError(KindInternal, errors.New("upstream: search query is required"))
	}

	req := searchRequest{
		Query:             query,
		SearchDepth:       opts.Depth,
		MaxResults:        opts.MaxResults,
		IncludeDomains:    opts.IncludeDomains,
		ExcludeDomains:    opts.ExcludeDomains,
		IncludeRawContent: opts.IncludeRaw,
		IncludeAnswer:     true,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return SearchResponse{}, NewError(KindInternal, err)
	}

	data, err := c.http.invoke(ctx, "POST", "/search", nil, body)
	if err != nil {
		return SearchResponse{}, err
	}

	wire, err := decodeJSON[searchResponseWire](data)
	if err != nil {
		return SearchResponse{}, err
	}

	out := SearchResponse{Answer: wire.Answer, Results: make([]SearchResult, 0, len(wire.Results))}
	for _, r := range wire.Results {
		out.Results = append(out.Results, SearchResult{
			Title:   r.Title,
			URL:     r.URL,
			Content: r.Content,
			Score:   r.Score,
		})
	}
	return out, nil
}
