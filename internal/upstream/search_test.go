package upstream

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"context"
)

func TestHTTPSearchClientSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"answer":"it's 10am-6pm","results":[{"title":"Hours","url":"https://example.com","content":"We are open","score":0.9}]}`))
	}))
	defer server.Close()

	c := NewHTTPSearchClient(server.URL, "test-key", time.Second)
	resp, err := c.Search(context.Background(), "what are your hours", SearchOptions{MaxResults: 3})
	require.NoError(t, err)
	assert.Equal(t, "it's 10am-6pm", resp.Answer)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Hours", resp.Results[0].Title)
}

func TestHTTPSearchClientRequiresQuery(t *testing.T) {
	c := NewHTTPSearchClient("https://example.com", "key", time.Second)
	_, err := c.Search(context.Background(), "   ", SearchOptions{})
	require.Error(t, err)
	assert.Equal(t, KindInternal, KindOf(err))
}

func TestHTTPSearchClientClassifiesRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer server.Close()

	c := &HTTPSearchClient{http: newHTTPVendorClient("search", server.URL, "key", time.Second)}
	c.http.maxRetries = 0
	_, err := c.Search(context.Background(), "hours", SearchOptions{})
	require.Error(t, err)
	assert.Equal(t, KindRateLimited, KindOf(err))
}
