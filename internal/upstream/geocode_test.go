package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPGeocodeClientResolve(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "portland oregon", r.URL.Query().Get("q"))
		w.Write([]byte(`{"results":[{"formatted_address":"Portland, OR, USA","country_code":"US","scope":"city"}]}`))
	}))
	defer server.Close()

	c := NewHTTPGeocodeClient(server.URL, "key", time.Second)
	result, err := c.Resolve(context.Background(), "portland oregon")
	require.NoError(t, err)
	assert.Equal(t, "Portland, OR, USA", result.Location)
	assert.True(t, result.IsUS)
	assert.Equal(t, "city", result.Scope)
}

func TestHTTPGeocodeClientNoResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[]}`))
	}))
	defer server.Close()

	c := NewHTTPGeocodeClient(server.URL, "key", time.Second)
	result, err := c.Resolve(context.Background(), "nowhere")
	require.NoError(t, err)
	assert.Equal(t, GeocodeResult{}, result)
}
