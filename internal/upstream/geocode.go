package upstream

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"
)

// HTTPGeocodeClient implements Geocode against a generic forward-geocoding API.
type HTTPGeocodeClient struct {
	http *httpVendorClient
}

// NewHTTPGeocodeClient creates an HTTPGeocodeClient.
func NewHTTPGeocodeClient(baseURL, apiKey string, timeout time.Duration) *HTTPGeocodeClient {
	return &HTTPGeocodeClient{http: newHTTPVendorClient("geocode", baseURL, apiKey, timeout)}
}

type geocodeResponseWire struct {
	Results []struct {
		FormattedAddress string `json:"formatted_address"`
		CountryCode      string `json:"country_code"`
		Scope            string `json:"scope"`
	} `json:"results"`
}

func (c *HTTPGeocodeClient) Resolve(ctx context.Context, text string) (GeocodeResult, error) {
	if strings.TrimSpace(text) == "" {
		return GeocodeResult{}, NewError(KindInternal, errors.New("upstream: geocode text is required"))
	}

	q := url.Values{}
	q.Set("q", text)

	data, err := c.http.invoke(ctx, "GET", "/geocode", q, nil)
	if err != nil {
		return GeocodeResult{}, err
	}

	wire, err := decodeJSON[geocodeResponseWire](data)
	if err != nil {
		return GeocodeResult{}, err
	}
	if len(wire.Results) == 0 {
		return GeocodeResult{}, nil
	}

	top := wire.Results[0]
	return GeocodeResult{
		Location: top.FormattedAddress,
		IsUS:     strings.EqualFold(top.CountryCode, "US"),
		Scope:    top.Scope,
	}, nil
}
