package maps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/repartos-backend/pkg/errors"
)

const (
	defaultBaseURL              = "https://api.mapbox.com"
	defaultCallTimeout          = 3 * time.Second
	requestBodyReadLimit  int64 = 1024
	geocodeResultLimit          = "1"
	directionsProfilePath       = "directions/v5/mapbox/driving"
	geocodingPath               = "geocoding/v5/mapbox.places"
)

var (
	errTokenRequired = errors.New("mapbox access token is required")
	errNoResults     = errors.New("no results")
)

// Client wraps the Mapbox geocoding and directions APIs.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	timeout    time.Duration
	country    string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithTimeout bounds every provider call.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithCountry restricts geocoding to an ISO country code.
func WithCountry(code string) Option {
	return func(c *Client) {
		c.country = strings.ToLower(strings.TrimSpace(code))
	}
}

// NewClient builds the Mapbox client given an access token.
func NewClient(token string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, errTokenRequired
	}

	client := &Client{
		token:      trimmed,
		baseURL:    defaultBaseURL,
		timeout:    defaultCallTimeout,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// LatLng is a WGS84 coordinate pair.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Geocode resolves a free-form address to its best matching coordinates.
func (c *Client) Geocode(ctx context.Context, address string) (LatLng, error) {
	if c == nil {
		return LatLng{}, pkgerrors.New(pkgerrors.CodeUpstream, "geocoding client not configured")
	}
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return LatLng{}, pkgerrors.New(pkgerrors.CodeValidation, "address is required")
	}

	q := url.Values{}
	q.Set("access_token", c.token)
	q.Set("limit", geocodeResultLimit)
	if c.country != "" {
		q.Set("country", c.country)
	}
	endpoint := fmt.Sprintf("%s/%s.json?%s", c.buildURL(geocodingPath), url.PathEscape(trimmed), q.Encode())

	var apiResp struct {
		Features []struct {
			Center []float64 `json:"center"`
		} `json:"features"`
	}
	if err := c.getJSON(ctx, endpoint, "geocode", &apiResp); err != nil {
		return LatLng{}, err
	}
	if len(apiResp.Features) == 0 || len(apiResp.Features[0].Center) < 2 {
		return LatLng{}, pkgerrors.Wrap(pkgerrors.CodeUpstream, errNoResults, "geocode returned no match")
	}
	center := apiResp.Features[0].Center
	return LatLng{Lng: center[0], Lat: center[1]}, nil
}

// RouteDistance returns the driving distance in meters between two points.
func (c *Client) RouteDistance(ctx context.Context, from, to LatLng) (float64, error) {
	if c == nil {
		return 0, pkgerrors.New(pkgerrors.CodeUpstream, "routing client not configured")
	}

	q := url.Values{}
	q.Set("access_token", c.token)
	q.Set("overview", "false")
	coords := fmt.Sprintf("%f,%f;%f,%f", from.Lng, from.Lat, to.Lng, to.Lat)
	endpoint := fmt.Sprintf("%s/%s?%s", c.buildURL(directionsProfilePath), coords, q.Encode())

	var apiResp struct {
		Code string `json:"code"`
		Routes []struct {
			Distance float64 `json:"distance"`
		} `json:"routes"`
	}
	if err := c.getJSON(ctx, endpoint, "route", &apiResp); err != nil {
		return 0, err
	}
	if len(apiResp.Routes) == 0 {
		return 0, pkgerrors.Wrap(pkgerrors.CodeUpstream, errNoResults, "route returned no match")
	}
	return apiResp.Routes[0].Distance, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, op string, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "build "+op+" request")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "execute "+op+" request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, requestBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeUpstream, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), op+" request failed")
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "decode "+op+" response")
	}
	return nil
}

func (c *Client) buildURL(path string) string {
	trimmed := strings.TrimRight(c.baseURL, "/")
	path = strings.TrimLeft(path, "/")
	return fmt.Sprintf("%s/%s", trimmed, path)
}
