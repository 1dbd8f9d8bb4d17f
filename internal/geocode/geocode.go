// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package geocode resolves station coordinates to postal code, neighborhood
// and borough using the Google reverse geocoding JSON API.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://maps.googleapis.com/maps/api/geocode/json"
	DefaultTimeout = 10 * time.Second

	maxResponseSize = 4 * 1024 * 1024
	resultTypes     = "postal_code|neighborhood|sublocality|locality|administrative_area_level_2|administrative_area_level_1"
)

// ErrNotFound means the service had no address for the coordinates.
var ErrNotFound = errors.New("no address found for coordinates")

var requestCount metric.Int64Counter

func init() {
	meter := otel.Meter("github.com/cardinalhq/tripwarehouse/internal/geocode")

	var err error
	requestCount, err = meter.Int64Counter(
		"tripwarehouse.geocode.requests",
		metric.WithDescription("Reverse geocoding requests sent"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create geocode.requests counter: %w", err))
	}
}

// Location is what a station's coordinates resolve to. Unknown parts are
// left blank.
type Location struct {
	Zipcode      string
	Neighborhood string
	Borough      string
	City         string
	County       string
	State        string
}

type Options struct {
	APIKey            string
	BaseURL           string
	RequestsPerSecond float64
	Timeout           time.Duration
	CacheTTL          time.Duration
}

// Client is safe for concurrent use.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	limiter *rate.Limiter
	cache   *ttlcache.Cache[string, Location]

	mu sync.Mutex
	// zips remembers the neighborhood and borough of each complete postal
	// code seen, so every station in a postal code gets the same answer.
	zips map[string]Location
}

func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	cacheOpts := []ttlcache.Option[string, Location]{}
	if opts.CacheTTL > 0 {
		cacheOpts = append(cacheOpts, ttlcache.WithTTL[string, Location](opts.CacheTTL))
	}

	return &Client{
		http:    &http.Client{Timeout: opts.Timeout},
		baseURL: opts.BaseURL,
		apiKey:  opts.APIKey,
		limiter: rate.NewLimiter(limit, 1),
		cache:   ttlcache.New(cacheOpts...),
		zips:    map[string]Location{},
	}
}

type addressComponent struct {
	LongName  string   `json:"long_name"`
	ShortName string   `json:"short_name"`
	Types     []string `json:"types"`
}

type response struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		AddressComponents []addressComponent `json:"address_components"`
	} `json:"results"`
}

func cacheKey(lat, lon float64) string {
	return strconv.FormatFloat(lat, 'f', 6, 64) + "," + strconv.FormatFloat(lon, 'f', 6, 64)
}

// Reverse returns the location of lat/lon, or ErrNotFound.
func (c *Client) Reverse(ctx context.Context, lat, lon float64) (Location, error) {
	key := cacheKey(lat, lon)
	if item := c.cache.Get(key); item != nil {
		return item.Value(), nil
	}

	resp, err := c.fetch(ctx, key)
	if err != nil {
		return Location{}, err
	}
	switch resp.Status {
	case "OK":
	case "ZERO_RESULTS":
		return Location{}, ErrNotFound
	default:
		return Location{}, fmt.Errorf("geocode %s: %s %s", key, resp.Status, resp.ErrorMessage)
	}

	loc := c.withZipDirectory(extract(resp))
	c.cache.Set(key, loc, ttlcache.DefaultTTL)
	return loc, nil
}

func (c *Client) fetch(ctx context.Context, latlng string) (*response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("latlng", latlng)
	q.Set("result_type", resultTypes)
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	res, err := c.http.Do(req)
	if err != nil {
		requestCount.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "http_error")))
		return nil, fmt.Errorf("geocode request: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		requestCount.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "bad_status")))
		return nil, fmt.Errorf("geocode returned status %d", res.StatusCode)
	}
	requestCount.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "ok")))

	var out response
	if err := json.NewDecoder(io.LimitReader(res.Body, maxResponseSize)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode geocode response: %w", err)
	}
	return &out, nil
}

func hasType(comp addressComponent, t string) bool {
	for _, ct := range comp.Types {
		if ct == t {
			return true
		}
	}
	return false
}

// extract takes the first value of each component type across all results.
func extract(resp *response) Location {
	var loc Location
	for _, result := range resp.Results {
		for _, comp := range result.AddressComponents {
			switch {
			case hasType(comp, "postal_code"):
				if loc.Zipcode == "" {
					loc.Zipcode = comp.LongName
				}
			case hasType(comp, "neighborhood"):
				if loc.Neighborhood == "" {
					loc.Neighborhood = comp.LongName
				}
			case hasType(comp, "sublocality"):
				if loc.Borough == "" {
					loc.Borough = comp.LongName
				}
			case hasType(comp, "locality"):
				if loc.City == "" {
					loc.City = comp.LongName
				}
			case hasType(comp, "administrative_area_level_2"):
				if loc.County == "" {
					loc.County = comp.LongName
				}
			case hasType(comp, "administrative_area_level_1"):
				if loc.State == "" {
					loc.State = comp.LongName
				}
			}
		}
	}
	// New Jersey has no boroughs.
	if loc.State == "New Jersey" {
		loc.Borough = ""
	}
	return loc
}

func (c *Client) withZipDirectory(loc Location) Location {
	if loc.Zipcode == "" {
		return loc
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if known, ok := c.zips[loc.Zipcode]; ok {
		loc.Neighborhood = known.Neighborhood
		loc.Borough = known.Borough
		return loc
	}
	if loc.Neighborhood != "" && (loc.Borough != "" || loc.State == "New Jersey") {
		c.zips[loc.Zipcode] = loc
	}
	return loc
}
