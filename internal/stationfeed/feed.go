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

// Package stationfeed reads the GBFS station_information feed.
package stationfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cardinalhq/tripwarehouse/internal/dimension"
)

const (
	DefaultURL     = "https://gbfs.citibikenyc.com/gbfs/en/station_information.json"
	DefaultTimeout = 30 * time.Second

	maxFeedSize = 32 * 1024 * 1024
)

type feed struct {
	LastUpdated int64 `json:"last_updated"`
	Data        struct {
		Stations []feedStation `json:"stations"`
	} `json:"data"`
}

type feedStation struct {
	StationID json.RawMessage `json:"station_id"`
	Name      string          `json:"name"`
	Lat       float64         `json:"lat"`
	Lon       float64         `json:"lon"`
}

// Fetch downloads the feed and returns its stations. Stations whose id is
// not numeric are skipped since the warehouse keys stations by integer id.
func Fetch(ctx context.Context, client *http.Client, url string) ([]dimension.Station, error) {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch station feed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("station feed returned %s", resp.Status)
	}

	var f feed
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxFeedSize)).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode station feed: %w", err)
	}

	out := make([]dimension.Station, 0, len(f.Data.Stations))
	for _, s := range f.Data.Stations {
		id, ok := parseStationID(s.StationID)
		if !ok {
			continue
		}
		out = append(out, dimension.Station{ID: id, Name: s.Name, Latitude: s.Lat, Longitude: s.Lon})
	}
	return out, nil
}

// parseStationID accepts ids encoded as JSON numbers or numeric strings.
func parseStationID(raw json.RawMessage) (int64, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		s = string(raw)
	}
	id, err := strconv.ParseInt(s, 10, 64)
	return id, err == nil
}
