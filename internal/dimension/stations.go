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

package dimension

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cardinalhq/tripwarehouse/internal/logctx"
	"github.com/cardinalhq/tripwarehouse/warehouse"
)

// UpdatePolicy says whether a station refresh may overwrite stations that
// are already in the warehouse. The trip load path never does.
type UpdatePolicy string

const (
	UpdateNever   UpdatePolicy = "never"
	UpdateChanged UpdatePolicy = "changed"
)

// Log categories used by the station refresh.
const (
	CategoryNewStations     = "new station"
	CategoryUpdatedStations = "update station"
)

func ParseUpdatePolicy(s string) (UpdatePolicy, error) {
	switch p := UpdatePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", UpdateNever:
		return UpdateNever, nil
	case UpdateChanged:
		return UpdateChanged, nil
	default:
		return "", fmt.Errorf("unknown station update policy %q (want %q or %q)", s, UpdateNever, UpdateChanged)
	}
}

type RefreshResult struct {
	Seen        int
	Inserted    int
	Updated     int
	Quarantined int
}

// RefreshStations loads a full list of current stations. New stations are
// geocoded and inserted. Under UpdateChanged every station is geocoded and
// existing stations whose attributes differ are overwritten.
func RefreshStations(ctx context.Context, r *Resolver, g Geocoder, stations []Station, policy UpdatePolicy) (RefreshResult, error) {
	res := RefreshResult{Seen: len(stations)}
	ll := logctx.FromContext(ctx)
	const source = "station feed"

	dim := Stations
	dim.Category = CategoryNewStations

	if policy != UpdateChanged {
		out, err := Resolve(ctx, r, dim, source, StationCandidates(stations), GeocodeStations(g))
		res.Inserted, res.Quarantined = out.Inserted, out.Quarantined
		return res, err
	}

	stored, err := storedStations(ctx, r.client)
	if err != nil {
		return res, err
	}

	candidates := StationCandidates(stations)
	if err := GeocodeStations(g)(ctx, candidates); err != nil {
		return res, fmt.Errorf("enrich %s: %w", dim.Table.Name, err)
	}

	out, err := Resolve(ctx, r, dim, source, candidates, nil)
	if err != nil {
		return res, err
	}
	res.Inserted, res.Quarantined = out.Inserted, out.Quarantined

	order, latest := collapse(candidates)
	var changed []warehouse.Row
	for _, key := range order {
		row := latest[key].Row
		if prev, ok := stored[key.ID]; ok && !sameRow(prev, row) {
			changed = append(changed, row)
		}
	}
	if len(changed) == 0 {
		return res, nil
	}

	result, err := r.loader.Load(ctx, CategoryUpdatedStations, source, warehouse.StationDimension.WithUpsert(), changed)
	if err != nil {
		return res, err
	}
	res.Updated = result.Committed
	res.Quarantined += result.Quarantined
	ll.Info("Updated changed stations", slog.Int("updated", res.Updated))
	return res, nil
}

func storedStations(ctx context.Context, client warehouse.Client) (map[int64]warehouse.Row, error) {
	rows, err := client.Query(ctx, warehouse.Query{
		Table:   warehouse.StationDimension.Name,
		Columns: warehouse.StationDimension.Columns,
	})
	if err != nil {
		return nil, fmt.Errorf("read stations: %w", err)
	}
	out := make(map[int64]warehouse.Row, len(rows))
	for _, row := range rows {
		id, err := warehouse.AsInt64(row[0])
		if err != nil {
			return nil, fmt.Errorf("parse station id: %w", err)
		}
		out[id] = row
	}
	return out, nil
}

func sameRow(a, b warehouse.Row) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if fmt.Sprint(a[i]) != fmt.Sprint(b[i]) {
			return false
		}
	}
	return true
}
