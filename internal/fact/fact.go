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

// Package fact joins cleaned trips with resolved dimension keys to build
// the bike usage and ridership fact rows.
package fact

import (
	"context"
	"log/slog"

	"github.com/cardinalhq/tripwarehouse/internal/dimension"
	"github.com/cardinalhq/tripwarehouse/internal/logctx"
	"github.com/cardinalhq/tripwarehouse/internal/tripcsv"
	"github.com/cardinalhq/tripwarehouse/warehouse"
)

// Keys holds the surrogate keys resolved for one file.
type Keys struct {
	Stations map[dimension.StationKey]int64
	Dates    map[dimension.DateKey]int64
	Users    map[dimension.UserKey]int64
	Routes   map[dimension.RouteKey]string
}

// Assembly is the output of Assemble. The counters are per trip: each
// trip that failed to reach some fact table lands in exactly one of them.
type Assembly struct {
	BikeUsage []warehouse.Row
	Ridership []warehouse.Row
	// Unresolved trips lack a station or date key and reach neither table.
	Unresolved int
	// MissingRoute trips reach ridership but not bike usage.
	MissingRoute int
	// MissingUser trips reach bike usage but not ridership.
	MissingUser int
	// MissingBoth trips have stations and a date but neither route nor user.
	MissingBoth int
}

// Dropped counts the trips kept out of at least one of the tables being
// loaded. A table that is not loaded never causes a drop.
func (a Assembly) Dropped(bikeUsage, ridership bool) int {
	if !bikeUsage && !ridership {
		return 0
	}
	n := a.Unresolved + a.MissingBoth
	if bikeUsage {
		n += a.MissingRoute
	}
	if ridership {
		n += a.MissingUser
	}
	return n
}

// RouteKey is the route a trip rode.
func RouteKey(t tripcsv.Trip) dimension.RouteKey {
	return dimension.RouteKey{Path: dimension.RoutePath(t.StartStationName, t.EndStationName)}
}

func UserKey(t tripcsv.Trip) dimension.UserKey {
	return dimension.UserKey{UserType: t.UserType, BirthYear: t.BirthYear, Gender: t.Gender}
}

// WithBoroughs keeps the trips whose start and end stations both have a
// known borough. Routes cannot be described without one.
func WithBoroughs(trips []tripcsv.Trip, boroughs map[int64]string) (kept []tripcsv.Trip, dropped int) {
	kept = make([]tripcsv.Trip, 0, len(trips))
	for _, t := range trips {
		if boroughs[t.StartStationID] == "" || boroughs[t.EndStationID] == "" {
			dropped++
			continue
		}
		kept = append(kept, t)
	}
	return kept, dropped
}

// Assemble builds one row per trip for each fact table, in
// warehouse.BikeUsageFact and warehouse.RidershipFact column order. A trip
// missing any key it needs is left out of that table.
func Assemble(ctx context.Context, trips []tripcsv.Trip, keys Keys, sourceFile string) Assembly {
	out := Assembly{
		BikeUsage: make([]warehouse.Row, 0, len(trips)),
		Ridership: make([]warehouse.Row, 0, len(trips)),
	}

	for _, t := range trips {
		start, okStart := keys.Stations[dimension.StationKey{ID: t.StartStationID}]
		end, okEnd := keys.Stations[dimension.StationKey{ID: t.EndStationID}]
		date, okDate := keys.Dates[dimension.DateKey{ID: dimension.DateID(t.StartTime)}]
		if !okStart || !okEnd || !okDate {
			out.Unresolved++
			continue
		}

		route, okRoute := keys.Routes[RouteKey(t)]
		if okRoute {
			out.BikeUsage = append(out.BikeUsage, warehouse.Row{
				t.BikeID, route, start, end, date, t.Duration, sourceFile,
			})
		}
		user, okUser := keys.Users[UserKey(t)]
		if okUser {
			out.Ridership = append(out.Ridership, warehouse.Row{
				user, start, end, date, t.Duration, sourceFile,
			})
		}

		switch {
		case !okRoute && !okUser:
			out.MissingBoth++
		case !okRoute:
			out.MissingRoute++
		case !okUser:
			out.MissingUser++
		}
	}

	if out.Unresolved+out.MissingRoute+out.MissingUser+out.MissingBoth > 0 {
		logctx.FromContext(ctx).Debug("Trips with unresolved dimension keys",
			slog.Int("unresolved", out.Unresolved),
			slog.Int("missing_route", out.MissingRoute),
			slog.Int("missing_user", out.MissingUser),
			slog.Int("missing_both", out.MissingBoth))
	}
	return out
}
