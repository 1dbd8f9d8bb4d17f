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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cardinalhq/tripwarehouse/internal/geocode"
	"github.com/cardinalhq/tripwarehouse/internal/logctx"
	"github.com/cardinalhq/tripwarehouse/internal/quarantine"
	"github.com/cardinalhq/tripwarehouse/warehouse"
)

type StationKey struct{ ID int64 }

type DateKey struct{ ID int64 }

// UserKey is a rider profile. Age is derived from BirthYear and is not
// part of the identity.
type UserKey struct {
	UserType  string
	BirthYear int64
	Gender    int64
}

type RouteKey struct{ Path string }

var Stations = Dimension[StationKey, int64]{
	Table:           warehouse.StationDimension,
	Category:        quarantine.CategoryStations,
	KeyColumns:      []string{"station_id"},
	SurrogateColumn: "station_id",
	ParseKey: func(row warehouse.Row) (StationKey, error) {
		id, err := warehouse.AsInt64(row[0])
		return StationKey{ID: id}, err
	},
	ParseSurrogate: warehouse.AsInt64,
}

var Dates = Dimension[DateKey, int64]{
	Table:           warehouse.DateDimension,
	Category:        quarantine.CategoryDates,
	KeyColumns:      []string{"date_id"},
	SurrogateColumn: "date_id",
	ParseKey: func(row warehouse.Row) (DateKey, error) {
		id, err := warehouse.AsInt64(row[0])
		return DateKey{ID: id}, err
	},
	ParseSurrogate: warehouse.AsInt64,
}

var Users = Dimension[UserKey, int64]{
	Table:           warehouse.UserDimension,
	Category:        quarantine.CategoryUsers,
	KeyColumns:      []string{"usertype", "birth_year", "gender"},
	SurrogateColumn: "user_id",
	ParseKey: func(row warehouse.Row) (UserKey, error) {
		birthYear, err := warehouse.AsInt64(row[1])
		if err != nil {
			return UserKey{}, err
		}
		gender, err := warehouse.AsInt64(row[2])
		if err != nil {
			return UserKey{}, err
		}
		return UserKey{UserType: warehouse.AsString(row[0]), BirthYear: birthYear, Gender: gender}, nil
	},
	ParseSurrogate: warehouse.AsInt64,
}

var Routes = Dimension[RouteKey, string]{
	Table:           warehouse.RouteDimension,
	Category:        quarantine.CategoryRoutes,
	KeyColumns:      []string{"routepath_id"},
	SurrogateColumn: "routepath_id",
	ParseKey: func(row warehouse.Row) (RouteKey, error) {
		return RouteKey{Path: warehouse.AsString(row[0])}, nil
	},
	ParseSurrogate: func(v any) (string, error) {
		return warehouse.AsString(v), nil
	},
}

// Station is a station as seen in trip data or the station feed.
type Station struct {
	ID        int64
	Name      string
	Latitude  float64
	Longitude float64
	Location  geocode.Location
}

func (s Station) Row() warehouse.Row {
	return warehouse.Row{
		s.ID, s.Name, s.Latitude, s.Longitude,
		s.Location.Zipcode, s.Location.Neighborhood, s.Location.Borough,
	}
}

func StationCandidates(stations []Station) []Candidate[StationKey] {
	out := make([]Candidate[StationKey], len(stations))
	for i, s := range stations {
		out[i] = Candidate[StationKey]{Key: StationKey{ID: s.ID}, Row: s.Row()}
	}
	return out
}

// Geocoder resolves coordinates to a location.
type Geocoder interface {
	Reverse(ctx context.Context, lat, lon float64) (geocode.Location, error)
}

const (
	colLatitude  = 2
	colLongitude = 3
	colZipcode   = 4
	colNeighbor  = 5
	colBorough   = 6
)

// GeocodeStations enriches new stations with postal code, neighborhood and
// borough. A location the geocoder cannot find is left blank.
func GeocodeStations(g Geocoder) Enricher[StationKey] {
	return func(ctx context.Context, fresh []Candidate[StationKey]) error {
		ll := logctx.FromContext(ctx)
		for i := range fresh {
			row := fresh[i].Row
			lat, err := warehouse.AsFloat64(row[colLatitude])
			if err != nil {
				return fmt.Errorf("station %d latitude: %w", fresh[i].Key.ID, err)
			}
			lon, err := warehouse.AsFloat64(row[colLongitude])
			if err != nil {
				return fmt.Errorf("station %d longitude: %w", fresh[i].Key.ID, err)
			}

			loc, err := g.Reverse(ctx, lat, lon)
			if errors.Is(err, geocode.ErrNotFound) {
				ll.Debug("No location for station", slog.Int64("station_id", fresh[i].Key.ID))
				continue
			}
			if err != nil {
				return fmt.Errorf("geocode station %d: %w", fresh[i].Key.ID, err)
			}
			row[colZipcode] = loc.Zipcode
			row[colNeighbor] = loc.Neighborhood
			row[colBorough] = loc.Borough
		}
		return nil
	}
}

// DateID is the YYYYMMDD key of t's calendar day.
func DateID(t time.Time) int64 {
	return int64(t.Year()*10000 + int(t.Month())*100 + t.Day())
}

// DateCandidate describes t's calendar day: day, ISO week, month, year and
// weekday name.
func DateCandidate(t time.Time) Candidate[DateKey] {
	_, week := t.ISOWeek()
	id := DateID(t)
	return Candidate[DateKey]{
		Key: DateKey{ID: id},
		Row: warehouse.Row{id, int64(t.Day()), int64(week), int64(t.Month()), int64(t.Year()), t.Weekday().String()},
	}
}

var genderNames = map[int64]string{0: "Unknown", 1: "Male", 2: "Female"}

// GenderName maps the trip data gender code to its label.
func GenderName(code int64) string {
	if name, ok := genderNames[code]; ok {
		return name
	}
	return genderNames[0]
}

// UserCandidate describes a rider profile; age is computed against runYear.
func UserCandidate(key UserKey, runYear int) Candidate[UserKey] {
	return Candidate[UserKey]{
		Key: key,
		Row: warehouse.Row{key.UserType, key.BirthYear, int64(runYear) - key.BirthYear, key.Gender, GenderName(key.Gender)},
	}
}

// RoutePath names the route between two stations.
func RoutePath(from, to string) string {
	return from + " to " + to
}

// RouteCandidate describes a route and the boroughs it connects.
func RouteCandidate(startName, endName, startBorough, endBorough string) Candidate[RouteKey] {
	path := RoutePath(startName, endName)
	return Candidate[RouteKey]{
		Key: RouteKey{Path: path},
		Row: warehouse.Row{path, RoutePath(startBorough, endBorough)},
	}
}

// StationBoroughs reads the borough of every station. Stations without a
// borough are omitted.
func StationBoroughs(ctx context.Context, client warehouse.Client) (map[int64]string, error) {
	rows, err := client.Query(ctx, warehouse.Query{
		Table:   warehouse.StationDimension.Name,
		Columns: []string{"station_id", "borough"},
	})
	if err != nil {
		return nil, fmt.Errorf("read station boroughs: %w", err)
	}
	out := make(map[int64]string, len(rows))
	for _, row := range rows {
		id, err := warehouse.AsInt64(row[0])
		if err != nil {
			return nil, fmt.Errorf("parse station id: %w", err)
		}
		if b := warehouse.AsString(row[1]); b != "" {
			out[id] = b
		}
	}
	return out, nil
}
