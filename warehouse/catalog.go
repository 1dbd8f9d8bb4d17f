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

package warehouse

// Warehouse tables. Insert column order here must match the row builders in
// the dimension and fact packages.
var (
	ProcessedFile = Table{
		Name:    "processed_file",
		Columns: []string{"filename", "quarantined_count", "run_id"},
		Key:     []string{"filename"},
	}

	StationDimension = Table{
		Name: "station_dimension",
		Columns: []string{
			"station_id", "station_name", "station_latitude", "station_longitude",
			"zipcode", "neighborhood", "borough",
		},
		Key: []string{"station_id"},
	}

	DateDimension = Table{
		Name:    "date_dimension",
		Columns: []string{"date_id", "ride_day", "ride_week", "ride_month", "ride_year", "weekday"},
		Key:     []string{"date_id"},
	}

	UserDimension = Table{
		Name:      "user_dimension",
		Columns:   []string{"usertype", "birth_year", "age", "gender", "gendername"},
		Key:       []string{"usertype", "birth_year", "gender"},
		Generated: "user_id",
	}

	RouteDimension = Table{
		Name:    "route_dimension",
		Columns: []string{"routepath_id", "route_path_bor"},
		Key:     []string{"routepath_id"},
	}

	BikeUsageFact = Table{
		Name: "bikeusage_fact",
		Columns: []string{
			"bike_id", "routepath_id", "station_id_s", "station_id_e", "date_id", "duration", "source_file",
		},
		ForeignKeys: []ForeignKey{
			{Column: "routepath_id", RefTable: "route_dimension", RefColumn: "routepath_id"},
			{Column: "station_id_s", RefTable: "station_dimension", RefColumn: "station_id"},
			{Column: "station_id_e", RefTable: "station_dimension", RefColumn: "station_id"},
			{Column: "date_id", RefTable: "date_dimension", RefColumn: "date_id"},
		},
	}

	RidershipFact = Table{
		Name: "ridership_fact",
		Columns: []string{
			"user_id", "station_id_s", "station_id_e", "date_id", "duration", "source_file",
		},
		ForeignKeys: []ForeignKey{
			{Column: "user_id", RefTable: "user_dimension", RefColumn: "user_id"},
			{Column: "station_id_s", RefTable: "station_dimension", RefColumn: "station_id"},
			{Column: "station_id_e", RefTable: "station_dimension", RefColumn: "station_id"},
			{Column: "date_id", RefTable: "date_dimension", RefColumn: "date_id"},
		},
	}
)

// Tables lists every table in dependency order, dimensions before facts.
func Tables() []Table {
	return []Table{
		ProcessedFile,
		StationDimension,
		DateDimension,
		UserDimension,
		RouteDimension,
		BikeUsageFact,
		RidershipFact,
	}
}
