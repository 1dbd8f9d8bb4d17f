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

package fact

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/tripwarehouse/internal/dimension"
	"github.com/cardinalhq/tripwarehouse/internal/tripcsv"
	"github.com/cardinalhq/tripwarehouse/warehouse"
)

func trip(start, end int64, startName, endName string, birthYear int64) tripcsv.Trip {
	return tripcsv.Trip{
		Duration:         600,
		StartTime:        time.Date(2019, 5, 6, 8, 0, 0, 0, time.UTC),
		StopTime:         time.Date(2019, 5, 6, 8, 10, 0, 0, time.UTC),
		StartStationID:   start,
		StartStationName: startName,
		EndStationID:     end,
		EndStationName:   endName,
		BikeID:           42,
		UserType:         "Subscriber",
		BirthYear:        birthYear,
		Gender:           1,
	}
}

func fullKeys() Keys {
	return Keys{
		Stations: map[dimension.StationKey]int64{{ID: 1}: 1, {ID: 2}: 2},
		Dates:    map[dimension.DateKey]int64{{ID: 20190506}: 20190506},
		Users: map[dimension.UserKey]int64{
			{UserType: "Subscriber", BirthYear: 1990, Gender: 1}: 7,
		},
		Routes: map[dimension.RouteKey]string{{Path: "A to B"}: "A to B"},
	}
}

func TestAssembleBuildsBothFacts(t *testing.T) {
	got := Assemble(context.Background(), []tripcsv.Trip{trip(1, 2, "A", "B", 1990)}, fullKeys(), "f.csv")

	require.Len(t, got.BikeUsage, 1)
	require.Len(t, got.Ridership, 1)
	assert.Zero(t, got.Dropped(true, true))
	assert.Equal(t, warehouse.Row{int64(42), "A to B", int64(1), int64(2), int64(20190506), int64(600), "f.csv"}, got.BikeUsage[0])
	assert.Equal(t, warehouse.Row{int64(7), int64(1), int64(2), int64(20190506), int64(600), "f.csv"}, got.Ridership[0])
	assert.Len(t, got.BikeUsage[0], len(warehouse.BikeUsageFact.Columns))
	assert.Len(t, got.Ridership[0], len(warehouse.RidershipFact.Columns))
}

func TestAssembleDropsUnresolvedReferences(t *testing.T) {
	trips := []tripcsv.Trip{
		trip(1, 3, "A", "C", 1990), // unknown end station
		trip(1, 2, "A", "Z", 1990), // unknown route
		trip(1, 2, "A", "B", 1955), // unknown user
		trip(1, 2, "A", "Z", 1955), // unknown route and user
	}

	got := Assemble(context.Background(), trips, fullKeys(), "f.csv")

	assert.Len(t, got.BikeUsage, 1)
	assert.Len(t, got.Ridership, 1)
	assert.Equal(t, 1, got.Unresolved)
	assert.Equal(t, 1, got.MissingRoute)
	assert.Equal(t, 1, got.MissingUser)
	assert.Equal(t, 1, got.MissingBoth)
	for _, row := range got.BikeUsage {
		assert.NotNil(t, row[1])
	}
}

func TestDroppedCountsEachTripOnce(t *testing.T) {
	a := Assembly{Unresolved: 1, MissingRoute: 2, MissingUser: 3, MissingBoth: 4}

	assert.Equal(t, 10, a.Dropped(true, true))
	assert.Equal(t, 7, a.Dropped(true, false), "missing users do not matter without ridership")
	assert.Equal(t, 8, a.Dropped(false, true), "missing routes do not matter without bike usage")
	assert.Zero(t, a.Dropped(false, false))
}

func TestWithBoroughs(t *testing.T) {
	trips := []tripcsv.Trip{
		trip(1, 2, "A", "B", 1990),
		trip(1, 3, "A", "C", 1990),
		trip(4, 2, "D", "B", 1990),
	}
	boroughs := map[int64]string{1: "Manhattan", 2: "Brooklyn", 4: ""}

	kept, dropped := WithBoroughs(trips, boroughs)
	assert.Equal(t, 2, dropped)
	require.Len(t, kept, 1)
	assert.Equal(t, int64(2), kept[0].EndStationID)
}
