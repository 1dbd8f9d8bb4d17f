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

package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/tripwarehouse/warehouse"
)

func station(id int64, name string) warehouse.Row {
	return warehouse.Row{id, name, 40.7, -73.9, "", "", ""}
}

func TestSubmitBatchRejectsDuplicatesAndKeepsGoodRowsPending(t *testing.T) {
	ctx := context.Background()
	s := NewWarehouse()
	s.Load(warehouse.StationDimension, station(1, "A"))

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	rejections, err := tx.SubmitBatch(ctx, warehouse.StationDimension, []warehouse.Row{
		station(2, "B"),
		station(1, "A again"),
		station(3, "C"),
		station(3, "C again"),
	})
	require.NoError(t, err)
	require.Len(t, rejections, 2)
	assert.Equal(t, 1, rejections[0].Offset)
	assert.Equal(t, 3, rejections[1].Offset)
	assert.Contains(t, rejections[0].Message, "duplicate key")
	assert.True(t, rejections[0].IsUniqueViolation())

	// Nothing is visible before commit.
	assert.Equal(t, 1, s.Count("station_dimension"))
	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, 3, s.Count("station_dimension"))
}

func TestRollbackDiscardsStagedRows(t *testing.T) {
	ctx := context.Background()
	s := NewWarehouse()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.SubmitBatch(ctx, warehouse.StationDimension, []warehouse.Row{station(1, "A")})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))
	assert.Zero(t, s.Count("station_dimension"))

	assert.ErrorIs(t, tx.Commit(ctx), ErrTxDone)
}

func TestForeignKeysAndNulls(t *testing.T) {
	ctx := context.Background()
	s := NewWarehouse()
	s.Load(warehouse.StationDimension, station(1, "A"))
	s.Load(warehouse.DateDimension, warehouse.Row{int64(20190101), 1, 1, 1, 2019, "Tuesday"})
	s.Load(warehouse.RouteDimension, warehouse.Row{"A to A", "Manhattan to Manhattan"})

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	rejections, err := tx.SubmitBatch(ctx, warehouse.BikeUsageFact, []warehouse.Row{
		{int64(10), "A to A", int64(1), int64(1), int64(20190101), int64(300), "f.csv"},
		{int64(11), "A to A", int64(1), int64(2), int64(20190101), int64(300), "f.csv"},
		{int64(12), nil, int64(1), int64(1), int64(20190101), int64(300), "f.csv"},
	})
	require.NoError(t, err)
	require.Len(t, rejections, 2)
	assert.Equal(t, 1, rejections[0].Offset)
	assert.Contains(t, rejections[0].Message, "foreign key")
	assert.Equal(t, 2, rejections[1].Offset)
	assert.Contains(t, rejections[1].Message, "not-null")
}

func TestGeneratedKeysAndQuery(t *testing.T) {
	ctx := context.Background()
	s := NewWarehouse()

	err := warehouse.WithTx(ctx, s, func(tx warehouse.Tx) error {
		_, err := tx.SubmitBatch(ctx, warehouse.UserDimension, []warehouse.Row{
			{"Subscriber", 1980, 39, 1, "Male"},
			{"Customer", 1990, 29, 2, "Female"},
		})
		return err
	})
	require.NoError(t, err)

	rows, err := s.Query(ctx, warehouse.Query{Table: "user_dimension", Columns: []string{"user_id", "usertype"}})
	require.NoError(t, err)
	assert.Equal(t, []warehouse.Row{{int64(1), "Subscriber"}, {int64(2), "Customer"}}, rows)

	_, err = s.Query(ctx, warehouse.Query{Table: "user_dimension", Columns: []string{"nope"}})
	assert.Error(t, err)
	_, err = s.Query(ctx, warehouse.Query{Table: "nope"})
	assert.Error(t, err)
}

func TestUpsertReplacesAttributes(t *testing.T) {
	ctx := context.Background()
	s := NewWarehouse()
	s.Load(warehouse.StationDimension, station(1, "Old"))

	err := warehouse.WithTx(ctx, s, func(tx warehouse.Tx) error {
		rejections, err := tx.SubmitBatch(ctx, warehouse.StationDimension.WithUpsert(), []warehouse.Row{station(1, "New")})
		assert.Empty(t, rejections)
		return err
	})
	require.NoError(t, err)
	rows := s.Rows("station_dimension")
	require.Len(t, rows, 1)
	assert.Equal(t, "New", rows[0][1])
}

func TestFailNextAndRejectFunc(t *testing.T) {
	ctx := context.Background()
	s := NewWarehouse()
	boom := errors.New("boom")
	s.FailNext(boom)
	s.SetRejectFunc(func(table string, row warehouse.Row) string {
		if row[1] == "bad" {
			return "value out of range"
		}
		return ""
	})

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.SubmitBatch(ctx, warehouse.StationDimension, []warehouse.Row{station(1, "A")})
	assert.ErrorIs(t, err, boom)

	rejections, err := tx.SubmitBatch(ctx, warehouse.StationDimension, []warehouse.Row{station(1, "A"), station(2, "bad")})
	require.NoError(t, err)
	assert.Equal(t, []warehouse.Rejection{{Offset: 1, Message: "value out of range"}}, rejections)
	assert.Len(t, s.Submissions("station_dimension"), 2)
}

func TestDeleteWhere(t *testing.T) {
	ctx := context.Background()
	s := New(warehouse.ProcessedFile)
	s.Load(warehouse.ProcessedFile,
		warehouse.Row{"a.zip", 0, int64(1)},
		warehouse.Row{"b.zip", 0, int64(1)},
	)

	err := warehouse.WithTx(ctx, s, func(tx warehouse.Tx) error {
		n, err := tx.DeleteWhere(ctx, warehouse.ProcessedFile, "filename", "a.zip")
		assert.Equal(t, int64(1), n)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Count("processed_file"))
}

func TestSnapshotCopiesRowsAndGeneratedIDs(t *testing.T) {
	ctx := context.Background()
	src := NewWarehouse()
	src.Load(warehouse.StationDimension, station(7, "Broadway"))
	src.Load(warehouse.UserDimension,
		warehouse.Row{"Subscriber", int64(1990), int64(30), int64(1), "Male"},
		warehouse.Row{"Customer", int64(1800), int64(220), int64(0), "Unknown"},
	)

	snap, err := Snapshot(ctx, src, warehouse.StationDimension, warehouse.UserDimension)
	require.NoError(t, err)
	assert.Equal(t, src.Rows("station_dimension"), snap.Rows("station_dimension"))
	assert.Equal(t, src.Rows("user_dimension"), snap.Rows("user_dimension"))

	// Writes to the snapshot leave the source untouched and continue the sequence.
	tx, err := snap.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.SubmitBatch(ctx, warehouse.UserDimension, []warehouse.Row{
		{"Subscriber", int64(2000), int64(20), int64(2), "Female"},
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	rows, err := snap.Query(ctx, warehouse.Query{Table: "user_dimension", Columns: []string{"user_id"}})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.EqualValues(t, 3, rows[2][0])
	assert.Equal(t, 2, src.Count("user_dimension"))
}

func TestSnapshotUnknownTable(t *testing.T) {
	_, err := Snapshot(context.Background(), New(), warehouse.StationDimension)
	assert.ErrorContains(t, err, "snapshot station_dimension")
}
