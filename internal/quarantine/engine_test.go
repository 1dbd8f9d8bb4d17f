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

package quarantine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/tripwarehouse/internal/loader"
	"github.com/cardinalhq/tripwarehouse/warehouse"
	"github.com/cardinalhq/tripwarehouse/warehouse/memstore"
)

type recordingLog struct {
	rejections map[string][]warehouse.Rejection
	skipped    int
}

func (r *recordingLog) Rejections(category, _ string, rejections []warehouse.Rejection) error {
	if r.rejections == nil {
		r.rejections = map[string][]warehouse.Rejection{}
	}
	r.rejections[category] = append(r.rejections[category], rejections...)
	return nil
}

func (r *recordingLog) Skipped(string, string, int, int) error {
	r.skipped++
	return nil
}

// rejectPaths rejects every route whose path is in bad.
func rejectPaths(bad ...string) memstore.RejectFunc {
	return func(_ string, row warehouse.Row) string {
		if slices.Contains(bad, row[0].(string)) {
			return "value too long for type character varying(255)"
		}
		return ""
	}
}

func routeRows(n int) []warehouse.Row {
	rows := make([]warehouse.Row, n)
	for i := range rows {
		rows[i] = warehouse.Row{fmt.Sprintf("r%03d", i), "Queens to Queens"}
	}
	return rows
}

func newTestEngine(store *memstore.Store, log Log) *Engine {
	p := DefaultRetryPolicy()
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	return NewEngine(loader.New(store), log, p, DefaultCeiling)
}

func TestLoadCleanBatch(t *testing.T) {
	store := memstore.NewWarehouse()
	log := &recordingLog{}
	res, err := newTestEngine(store, log).Load(context.Background(), CategoryRoutes, "f.csv", warehouse.RouteDimension, routeRows(10))
	require.NoError(t, err)
	assert.Equal(t, Result{Committed: 10, Rounds: 1}, res)
	assert.Equal(t, 10, store.Count("route_dimension"))
	assert.Empty(t, log.rejections)
}

func TestLoadRemovesRejectedRowsAndResubmits(t *testing.T) {
	store := memstore.NewWarehouse()
	store.SetRejectFunc(rejectPaths("r001", "r004", "r007"))
	log := &recordingLog{}

	res, err := newTestEngine(store, log).Load(context.Background(), CategoryRoutes, "f.csv", warehouse.RouteDimension, routeRows(10))
	require.NoError(t, err)
	assert.Equal(t, 7, res.Committed)
	assert.Equal(t, 3, res.Quarantined)
	assert.Equal(t, 2, res.Rounds)
	assert.False(t, res.Skipped)

	assert.Equal(t, 7, store.Count("route_dimension"), "committed = original - rejected")
	assert.Len(t, log.rejections[CategoryRoutes], 3, "each rejected row logged once")

	subs := store.Submissions("route_dimension")
	require.Len(t, subs, 2)
	assert.Len(t, subs[1], 7)
	for _, row := range subs[1] {
		assert.NotContains(t, []string{"r001", "r004", "r007"}, row[0])
	}
}

// scriptedSubmitter rejects the given offsets on successive rounds.
type scriptedSubmitter struct {
	rounds [][]int
	flags  []bool
	sizes  []int
	last   []warehouse.Row
}

func (s *scriptedSubmitter) Submit(_ context.Context, table warehouse.Table, rows []warehouse.Row, firstRound bool) (loader.BatchOutcome, error) {
	s.flags = append(s.flags, firstRound)
	s.sizes = append(s.sizes, len(rows))
	s.last = slices.Clone(rows)
	outcome := loader.BatchOutcome{Table: table.Name, Submitted: len(rows)}
	if n := len(s.flags) - 1; n < len(s.rounds) {
		for _, off := range s.rounds[n] {
			outcome.Rejected = append(outcome.Rejected, warehouse.Rejection{Offset: off, Message: "rejected"})
		}
	}
	return outcome, nil
}

func TestLoadRepairsAcrossSeveralRounds(t *testing.T) {
	sub := &scriptedSubmitter{rounds: [][]int{{0, 3}, {0}}}
	log := &recordingLog{}
	e := NewEngine(sub, log, DefaultRetryPolicy(), DefaultCeiling)

	res, err := e.Load(context.Background(), CategoryRides, "f.csv", warehouse.RouteDimension, routeRows(6))
	require.NoError(t, err)
	assert.Equal(t, Result{Committed: 3, Quarantined: 3, Rounds: 3}, res)
	assert.Equal(t, []bool{true, false, false}, sub.flags, "only the first round reports progress")
	assert.Equal(t, []int{6, 4, 3}, sub.sizes)
	// Round one drops r000 and r003, round two drops r001.
	assert.Equal(t, []warehouse.Row{
		{"r002", "Queens to Queens"},
		{"r004", "Queens to Queens"},
		{"r005", "Queens to Queens"},
	}, sub.last)
	assert.Len(t, log.rejections[CategoryRides], 3)
}

func TestLoggedOffsetsPointAtOriginalRows(t *testing.T) {
	sub := &scriptedSubmitter{rounds: [][]int{{0, 3}, {0}}}
	log := &recordingLog{}
	e := NewEngine(sub, log, DefaultRetryPolicy(), DefaultCeiling)

	_, err := e.Load(context.Background(), CategoryRides, "f.csv", warehouse.RouteDimension, routeRows(6))
	require.NoError(t, err)

	// r000 and r003 go in round one; round two's offset 0 is r001.
	var offsets []int
	for _, r := range log.rejections[CategoryRides] {
		offsets = append(offsets, r.Offset)
	}
	assert.Equal(t, []int{0, 3, 1}, offsets)
}

func TestLoadCeilingOnLaterRound(t *testing.T) {
	var second []int
	for i := 0; i < 101; i++ {
		second = append(second, i)
	}
	sub := &scriptedSubmitter{rounds: [][]int{{0}, second}}
	log := &recordingLog{}
	e := NewEngine(sub, log, DefaultRetryPolicy(), DefaultCeiling)

	res, err := e.Load(context.Background(), CategoryRides, "f.csv", warehouse.RouteDimension, routeRows(200))
	require.NoError(t, err)
	assert.Equal(t, Result{Quarantined: 200, Skipped: true, Rounds: 2}, res)
	assert.Equal(t, 1, log.skipped)

	logged := log.rejections[CategoryRides]
	require.Len(t, logged, 102)
	assert.Equal(t, 0, logged[0].Offset)
	// The second round ran without row 0, so its offsets shift up by one.
	assert.Equal(t, 1, logged[1].Offset)
	assert.Equal(t, 101, logged[101].Offset)
}

func TestLoadAbandonsBatchOverCeiling(t *testing.T) {
	store := memstore.NewWarehouse()
	var bad []string
	for i := 0; i < 101; i++ {
		bad = append(bad, fmt.Sprintf("r%03d", i))
	}
	store.SetRejectFunc(rejectPaths(bad...))
	log := &recordingLog{}

	res, err := newTestEngine(store, log).Load(context.Background(), CategoryRoutes, "f.csv", warehouse.RouteDimension, routeRows(150))
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, res.Committed)
	assert.Equal(t, 150, res.Quarantined)
	assert.Zero(t, store.Count("route_dimension"))
	assert.Equal(t, 1, log.skipped)
	assert.Len(t, log.rejections[CategoryRoutes], 101)
}

func TestLoadAtCeilingIsRepaired(t *testing.T) {
	store := memstore.NewWarehouse()
	var bad []string
	for i := 0; i < 100; i++ {
		bad = append(bad, fmt.Sprintf("r%03d", i))
	}
	store.SetRejectFunc(rejectPaths(bad...))
	log := &recordingLog{}

	res, err := newTestEngine(store, log).Load(context.Background(), CategoryRoutes, "f.csv", warehouse.RouteDimension, routeRows(150))
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 50, res.Committed)
	assert.Zero(t, log.skipped)
}

func TestLoadRetriesTransientFailures(t *testing.T) {
	store := memstore.NewWarehouse()
	store.FailNext(warehouse.ErrResourceExhausted, warehouse.ErrResourceExhausted)

	res, err := newTestEngine(store, &recordingLog{}).Load(context.Background(), CategoryRoutes, "f.csv", warehouse.RouteDimension, routeRows(3))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Committed)
	assert.Equal(t, 3, store.Count("route_dimension"))
}

func TestLoadSurfacesExhaustedRetries(t *testing.T) {
	store := memstore.NewWarehouse()
	store.FailNext(warehouse.ErrResourceExhausted, warehouse.ErrResourceExhausted, warehouse.ErrResourceExhausted)

	_, err := newTestEngine(store, &recordingLog{}).Load(context.Background(), CategoryRoutes, "f.csv", warehouse.RouteDimension, routeRows(3))
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Zero(t, store.Count("route_dimension"))
	assert.Len(t, store.Submissions("route_dimension"), 3)
}

func TestLoadSurfacesPermanentCallFailure(t *testing.T) {
	store := memstore.NewWarehouse()
	boom := errors.New("permission denied for table route_dimension")
	store.FailNext(boom)

	_, err := newTestEngine(store, &recordingLog{}).Load(context.Background(), CategoryRoutes, "f.csv", warehouse.RouteDimension, routeRows(3))
	assert.ErrorIs(t, err, boom)
	assert.Len(t, store.Submissions("route_dimension"), 1)
}

func TestRemoveOffsetsMatchesAscendingReconstruction(t *testing.T) {
	cases := [][]int{
		{},
		{0},
		{9},
		{0, 9},
		{1, 2, 3},
		{0, 2, 4, 6, 8},
		{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
	}
	for _, offsets := range cases {
		rows := routeRows(10)
		origin := make([]int, len(rows))
		for i := range origin {
			origin[i] = i
		}
		rejected := make([]warehouse.Rejection, len(offsets))
		for i, o := range offsets {
			rejected[i] = warehouse.Rejection{Offset: o}
		}

		// Ascending reconstruction: keep every index not rejected.
		var want []warehouse.Row
		for i, row := range routeRows(10) {
			if !slices.Contains(offsets, i) {
				want = append(want, row)
			}
		}

		got, _, dropped := removeOffsets(rows, origin, rejected)
		assert.Equal(t, len(want), len(got), "offsets %v", offsets)
		for i := range want {
			assert.Equal(t, want[i], got[i], "offsets %v", offsets)
		}
		assert.Equal(t, offsets, dropped)
	}
}

func TestUniqueOffsets(t *testing.T) {
	got := uniqueOffsets([]warehouse.Rejection{
		{Offset: 5, Message: "a"},
		{Offset: 1, Message: "b"},
		{Offset: 5, Message: "c"},
		{Offset: 99, Message: "out of range"},
	}, 10)
	assert.Equal(t, []warehouse.Rejection{{Offset: 1, Message: "b"}, {Offset: 5, Message: "a"}}, got)
}
