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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/tripwarehouse/warehouse"
)

func newTestStreams(t *testing.T) *Streams {
	t.Helper()
	s := NewStreams(StreamOptions{Dir: t.TempDir(), MaxSizeMB: 1, MaxBackups: 1})
	s.now = func() time.Time { return time.Date(2021, 5, 1, 12, 30, 0, 0, time.UTC) }
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
}

func TestStreamsWriteOneFilePerCategory(t *testing.T) {
	s := newTestStreams(t)

	require.NoError(t, s.Rejections(CategoryRides, "201901-citibike-tripdata.csv", []warehouse.Rejection{
		{Offset: 3, Message: "duplicate key"},
		{Offset: 9, Message: "null value"},
	}))
	require.NoError(t, s.Skipped(CategoryDates, "201901-citibike-tripdata.csv", 150, 100))
	require.NoError(t, s.Close())

	assert.Equal(t, filepath.Join(s.opts.Dir, "new rides.txt"), s.Path(CategoryRides))
	assert.Equal(t, []string{
		"2021-05-01 12:30:00.000000, 201901-citibike-tripdata.csv, duplicate key, at row offset, 3",
		"2021-05-01 12:30:00.000000, 201901-citibike-tripdata.csv, null value, at row offset, 9",
	}, readLines(t, s.Path(CategoryRides)))
	assert.Equal(t, []string{
		"2021-05-01 12:30:00.000000, 201901-citibike-tripdata.csv, Over 100 errors (150), will skip this batch",
	}, readLines(t, s.Path(CategoryDates)))
}

func TestStreamsAppendAcrossReopen(t *testing.T) {
	s := newTestStreams(t)
	rej := []warehouse.Rejection{{Offset: 1, Message: "x"}}

	require.NoError(t, s.Rejections(CategoryUsers, "a.csv", rej))
	require.NoError(t, s.Close())
	require.NoError(t, s.Rejections(CategoryUsers, "b.csv", rej))
	require.NoError(t, s.Close())

	lines := readLines(t, s.Path(CategoryUsers))
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "a.csv")
	assert.Contains(t, lines[1], "b.csv")
}
