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

package dbopen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestConnectionURLPrefersExplicitURL(t *testing.T) {
	s := SettingsFromEnv("WAREHOUSE", env(map[string]string{
		"WAREHOUSE_URL":  "postgresql://x@y/z",
		"WAREHOUSE_HOST": "ignored",
	}))
	got, err := s.ConnectionURL()
	require.NoError(t, err)
	assert.Equal(t, "postgresql://x@y/z", got)
}

func TestConnectionURLFromParts(t *testing.T) {
	s := SettingsFromEnv("WAREHOUSE_", env(map[string]string{
		"WAREHOUSE_HOST":     "db",
		"WAREHOUSE_DBNAME":   "trips",
		"WAREHOUSE_USER":     "loader",
		"WAREHOUSE_PASSWORD": "p@ss",
		"WAREHOUSE_SSLMODE":  "disable",
		"OTEL_SERVICE_NAME":  "trip warehouse",
	}))
	got, err := s.ConnectionURL()
	require.NoError(t, err)
	assert.Equal(t, "postgresql://loader:p%40ss@db:5432/trips?application_name=trip_warehouse&sslmode=disable", got)
}

func TestConnectionURLMissingParts(t *testing.T) {
	_, err := SettingsFromEnv("WAREHOUSE", env(nil)).ConnectionURL()
	require.ErrorIs(t, err, ErrDatabaseNotConfigured)
	assert.Contains(t, err.Error(), "HOST, DBNAME")
}

func TestApplicationNameIsTruncated(t *testing.T) {
	assert.Len(t, applicationName(strings.Repeat("a", 100)), 63)
	assert.Equal(t, "a_b-c", applicationName("a.b-c"))
}
