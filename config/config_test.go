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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
	require.Equal(t, "tripdata", cfg.Source.Bucket)
	require.Equal(t, 500_000, cfg.Load.ChunkSize)
	require.Equal(t, 100, cfg.Load.RejectionCeiling)
	require.Equal(t, 3, cfg.Load.Retry.MaxAttempts)
	require.Equal(t, 30*time.Second, cfg.Load.Retry.Interval)
	require.Equal(t, int64(1800), cfg.Clean.BirthYearSentinel)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TRIPWAREHOUSE_LOAD_CHUNK_SIZE", "1000")
	t.Setenv("TRIPWAREHOUSE_LOAD_RETRY_INTERVAL", "5s")
	t.Setenv("TRIPWAREHOUSE_SOURCE_EXCLUDED_FILES", "a.zip,b.zip")
	t.Setenv("TRIPWAREHOUSE_GEOCODE_API_KEY", "secret")
	t.Setenv("TRIPWAREHOUSE_LOAD_DRY_RUN", "true")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 1000, cfg.Load.ChunkSize)
	require.Equal(t, 5*time.Second, cfg.Load.Retry.Interval)
	require.Equal(t, []string{"a.zip", "b.zip"}, cfg.Source.ExcludedFiles)
	require.Equal(t, "secret", cfg.Geocode.APIKey)
	require.True(t, cfg.Load.DryRun)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tripwarehouse.yaml")
	doc := `
source:
  endpoint: http://localhost:9000
load:
  rejection_ceiling: 10
  retry:
    max_attempts: 5
variant:
  name: nyc-all
logs:
  dir: /var/log/tripwarehouse
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "http://localhost:9000", cfg.Source.Endpoint)
	require.Equal(t, 10, cfg.Load.RejectionCeiling)
	require.Equal(t, 5, cfg.Load.Retry.MaxAttempts)
	require.Equal(t, 30*time.Second, cfg.Load.Retry.Interval)
	require.Equal(t, "nyc-all", cfg.Variant.Name)
	require.Equal(t, "/var/log/tripwarehouse", cfg.Logs.Dir)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
