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

package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardinalhq/tripwarehouse/migrations"
)

// CheckVersion verifies that the warehouse is at the expected migration version.
func CheckVersion(ctx context.Context, pool *pgxpool.Pool, options ...migrations.CheckOption) error {
	if !migrationCheckEnabled() {
		slog.Debug("Migration version checking disabled for warehouse")
		return nil
	}

	opts := migrations.Resolve(options...)
	if opts.Mode == migrations.CheckModeSkip {
		slog.Debug("Migration version checking skipped for warehouse")
		return nil
	}
	applyEnvironmentOverrides(&opts)

	expectedVersion, err := extractLatestMigrationVersion(migrationFiles)
	if err != nil {
		return fmt.Errorf("failed to extract expected warehouse migration version: %w", err)
	}

	current := func() (uint, bool, error) { return getCurrentMigrationVersion(pool) }
	return waitForVersion(ctx, current, expectedVersion, opts)
}

func migrationCheckEnabled() bool {
	if val := os.Getenv("WAREHOUSE_MIGRATION_CHECK_ENABLED"); val != "" {
		return strings.ToLower(val) == "true"
	}
	return true
}

func applyEnvironmentOverrides(opts *migrations.CheckOptions) {
	if val := os.Getenv("MIGRATION_CHECK_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			opts.Timeout = d
		}
	}
	if val := os.Getenv("MIGRATION_CHECK_RETRY_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			opts.RetryInterval = d
		}
	}
	if val := os.Getenv("MIGRATION_CHECK_ALLOW_DIRTY"); val != "" {
		opts.AllowDirty = strings.ToLower(val) == "true"
	}
}

// extractLatestMigrationVersion returns the highest version among the
// "<version>_<name>.up.sql" files.
func extractLatestMigrationVersion(files fs.ReadDirFS) (uint, error) {
	entries, err := files.ReadDir(".")
	if err != nil {
		return 0, fmt.Errorf("failed to read migration directory: %w", err)
	}

	var maxVersion uint
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		prefix, _, _ := strings.Cut(name, "_")
		version, err := strconv.ParseUint(prefix, 10, 64)
		if err != nil {
			continue
		}
		maxVersion = max(maxVersion, uint(version))
	}

	if maxVersion == 0 {
		return 0, fmt.Errorf("no valid migration files found")
	}
	return maxVersion, nil
}

// waitForVersion compares the database version with expected and, in wait
// mode, polls until they match or the timeout passes.
func waitForVersion(ctx context.Context, current func() (uint, bool, error), expected uint, opts migrations.CheckOptions) error {
	version, dirty, err := current()
	if err != nil {
		return fmt.Errorf("failed to get current warehouse migration version: %w", err)
	}

	if dirty && !opts.AllowDirty {
		if opts.Mode != migrations.CheckModeWarn {
			return fmt.Errorf("warehouse migration is in dirty state, please fix before proceeding")
		}
		slog.Warn("Warehouse migration is in dirty state, but continuing anyway")
	}

	if version == expected {
		return nil
	}

	slog.Info("Checking migration version",
		slog.Uint64("current_version", uint64(version)),
		slog.Uint64("expected_version", uint64(expected)))

	if version > expected {
		if opts.Mode == migrations.CheckModeWarn {
			slog.Warn("Warehouse version is newer than expected, but continuing anyway")
			return nil
		}
		return fmt.Errorf("warehouse version %d is newer than expected version %d - you may need to update the application",
			version, expected)
	}

	if opts.Mode == migrations.CheckModeWarn {
		slog.Warn("Warehouse version is older than expected, but continuing anyway",
			slog.Uint64("current_version", uint64(version)),
			slog.Uint64("expected_version", uint64(expected)))
		return nil
	}

	deadline := time.Now().Add(opts.Timeout)
	ticker := time.NewTicker(opts.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled while waiting for warehouse migrations")
		case <-ticker.C:
		}

		version, _, err = current()
		if err != nil {
			return fmt.Errorf("failed to get current warehouse migration version: %w", err)
		}
		if version == expected {
			slog.Info("Migration version check passed", slog.Uint64("version", uint64(version)))
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for warehouse migrations: at version %d, expected %d (run `tripwarehouse migrate`)",
				version, expected)
		}

		slog.Info("Waiting for migrations to complete",
			slog.Uint64("current_version", uint64(version)),
			slog.Uint64("expected_version", uint64(expected)),
			slog.Duration("remaining_timeout", time.Until(deadline)))
	}
}
