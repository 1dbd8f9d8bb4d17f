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

import "github.com/cardinalhq/tripwarehouse/migrations"

// Options configures database connection behavior.
type Options struct {
	MigrationCheckOptions []migrations.CheckOption
}

func SkipMigrationCheck() Options {
	return WithCheckMode(migrations.CheckModeSkip)
}

// WarnOnMigrationMismatch logs a schema mismatch and connects anyway.
func WarnOnMigrationMismatch() Options {
	return WithCheckMode(migrations.CheckModeWarn)
}

// WaitForMigrations is the default: wait for the schema to catch up.
func WaitForMigrations() Options {
	return WithCheckMode(migrations.CheckModeWait)
}

func WithCheckMode(mode migrations.CheckMode) Options {
	return Options{
		MigrationCheckOptions: []migrations.CheckOption{migrations.WithCheckMode(mode)},
	}
}
