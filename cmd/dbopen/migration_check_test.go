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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/tripwarehouse/migrations"
)

func TestMigrationCheckModes(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want migrations.CheckMode
	}{
		{"Skip", SkipMigrationCheck(), migrations.CheckModeSkip},
		{"Warn", WarnOnMigrationMismatch(), migrations.CheckModeWarn},
		{"Wait", WaitForMigrations(), migrations.CheckModeWait},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Len(t, tt.opts.MigrationCheckOptions, 1)
			assert.Equal(t, tt.want, migrations.Resolve(tt.opts.MigrationCheckOptions...).Mode)
		})
	}
}

func TestConnectWithoutConfiguration(t *testing.T) {
	for _, k := range []string{"URL", "HOST", "DBNAME"} {
		t.Setenv(EnvPrefix+"_"+k, "")
	}
	_, err := ConnectToWarehouse(context.Background())
	assert.ErrorIs(t, err, ErrDatabaseNotConfigured)
}
