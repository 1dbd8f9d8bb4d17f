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

package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/tripwarehouse/cmd/dbopen"
	"github.com/cardinalhq/tripwarehouse/warehouse/migrations"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply warehouse schema migrations",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			return migrateWarehouse(ctx)
		},
	})
}

func migrateWarehouse(ctx context.Context) error {
	pool, err := dbopen.ConnectToWarehouse(ctx, dbopen.SkipMigrationCheck())
	if err != nil {
		return err
	}
	defer pool.Close()

	slog.Info("Running warehouse migrations")
	if err := migrations.RunMigrationsUp(ctx, pool); err != nil {
		return err
	}
	slog.Info("Warehouse migrations completed successfully")
	return nil
}
