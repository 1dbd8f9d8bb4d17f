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

// Package dbopen connects commands to the warehouse database.
package dbopen

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	idbopen "github.com/cardinalhq/tripwarehouse/internal/dbopen"
	"github.com/cardinalhq/tripwarehouse/warehouse"
	"github.com/cardinalhq/tripwarehouse/warehouse/migrations"
)

// EnvPrefix is the prefix of the WAREHOUSE_* connection variables.
const EnvPrefix = "WAREHOUSE"

var ErrDatabaseNotConfigured = idbopen.ErrDatabaseNotConfigured

// ConnectToWarehouse opens a pool from WAREHOUSE_* variables and checks
// the schema version unless opts say otherwise.
func ConnectToWarehouse(ctx context.Context, opts ...Options) (*pgxpool.Pool, error) {
	connectionString, err := idbopen.URLFromEnv(EnvPrefix)
	if err != nil {
		return nil, errors.Join(ErrDatabaseNotConfigured, fmt.Errorf("failed to get warehouse connection string: %w", err))
	}

	pool, err := warehouse.NewConnectionPool(ctx, connectionString)
	if err != nil {
		return nil, err
	}

	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	if err := migrations.CheckVersion(ctx, pool, o.MigrationCheckOptions...); err != nil {
		pool.Close()
		return nil, fmt.Errorf("warehouse migration version check failed: %w", err)
	}
	return pool, nil
}

// WarehouseClient connects and wraps the pool in a store client.
func WarehouseClient(ctx context.Context, opts ...Options) (*warehouse.PgClient, error) {
	pool, err := ConnectToWarehouse(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return warehouse.NewPgClient(pool), nil
}
