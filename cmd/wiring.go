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
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/cardinalhq/tripwarehouse/cmd/dbopen"
	"github.com/cardinalhq/tripwarehouse/config"
	"github.com/cardinalhq/tripwarehouse/internal/dimension"
	"github.com/cardinalhq/tripwarehouse/internal/geocode"
	"github.com/cardinalhq/tripwarehouse/internal/loader"
	"github.com/cardinalhq/tripwarehouse/internal/quarantine"
	"github.com/cardinalhq/tripwarehouse/warehouse"
	"github.com/cardinalhq/tripwarehouse/warehouse/memstore"
)

// openWarehouse connects to PostgreSQL, or for a dry run builds an
// in-memory copy of its ledger and dimensions. Without a configured
// database a dry run starts from an empty warehouse.
func openWarehouse(ctx context.Context, dryRun bool, opts dbopen.Options) (warehouse.Client, func(), error) {
	pg, err := dbopen.WarehouseClient(ctx, opts)
	if !dryRun {
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	}

	if errors.Is(err, dbopen.ErrDatabaseNotConfigured) {
		slog.Warn("Dry run without a warehouse connection; starting from an empty warehouse")
		return memstore.NewWarehouse(), func() {}, nil
	}
	if err != nil {
		return nil, nil, err
	}
	defer pg.Close()

	mem, err := memstore.Snapshot(ctx, pg,
		warehouse.ProcessedFile,
		warehouse.StationDimension,
		warehouse.DateDimension,
		warehouse.UserDimension,
		warehouse.RouteDimension,
	)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("Dry run against a snapshot of the warehouse",
		slog.Int("processed_files", mem.Count(warehouse.ProcessedFile.Name)),
		slog.Int("stations", mem.Count(warehouse.StationDimension.Name)))
	return mem, func() {}, nil
}

// newStreams opens the quarantine logs. Dry runs write to a scratch
// directory so the real logs only ever describe real loads.
func newStreams(cfg *config.Config, dryRun bool) (*quarantine.Streams, error) {
	dir := cfg.Logs.Dir
	if dryRun {
		var err error
		if dir, err = os.MkdirTemp("", "tripwarehouse-dryrun-"); err != nil {
			return nil, fmt.Errorf("create dry run log dir: %w", err)
		}
		slog.Info("Dry run quarantine logs", slog.String("dir", dir))
	}
	return quarantine.NewStreams(quarantine.StreamOptions{
		Dir:        dir,
		MaxSizeMB:  cfg.Logs.MaxSizeMB,
		MaxBackups: cfg.Logs.MaxBackups,
	}), nil
}

func newEngine(client warehouse.Client, log quarantine.Log, cfg *config.Config) *quarantine.Engine {
	policy := quarantine.DefaultRetryPolicy()
	if cfg.Load.Retry.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.Load.Retry.MaxAttempts
	}
	if cfg.Load.Retry.Interval > 0 {
		policy.Interval = cfg.Load.Retry.Interval
	}
	return quarantine.NewEngine(loader.New(client), log, policy, cfg.Load.RejectionCeiling)
}

// newGeocoder returns nil when no API key is configured.
func newGeocoder(cfg *config.Config) dimension.Geocoder {
	if cfg.Geocode.APIKey == "" {
		return nil
	}
	return geocode.NewClient(geocode.Options{
		APIKey:            cfg.Geocode.APIKey,
		BaseURL:           cfg.Geocode.BaseURL,
		RequestsPerSecond: cfg.Geocode.RequestsPerSecond,
		Timeout:           cfg.Geocode.Timeout,
		CacheTTL:          cfg.Geocode.CacheTTL,
	})
}
