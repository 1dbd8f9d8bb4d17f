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

	"github.com/spf13/cobra"

	"github.com/cardinalhq/tripwarehouse/cmd/dbopen"
	"github.com/cardinalhq/tripwarehouse/config"
	"github.com/cardinalhq/tripwarehouse/internal/ledger"
	"github.com/cardinalhq/tripwarehouse/internal/pipeline"
	"github.com/cardinalhq/tripwarehouse/internal/tripcsv"
	"github.com/cardinalhq/tripwarehouse/internal/tripsource"
	"github.com/cardinalhq/tripwarehouse/migrations"
)

func init() {
	var (
		dryRun         bool
		variant        string
		limit          int
		migrationCheck string
	)

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load new trip archives into the warehouse",
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if c.Flags().Changed("dry-run") {
				cfg.Load.DryRun = dryRun
			}
			if c.Flags().Changed("variant") {
				cfg.Variant.Name = variant
			}
			if c.Flags().Changed("limit") {
				cfg.Load.Limit = limit
			}
			mode, err := migrations.ParseCheckMode(migrationCheck)
			if err != nil {
				return err
			}

			return withTelemetry("tripwarehouse-load", func(ctx context.Context) error {
				return runLoad(ctx, cfg, dbopen.WithCheckMode(mode))
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Run against an in-memory copy of the warehouse")
	cmd.Flags().StringVar(&variant, "variant", "", "Pipeline variant to run")
	cmd.Flags().IntVar(&limit, "limit", 0, "Process at most this many new archives (0 = all)")
	cmd.Flags().StringVar(&migrationCheck, "migration-check", "wait", "Schema version check: wait, warn or skip")

	rootCmd.AddCommand(cmd)
}

func runLoad(ctx context.Context, cfg *config.Config, opts dbopen.Options) error {
	variant, err := pipeline.SelectVariant(cfg.Variant.Name, cfg.Variant.File)
	if err != nil {
		return err
	}
	variant.ExcludeFiles = append(variant.ExcludeFiles, cfg.Source.ExcludedFiles...)

	geocoder := newGeocoder(cfg)
	if variant.GeocodeStations && geocoder == nil {
		return fmt.Errorf("variant %s geocodes stations: set geocode.api_key", variant.Name)
	}

	client, closeClient, err := openWarehouse(ctx, cfg.Load.DryRun, opts)
	if err != nil {
		return err
	}
	defer closeClient()

	source, err := tripsource.New(ctx, tripsource.Options{
		Bucket:    cfg.Source.Bucket,
		Region:    cfg.Source.Region,
		Endpoint:  cfg.Source.Endpoint,
		AccessKey: cfg.Source.AccessKey,
		SecretKey: cfg.Source.SecretKey,
		TempDir:   cfg.Source.TempDir,
	})
	if err != nil {
		return err
	}

	streams, err := newStreams(cfg, cfg.Load.DryRun)
	if err != nil {
		return err
	}
	defer func() {
		if err := streams.Close(); err != nil {
			slog.Error("Failed to close quarantine logs", slog.Any("error", err))
		}
	}()

	p := pipeline.New(client, ledger.New(client, runID), newEngine(client, streams, cfg), geocoder, source, pipeline.Config{
		Variant:   variant,
		ChunkSize: cfg.Load.ChunkSize,
		Clean: tripcsv.Options{
			BirthYearSentinel: cfg.Clean.BirthYearSentinel,
			Encoding:          cfg.Clean.Encoding,
		},
		Limit: cfg.Load.Limit,
	})

	stopReport := context.AfterFunc(ctx, func() {
		slog.Warn("Interrupted; stopping before the next batch")
	})
	defer stopReport()
	summary, err := p.Run(ctx)

	runDuration.Record(context.Background(), summary.Elapsed.Seconds())
	filesLoaded.Add(context.Background(), int64(summary.Entries))
	recordsLoaded.Add(context.Background(), int64(summary.Records))
	slog.Info("Run summary",
		slog.Bool("dry_run", cfg.Load.DryRun),
		slog.Any("summary", summary))

	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return NewRunInterrupted("unfinished files stay unmarked and load on the next run")
	}
	return err
}

// RunInterruptedError reports a load stopped by a signal. Everything marked
// in the ledger is complete; the rest is picked up by the next run.
type RunInterruptedError struct {
	Reason string
}

func (e RunInterruptedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("load interrupted: %s", e.Reason)
	}
	return "load interrupted"
}

func NewRunInterrupted(reason string) error {
	return RunInterruptedError{Reason: reason}
}

func IsRunInterrupted(err error) bool {
	var interrupted RunInterruptedError
	return errors.As(err, &interrupted)
}
