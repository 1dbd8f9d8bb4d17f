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
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/tripwarehouse/cmd/dbopen"
	"github.com/cardinalhq/tripwarehouse/config"
	"github.com/cardinalhq/tripwarehouse/internal/dimension"
	"github.com/cardinalhq/tripwarehouse/internal/stationfeed"
)

func init() {
	stationsCmd := &cobra.Command{
		Use:   "stations",
		Short: "Manage the station dimension",
	}

	var policy string
	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Add stations from the live station feed, geocoding new ones",
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if c.Flags().Changed("update-policy") {
				cfg.Stations.UpdatePolicy = policy
			}
			return withTelemetry("tripwarehouse-stations", func(ctx context.Context) error {
				return refreshStations(ctx, cfg)
			})
		},
	}
	refreshCmd.Flags().StringVar(&policy, "update-policy", "", "never: only add new stations; changed: also overwrite stations whose attributes changed")

	stationsCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(stationsCmd)
}

func refreshStations(ctx context.Context, cfg *config.Config) error {
	policy, err := dimension.ParseUpdatePolicy(cfg.Stations.UpdatePolicy)
	if err != nil {
		return err
	}
	geocoder := newGeocoder(cfg)
	if geocoder == nil {
		return fmt.Errorf("station refresh geocodes stations: set geocode.api_key")
	}

	stations, err := stationfeed.Fetch(ctx, nil, cfg.Stations.FeedURL)
	if err != nil {
		return err
	}
	slog.Info("Fetched station feed", slog.Int("stations", len(stations)))

	client, closeClient, err := openWarehouse(ctx, false, dbopen.WaitForMigrations())
	if err != nil {
		return err
	}
	defer closeClient()

	streams, err := newStreams(cfg, false)
	if err != nil {
		return err
	}
	defer func() { _ = streams.Close() }()

	r := dimension.NewResolver(client, newEngine(client, streams, cfg))
	res, err := dimension.RefreshStations(ctx, r, geocoder, stations, policy)
	if err != nil {
		return err
	}
	slog.Info("Station refresh complete",
		slog.String("policy", string(policy)),
		slog.Int("seen", res.Seen),
		slog.Int("inserted", res.Inserted),
		slog.Int("updated", res.Updated),
		slog.Int("quarantined", res.Quarantined))
	return nil
}
