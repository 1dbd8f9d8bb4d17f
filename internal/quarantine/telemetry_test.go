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

package quarantine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/cardinalhq/tripwarehouse/warehouse"
)

func TestQuarantinedRowsCountedOnceWhenLaterRoundIsSkipped(t *testing.T) {
	ctx := context.Background()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	defer func() {
		otel.SetMeterProvider(prev)
		initTelemetry()
	}()
	initTelemetry()

	var second []int
	for i := 0; i < 101; i++ {
		second = append(second, i)
	}
	sub := &scriptedSubmitter{rounds: [][]int{{0, 1}, second}}
	e := NewEngine(sub, &recordingLog{}, DefaultRetryPolicy(), DefaultCeiling)

	res, err := e.Load(ctx, CategoryRides, "f.csv", warehouse.RouteDimension, routeRows(200))
	require.NoError(t, err)
	require.True(t, res.Skipped)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	var rows, skipped int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch m.Name {
			case "tripwarehouse.quarantine.rows":
				for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
					rows += dp.Value
				}
			case "tripwarehouse.quarantine.batches.skipped":
				for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
					skipped += dp.Value
				}
			}
		}
	}
	require.Equal(t, int64(200), rows)
	require.Equal(t, int64(1), skipped)
}
