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
	"os"
	"time"

	"github.com/cardinalhq/oteltools/pkg/telemetry"
	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/host"
	iruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/tripwarehouse/internal/idgen"
)

var (
	meter = otel.Meter("github.com/cardinalhq/tripwarehouse")

	runID int64

	runDuration   metric.Float64Histogram
	filesLoaded   metric.Int64Counter
	recordsLoaded metric.Int64Counter
)

func init() {
	var err error
	runDuration, err = meter.Float64Histogram(
		"tripwarehouse.run.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Wall time of a load run"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create run.duration histogram: %w", err))
	}

	filesLoaded, err = meter.Int64Counter(
		"tripwarehouse.run.files",
		metric.WithDescription("Archive entries loaded"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create run.files counter: %w", err))
	}

	recordsLoaded, err = meter.Int64Counter(
		"tripwarehouse.run.records",
		metric.WithDescription("Source records read"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create run.records counter: %w", err))
	}
}

// setupTelemetry installs the default logger, starts OpenTelemetry when
// enabled, and assigns this process its run id. The returned context is
// cancelled on SIGINT/SIGTERM; the returned function flushes telemetry.
func setupTelemetry(servicename string) (context.Context, func() error, error) {
	gen, err := idgen.NewRunIDGenerator(uint16(os.Getpid()))
	if err != nil {
		return nil, nil, err
	}
	if runID, err = gen.Next(); err != nil {
		return nil, nil, err
	}

	doneCtx, doneCancel := handleSignals(context.Background())
	f := func() error {
		doneCancel()
		return nil
	}

	var opts *slog.HandlerOptions
	if os.Getenv("DEBUG") != "" || os.Getenv("TRIPWAREHOUSE_DEBUG") != "" {
		opts = &slog.HandlerOptions{Level: slog.LevelDebug}
	}

	if os.Getenv("OTEL_SERVICE_NAME") != "" && os.Getenv("ENABLE_OTLP_TELEMETRY") == "true" {
		slog.SetDefault(slog.New(slogmulti.Fanout(
			slog.NewTextHandler(os.Stdout, opts),
			otelslog.NewHandler(servicename),
		)).With(
			slog.String("service", servicename),
			slog.Int64("runID", runID),
		))
		slog.Info("OpenTelemetry exporting enabled")

		otelShutdown, err := telemetry.SetupOTelSDK(doneCtx)
		if err != nil {
			doneCancel()
			return nil, nil, fmt.Errorf("failed to setup OpenTelemetry SDK: %w", err)
		}

		if err := iruntime.Start(iruntime.WithMinimumReadMemStatsInterval(10 * time.Second)); err != nil {
			slog.Warn("failed to start runtime metrics", slog.Any("error", err))
		}
		if err := host.Start(); err != nil {
			slog.Warn("failed to start host metrics", slog.Any("error", err))
		}

		f = func() error {
			defer doneCancel()
			slog.Info("Shutting down OpenTelemetry SDK")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return otelShutdown(ctx)
		}
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, opts)).With(
			slog.String("service", servicename),
			slog.Int64("runID", runID),
		))
	}

	return doneCtx, f, nil
}

// withTelemetry runs fn between setupTelemetry and its shutdown.
func withTelemetry(servicename string, fn func(ctx context.Context) error) error {
	ctx, shutdown, err := setupTelemetry(servicename)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		if err := shutdown(); err != nil {
			slog.Error("Error shutting down telemetry", slog.Any("error", err))
		}
	}()
	return fn(ctx)
}
