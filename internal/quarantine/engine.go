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

// Package quarantine repairs rejected batches. Rejected rows are logged
// and removed, and the rest of the batch is resubmitted until the store
// accepts it or the rejection count passes the ceiling.
package quarantine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/tripwarehouse/internal/loader"
	"github.com/cardinalhq/tripwarehouse/internal/logctx"
	"github.com/cardinalhq/tripwarehouse/warehouse"
)

// DefaultCeiling is the most rejections a batch may have and still be
// repaired row by row.
const DefaultCeiling = 100

var (
	batchesSkipped  metric.Int64Counter
	rowsQuarantined metric.Int64Counter
	retries         metric.Int64Counter
)

func init() {
	initTelemetry()
}

func initTelemetry() {
	meter := otel.Meter("github.com/cardinalhq/tripwarehouse/internal/quarantine")

	var err error
	batchesSkipped, err = meter.Int64Counter(
		"tripwarehouse.quarantine.batches.skipped",
		metric.WithDescription("Batches abandoned for exceeding the rejection ceiling"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create batches.skipped counter: %w", err))
	}

	rowsQuarantined, err = meter.Int64Counter(
		"tripwarehouse.quarantine.rows",
		metric.WithDescription("Rows permanently dropped by quarantine"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create quarantine.rows counter: %w", err))
	}

	retries, err = meter.Int64Counter(
		"tripwarehouse.quarantine.retries",
		metric.WithDescription("Whole-call retries after transient store failures"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create quarantine.retries counter: %w", err))
	}
}

// Submitter is the batch loader as seen by the engine.
type Submitter interface {
	Submit(ctx context.Context, table warehouse.Table, rows []warehouse.Row, firstRound bool) (loader.BatchOutcome, error)
}

// Log receives quarantined rows and skipped batches.
type Log interface {
	Rejections(category, sourceFile string, rejections []warehouse.Rejection) error
	Skipped(category, sourceFile string, rejected, ceiling int) error
}

// Result is what one batch contributed to its file.
type Result struct {
	Committed   int
	Quarantined int
	Skipped     bool
	Rounds      int
}

type Engine struct {
	submitter Submitter
	log       Log
	policy    RetryPolicy
	ceiling   int
}

func NewEngine(submitter Submitter, log Log, policy RetryPolicy, ceiling int) *Engine {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &Engine{submitter: submitter, log: log, policy: policy, ceiling: ceiling}
}

// Load submits rows and repairs the batch until it commits cleanly or is
// abandoned. Every submission is wrapped in the retry policy; an error is
// returned only when a store call fails for good, and then nothing from
// this batch has been committed.
func (e *Engine) Load(ctx context.Context, category, sourceFile string, table warehouse.Table, rows []warehouse.Row) (Result, error) {
	var result Result
	ll := logctx.FromContext(ctx)

	work := slices.Clone(rows)
	// origin[i] is the position in rows of work[i].
	origin := make([]int, len(rows))
	for i := range origin {
		origin[i] = i
	}

	for firstRound := true; ; firstRound = false {
		result.Rounds++
		outcome, err := Retry(ctx, e.policy, func(ctx context.Context) (loader.BatchOutcome, error) {
			return e.submitter.Submit(ctx, table, work, firstRound)
		})
		if err != nil {
			return Result{Rounds: result.Rounds}, fmt.Errorf("load %s into %s: %w", sourceFile, table.Name, err)
		}

		rejected := uniqueOffsets(outcome.Rejected, len(work))
		if len(rejected) == 0 {
			result.Committed = len(work)
			if !firstRound {
				ll.Info("Records inserted with errors removed",
					slog.String("table", table.Name),
					slog.Int("records", result.Committed),
					slog.Int("quarantined", result.Quarantined))
			}
			return result, nil
		}

		// Log positions in the caller's rows, not in the shrunken work slice.
		logged := make([]warehouse.Rejection, len(rejected))
		for i, r := range rejected {
			logged[i] = warehouse.Rejection{Offset: origin[r.Offset], Message: r.Message}
		}
		if err := e.log.Rejections(category, sourceFile, logged); err != nil {
			return Result{Rounds: result.Rounds}, err
		}

		if len(rejected) > e.ceiling {
			if err := e.log.Skipped(category, sourceFile, len(rejected), e.ceiling); err != nil {
				return Result{Rounds: result.Rounds}, err
			}
			batchesSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("table", table.Name)))
			// Earlier rounds already counted their drops.
			rowsQuarantined.Add(ctx, int64(len(rows)-result.Quarantined), metric.WithAttributes(attribute.String("table", table.Name)))
			ll.Warn("Too many rejected records, skipping batch",
				slog.String("table", table.Name),
				slog.String("category", category),
				slog.Int("rejected", len(rejected)),
				slog.Int("ceiling", e.ceiling),
				slog.Int("batch_size", len(rows)))
			return Result{Quarantined: len(rows), Skipped: true, Rounds: result.Rounds}, nil
		}

		var dropped []int
		work, origin, dropped = removeOffsets(work, origin, rejected)
		result.Quarantined += len(rejected)
		rowsQuarantined.Add(ctx, int64(len(rejected)), metric.WithAttributes(attribute.String("table", table.Name)))
		ll.Info("Quarantined rejected records",
			slog.String("table", table.Name),
			slog.String("category", category),
			slog.Int("rejected", len(rejected)),
			slog.Any("rows", dropped))
	}
}

// uniqueOffsets sorts rejections by offset, dropping duplicates and
// offsets outside the batch.
func uniqueOffsets(rejections []warehouse.Rejection, n int) []warehouse.Rejection {
	out := slices.Clone(rejections)
	out = slices.DeleteFunc(out, func(r warehouse.Rejection) bool { return r.Offset < 0 || r.Offset >= n })
	slices.SortStableFunc(out, func(a, b warehouse.Rejection) int { return a.Offset - b.Offset })
	return slices.CompactFunc(out, func(a, b warehouse.Rejection) bool { return a.Offset == b.Offset })
}

// removeOffsets deletes the rejected positions from rows and origin,
// highest offset first so lower offsets stay valid. rejected must be
// sorted ascending. dropped holds the original positions of the removed
// rows, ascending.
func removeOffsets(rows []warehouse.Row, origin []int, rejected []warehouse.Rejection) (_ []warehouse.Row, _ []int, dropped []int) {
	dropped = make([]int, len(rejected))
	for i := len(rejected) - 1; i >= 0; i-- {
		off := rejected[i].Offset
		dropped[i] = origin[off]
		rows = slices.Delete(rows, off, off+1)
		origin = slices.Delete(origin, off, off+1)
	}
	return rows, origin, dropped
}
