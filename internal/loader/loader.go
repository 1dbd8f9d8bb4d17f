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

// Package loader submits one batch of rows to one warehouse table as a
// single transaction.
package loader

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/tripwarehouse/internal/logctx"
	"github.com/cardinalhq/tripwarehouse/warehouse"
)

// DefaultChunkSize keeps one transaction within the store's rollback
// capacity. Callers chunk; Submit does not.
const DefaultChunkSize = 500_000

var (
	rowsCommitted metric.Int64Counter
	rowsRejected  metric.Int64Counter
	tracer        trace.Tracer
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/tripwarehouse/internal/loader")
	tracer = otel.Tracer("github.com/cardinalhq/tripwarehouse/internal/loader")

	var err error
	rowsCommitted, err = meter.Int64Counter(
		"tripwarehouse.loader.rows.committed",
		metric.WithDescription("Rows committed to the warehouse"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create rows.committed counter: %w", err))
	}

	rowsRejected, err = meter.Int64Counter(
		"tripwarehouse.loader.rows.rejected",
		metric.WithDescription("Rows rejected by the warehouse, before quarantine"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create rows.rejected counter: %w", err))
	}
}

// BatchOutcome is the result of one submission. It is never persisted.
type BatchOutcome struct {
	Table     string
	Submitted int
	// Rejected is ordered by offset. When it is non-empty nothing from the
	// submission was committed.
	Rejected []warehouse.Rejection
}

// Accepted is the number of rows committed by the submission.
func (o BatchOutcome) Accepted() int {
	if len(o.Rejected) > 0 {
		return 0
	}
	return o.Submitted
}

type Loader struct {
	client warehouse.Client
}

func New(client warehouse.Client) *Loader {
	return &Loader{client: client}
}

// Submit inserts rows into table in one transaction. It commits only when
// the store rejected no row; otherwise it rolls back and reports every
// rejection. An error means the call itself failed and nothing was
// committed. firstRound controls the progress line, so resubmissions of a
// repaired batch are not reported twice.
func (l *Loader) Submit(ctx context.Context, table warehouse.Table, rows []warehouse.Row, firstRound bool) (outcome BatchOutcome, err error) {
	outcome = BatchOutcome{Table: table.Name, Submitted: len(rows)}
	if len(rows) == 0 {
		return outcome, nil
	}

	ctx, span := tracer.Start(ctx, "loader.Submit", trace.WithAttributes(
		attribute.String("table", table.Name),
		attribute.Int("rows", len(rows)),
		attribute.Bool("first_round", firstRound),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "submit failed")
		}
		span.End()
	}()

	ll := logctx.FromContext(ctx)

	tx, err := l.client.Begin(ctx)
	if err != nil {
		return outcome, fmt.Errorf("begin %s batch: %w", table.Name, err)
	}

	rejections, err := tx.SubmitBatch(ctx, table, rows)
	if err != nil || len(rejections) > 0 {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			ll.Error("Failed to roll back batch", slog.String("table", table.Name), slog.Any("error", rbErr))
		}
		if err != nil {
			return outcome, fmt.Errorf("submit %s batch: %w", table.Name, err)
		}
		outcome.Rejected = rejections
		rowsRejected.Add(ctx, int64(len(rejections)), metric.WithAttributes(attribute.String("table", table.Name)))
		ll.Info("Batch rejected rows, rolled back",
			slog.String("table", table.Name),
			slog.Int("submitted", len(rows)),
			slog.Int("rejected", len(rejections)))
		return outcome, nil
	}

	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return outcome, fmt.Errorf("commit %s batch: %w", table.Name, err)
	}

	rowsCommitted.Add(ctx, int64(len(rows)), metric.WithAttributes(attribute.String("table", table.Name)))
	if firstRound {
		ll.Info("Records inserted",
			slog.String("table", table.Name),
			slog.Int("records", len(rows)))
	}
	return outcome, nil
}

// Chunks splits rows into consecutive batches of at most size rows.
func Chunks(rows []warehouse.Row, size int) [][]warehouse.Row {
	if size <= 0 {
		size = DefaultChunkSize
	}
	var out [][]warehouse.Row
	for start := 0; start < len(rows); start += size {
		out = append(out, rows[start:min(start+size, len(rows))])
	}
	return out
}
