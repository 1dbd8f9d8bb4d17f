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

// Package ledger records which source files have been fully committed to
// the warehouse. A file present in the ledger is never loaded again.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/cardinalhq/tripwarehouse/warehouse"
)

// ErrAlreadyProcessed is returned when a file is marked a second time.
var ErrAlreadyProcessed = errors.New("file already marked as processed")

// Record is one ledger entry.
type Record struct {
	Filename         string
	QuarantinedCount int64
	RunID            int64
}

type Ledger struct {
	client warehouse.Client
	runID  int64
}

func New(client warehouse.Client, runID int64) *Ledger {
	return &Ledger{client: client, runID: runID}
}

// Records returns every ledger entry ordered by filename.
func (l *Ledger) Records(ctx context.Context) ([]Record, error) {
	rows, err := l.client.Query(ctx, warehouse.Query{
		Table:   warehouse.ProcessedFile.Name,
		Columns: []string{"filename", "quarantined_count", "run_id"},
	})
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		quarantined, err := warehouse.AsInt64(row[1])
		if err != nil {
			return nil, fmt.Errorf("ledger quarantined_count: %w", err)
		}
		runID, err := warehouse.AsInt64(row[2])
		if err != nil {
			return nil, fmt.Errorf("ledger run_id: %w", err)
		}
		records = append(records, Record{
			Filename:         warehouse.AsString(row[0]),
			QuarantinedCount: quarantined,
			RunID:            runID,
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Filename < records[j].Filename })
	return records, nil
}

// ProcessedFiles returns the set of filenames already in the ledger.
func (l *Ledger) ProcessedFiles(ctx context.Context) (mapset.Set[string], error) {
	records, err := l.Records(ctx)
	if err != nil {
		return nil, err
	}
	files := mapset.NewThreadUnsafeSetWithSize[string](len(records))
	for _, r := range records {
		files.Add(r.Filename)
	}
	return files, nil
}

func (l *Ledger) IsProcessed(ctx context.Context, filename string) (bool, error) {
	files, err := l.ProcessedFiles(ctx)
	if err != nil {
		return false, err
	}
	return files.Contains(filename), nil
}

// MarkProcessed records filename in its own transaction, which must come
// strictly after the last batch committed for the file.
func (l *Ledger) MarkProcessed(ctx context.Context, filename string, quarantined int64) error {
	return warehouse.WithTx(ctx, l.client, func(tx warehouse.Tx) error {
		return l.MarkProcessedTx(ctx, tx, filename, quarantined)
	})
}

// MarkProcessedTx records filename inside tx so the mark commits atomically
// with the caller's last batch. Marking a file twice is an error.
func (l *Ledger) MarkProcessedTx(ctx context.Context, tx warehouse.Tx, filename string, quarantined int64) error {
	rejections, err := tx.SubmitBatch(ctx, warehouse.ProcessedFile, []warehouse.Row{
		{filename, quarantined, l.runID},
	})
	if err != nil {
		return fmt.Errorf("mark %s processed: %w", filename, err)
	}
	if len(rejections) > 0 {
		if rejections[0].IsUniqueViolation() {
			return fmt.Errorf("%w: %s (%s)", ErrAlreadyProcessed, filename, rejections[0].Message)
		}
		return fmt.Errorf("mark %s processed: %s", filename, rejections[0].Message)
	}

	slog.Info("Marked file as processed",
		slog.String("file", filename),
		slog.Int64("quarantined", quarantined))
	return nil
}
