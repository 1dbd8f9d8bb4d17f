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

// Package warehouse is the store client capability used by the load engine,
// with a PostgreSQL implementation backed by pgx.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Row is one record, in the insert column order of its Table.
type Row []any

// ForeignKey names the table and column a fact or dimension column points at.
type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
}

// Table describes a warehouse table as seen by the load engine.
type Table struct {
	Name string
	// Columns is the insert column order. Rows submitted against the table
	// must match it exactly.
	Columns []string
	// Key lists the unique key columns. Upserts conflict on it.
	Key []string
	// Generated is the store-generated surrogate key column, if any. It is
	// never part of Columns.
	Generated string
	// ForeignKeys are enforced by the store at insert time.
	ForeignKeys []ForeignKey
	// Upsert turns inserts into INSERT ... ON CONFLICT (Key) DO UPDATE.
	Upsert bool
}

// WithUpsert returns a copy of t whose submissions update rows that
// already exist under the same key.
func (t Table) WithUpsert() Table {
	t.Upsert = true
	return t
}

// ColumnIndex returns the position of column in t.Columns, or -1.
func (t Table) ColumnIndex(column string) int {
	for i, c := range t.Columns {
		if c == column {
			return i
		}
	}
	return -1
}

// Query selects Columns from every row of Table.
type Query struct {
	Table   string
	Columns []string
}

// Rejection is one record the store refused, by zero-based position within
// the submitted rows.
type Rejection struct {
	Offset  int
	Message string
	// Code is the SQLSTATE of the failure, empty when the store gave none.
	Code string
}

// Client is the store capability the load engine depends on.
type Client interface {
	Query(ctx context.Context, q Query) ([]Row, error)
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one unit of work. Nothing submitted through it is visible to other
// transactions until Commit.
type Tx interface {
	// SubmitBatch inserts rows and reports every row the store rejected.
	// A non-nil error means the call itself failed and no per-row outcome
	// is available; the transaction must then be rolled back.
	SubmitBatch(ctx context.Context, table Table, rows []Row) ([]Rejection, error)
	// DeleteWhere removes every row of table whose column equals value.
	DeleteWhere(ctx context.Context, table Table, column string, value any) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// WithTx runs fn inside a transaction on c, committing when fn succeeds and
// rolling back otherwise.
func WithTx(ctx context.Context, c Client, fn func(Tx) error) (err error) {
	tx, err := c.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		// Never use the caller ctx for cleanup as it may be cancelled.
		rbCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if rbErr := tx.Rollback(rbCtx); rbErr != nil {
			err = errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	commitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = tx.Commit(commitCtx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}
