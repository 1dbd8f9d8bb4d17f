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

package warehouse

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgClient is the PostgreSQL Client.
type PgClient struct {
	connPool *pgxpool.Pool
}

var _ Client = (*PgClient)(nil)

// NewPgClient creates a new PgClient
func NewPgClient(connPool *pgxpool.Pool) *PgClient {
	return &PgClient{connPool: connPool}
}

func (s *PgClient) Pool() *pgxpool.Pool {
	return s.connPool
}

// Close closes the connection pool.
func (s *PgClient) Close() {
	if s.connPool != nil {
		s.connPool.Close()
	}
}

// Query selects q.Columns from every row of q.Table.
func (s *PgClient) Query(ctx context.Context, q Query) ([]Row, error) {
	sql := fmt.Sprintf("SELECT %s FROM %s", identifierList(q.Columns), pgx.Identifier{q.Table}.Sanitize())

	rows, err := s.connPool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Table, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.Table, err)
		}
		out = append(out, Row(vals))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Table, err)
	}
	return out, nil
}

// Begin starts a transaction on one pooled connection.
func (s *PgClient) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.connPool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx pgx.Tx
}

// SubmitBatch sends the whole batch pipelined inside one savepoint. If any
// row fails, the savepoint is rolled back and the rows are replayed one at a
// time, each in its own savepoint, so every failing row is reported and all
// good rows stay pending in the outer transaction.
func (t *pgTx) SubmitBatch(ctx context.Context, table Table, rows []Row) ([]Rejection, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	stmt := insertStatement(table)

	batchErr, err := t.submitPipelined(ctx, stmt, rows)
	if err != nil {
		return nil, err
	}
	if batchErr == nil {
		return nil, nil
	}
	if IsTransient(batchErr) {
		return nil, batchErr
	}

	var rejections []Rejection
	for i, row := range rows {
		sp, err := t.tx.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("savepoint for row %d: %w", i, err)
		}
		if _, execErr := sp.Exec(ctx, stmt, row...); execErr != nil {
			if rbErr := sp.Rollback(ctx); rbErr != nil {
				return nil, multierror.Append(execErr, fmt.Errorf("rollback row %d: %w", i, rbErr))
			}
			if IsTransient(execErr) {
				return nil, execErr
			}
			rejections = append(rejections, Rejection{Offset: i, Message: RejectionMessage(execErr), Code: RejectionCode(execErr)})
			continue
		}
		if err := sp.Commit(ctx); err != nil {
			return nil, fmt.Errorf("release row %d: %w", i, err)
		}
	}
	return rejections, nil
}

// submitPipelined returns the first row error as batchErr, and any failure
// to manage the savepoint itself as err.
func (t *pgTx) submitPipelined(ctx context.Context, stmt string, rows []Row) (batchErr error, err error) {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("savepoint: %w", err)
	}

	b := &pgx.Batch{}
	for _, row := range rows {
		b.Queue(stmt, row...)
	}
	results := sp.SendBatch(ctx, b)
	for range rows {
		if _, execErr := results.Exec(); execErr != nil {
			batchErr = execErr
			break
		}
	}
	if closeErr := results.Close(); closeErr != nil && batchErr == nil {
		batchErr = closeErr
	}

	if batchErr == nil {
		if err := sp.Commit(ctx); err != nil {
			return nil, fmt.Errorf("release savepoint: %w", err)
		}
		return nil, nil
	}
	if rbErr := sp.Rollback(ctx); rbErr != nil {
		return nil, multierror.Append(batchErr, fmt.Errorf("rollback savepoint: %w", rbErr))
	}
	return batchErr, nil
}

func (t *pgTx) DeleteWhere(ctx context.Context, table Table, column string, value any) (int64, error) {
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s = $1",
		pgx.Identifier{table.Name}.Sanitize(), pgx.Identifier{column}.Sanitize())
	tag, err := t.tx.Exec(ctx, sql, value)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table.Name, err)
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

func insertStatement(table Table) string {
	placeholders := make([]string, len(table.Columns))
	for i := range table.Columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pgx.Identifier{table.Name}.Sanitize(),
		identifierList(table.Columns),
		strings.Join(placeholders, ", "))

	if table.Upsert && len(table.Key) > 0 {
		isKey := make(map[string]bool, len(table.Key))
		for _, k := range table.Key {
			isKey[k] = true
		}
		var sets []string
		for _, c := range table.Columns {
			if isKey[c] {
				continue
			}
			id := pgx.Identifier{c}.Sanitize()
			sets = append(sets, id+" = EXCLUDED."+id)
		}
		if len(sets) == 0 {
			stmt += fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", identifierList(table.Key))
		} else {
			stmt += fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", identifierList(table.Key), strings.Join(sets, ", "))
		}
	}
	return stmt
}

func identifierList(columns []string) string {
	ids := make([]string, len(columns))
	for i, c := range columns {
		ids[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(ids, ", ")
}
