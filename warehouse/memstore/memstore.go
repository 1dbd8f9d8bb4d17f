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

// Package memstore is an in-memory warehouse.Client. It enforces unique
// keys, generated surrogate keys, not-null columns and foreign keys, and
// lets tests inject per-row rejections and whole-call failures.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/jackc/pgerrcode"

	"github.com/cardinalhq/tripwarehouse/warehouse"
)

// RejectFunc returns a non-empty message when the row must be refused.
type RejectFunc func(table string, row warehouse.Row) string

var ErrTxDone = errors.New("memstore: transaction already finished")

type tableData struct {
	schema warehouse.Table
	// rows are stored with the generated column, if any, first.
	rows []warehouse.Row
}

func (td *tableData) columns() []string {
	if td.schema.Generated == "" {
		return td.schema.Columns
	}
	return append([]string{td.schema.Generated}, td.schema.Columns...)
}

func (td *tableData) columnIndex(name string) int {
	return slices.Index(td.columns(), name)
}

func (td *tableData) clone() *tableData {
	return &tableData{schema: td.schema, rows: slices.Clone(td.rows)}
}

// Store is safe for concurrent use, though a load run uses it from one
// goroutine. Generated ids, like a database sequence, are not reused after
// a rollback.
type Store struct {
	mu          sync.Mutex
	tables      map[string]*tableData
	nextID      map[string]int64
	failures    []error
	reject      RejectFunc
	submissions map[string][][]warehouse.Row
}

var _ warehouse.Client = (*Store)(nil)

// New returns an empty store knowing the given tables.
func New(tables ...warehouse.Table) *Store {
	s := &Store{
		tables:      map[string]*tableData{},
		nextID:      map[string]int64{},
		submissions: map[string][][]warehouse.Row{},
	}
	for _, t := range tables {
		s.tables[t.Name] = &tableData{schema: t}
	}
	return s
}

// NewWarehouse returns an empty store with the full warehouse catalogue.
func NewWarehouse() *Store {
	return New(warehouse.Tables()...)
}

// FailNext makes the next len(errs) SubmitBatch calls fail with errs, in order.
func (s *Store) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

// SetRejectFunc installs fn as an extra per-row constraint.
func (s *Store) SetRejectFunc(fn RejectFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = fn
}

// Rows returns the committed rows of table, generated column first.
func (s *Store) Rows(table string) []warehouse.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	td, ok := s.tables[table]
	if !ok {
		return nil
	}
	return slices.Clone(td.rows)
}

// Count returns the number of committed rows in table.
func (s *Store) Count(table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if td, ok := s.tables[table]; ok {
		return len(td.rows)
	}
	return 0
}

// Submissions returns every batch submitted against table, committed or not.
func (s *Store) Submissions(table string) [][]warehouse.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.submissions[table])
}

// Load commits rows into table directly, bypassing constraints. Used to seed
// existing warehouse state.
func (s *Store) Load(table warehouse.Table, rows ...warehouse.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	td := s.table(s.tables, table)
	for _, row := range rows {
		if table.Generated != "" && len(row) == len(table.Columns) {
			s.nextID[table.Name]++
			row = append(warehouse.Row{s.nextID[table.Name]}, row...)
		} else if table.Generated != "" {
			// Row carries its own id; keep later ids clear of it.
			if id, err := warehouse.AsInt64(row[0]); err == nil && id > s.nextID[table.Name] {
				s.nextID[table.Name] = id
			}
		}
		td.rows = append(td.rows, row)
	}
}

// Snapshot copies tables from src into a new store, so a dry run starts
// from the real warehouse's ledger and dimensions.
func Snapshot(ctx context.Context, src warehouse.Client, tables ...warehouse.Table) (*Store, error) {
	s := NewWarehouse()
	for _, t := range tables {
		columns := t.Columns
		if t.Generated != "" {
			columns = append([]string{t.Generated}, t.Columns...)
		}
		rows, err := src.Query(ctx, warehouse.Query{Table: t.Name, Columns: columns})
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", t.Name, err)
		}
		s.Load(t, rows...)
	}
	return s, nil
}

func (s *Store) table(tables map[string]*tableData, t warehouse.Table) *tableData {
	td, ok := tables[t.Name]
	if !ok {
		td = &tableData{schema: t}
		tables[t.Name] = td
	}
	return td
}

func (s *Store) Query(_ context.Context, q warehouse.Query) ([]warehouse.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	td, ok := s.tables[q.Table]
	if !ok {
		return nil, fmt.Errorf("relation %q does not exist", q.Table)
	}
	idx := make([]int, len(q.Columns))
	for i, c := range q.Columns {
		if idx[i] = td.columnIndex(c); idx[i] < 0 {
			return nil, fmt.Errorf("column %q of relation %q does not exist", c, q.Table)
		}
	}

	out := make([]warehouse.Row, 0, len(td.rows))
	for _, row := range td.rows {
		r := make(warehouse.Row, len(idx))
		for i, j := range idx {
			r[i] = row[j]
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) Begin(_ context.Context) (warehouse.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[string]*tableData, len(s.tables))
	for name, td := range s.tables {
		staged[name] = td.clone()
	}
	return &memTx{store: s, tables: staged}, nil
}

type memTx struct {
	store  *Store
	tables map[string]*tableData
	done   bool
}

func keyOf(row warehouse.Row, idx []int) string {
	parts := make([]string, len(idx))
	for i, j := range idx {
		parts[i] = fmt.Sprint(row[j])
	}
	return strings.Join(parts, "\x1f")
}

func (tx *memTx) SubmitBatch(_ context.Context, table warehouse.Table, rows []warehouse.Row) ([]warehouse.Rejection, error) {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.done {
		return nil, ErrTxDone
	}
	s.submissions[table.Name] = append(s.submissions[table.Name], slices.Clone(rows))
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		return nil, err
	}

	td := s.table(tx.tables, table)
	offset := 0
	if table.Generated != "" {
		offset = 1
	}

	var keyIdx []int
	existing := map[string]int{}
	if len(table.Key) > 0 {
		for _, k := range table.Key {
			keyIdx = append(keyIdx, table.ColumnIndex(k))
		}
		stored := make([]int, len(keyIdx))
		for i, j := range keyIdx {
			stored[i] = j + offset
		}
		for pos, row := range td.rows {
			existing[keyOf(row, stored)] = pos
		}
	}

	refs := make([]map[string]bool, len(table.ForeignKeys))
	for i, fk := range table.ForeignKeys {
		refs[i] = map[string]bool{}
		ref, ok := tx.tables[fk.RefTable]
		if !ok {
			continue
		}
		j := ref.columnIndex(fk.RefColumn)
		for _, row := range ref.rows {
			refs[i][fmt.Sprint(row[j])] = true
		}
	}

	var rejections []warehouse.Rejection
	for i, row := range rows {
		if code, msg := tx.check(table, row, keyIdx, existing, refs); msg != "" {
			rejections = append(rejections, warehouse.Rejection{Offset: i, Message: msg, Code: code})
			continue
		}
		stored := slices.Clone(row)
		if len(keyIdx) > 0 {
			key := keyOf(row, keyIdx)
			if pos, dup := existing[key]; dup {
				// Only reachable for upserts; check rejects plain duplicates.
				prev := td.rows[pos]
				if offset == 1 {
					stored = append(warehouse.Row{prev[0]}, stored...)
				}
				td.rows[pos] = stored
				continue
			}
			existing[key] = len(td.rows)
		}
		if offset == 1 {
			s.nextID[table.Name]++
			stored = append(warehouse.Row{s.nextID[table.Name]}, stored...)
		}
		td.rows = append(td.rows, stored)
	}
	return rejections, nil
}

// check returns the SQLSTATE and message PostgreSQL would give for row, or
// an empty message when the row is accepted. Injected rejections carry no code.
func (tx *memTx) check(table warehouse.Table, row warehouse.Row, keyIdx []int, existing map[string]int, refs []map[string]bool) (code, msg string) {
	if len(row) != len(table.Columns) {
		return pgerrcode.SyntaxError, fmt.Sprintf("INSERT has %d expressions but %d target columns", len(row), len(table.Columns))
	}
	for i, v := range row {
		if v == nil {
			return pgerrcode.NotNullViolation, fmt.Sprintf("null value in column %q of relation %q violates not-null constraint", table.Columns[i], table.Name)
		}
	}
	if len(keyIdx) > 0 && !table.Upsert {
		if _, dup := existing[keyOf(row, keyIdx)]; dup {
			return pgerrcode.UniqueViolation, fmt.Sprintf("duplicate key value violates unique constraint %q", table.Name+"_pkey")
		}
	}
	for i, fk := range table.ForeignKeys {
		v := row[table.ColumnIndex(fk.Column)]
		if !refs[i][fmt.Sprint(v)] {
			return pgerrcode.ForeignKeyViolation, fmt.Sprintf("insert or update on table %q violates foreign key constraint on %q: key (%v) is not present in table %q",
				table.Name, fk.Column, v, fk.RefTable)
		}
	}
	if tx.store.reject != nil {
		return "", tx.store.reject(table.Name, row)
	}
	return "", ""
}

func (tx *memTx) DeleteWhere(_ context.Context, table warehouse.Table, column string, value any) (int64, error) {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.done {
		return 0, ErrTxDone
	}
	td, ok := tx.tables[table.Name]
	if !ok {
		return 0, nil
	}
	j := td.columnIndex(column)
	if j < 0 {
		return 0, fmt.Errorf("column %q of relation %q does not exist", column, table.Name)
	}
	want := fmt.Sprint(value)
	before := len(td.rows)
	td.rows = slices.DeleteFunc(td.rows, func(row warehouse.Row) bool {
		return fmt.Sprint(row[j]) == want
	})
	return int64(before - len(td.rows)), nil
}

func (tx *memTx) Commit(_ context.Context) error {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	for name, td := range tx.tables {
		s.tables[name] = td
	}
	return nil
}

func (tx *memTx) Rollback(_ context.Context) error {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	tx.done = true
	return nil
}
