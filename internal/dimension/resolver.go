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

// Package dimension resolves natural keys found in a batch of trips to
// warehouse surrogate keys, inserting the dimension rows that are missing.
package dimension

import (
	"context"
	"fmt"
	"log/slog"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/cardinalhq/tripwarehouse/internal/logctx"
	"github.com/cardinalhq/tripwarehouse/internal/quarantine"
	"github.com/cardinalhq/tripwarehouse/warehouse"
)

// Loader submits rows with quarantine and retry.
type Loader interface {
	Load(ctx context.Context, category, sourceFile string, table warehouse.Table, rows []warehouse.Row) (quarantine.Result, error)
}

// Candidate is one dimension row proposed by the current batch.
type Candidate[K comparable] struct {
	Key K
	// Row is in the table's insert column order.
	Row warehouse.Row
}

// Dimension describes how one dimension table maps to typed keys. K
// defines natural-key identity and must not depend on column order.
type Dimension[K comparable, S any] struct {
	Table    warehouse.Table
	Category string
	// KeyColumns are queried to learn which natural keys exist.
	KeyColumns []string
	// SurrogateColumn holds the key facts reference.
	SurrogateColumn string
	ParseKey        func(warehouse.Row) (K, error)
	ParseSurrogate  func(any) (S, error)
}

// Enricher fills in attributes of genuinely new rows before they are
// inserted. It may change Row but not Key.
type Enricher[K comparable] func(ctx context.Context, fresh []Candidate[K]) error

// Resolution is the outcome of resolving one batch against one dimension.
type Resolution[K comparable, S any] struct {
	Surrogates  map[K]S
	Inserted    int
	Quarantined int
}

type Resolver struct {
	client warehouse.Client
	loader Loader
}

func NewResolver(client warehouse.Client, loader Loader) *Resolver {
	return &Resolver{client: client, loader: loader}
}

// Resolve inserts the candidates whose natural key is not yet in the
// warehouse and returns the surrogate key of every candidate that now
// exists. When candidates repeat a key, the last one wins. enrich, if set,
// sees only the new candidates.
func Resolve[K comparable, S any](ctx context.Context, r *Resolver, dim Dimension[K, S], sourceFile string, candidates []Candidate[K], enrich Enricher[K]) (Resolution[K, S], error) {
	res := Resolution[K, S]{}
	ll := logctx.FromContext(ctx)

	existing, err := existingKeys(ctx, r.client, dim)
	if err != nil {
		return res, err
	}

	order, latest := collapse(candidates)
	wanted := mapset.NewThreadUnsafeSetWithSize[K](len(order))
	for _, k := range order {
		wanted.Add(k)
	}
	fresh := wanted.Difference(existing)

	if fresh.Cardinality() > 0 {
		newRows := make([]Candidate[K], 0, fresh.Cardinality())
		for _, k := range order {
			if fresh.Contains(k) {
				newRows = append(newRows, latest[k])
			}
		}

		if enrich != nil {
			if err := enrich(ctx, newRows); err != nil {
				return res, fmt.Errorf("enrich %s: %w", dim.Table.Name, err)
			}
		}

		rows := make([]warehouse.Row, len(newRows))
		for i, c := range newRows {
			rows[i] = c.Row
		}
		result, err := r.loader.Load(ctx, dim.Category, sourceFile, dim.Table, rows)
		if err != nil {
			return res, err
		}
		res.Inserted = result.Committed
		res.Quarantined = result.Quarantined
		ll.Info("Resolved new dimension rows",
			slog.String("table", dim.Table.Name),
			slog.Int("candidates", len(order)),
			slog.Int("new", len(rows)),
			slog.Int("inserted", result.Committed))
	}

	res.Surrogates, err = surrogates(ctx, r.client, dim, wanted)
	return res, err
}

// collapse returns the distinct keys in first-seen order and the last
// candidate for each.
func collapse[K comparable](candidates []Candidate[K]) ([]K, map[K]Candidate[K]) {
	latest := make(map[K]Candidate[K], len(candidates))
	var order []K
	for _, c := range candidates {
		if _, seen := latest[c.Key]; !seen {
			order = append(order, c.Key)
		}
		latest[c.Key] = c
	}
	return order, latest
}

func existingKeys[K comparable, S any](ctx context.Context, client warehouse.Client, dim Dimension[K, S]) (mapset.Set[K], error) {
	rows, err := client.Query(ctx, warehouse.Query{Table: dim.Table.Name, Columns: dim.KeyColumns})
	if err != nil {
		return nil, fmt.Errorf("read %s keys: %w", dim.Table.Name, err)
	}
	keys := mapset.NewThreadUnsafeSetWithSize[K](len(rows))
	for _, row := range rows {
		k, err := dim.ParseKey(row)
		if err != nil {
			return nil, fmt.Errorf("parse %s key: %w", dim.Table.Name, err)
		}
		keys.Add(k)
	}
	return keys, nil
}

// surrogates re-reads the dimension, since generated keys are only known
// to the store.
func surrogates[K comparable, S any](ctx context.Context, client warehouse.Client, dim Dimension[K, S], wanted mapset.Set[K]) (map[K]S, error) {
	columns := append([]string{dim.SurrogateColumn}, dim.KeyColumns...)
	rows, err := client.Query(ctx, warehouse.Query{Table: dim.Table.Name, Columns: columns})
	if err != nil {
		return nil, fmt.Errorf("read %s surrogate keys: %w", dim.Table.Name, err)
	}

	out := make(map[K]S, wanted.Cardinality())
	for _, row := range rows {
		k, err := dim.ParseKey(row[1:])
		if err != nil {
			return nil, fmt.Errorf("parse %s key: %w", dim.Table.Name, err)
		}
		if !wanted.Contains(k) {
			continue
		}
		s, err := dim.ParseSurrogate(row[0])
		if err != nil {
			return nil, fmt.Errorf("parse %s surrogate key: %w", dim.Table.Name, err)
		}
		out[k] = s
	}
	return out, nil
}
