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

// Package pipeline drives one load run: it finds new archives, and for
// every CSV inside resolves dimensions, assembles facts and loads them,
// marking the ledger as each file completes.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/tripwarehouse/internal/dimension"
	"github.com/cardinalhq/tripwarehouse/internal/fact"
	"github.com/cardinalhq/tripwarehouse/internal/ledger"
	"github.com/cardinalhq/tripwarehouse/internal/loader"
	"github.com/cardinalhq/tripwarehouse/internal/logctx"
	"github.com/cardinalhq/tripwarehouse/internal/quarantine"
	"github.com/cardinalhq/tripwarehouse/internal/tripcsv"
	"github.com/cardinalhq/tripwarehouse/internal/tripsource"
	"github.com/cardinalhq/tripwarehouse/warehouse"
)

var tracer = otel.Tracer("github.com/cardinalhq/tripwarehouse/internal/pipeline")

// Source lists archives and downloads them to local files.
type Source interface {
	List(ctx context.Context) ([]string, error)
	Download(ctx context.Context, key string) (tmpfile string, size int64, err error)
}

// BatchLoader loads one chunk with quarantine and retry.
type BatchLoader interface {
	Load(ctx context.Context, category, sourceFile string, table warehouse.Table, rows []warehouse.Row) (quarantine.Result, error)
}

type Config struct {
	Variant   Variant
	ChunkSize int
	Clean     tripcsv.Options
	// Limit caps how many new archives one run processes. Zero means all.
	Limit int
	Now   func() time.Time
}

type Pipeline struct {
	client   warehouse.Client
	ledger   *ledger.Ledger
	loader   BatchLoader
	resolver *dimension.Resolver
	geocoder dimension.Geocoder
	source   Source
	cfg      Config
}

// New wires a pipeline. geocoder may be nil when the variant does not
// geocode stations.
func New(client warehouse.Client, l *ledger.Ledger, batches BatchLoader, geocoder dimension.Geocoder, source Source, cfg Config) *Pipeline {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = loader.DefaultChunkSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Clean.BirthYearSentinel == 0 {
		cfg.Clean.BirthYearSentinel = tripcsv.DefaultBirthYearSentinel
	}
	return &Pipeline{
		client:   client,
		ledger:   l,
		loader:   batches,
		resolver: dimension.NewResolver(client, batches),
		geocoder: geocoder,
		source:   source,
		cfg:      cfg,
	}
}

// Summary reports a whole run.
type Summary struct {
	Archives    int
	Entries     int
	Records     int
	Quarantined int64
	Elapsed     time.Duration
}

func (s Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("archives", s.Archives),
		slog.Int("entries", s.Entries),
		slog.Int("records", s.Records),
		slog.Int64("quarantined", s.Quarantined),
		slog.Duration("elapsed", s.Elapsed),
	)
}

// Run loads every archive that passes the variant filter and is not yet in
// the ledger, newest first. It stops at the first fatal error; files
// completed before it stay marked.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	start := p.cfg.Now()
	var summary Summary
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	processed, err := p.ledger.ProcessedFiles(ctx)
	if err != nil {
		return summary, err
	}
	keys, err := p.source.List(ctx)
	if err != nil {
		return summary, err
	}
	todo := p.cfg.Variant.Filter().Select(keys, func(k string) bool { return processed.Contains(k) })
	slog.Info("Identified new files",
		slog.String("variant", p.cfg.Variant.Name),
		slog.Int("available", len(keys)),
		slog.Int("new", len(todo)))
	if p.cfg.Limit > 0 && len(todo) > p.cfg.Limit {
		todo = todo[:p.cfg.Limit]
	}

	for _, key := range todo {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		res, err := p.ProcessArchive(ctx, key)
		summary.Entries += res.Entries
		summary.Records += res.Records
		summary.Quarantined += res.Quarantined
		if err != nil {
			summary.Elapsed = p.cfg.Now().Sub(start)
			return summary, fmt.Errorf("archive %s: %w", key, err)
		}
		summary.Archives++
	}

	summary.Elapsed = p.cfg.Now().Sub(start)
	slog.Info("Load run complete", slog.Any("summary", summary))
	return summary, nil
}

// ArchiveResult counts what one archive contributed.
type ArchiveResult struct {
	Entries     int
	Records     int
	Quarantined int64
}

// ProcessArchive downloads key and loads each CSV inside it. Entries
// already in the ledger are skipped; the ledger is re-read before every
// entry. The archive is marked once all entries are marked.
func (p *Pipeline) ProcessArchive(ctx context.Context, key string) (ArchiveResult, error) {
	var res ArchiveResult
	ctx = logctx.WithArchive(ctx, key)
	ctx, span := tracer.Start(ctx, "pipeline.ProcessArchive", trace.WithAttributes(attribute.String("archive", key)))
	defer span.End()
	ll := logctx.FromContext(ctx)

	path, size, err := p.source.Download(ctx, key)
	if err != nil {
		return res, err
	}
	defer func() {
		if err := os.Remove(path); err != nil {
			ll.Warn("Failed to remove downloaded archive", slog.String("path", path), slog.Any("error", err))
		}
	}()
	ll.Info("Downloaded archive", slog.Int64("bytes", size))

	archive, err := tripsource.OpenArchive(path)
	if err != nil {
		return res, err
	}
	defer func() { _ = archive.Close() }()

	for _, entry := range archive.Entries() {
		done, err := p.ledger.IsProcessed(ctx, entry.Name)
		if err != nil {
			return res, err
		}
		if done {
			ll.Info("Skipping already processed entry", slog.String("entry", entry.Name))
			continue
		}

		rc, err := entry.Open()
		if err != nil {
			return res, fmt.Errorf("open entry %s: %w", entry.Name, err)
		}
		er, err := p.ProcessEntry(logctx.WithEntry(ctx, entry.Name), entry.Name, rc)
		_ = rc.Close()
		res.Records += er.Records
		res.Quarantined += er.Quarantined
		if err != nil {
			span.RecordError(err)
			return res, fmt.Errorf("entry %s: %w", entry.Name, err)
		}
		if err := p.ledger.MarkProcessed(ctx, entry.Name, er.Quarantined); err != nil {
			return res, err
		}
		res.Entries++
	}

	if err := p.ledger.MarkProcessed(ctx, key, res.Quarantined); err != nil {
		return res, err
	}
	return res, nil
}

// EntryResult counts what one CSV contributed.
type EntryResult struct {
	Records     int
	Loaded      int
	Quarantined int64
}

// ProcessEntry loads one CSV. Facts left behind by an earlier attempt at
// the same file are removed first, so a file is loaded at most once even
// if a run died before marking it. The caller marks the ledger.
func (p *Pipeline) ProcessEntry(ctx context.Context, name string, r io.Reader) (EntryResult, error) {
	var res EntryResult
	ll := logctx.FromContext(ctx)

	if err := p.purge(ctx, name); err != nil {
		return res, err
	}

	trips, stats, err := tripcsv.Read(r, p.cfg.Clean)
	if err != nil {
		return res, err
	}
	res.Records = stats.Rows
	res.Quarantined += int64(stats.Dropped())
	ll.Info("Cleaned trips",
		slog.Int("rows", stats.Rows),
		slog.Int("kept", len(trips)),
		slog.Int("missing_station", stats.MissingStation),
		slog.Int("zero_coordinate", stats.ZeroCoordinate),
		slog.Int("malformed", stats.Malformed),
		slog.Int("birth_year_defaulted", stats.BirthYearDefaulted))

	keys, kept, dropped, err := p.resolveDimensions(ctx, name, trips)
	if err != nil {
		return res, err
	}
	res.Quarantined += dropped

	assembly := fact.Assemble(ctx, kept, keys, name)
	if n := assembly.Dropped(p.cfg.Variant.Loads(FactBikeUsage), p.cfg.Variant.Loads(FactRidership)); n > 0 {
		res.Quarantined += int64(n)
		ll.Warn("Dropped trips with unresolved dimension keys", slog.Int("trips", n))
	}

	if p.cfg.Variant.Loads(FactBikeUsage) {
		loaded, quarantined, err := p.loadFacts(ctx, name, quarantine.CategoryRides, warehouse.BikeUsageFact, assembly.BikeUsage)
		res.Loaded += loaded
		res.Quarantined += quarantined
		if err != nil {
			return res, err
		}
	}
	if p.cfg.Variant.Loads(FactRidership) {
		loaded, quarantined, err := p.loadFacts(ctx, name, quarantine.CategoryRiders, warehouse.RidershipFact, assembly.Ridership)
		res.Loaded += loaded
		res.Quarantined += quarantined
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

func (p *Pipeline) purge(ctx context.Context, name string) error {
	return warehouse.WithTx(ctx, p.client, func(tx warehouse.Tx) error {
		for _, table := range []warehouse.Table{warehouse.BikeUsageFact, warehouse.RidershipFact} {
			n, err := tx.DeleteWhere(ctx, table, "source_file", name)
			if err != nil {
				return fmt.Errorf("purge %s: %w", table.Name, err)
			}
			if n > 0 {
				logctx.FromContext(ctx).Warn("Removed facts from an unfinished load",
					slog.String("table", table.Name),
					slog.Int64("rows", n))
			}
		}
		return nil
	})
}

// resolveDimensions makes sure every dimension row the trips reference
// exists and returns the surrogate keys, the trips that can be described
// and the number dropped along the way.
func (p *Pipeline) resolveDimensions(ctx context.Context, name string, trips []tripcsv.Trip) (fact.Keys, []tripcsv.Trip, int64, error) {
	var keys fact.Keys
	var dropped int64
	v := p.cfg.Variant

	stations := make([]dimension.Station, 0, 2*len(trips))
	dates := make([]dimension.Candidate[dimension.DateKey], 0, len(trips))
	for _, t := range trips {
		stations = append(stations,
			dimension.Station{ID: t.StartStationID, Name: t.StartStationName, Latitude: t.StartLatitude, Longitude: t.StartLongitude},
			dimension.Station{ID: t.EndStationID, Name: t.EndStationName, Latitude: t.EndLatitude, Longitude: t.EndLongitude},
		)
		dates = append(dates, dimension.DateCandidate(t.StartTime))
	}

	var enrich dimension.Enricher[dimension.StationKey]
	if v.GeocodeStations && p.geocoder != nil {
		enrich = dimension.GeocodeStations(p.geocoder)
	}
	stationRes, err := dimension.Resolve(ctx, p.resolver, dimension.Stations, name, dimension.StationCandidates(stations), enrich)
	if err != nil {
		return keys, nil, dropped, err
	}
	keys.Stations = stationRes.Surrogates
	dropped += int64(stationRes.Quarantined)

	dateRes, err := dimension.Resolve(ctx, p.resolver, dimension.Dates, name, dates, nil)
	if err != nil {
		return keys, nil, dropped, err
	}
	keys.Dates = dateRes.Surrogates
	dropped += int64(dateRes.Quarantined)

	boroughs, err := dimension.StationBoroughs(ctx, p.client)
	if err != nil {
		return keys, nil, dropped, err
	}
	kept := trips
	if v.RequireBorough {
		var n int
		kept, n = fact.WithBoroughs(trips, boroughs)
		dropped += int64(n)
		if n > 0 {
			logctx.FromContext(ctx).Info("Dropped trips at stations without a borough", slog.Int("trips", n))
		}
	}

	if v.Loads(FactBikeUsage) {
		routes := make([]dimension.Candidate[dimension.RouteKey], 0, len(kept))
		for _, t := range kept {
			routes = append(routes, dimension.RouteCandidate(
				t.StartStationName, t.EndStationName,
				boroughs[t.StartStationID], boroughs[t.EndStationID]))
		}
		routeRes, err := dimension.Resolve(ctx, p.resolver, dimension.Routes, name, routes, nil)
		if err != nil {
			return keys, nil, dropped, err
		}
		keys.Routes = routeRes.Surrogates
		dropped += int64(routeRes.Quarantined)
	}

	if v.Loads(FactRidership) {
		year := p.cfg.Now().Year()
		users := make([]dimension.Candidate[dimension.UserKey], 0, len(kept))
		for _, t := range kept {
			users = append(users, dimension.UserCandidate(fact.UserKey(t), year))
		}
		userRes, err := dimension.Resolve(ctx, p.resolver, dimension.Users, name, users, nil)
		if err != nil {
			return keys, nil, dropped, err
		}
		keys.Users = userRes.Surrogates
		dropped += int64(userRes.Quarantined)
	}

	return keys, kept, dropped, nil
}

// loadFacts loads rows in chunks, each its own transaction.
func (p *Pipeline) loadFacts(ctx context.Context, name, category string, table warehouse.Table, rows []warehouse.Row) (loaded int, quarantined int64, err error) {
	for _, chunk := range loader.Chunks(rows, p.cfg.ChunkSize) {
		res, err := p.loader.Load(ctx, category, name, table, chunk)
		if err != nil {
			return loaded, quarantined, err
		}
		loaded += res.Committed
		quarantined += int64(res.Quarantined)
		if res.Skipped {
			logctx.FromContext(ctx).Warn("Batch skipped",
				slog.String("table", table.Name),
				slog.Int("rows", len(chunk)))
		}
	}
	return loaded, quarantined, nil
}
