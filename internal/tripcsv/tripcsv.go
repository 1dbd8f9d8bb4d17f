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

// Package tripcsv reads trip CSV files of every historical layout into
// one canonical trip shape, dropping rows that cannot be loaded.
package tripcsv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"
)

const (
	DefaultBirthYearSentinel = 1800
	EncodingWindows1252      = "windows-1252"
	EncodingUTF8             = "utf-8"
)

// Trip is one cleaned ride.
type Trip struct {
	Duration         int64
	StartTime        time.Time
	StopTime         time.Time
	StartStationID   int64
	StartStationName string
	StartLatitude    float64
	StartLongitude   float64
	EndStationID     int64
	EndStationName   string
	EndLatitude      float64
	EndLongitude     float64
	BikeID           int64
	UserType         string
	BirthYear        int64
	Gender           int64
}

// Stats counts what cleaning did to a file.
type Stats struct {
	Rows               int
	MissingStation     int
	ZeroCoordinate     int
	Malformed          int
	BirthYearDefaulted int
}

// Dropped is the number of rows removed before loading.
func (s Stats) Dropped() int {
	return s.MissingStation + s.ZeroCoordinate + s.Malformed
}

type Options struct {
	// BirthYearSentinel replaces a missing or unparseable birth year.
	BirthYearSentinel int64
	// Encoding of the file, EncodingWindows1252 or EncodingUTF8.
	Encoding string
}

func DefaultOptions() Options {
	return Options{BirthYearSentinel: DefaultBirthYearSentinel, Encoding: EncodingWindows1252}
}

// canonical column names.
const (
	colDuration  = "tripduration"
	colStartTime = "starttime"
	colStopTime  = "stoptime"
	colStartID   = "start station id"
	colStartName = "start station name"
	colStartLat  = "start station latitude"
	colStartLon  = "start station longitude"
	colEndID     = "end station id"
	colEndName   = "end station name"
	colEndLat    = "end station latitude"
	colEndLon    = "end station longitude"
	colBikeID    = "bikeid"
	colUserType  = "usertype"
	colBirthYear = "birth year"
	colGender    = "gender"
)

var requiredColumns = []string{
	colDuration, colStartTime, colStopTime,
	colStartID, colStartName, colStartLat, colStartLon,
	colEndID, colEndName, colEndLat, colEndLon,
	colBikeID, colUserType, colBirthYear, colGender,
}

// headerAliases maps lowercased historical header names to canonical ones.
var headerAliases = map[string]string{
	"trip duration": colDuration,
	"start time":    colStartTime,
	"stop time":     colStopTime,
	"bike id":       colBikeID,
	"user type":     colUserType,
}

// NormalizeHeader returns the canonical name of a CSV header.
func NormalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	if alias, ok := headerAliases[h]; ok {
		return alias
	}
	return h
}

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	"2006-01-02 15:04",
}

// ParseTimestamp accepts every timestamp layout found in the trip files.
// Fractional seconds are dropped.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

var errMissingStation = errors.New("missing station id")

// Read decodes and cleans one trip CSV file.
func Read(r io.Reader, opts Options) ([]Trip, Stats, error) {
	var stats Stats
	if opts.Encoding == "" || strings.EqualFold(opts.Encoding, EncodingWindows1252) || strings.EqualFold(opts.Encoding, "cp1252") {
		r = charmap.Windows1252.NewDecoder().Reader(r)
	}

	cr := csv.NewReader(r)
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	headers, err := cr.Read()
	if err != nil {
		return nil, stats, fmt.Errorf("failed to read CSV headers: %w", err)
	}
	index := map[string]int{}
	for i, h := range headers {
		index[NormalizeHeader(h)] = i
	}
	var missing []string
	for _, c := range requiredColumns {
		if _, ok := index[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, stats, fmt.Errorf("CSV is missing columns: %s", strings.Join(missing, ", "))
	}

	var trips []Trip
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, stats, fmt.Errorf("CSV read error at line %d: %w", line, err)
		}
		stats.Rows++

		field := func(col string) string {
			if i := index[col]; i < len(record) {
				return strings.TrimSpace(record[i])
			}
			return ""
		}

		trip, err := parseTrip(field, opts, &stats)
		switch {
		case errors.Is(err, errMissingStation):
			stats.MissingStation++
			continue
		case err != nil:
			stats.Malformed++
			continue
		}
		if trip.StartLatitude == 0 || trip.StartLongitude == 0 || trip.EndLatitude == 0 || trip.EndLongitude == 0 {
			stats.ZeroCoordinate++
			continue
		}
		trips = append(trips, trip)
	}
	return trips, stats, nil
}

func parseTrip(field func(string) string, opts Options, stats *Stats) (Trip, error) {
	var t Trip
	var err error

	if t.StartStationID, err = parseID(field(colStartID)); err != nil {
		return t, err
	}
	if t.EndStationID, err = parseID(field(colEndID)); err != nil {
		return t, err
	}
	if t.Duration, err = parseInt(field(colDuration)); err != nil {
		return t, fmt.Errorf("duration: %w", err)
	}
	if t.StartTime, err = ParseTimestamp(field(colStartTime)); err != nil {
		return t, err
	}
	if t.StopTime, err = ParseTimestamp(field(colStopTime)); err != nil {
		return t, err
	}
	if t.StartLatitude, err = strconv.ParseFloat(field(colStartLat), 64); err != nil {
		return t, err
	}
	if t.StartLongitude, err = strconv.ParseFloat(field(colStartLon), 64); err != nil {
		return t, err
	}
	if t.EndLatitude, err = strconv.ParseFloat(field(colEndLat), 64); err != nil {
		return t, err
	}
	if t.EndLongitude, err = strconv.ParseFloat(field(colEndLon), 64); err != nil {
		return t, err
	}
	if t.BikeID, err = parseInt(field(colBikeID)); err != nil {
		return t, fmt.Errorf("bike id: %w", err)
	}
	t.StartStationName = field(colStartName)
	t.EndStationName = field(colEndName)
	t.UserType = field(colUserType)

	if t.BirthYear, err = parseInt(field(colBirthYear)); err != nil {
		t.BirthYear = opts.BirthYearSentinel
		stats.BirthYearDefaulted++
	}
	if t.Gender, err = parseInt(field(colGender)); err != nil {
		t.Gender = 0
	}
	return t, nil
}

func parseID(s string) (int64, error) {
	if s == "" || strings.EqualFold(s, "null") || s == `\N` {
		return 0, errMissingStation
	}
	return parseInt(s)
}

// parseInt accepts integers written as floats ("72.0").
func parseInt(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}
