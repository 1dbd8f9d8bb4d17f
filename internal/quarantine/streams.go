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

package quarantine

import (
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/cardinalhq/tripwarehouse/warehouse"
)

// Log stream categories, one file each.
const (
	CategoryRides    = "new rides"
	CategoryRiders   = "new ridership"
	CategoryStations = "historical stations"
	CategoryDates    = "dates"
	CategoryUsers    = "users"
	CategoryRoutes   = "new routes"
)

const timestampLayout = "2006-01-02 15:04:05.000000"

// StreamOptions control where quarantine logs go and how they rotate.
type StreamOptions struct {
	Dir        string
	MaxSizeMB  int
	MaxBackups int
}

// Streams appends quarantine lines to one rotating file per category,
// named "<dir>/<category>.txt".
type Streams struct {
	mu      sync.Mutex
	opts    StreamOptions
	writers map[string]io.WriteCloser
	now     func() time.Time
}

func NewStreams(opts StreamOptions) *Streams {
	return &Streams{
		opts:    opts,
		writers: map[string]io.WriteCloser{},
		now:     time.Now,
	}
}

// Path returns the file a category is written to.
func (s *Streams) Path(category string) string {
	return filepath.Join(s.opts.Dir, category+".txt")
}

func (s *Streams) writer(category string) io.WriteCloser {
	w, ok := s.writers[category]
	if !ok {
		w = &lumberjack.Logger{
			Filename:   s.Path(category),
			MaxSize:    s.opts.MaxSizeMB,
			MaxBackups: s.opts.MaxBackups,
			LocalTime:  true,
		}
		s.writers[category] = w
	}
	return w
}

// Rejections writes one line per rejected row.
func (s *Streams) Rejections(category, sourceFile string, rejections []warehouse.Rejection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.writer(category)
	ts := s.now().Format(timestampLayout)
	for _, r := range rejections {
		if _, err := fmt.Fprintf(w, "%s, %s, %s, at row offset, %d\n", ts, sourceFile, r.Message, r.Offset); err != nil {
			return fmt.Errorf("write %s log: %w", category, err)
		}
	}
	return nil
}

// Skipped writes the single line recording an abandoned batch.
func (s *Streams) Skipped(category, sourceFile string, rejected, ceiling int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := fmt.Fprintf(s.writer(category), "%s, %s, Over %d errors (%d), will skip this batch\n",
		s.now().Format(timestampLayout), sourceFile, ceiling, rejected)
	if err != nil {
		return fmt.Errorf("write %s log: %w", category, err)
	}
	return nil
}

// Close flushes and closes every open stream.
func (s *Streams) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for category, w := range s.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.writers, category)
	}
	return firstErr
}
