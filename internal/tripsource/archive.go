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

package tripsource

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"
)

const junkFolder = "__MACOSX"

// Archive is an opened trip archive.
type Archive struct {
	zr *zip.ReadCloser
}

// Entry is one data file inside an archive.
type Entry struct {
	Name string
	file *zip.File
}

func (e Entry) Open() (io.ReadCloser, error) {
	return e.file.Open()
}

func OpenArchive(filename string) (*Archive, error) {
	zr, err := zip.OpenReader(filename)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", filename, err)
	}
	return &Archive{zr: zr}, nil
}

// Entries returns the CSV entries of the archive in stored order, skipping
// folders and resource-fork junk.
func (a *Archive) Entries() []Entry {
	var out []Entry
	for _, f := range a.zr.File {
		if !IsDataEntry(f.Name) || f.FileInfo().IsDir() {
			continue
		}
		out = append(out, Entry{Name: f.Name, file: f})
	}
	return out
}

func (a *Archive) Close() error {
	return a.zr.Close()
}

// IsDataEntry reports whether an archive entry name holds trip data.
func IsDataEntry(name string) bool {
	if strings.Contains(name, junkFolder) {
		return false
	}
	return strings.EqualFold(path.Ext(name), ".csv")
}
