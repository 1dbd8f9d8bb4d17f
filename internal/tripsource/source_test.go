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
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBucket struct {
	pages   [][]string
	objects map[string][]byte
	calls   int
}

func (f *fakeBucket) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	page := 0
	if in.ContinuationToken != nil {
		_, _ = fmt.Sscanf(*in.ContinuationToken, "%d", &page)
	}
	f.calls++
	out := &s3.ListObjectsV2Output{}
	for _, key := range f.pages[page] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
	}
	if page+1 < len(f.pages) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(fmt.Sprint(page + 1))
	}
	return out, nil
}

func (f *fakeBucket) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	n := int64(len(data))
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(n),
		ContentRange:  aws.String(fmt.Sprintf("bytes 0-%d/%d", n-1, n)),
	}, nil
}

func TestListFollowsPages(t *testing.T) {
	bucket := &fakeBucket{pages: [][]string{{"a.zip", "b.zip"}, {"c.zip"}}}
	src := NewWithAPI(bucket, "tripdata", t.TempDir())

	keys, err := src.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.zip", "b.zip", "c.zip"}, keys)
	assert.Equal(t, 2, bucket.calls)
}

func TestDownload(t *testing.T) {
	bucket := &fakeBucket{objects: map[string][]byte{"201901-citibike-tripdata.zip": []byte("zipbytes")}}
	dir := t.TempDir()
	src := NewWithAPI(bucket, "tripdata", dir)

	path, size, err := src.Download(context.Background(), "201901-citibike-tripdata.zip")
	require.NoError(t, err)
	assert.Equal(t, int64(8), size)
	assert.Equal(t, dir, filepath.Dir(path))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "zipbytes", string(got))
}

func TestDownloadMissingRemovesTempFile(t *testing.T) {
	dir := t.TempDir()
	src := NewWithAPI(&fakeBucket{}, "tripdata", dir)

	_, _, err := src.Download(context.Background(), "nope.zip")
	assert.ErrorIs(t, err, ErrNotFound)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFilterSelect(t *testing.T) {
	f := Filter{
		Years:           []int{2018, 2019},
		ExcludePrefixes: []string{"JC"},
		ExcludeFiles:    []string{"201307-201402-citibike-tripdata.zip"},
	}
	keys := []string{
		"JC-201901-citibike-tripdata.csv.zip",
		"201701-citibike-tripdata.zip",
		"201901-citibike-tripdata.zip",
		"201307-201402-citibike-tripdata.zip",
		"201812-citibike-tripdata.zip",
		"201902-citibike-tripdata.zip",
		"index.html",
	}
	processed := map[string]bool{"201902-citibike-tripdata.zip": true}

	got := f.Select(keys, func(k string) bool { return processed[k] })
	assert.Equal(t, []string{"201901-citibike-tripdata.zip", "201812-citibike-tripdata.zip"}, got)
}

func TestFilterWithoutYearsKeepsAll(t *testing.T) {
	got := Filter{}.Select([]string{"a.zip", "b.zip"}, func(string) bool { return false })
	assert.Equal(t, []string{"b.zip", "a.zip"}, got)
}

func writeZip(t *testing.T, entries map[string]string, order []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, name := range order {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(entries[name]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestArchiveEntries(t *testing.T) {
	entries := map[string]string{
		"201901-citibike-tripdata.csv":            "a,b\n",
		"__MACOSX/._201901-citibike-tripdata.csv": "junk",
		"README.txt":                              "hello",
		"part2/201901-b.CSV":                      "c,d\n",
	}
	order := []string{
		"201901-citibike-tripdata.csv",
		"__MACOSX/._201901-citibike-tripdata.csv",
		"README.txt",
		"part2/201901-b.CSV",
	}
	archive, err := OpenArchive(writeZip(t, entries, order))
	require.NoError(t, err)
	defer func() { _ = archive.Close() }()

	got := archive.Entries()
	require.Len(t, got, 2)
	assert.Equal(t, "201901-citibike-tripdata.csv", got[0].Name)
	assert.Equal(t, "part2/201901-b.CSV", got[1].Name)

	rc, err := got[0].Open()
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "a,b\n", string(data))
}

func TestOpenArchiveRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.zip")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o644))
	_, err := OpenArchive(path)
	assert.Error(t, err)
}
