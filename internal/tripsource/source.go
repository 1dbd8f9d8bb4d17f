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

// Package tripsource lists and fetches the published trip archives.
package tripsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultBucket = "tripdata"
	DefaultRegion = "us-east-1"
)

var (
	meter  = otel.Meter("github.com/cardinalhq/tripwarehouse/internal/tripsource")
	tracer = otel.Tracer("github.com/cardinalhq/tripwarehouse/internal/tripsource")

	downloadBytes metric.Int64Counter
)

func init() {
	var err error
	downloadBytes, err = meter.Int64Counter(
		"tripwarehouse.source.download.bytes",
		metric.WithDescription("Bytes of trip archives downloaded"),
		metric.WithUnit("By"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create download.bytes counter: %w", err))
	}
}

// ErrNotFound is returned when an archive is missing from the bucket.
var ErrNotFound = errors.New("archive not found")

// ObjectAPI is the part of the S3 API the source uses.
type ObjectAPI interface {
	s3.ListObjectsV2APIClient
	manager.DownloadAPIClient
}

type Options struct {
	Bucket string
	Region string
	// Endpoint overrides the S3 endpoint and switches to path-style
	// addressing, for MinIO and similar.
	Endpoint string
	TempDir  string
	// AccessKey and SecretKey are only needed for private mirrors.
	AccessKey string
	SecretKey string
}

// Source lists and downloads archives from one bucket.
type Source struct {
	api     ObjectAPI
	bucket  string
	tempDir string
}

// New builds a source over the trip bucket. Without keys the bucket is
// read anonymously.
func New(ctx context.Context, opts Options) (*Source, error) {
	if opts.Bucket == "" {
		opts.Bucket = DefaultBucket
	}
	if opts.Region == "" {
		opts.Region = DefaultRegion
	}

	var creds aws.CredentialsProvider = aws.AnonymousCredentials{}
	if opts.AccessKey != "" {
		creds = credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")
	}
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(opts.Region),
		config.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	otelaws.AppendMiddlewares(&cfg.APIOptions)

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithAPI(client, opts.Bucket, opts.TempDir), nil
}

// NewWithAPI builds a source over an existing S3 API client.
func NewWithAPI(api ObjectAPI, bucket, tempDir string) *Source {
	return &Source{api: api, bucket: bucket, tempDir: tempDir}
}

// List returns every archive key in the bucket.
func (s *Source) List(ctx context.Context) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			slog.Error("Failed to list trip archives",
				slog.String("bucket", s.bucket),
				slog.Any("error", err))
			return nil, fmt.Errorf("list bucket %s: %w", s.bucket, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// Download fetches key into a temporary file. The caller removes it.
func (s *Source) Download(ctx context.Context, key string) (tmpfile string, size int64, err error) {
	ctx, span := tracer.Start(ctx, "tripsource.Download",
		trace.WithAttributes(
			attribute.String("bucket", s.bucket),
			attribute.String("key", key),
		))
	defer span.End()

	f, err := os.CreateTemp(s.tempDir, "tripdata-*.zip")
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close temp file: %w", closeErr)
		}
		if err != nil {
			span.RecordError(err)
			_ = os.Remove(f.Name())
		}
	}()

	downloader := manager.NewDownloader(s.api)
	size, err = downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return "", 0, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return "", 0, fmt.Errorf("download %s: %w", key, err)
	}

	downloadBytes.Add(ctx, size)
	return f.Name(), size, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey")
}

// Filter selects the archives a pipeline variant loads.
type Filter struct {
	Years           []int
	ExcludePrefixes []string
	ExcludeFiles    []string
}

// Select returns the keys that pass the filter and are not yet processed,
// newest first.
func (f Filter) Select(keys []string, processed func(string) bool) []string {
	var out []string
	for _, key := range keys {
		if !strings.HasSuffix(key, ".zip") || processed(key) || !f.matches(key) {
			continue
		}
		out = append(out, key)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out
}

func (f Filter) matches(key string) bool {
	for _, p := range f.ExcludePrefixes {
		if strings.HasPrefix(key, p) {
			return false
		}
	}
	for _, name := range f.ExcludeFiles {
		if key == name {
			return false
		}
	}
	if len(f.Years) == 0 {
		return true
	}
	year, ok := archiveYear(key)
	if !ok {
		return false
	}
	for _, y := range f.Years {
		if y == year {
			return true
		}
	}
	return false
}

// archiveYear reads the year from a key like 201907-citibike-tripdata.zip.
func archiveYear(key string) (int, bool) {
	if len(key) < 4 {
		return 0, false
	}
	year, err := strconv.Atoi(key[:4])
	return year, err == nil
}
