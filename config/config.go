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

package config

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates configuration for a tripwarehouse run.
type Config struct {
	Source   SourceConfig   `mapstructure:"source"`
	Load     LoadConfig     `mapstructure:"load"`
	Logs     LogsConfig     `mapstructure:"logs"`
	Geocode  GeocodeConfig  `mapstructure:"geocode"`
	Stations StationsConfig `mapstructure:"stations"`
	Variant  VariantConfig  `mapstructure:"variant"`
	Clean    CleanConfig    `mapstructure:"clean"`
}

type SourceConfig struct {
	Bucket        string   `mapstructure:"bucket"`
	Region        string   `mapstructure:"region"`
	Endpoint      string   `mapstructure:"endpoint"`
	AccessKey     string   `mapstructure:"access_key"`
	SecretKey     string   `mapstructure:"secret_key"`
	ExcludedFiles []string `mapstructure:"excluded_files"`
	TempDir       string   `mapstructure:"temp_dir"`
}

type LoadConfig struct {
	ChunkSize        int         `mapstructure:"chunk_size"`
	RejectionCeiling int         `mapstructure:"rejection_ceiling"`
	Retry            RetryConfig `mapstructure:"retry"`
	DryRun           bool        `mapstructure:"dry_run"`
	Limit            int         `mapstructure:"limit"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Interval    time.Duration `mapstructure:"interval"`
}

// LogsConfig places the quarantine log streams.
type LogsConfig struct {
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

type GeocodeConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Timeout           time.Duration `mapstructure:"timeout"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
}

type StationsConfig struct {
	FeedURL      string `mapstructure:"feed_url"`
	UpdatePolicy string `mapstructure:"update_policy"`
}

type VariantConfig struct {
	Name string `mapstructure:"name"`
	File string `mapstructure:"file"`
}

type CleanConfig struct {
	BirthYearSentinel int64  `mapstructure:"birth_year_sentinel"`
	Encoding          string `mapstructure:"encoding"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Source: SourceConfig{
			Bucket:        DefaultBucket,
			Region:        DefaultRegion,
			ExcludedFiles: []string{ReconciledArchive},
		},
		Load: LoadConfig{
			ChunkSize:        DefaultChunkSize,
			RejectionCeiling: DefaultRejectionCeiling,
			Retry: RetryConfig{
				MaxAttempts: DefaultRetryAttempts,
				Interval:    DefaultRetryInterval,
			},
		},
		Logs: LogsConfig{
			Dir:        "./log",
			MaxSizeMB:  100,
			MaxBackups: 5,
		},
		Geocode: GeocodeConfig{
			BaseURL:           DefaultGeocodeURL,
			RequestsPerSecond: 10,
			Timeout:           10 * time.Second,
			CacheTTL:          24 * time.Hour,
		},
		Stations: StationsConfig{
			FeedURL:      DefaultStationFeedURL,
			UpdatePolicy: "never",
		},
		Variant: VariantConfig{Name: DefaultVariant},
		Clean: CleanConfig{
			BirthYearSentinel: DefaultBirthYearSentinel,
			Encoding:          "windows-1252",
		},
	}
}

// Load reads configuration from config.yaml in the working directory and
// from environment variables.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. Environment variables use
// the prefix "TRIPWAREHOUSE" and the dot character in keys is replaced by
// an underscore. For example, "load.retry.interval" becomes
// "TRIPWAREHOUSE_LOAD_RETRY_INTERVAL".
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("TRIPWAREHOUSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	if err := v.ReadInConfig(); err != nil {
		// A missing default config.yaml is fine; a named file must exist.
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(slices.Clone(parts), tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
