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
	"github.com/cardinalhq/tripwarehouse/internal/geocode"
	"github.com/cardinalhq/tripwarehouse/internal/loader"
	"github.com/cardinalhq/tripwarehouse/internal/pipeline"
	"github.com/cardinalhq/tripwarehouse/internal/quarantine"
	"github.com/cardinalhq/tripwarehouse/internal/stationfeed"
	"github.com/cardinalhq/tripwarehouse/internal/tripcsv"
	"github.com/cardinalhq/tripwarehouse/internal/tripsource"
)

const (
	DefaultBucket            = tripsource.DefaultBucket
	DefaultRegion            = tripsource.DefaultRegion
	ReconciledArchive        = pipeline.ReconciledArchive
	DefaultVariant           = pipeline.DefaultVariant
	DefaultChunkSize         = loader.DefaultChunkSize
	DefaultRejectionCeiling  = quarantine.DefaultCeiling
	DefaultRetryAttempts     = quarantine.DefaultRetryAttempts
	DefaultRetryInterval     = quarantine.DefaultRetryInterval
	DefaultGeocodeURL        = geocode.DefaultBaseURL
	DefaultStationFeedURL    = stationfeed.DefaultURL
	DefaultBirthYearSentinel = tripcsv.DefaultBirthYearSentinel
)
