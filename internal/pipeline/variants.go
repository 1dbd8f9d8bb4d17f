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

package pipeline

import (
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/cardinalhq/tripwarehouse/internal/tripsource"
)

// Fact table names a variant can load.
const (
	FactBikeUsage = "bikeusage"
	FactRidership = "ridership"
)

// Variant selects which archives are loaded and which facts they feed.
type Variant struct {
	Name            string   `yaml:"name"`
	Years           []int    `yaml:"years"`
	ExcludePrefixes []string `yaml:"exclude_prefixes"`
	ExcludeFiles    []string `yaml:"exclude_files"`
	Facts           []string `yaml:"facts"`
	// GeocodeStations enriches new stations. Without it stations have no
	// borough and, when RequireBorough is set, their trips are dropped.
	GeocodeStations bool `yaml:"geocode_stations"`
	RequireBorough  bool `yaml:"require_borough"`
}

// ReconciledArchive was repaired by hand and is never loaded.
const ReconciledArchive = "201307-201402-citibike-tripdata.zip"

const DefaultVariant = "nyc-2018"

// DefaultVariants are the built in variants.
func DefaultVariants() map[string]Variant {
	return map[string]Variant{
		"nyc-2018": {
			Name:            "nyc-2018",
			Years:           []int{2018, 2019, 2020, 2021},
			ExcludePrefixes: []string{"JC"},
			ExcludeFiles:    []string{ReconciledArchive},
			Facts:           []string{FactBikeUsage, FactRidership},
			GeocodeStations: true,
			RequireBorough:  true,
		},
		"nyc-ridership": {
			Name:            "nyc-ridership",
			Years:           []int{2018, 2019, 2020, 2021},
			ExcludePrefixes: []string{"JC"},
			ExcludeFiles:    []string{ReconciledArchive},
			Facts:           []string{FactRidership},
		},
		"nyc-all": {
			Name:            "nyc-all",
			ExcludePrefixes: []string{"JC"},
			ExcludeFiles:    []string{ReconciledArchive},
			Facts:           []string{FactBikeUsage, FactRidership},
			GeocodeStations: true,
			RequireBorough:  true,
		},
	}
}

type variantFile struct {
	Variants []Variant `yaml:"variants"`
}

// LoadVariants reads a YAML variant table. Its variants are added to the
// built in ones, replacing any with the same name.
func LoadVariants(r io.Reader) (map[string]Variant, error) {
	var vf variantFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&vf); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode variants: %w", err)
	}

	out := DefaultVariants()
	for _, v := range vf.Variants {
		if err := v.Validate(); err != nil {
			return nil, err
		}
		out[v.Name] = v
	}
	return out, nil
}

func LoadVariantsFile(path string) (map[string]Variant, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open variants: %w", err)
	}
	defer func() { _ = f.Close() }()
	return LoadVariants(f)
}

// SelectVariant returns the named variant from file, or from the built in
// table when file is empty.
func SelectVariant(name, file string) (Variant, error) {
	variants := DefaultVariants()
	if file != "" {
		var err error
		if variants, err = LoadVariantsFile(file); err != nil {
			return Variant{}, err
		}
	}
	if name == "" {
		name = DefaultVariant
	}
	v, ok := variants[name]
	if !ok {
		return Variant{}, fmt.Errorf("unknown variant %q", name)
	}
	return v, nil
}

func (v Variant) Validate() error {
	if v.Name == "" {
		return fmt.Errorf("variant without a name")
	}
	if len(v.Facts) == 0 {
		return fmt.Errorf("variant %s loads no facts", v.Name)
	}
	for _, f := range v.Facts {
		if f != FactBikeUsage && f != FactRidership {
			return fmt.Errorf("variant %s: unknown fact %q", v.Name, f)
		}
	}
	if v.RequireBorough && !v.GeocodeStations {
		return fmt.Errorf("variant %s requires boroughs but does not geocode stations", v.Name)
	}
	return nil
}

func (v Variant) Loads(fact string) bool {
	return slices.Contains(v.Facts, fact)
}

func (v Variant) Filter() tripsource.Filter {
	return tripsource.Filter{
		Years:           v.Years,
		ExcludePrefixes: v.ExcludePrefixes,
		ExcludeFiles:    v.ExcludeFiles,
	}
}
