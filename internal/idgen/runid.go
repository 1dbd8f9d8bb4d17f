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

// Package idgen issues run identifiers. Ids grow with time, so sorting the
// ledger by run id orders loads chronologically.
package idgen

import (
	"errors"
	"fmt"
	"time"

	"github.com/sony/sonyflake"
)

// Epoch is the zero point of every run id.
var Epoch = time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)

type RunIDGenerator struct {
	sf *sonyflake.Sonyflake
}

// NewRunIDGenerator builds a generator. machineID pins the low bits; zero
// lets sonyflake derive them from the host's private address.
func NewRunIDGenerator(machineID uint16) (*RunIDGenerator, error) {
	settings := sonyflake.Settings{StartTime: Epoch}
	if machineID != 0 {
		settings.MachineID = func() (uint16, error) { return machineID, nil }
	}

	sf, err := sonyflake.New(settings)
	if err != nil {
		return nil, fmt.Errorf("create run id generator: %w", err)
	}
	if sf == nil {
		return nil, errors.New("failed to create Sonyflake instance")
	}
	return &RunIDGenerator{sf: sf}, nil
}

func (g *RunIDGenerator) Next() (int64, error) {
	v, err := g.sf.NextID()
	if err != nil {
		return 0, fmt.Errorf("next run id: %w", err)
	}
	return int64(v), nil
}

// Started returns when the run with the given id began.
func Started(id int64) time.Time {
	elapsed := sonyflake.ElapsedTime(uint64(id))
	return Epoch.Add(elapsed)
}
