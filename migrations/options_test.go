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

package migrations

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDefaults(t *testing.T) {
	opts := Resolve()
	assert.Equal(t, CheckModeWait, opts.Mode)
	assert.Equal(t, 2*time.Minute, opts.Timeout)
	assert.Equal(t, 5*time.Second, opts.RetryInterval)
	assert.False(t, opts.AllowDirty)
}

func TestResolveAppliesInOrder(t *testing.T) {
	opts := Resolve(
		WithCheckMode(CheckModeWarn),
		WithTimeout(time.Second),
		WithRetryInterval(10*time.Millisecond),
		WithAllowDirty(true),
		WithCheckMode(CheckModeSkip),
	)
	assert.Equal(t, CheckModeSkip, opts.Mode)
	assert.Equal(t, time.Second, opts.Timeout)
	assert.Equal(t, 10*time.Millisecond, opts.RetryInterval)
	assert.True(t, opts.AllowDirty)
}

func TestParseCheckMode(t *testing.T) {
	for _, mode := range []CheckMode{CheckModeWait, CheckModeWarn, CheckModeSkip} {
		got, err := ParseCheckMode(mode.String())
		require.NoError(t, err)
		assert.Equal(t, mode, got)
	}

	got, err := ParseCheckMode("")
	require.NoError(t, err)
	assert.Equal(t, CheckModeWait, got)

	_, err = ParseCheckMode("later")
	assert.Error(t, err)
}
