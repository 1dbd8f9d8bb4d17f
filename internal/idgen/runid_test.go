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

package idgen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunIDsIncrease(t *testing.T) {
	gen, err := NewRunIDGenerator(7)
	require.NoError(t, err)

	id, err := gen.Next()
	require.NoError(t, err)
	id2, err := gen.Next()
	require.NoError(t, err)

	assert.Positive(t, id)
	assert.Greater(t, id2, id)
}

func TestStarted(t *testing.T) {
	gen, err := NewRunIDGenerator(7)
	require.NoError(t, err)

	before := time.Now()
	id, err := gen.Next()
	require.NoError(t, err)

	assert.WithinDuration(t, before, Started(id), time.Second)
}
