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

package warehouse

import (
	"fmt"
	"strconv"
)

// AsInt64 converts a scanned column value to int64. Drivers and the in-memory
// store hand back different integer widths for the same logical column.
func AsInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	case nil:
		return 0, fmt.Errorf("null integer value")
	default:
		return 0, fmt.Errorf("unexpected integer type %T", v)
	}
}

// AsString converts a scanned column value to string. NULL becomes "".
func AsString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(s)
	}
}

// AsFloat64 converts a scanned column value to float64.
func AsFloat64(v any) (float64, error) {
	switch f := v.(type) {
	case float64:
		return f, nil
	case float32:
		return float64(f), nil
	case int64, int32, int16, int:
		n, err := AsInt64(f)
		return float64(n), err
	case string:
		return strconv.ParseFloat(f, 64)
	case nil:
		return 0, fmt.Errorf("null float value")
	default:
		return 0, fmt.Errorf("unexpected float type %T", v)
	}
}
