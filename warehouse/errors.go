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
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrResourceExhausted marks a store failure caused by a temporary shortage
// of server resources (undo/WAL space, memory, connections). Such failures
// tend to clear once concurrent transactions finish.
var ErrResourceExhausted = errors.New("warehouse resources exhausted")

// IsTransient reports whether err is a whole-call failure worth retrying
// unchanged, as opposed to a rejection of specific records.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrResourceExhausted) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := pgErr.Code
		return pgerrcode.IsInsufficientResources(code) ||
			pgerrcode.IsConnectionException(code) ||
			pgerrcode.IsTransactionRollback(code) ||
			code == pgerrcode.CannotConnectNow ||
			code == pgerrcode.AdminShutdown
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	return pgconn.Timeout(err) || pgconn.SafeToRetry(err)
}

// IsUniqueViolation reports whether the row was refused because its key
// already exists.
func (r Rejection) IsUniqueViolation() bool {
	return r.Code == pgerrcode.UniqueViolation
}

// RejectionCode is the SQLSTATE of a per-row store error, if it has one.
func RejectionCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// RejectionMessage renders a per-row store error the way it is written to
// the quarantine log.
func RejectionMessage(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Detail != "" {
			return fmt.Sprintf("%s: %s (SQLSTATE %s)", pgErr.Message, pgErr.Detail, pgErr.Code)
		}
		return fmt.Sprintf("%s (SQLSTATE %s)", pgErr.Message, pgErr.Code)
	}
	return err.Error()
}
