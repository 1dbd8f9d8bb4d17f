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

// Package migrations holds the options shared by every schema version check.
package migrations

import (
	"fmt"
	"strings"
	"time"
)

// CheckMode says what to do when the warehouse schema is not at the
// version this binary was built for.
type CheckMode int

const (
	// CheckModeWait polls until the schema catches up, failing after the timeout.
	CheckModeWait CheckMode = iota
	// CheckModeWarn logs the mismatch and carries on.
	CheckModeWarn
	// CheckModeSkip does not look at the schema version.
	CheckModeSkip
)

func (m CheckMode) String() string {
	switch m {
	case CheckModeWait:
		return "wait"
	case CheckModeWarn:
		return "warn"
	case CheckModeSkip:
		return "skip"
	}
	return fmt.Sprintf("CheckMode(%d)", int(m))
}

// ParseCheckMode reads a mode name as used on the command line.
func ParseCheckMode(s string) (CheckMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "wait":
		return CheckModeWait, nil
	case "warn":
		return CheckModeWarn, nil
	case "skip":
		return CheckModeSkip, nil
	}
	return CheckModeWait, fmt.Errorf("unknown migration check mode %q (want wait, warn or skip)", s)
}

type CheckOptions struct {
	Mode          CheckMode
	Timeout       time.Duration
	RetryInterval time.Duration
	AllowDirty    bool
}

type CheckOption func(*CheckOptions)

func WithCheckMode(mode CheckMode) CheckOption {
	return func(opts *CheckOptions) {
		opts.Mode = mode
	}
}

func WithTimeout(timeout time.Duration) CheckOption {
	return func(opts *CheckOptions) {
		opts.Timeout = timeout
	}
}

func WithRetryInterval(interval time.Duration) CheckOption {
	return func(opts *CheckOptions) {
		opts.RetryInterval = interval
	}
}

// WithAllowDirty lets a check pass while a migration is half applied.
func WithAllowDirty(allow bool) CheckOption {
	return func(opts *CheckOptions) {
		opts.AllowDirty = allow
	}
}

// DefaultCheckOptions waits up to two minutes, polling every five seconds.
func DefaultCheckOptions() CheckOptions {
	return CheckOptions{
		Mode:          CheckModeWait,
		Timeout:       2 * time.Minute,
		RetryInterval: 5 * time.Second,
	}
}

// Resolve applies options over the defaults.
func Resolve(options ...CheckOption) CheckOptions {
	opts := DefaultCheckOptions()
	for _, option := range options {
		option(&opts)
	}
	return opts
}
