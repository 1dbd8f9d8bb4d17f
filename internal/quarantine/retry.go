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

package quarantine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cardinalhq/tripwarehouse/internal/logctx"
	"github.com/cardinalhq/tripwarehouse/warehouse"
)

// ErrRetriesExhausted wraps the last failure of an operation that stayed
// transient through every attempt.
var ErrRetriesExhausted = errors.New("retries exhausted")

// RetryPolicy retries a whole call at a fixed interval. Only errors the
// Retryable classifier accepts are retried; anything else is returned at
// once.
type RetryPolicy struct {
	MaxAttempts int
	Interval    time.Duration
	Retryable   func(error) bool
	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

const (
	DefaultRetryAttempts = 3
	DefaultRetryInterval = 30 * time.Second
)

// DefaultRetryPolicy is three attempts, thirty seconds apart, on transient
// store failures.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultRetryAttempts,
		Interval:    DefaultRetryInterval,
		Retryable:   warehouse.IsTransient,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry runs op under policy p.
func Retry[T any](ctx context.Context, p RetryPolicy, op func(context.Context) (T, error)) (T, error) {
	attempts := max(p.MaxAttempts, 1)
	retryable := p.Retryable
	if retryable == nil {
		retryable = warehouse.IsTransient
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	ll := logctx.FromContext(ctx)

	var zero T
	for attempt := 1; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			if attempt > 1 {
				ll.Info("Store call succeeded after retry", slog.Int("attempts", attempt))
			}
			return result, nil
		}
		if !retryable(err) {
			return zero, err
		}
		if attempt >= attempts {
			return zero, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
		}

		retries.Add(ctx, 1)
		ll.Warn("Transient store failure, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", p.Interval),
			slog.Any("error", err))
		if err := sleep(ctx, p.Interval); err != nil {
			return zero, err
		}
	}
}
