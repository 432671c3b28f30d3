// Copyright 2025 The pyrelay Authors
// This file is part of the pyrelay library.
//
// The pyrelay library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The pyrelay library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the pyrelay library. If not, see <http://www.gnu.org/licenses/>.

package core

import (
	"context"
	"math/rand"
	"time"

	"github.com/pyrelay/pyrelay/params"
)

// submitDelay returns the backoff before retry attempt (1-based):
// min(max, base*2^(attempt-1)) plus a uniform jitter.
func submitDelay(attempt int) time.Duration {
	base := time.Duration(params.SubmitRetryBaseMillis) * time.Millisecond
	max := time.Duration(params.SubmitRetryMaxMillis) * time.Millisecond
	d := base << uint(attempt-1)
	if d > max || d <= 0 {
		d = max
	}
	jitter := time.Duration(rand.Int63n(params.SubmitJitterMillis)) * time.Millisecond
	return d + jitter
}

// retrySubmit runs op up to 1+MaxSubmitRetries times, sleeping the
// backoff between attempts. retryable decides whether an error is worth
// another attempt; sleep is injectable for tests.
func retrySubmit(ctx context.Context, sleep func(context.Context, time.Duration) error, retryable func(error) bool, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= params.MaxSubmitRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, submitDelay(attempt)); err != nil {
				return err
			}
		}
		if lastErr = op(); lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// sleepCtx waits d or until the context ends.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
