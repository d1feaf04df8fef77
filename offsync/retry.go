// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"time"
)

// Backoff computes the delay before the next attempt of a failed entry
type Backoff struct {
	Min time.Duration
	Max time.Duration
}

// Delay returns the wait after the given number of failed attempts (1-based).
// The delay doubles per attempt starting at Min and never exceeds Max.
func (b Backoff) Delay(attempts int) time.Duration {
	if b.Min <= 0 || attempts <= 0 {
		return 0
	}
	d := b.Min
	for i := 1; i < attempts; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
