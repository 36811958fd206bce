// go-termlink
// Copyright (c) 2025 The Termlink Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-termlink.
//
// go-termlink is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-termlink is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-termlink; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package termlink

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryConfig configures retry behavior for transient transport failures
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first
	MaxAttempts int
	// InitialBackoff is the delay before the first retry
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between retries
	MaxBackoff time.Duration
	// BackoffMultiplier scales the delay after every retry
	BackoffMultiplier float64
	// Jitter is the random fraction (0..1) added to or subtracted from each delay
	Jitter float64
	// RetryTimeout bounds the total time spent across all attempts
	RetryTimeout time.Duration
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
		RetryTimeout:      10 * time.Second,
	}
}

// DelayFor returns the backoff delay preceding the given retry attempt
// (attempt 1 is the first retry), without jitter.
func (c *RetryConfig) DelayFor(attempt int) time.Duration {
	if attempt < 1 || c.InitialBackoff <= 0 {
		return 0
	}
	delay := c.InitialBackoff
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * c.BackoffMultiplier)
		if c.MaxBackoff > 0 && delay >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	if c.MaxBackoff > 0 && delay > c.MaxBackoff {
		delay = c.MaxBackoff
	}
	return delay
}

// AttemptDelay returns the jittered backoff delay preceding the given retry
// attempt. Reconnection scheduling uses it to space automatic attempts with
// the same growth curve RetryWithConfig applies to transfer retries.
func (c *RetryConfig) AttemptDelay(attempt int) time.Duration {
	return c.jittered(c.DelayFor(attempt))
}

// jittered applies the configured jitter fraction to a delay.
func (c *RetryConfig) jittered(delay time.Duration) time.Duration {
	if c.Jitter <= 0 || delay <= 0 {
		return delay
	}
	span := float64(delay) * c.Jitter
	return delay + time.Duration((rand.Float64()*2-1)*span)
}

// RetryWithConfig executes fn, retrying retryable failures according to
// config. A nil config uses DefaultRetryConfig. The last error is returned
// once attempts or the retry timeout are exhausted; non-retryable errors
// stop immediately.
func RetryWithConfig(ctx context.Context, config *RetryConfig, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if config.RetryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.RetryTimeout)
		defer cancel()
	}

	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	delay := config.InitialBackoff
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry aborted: %w", ctx.Err())
			case <-time.After(config.jittered(delay)):
			}
			delay = time.Duration(float64(delay) * config.BackoffMultiplier)
			if config.MaxBackoff > 0 && delay > config.MaxBackoff {
				delay = config.MaxBackoff
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
