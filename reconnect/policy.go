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

package reconnect

import (
	"time"

	termlink "github.com/TermlinkProject/go-termlink"
)

// Policy defaults applied when a descriptor enables reconnection without
// spelling out the details.
const (
	// DefaultMaxAttempts bounds retries per disconnection episode.
	DefaultMaxAttempts = 5
	// DefaultDelay is the base delay before the first retry.
	DefaultDelay = 2 * time.Second
	// DefaultMaxDelay caps the grown delay when exponential backoff is on.
	DefaultMaxDelay = 60 * time.Second
)

// Growth factor and jitter fraction for exponential backoff. Kept in line
// with the transfer retry defaults so both retry surfaces feel the same.
const (
	backoffMultiplier = 2.0
	backoffJitter     = 0.1
)

// normalizePolicy fills in defaults for an enabled policy. MaxAttempts < 0
// means unlimited retries and is passed through unchanged.
func normalizePolicy(p termlink.ReconnectPolicy) termlink.ReconnectPolicy {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Delay <= 0 {
		p.Delay = DefaultDelay
	}
	return p
}

// retryDelay computes the delay preceding the given attempt. Without backoff
// every attempt waits the policy delay exactly; with backoff the delay grows
// like the transfer retry curve, jittered and capped at DefaultMaxDelay.
func retryDelay(p termlink.ReconnectPolicy, attempt int) time.Duration {
	rc := termlink.RetryConfig{
		InitialBackoff:    p.Delay,
		MaxBackoff:        p.Delay,
		BackoffMultiplier: 1,
	}
	if p.Backoff {
		rc.BackoffMultiplier = backoffMultiplier
		rc.MaxBackoff = DefaultMaxDelay
		rc.Jitter = backoffJitter
	}
	return rc.AttemptDelay(attempt)
}
