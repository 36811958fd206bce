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
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Option is a functional option for configuring a Link
type Option func(*Link) error

// WithLogger sets the logger for the link and everything it spawns
func WithLogger(log *zap.Logger) Option {
	return func(l *Link) error {
		if log == nil {
			return fmt.Errorf("%w: nil logger", ErrInvalidParameter)
		}
		l.log = log
		return nil
	}
}

// WithConn pins a specific Conn instead of consulting the scheme registry.
// Used for dependency-injected transports and for tests.
func WithConn(conn Conn) Option {
	return func(l *Link) error {
		if conn == nil {
			return fmt.Errorf("%w: nil conn", ErrInvalidParameter)
		}
		l.pinned = conn
		return nil
	}
}

// WithRetryConfig sets the retry configuration for send operations
func WithRetryConfig(config *RetryConfig) Option {
	return func(l *Link) error {
		if config == nil {
			config = DefaultRetryConfig()
		}
		l.retry = config
		return nil
	}
}

// WithSendTimeout bounds one payload transmission including local retries.
// Zero disables the bound.
func WithSendTimeout(timeout time.Duration) Option {
	return func(l *Link) error {
		if timeout < 0 {
			return fmt.Errorf("%w: negative send timeout", ErrInvalidParameter)
		}
		l.sendTimeout = timeout
		return nil
	}
}

// WithMaxRetries sets the maximum number of send attempts
func WithMaxRetries(maxAttempts int) Option {
	return func(l *Link) error {
		if l.retry == nil {
			l.retry = DefaultRetryConfig()
		}
		l.retry.MaxAttempts = maxAttempts
		return nil
	}
}

// WithRetryBackoff sets the initial backoff duration between send attempts
func WithRetryBackoff(initialBackoff time.Duration) Option {
	return func(l *Link) error {
		if l.retry == nil {
			l.retry = DefaultRetryConfig()
		}
		l.retry.InitialBackoff = initialBackoff
		return nil
	}
}
