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

// Package xfer classifies raw transfer outcomes into directives that drive
// a transport's read/write loop: keep going, stop and report a state, or
// stop quietly and let the caller re-establish the channel.
package xfer

import (
	"context"
	"errors"
	"sync"
	"time"

	termlink "github.com/TermlinkProject/go-termlink"
)

// Driver result codes carried in Result.Code when negative. Non-negative
// codes are transferred byte counts.
const (
	CodeTimeout      = -1
	CodeFailed       = -2
	CodeDisconnected = -3
)

// Kind identifies what a single transfer outcome means.
type Kind int

const (
	KindOK Kind = iota
	KindTimeout
	KindTransferError
	KindPartialTransfer
	KindDisconnected
	KindUnknown
)

// String returns a human-readable name for the outcome kind.
func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindTimeout:
		return "timeout"
	case KindTransferError:
		return "transfer_error"
	case KindPartialTransfer:
		return "partial_transfer"
	case KindDisconnected:
		return "disconnected"
	case KindUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Action tells the transfer loop what to do next.
type Action int

const (
	// ActionContinue retries after Directive.Delay.
	ActionContinue Action = iota
	// ActionBreakReport stops the loop and reports Directive.State.
	ActionBreakReport
	// ActionBreakSilent stops the loop without a state change. Used when the
	// channel is expected to drop, such as during a cable protocol switch.
	ActionBreakSilent
)

// Result is one raw transfer outcome as seen by a transport.
type Result struct {
	// Code is the transferred byte count, or a negative driver code.
	Code int
	// Expected is the byte count a complete transfer would have moved.
	// Zero means any non-negative count is acceptable.
	Expected int
	// Connected reports whether the channel object is still open.
	Connected bool
}

// Directive is the classifier's decision for one Result.
type Directive struct {
	Kind   Kind
	Action Action
	// Delay before the next attempt. Meaningful for ActionContinue.
	Delay time.Duration
	// State to report. Meaningful for ActionBreakReport.
	State termlink.ConnectionState
}

// Config tunes the classification policy.
type Config struct {
	// MaxConsecutive is the number of uninterrupted transfer-error or
	// unknown outcomes that terminates the loop with an error state.
	MaxConsecutive int
	// RetryDelay spaces out retries of recoverable outcomes.
	RetryDelay time.Duration
	// GraceWindow tolerates device disconnects shortly after the channel
	// was established, when some cables re-enumerate.
	GraceWindow time.Duration
	// SwitchWindow tolerates device disconnects around a cable protocol
	// switch. Configured separately from GraceWindow but shares its
	// default.
	SwitchWindow time.Duration
}

// Policy defaults.
const (
	DefaultMaxConsecutive  = 5
	DefaultRetryDelay      = 100 * time.Millisecond
	DefaultToleranceWindow = 2 * time.Second
)

func (c Config) withDefaults() Config {
	if c.MaxConsecutive <= 0 {
		c.MaxConsecutive = DefaultMaxConsecutive
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.GraceWindow <= 0 {
		c.GraceWindow = DefaultToleranceWindow
	}
	if c.SwitchWindow <= 0 {
		c.SwitchWindow = DefaultToleranceWindow
	}
	return c
}

// Stats is a snapshot of the error counters.
type Stats struct {
	// Consecutive counts uninterrupted transfer-error/unknown outcomes.
	Consecutive int
	// Total counts all non-OK outcomes since the last success.
	Total int
	// LastError is when the most recent non-OK outcome was observed.
	LastError time.Time
}

// Classifier maps transfer results to loop directives. Counters reset on
// every successful transfer. Safe for concurrent use.
type Classifier struct {
	cfg         Config
	mu          sync.Mutex
	consecutive int
	total       int
	lastError   time.Time
	connectedAt time.Time
	switchingAt time.Time
}

// New returns a Classifier with zero config fields replaced by defaults.
func New(cfg Config) *Classifier {
	return &Classifier{cfg: cfg.withDefaults()}
}

// MarkConnected records channel establishment, opening the grace window.
func (c *Classifier) MarkConnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectedAt = time.Now()
}

// MarkSwitching records the start of a cable protocol switch, opening the
// switch tolerance window.
func (c *Classifier) MarkSwitching() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.switchingAt = time.Now()
}

// Reset clears all counters and tolerance windows, preparing the
// classifier for a fresh channel.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutive = 0
	c.total = 0
	c.lastError = time.Time{}
	c.connectedAt = time.Time{}
	c.switchingAt = time.Time{}
}

// Stats returns a snapshot of the current error counters.
func (c *Classifier) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Consecutive: c.consecutive,
		Total:       c.total,
		LastError:   c.lastError,
	}
}

// Classify maps one transfer result to a directive and updates the
// counters.
func (c *Classifier) Classify(res Result) Directive {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()

	// A closed channel is never retried here. Recovery belongs to the
	// reconnect layer.
	if !res.Connected {
		c.noteError(now)
		return Directive{
			Kind:   KindDisconnected,
			Action: ActionBreakReport,
			State:  termlink.StateDisconnected,
		}
	}

	kind := kindOf(res)
	switch kind {
	case KindOK:
		c.consecutive = 0
		c.total = 0
		c.lastError = time.Time{}
		return Directive{Kind: KindOK, Action: ActionContinue}

	case KindTimeout:
		// Idle cycles are normal. Timeouts neither bump nor reset the
		// consecutive counter.
		c.noteError(now)
		return Directive{Kind: KindTimeout, Action: ActionContinue}

	case KindPartialTransfer:
		c.noteError(now)
		return Directive{
			Kind:   KindPartialTransfer,
			Action: ActionContinue,
			Delay:  c.cfg.RetryDelay,
		}

	case KindDisconnected:
		c.noteError(now)
		if c.withinToleranceLocked(now) {
			return Directive{Kind: KindDisconnected, Action: ActionBreakSilent}
		}
		return Directive{
			Kind:   KindDisconnected,
			Action: ActionBreakReport,
			State:  termlink.StateDisconnected,
		}

	default: // KindTransferError, KindUnknown
		c.consecutive++
		c.noteError(now)
		if c.consecutive >= c.cfg.MaxConsecutive {
			return Directive{
				Kind:   kind,
				Action: ActionBreakReport,
				State:  termlink.StateError,
			}
		}
		return Directive{
			Kind:   kind,
			Action: ActionContinue,
			Delay:  c.cfg.RetryDelay,
		}
	}
}

func (c *Classifier) noteError(now time.Time) {
	c.total++
	c.lastError = now
}

func (c *Classifier) withinToleranceLocked(now time.Time) bool {
	if !c.connectedAt.IsZero() && now.Sub(c.connectedAt) <= c.cfg.GraceWindow {
		return true
	}
	if !c.switchingAt.IsZero() && now.Sub(c.switchingAt) <= c.cfg.SwitchWindow {
		return true
	}
	return false
}

func kindOf(res Result) Kind {
	if res.Code >= 0 {
		switch {
		case res.Expected <= 0 || res.Code == res.Expected:
			return KindOK
		case res.Code < res.Expected:
			return KindPartialTransfer
		default:
			// More bytes than the transfer could have moved points at a
			// misbehaving driver.
			return KindUnknown
		}
	}
	switch res.Code {
	case CodeTimeout:
		return KindTimeout
	case CodeDisconnected:
		return KindDisconnected
	case CodeFailed:
		return KindTransferError
	default:
		return KindUnknown
	}
}

// CodeFor maps a transfer error to its negative driver code for use in
// Result.Code.
func CodeFor(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, termlink.ErrTransportTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, termlink.ErrDisconnected):
		return CodeDisconnected
	default:
		return CodeFailed
	}
}
