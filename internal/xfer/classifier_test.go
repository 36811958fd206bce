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

package xfer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	termlink "github.com/TermlinkProject/go-termlink"
)

func TestClassify_Kinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		res  Result
		want Kind
	}{
		{
			name: "exact count is ok",
			res:  Result{Code: 8, Expected: 8, Connected: true},
			want: KindOK,
		},
		{
			name: "any count is ok when expected is zero",
			res:  Result{Code: 3, Expected: 0, Connected: true},
			want: KindOK,
		},
		{
			name: "short count is partial",
			res:  Result{Code: 3, Expected: 8, Connected: true},
			want: KindPartialTransfer,
		},
		{
			name: "overlong count is unknown",
			res:  Result{Code: 9, Expected: 8, Connected: true},
			want: KindUnknown,
		},
		{
			name: "timeout code",
			res:  Result{Code: CodeTimeout, Connected: true},
			want: KindTimeout,
		},
		{
			name: "failure code",
			res:  Result{Code: CodeFailed, Connected: true},
			want: KindTransferError,
		},
		{
			name: "disconnect code",
			res:  Result{Code: CodeDisconnected, Connected: true},
			want: KindDisconnected,
		},
		{
			name: "unrecognized negative code",
			res:  Result{Code: -99, Connected: true},
			want: KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := New(Config{})
			got := c.Classify(tt.res)
			assert.Equal(t, tt.want, got.Kind)
		})
	}
}

func TestClassify_ClosedChannelAlwaysReportsDisconnected(t *testing.T) {
	t.Parallel()
	c := New(Config{GraceWindow: time.Hour})
	c.MarkConnected()

	// Grace tolerance never applies to a closed channel object.
	d := c.Classify(Result{Code: CodeDisconnected, Connected: false})
	assert.Equal(t, ActionBreakReport, d.Action)
	assert.Equal(t, termlink.StateDisconnected, d.State)
}

func TestClassify_ConsecutiveErrorsBreakWithError(t *testing.T) {
	t.Parallel()
	c := New(Config{MaxConsecutive: 5})

	for i := 0; i < 4; i++ {
		d := c.Classify(Result{Code: CodeFailed, Connected: true})
		assert.Equal(t, ActionContinue, d.Action, "error %d should continue", i+1)
		assert.Equal(t, DefaultRetryDelay, d.Delay)
	}

	d := c.Classify(Result{Code: CodeFailed, Connected: true})
	assert.Equal(t, ActionBreakReport, d.Action)
	assert.Equal(t, termlink.StateError, d.State)
}

func TestClassify_UnknownCountsTowardThreshold(t *testing.T) {
	t.Parallel()
	c := New(Config{MaxConsecutive: 3})

	c.Classify(Result{Code: CodeFailed, Connected: true})
	c.Classify(Result{Code: -99, Connected: true})
	d := c.Classify(Result{Code: CodeFailed, Connected: true})

	assert.Equal(t, ActionBreakReport, d.Action)
	assert.Equal(t, termlink.StateError, d.State)
}

func TestClassify_TimeoutDoesNotResetConsecutive(t *testing.T) {
	t.Parallel()
	c := New(Config{MaxConsecutive: 3})

	c.Classify(Result{Code: CodeFailed, Connected: true})
	c.Classify(Result{Code: CodeFailed, Connected: true})

	d := c.Classify(Result{Code: CodeTimeout, Connected: true})
	assert.Equal(t, ActionContinue, d.Action)

	d = c.Classify(Result{Code: CodeFailed, Connected: true})
	assert.Equal(t, ActionBreakReport, d.Action)
}

func TestClassify_SuccessResetsCounters(t *testing.T) {
	t.Parallel()
	c := New(Config{MaxConsecutive: 3})

	c.Classify(Result{Code: CodeFailed, Connected: true})
	c.Classify(Result{Code: CodeFailed, Connected: true})
	c.Classify(Result{Code: 4, Expected: 4, Connected: true})

	stats := c.Stats()
	assert.Zero(t, stats.Consecutive)
	assert.Zero(t, stats.Total)
	assert.True(t, stats.LastError.IsZero())

	// The streak starts over after a success.
	c.Classify(Result{Code: CodeFailed, Connected: true})
	c.Classify(Result{Code: CodeFailed, Connected: true})
	d := c.Classify(Result{Code: CodeFailed, Connected: true})
	assert.Equal(t, ActionBreakReport, d.Action)
}

func TestClassify_PartialDoesNotCountTowardThreshold(t *testing.T) {
	t.Parallel()
	c := New(Config{MaxConsecutive: 2})

	for i := 0; i < 5; i++ {
		d := c.Classify(Result{Code: 1, Expected: 4, Connected: true})
		assert.Equal(t, ActionContinue, d.Action)
		assert.Equal(t, KindPartialTransfer, d.Kind)
	}
}

func TestClassify_DisconnectToleratedInGraceWindow(t *testing.T) {
	t.Parallel()
	c := New(Config{GraceWindow: time.Hour})
	c.MarkConnected()

	d := c.Classify(Result{Code: CodeDisconnected, Connected: true})
	assert.Equal(t, ActionBreakSilent, d.Action)
}

func TestClassify_DisconnectToleratedDuringSwitch(t *testing.T) {
	t.Parallel()
	c := New(Config{SwitchWindow: time.Hour, GraceWindow: time.Nanosecond})
	c.MarkSwitching()

	d := c.Classify(Result{Code: CodeDisconnected, Connected: true})
	assert.Equal(t, ActionBreakSilent, d.Action)
}

func TestClassify_DisconnectReportedAfterWindowsExpire(t *testing.T) {
	t.Parallel()
	c := New(Config{GraceWindow: time.Millisecond, SwitchWindow: time.Millisecond})
	c.MarkConnected()
	c.MarkSwitching()
	time.Sleep(20 * time.Millisecond)

	d := c.Classify(Result{Code: CodeDisconnected, Connected: true})
	assert.Equal(t, ActionBreakReport, d.Action)
	assert.Equal(t, termlink.StateDisconnected, d.State)
}

func TestClassify_DisconnectReportedWithoutWindows(t *testing.T) {
	t.Parallel()
	c := New(Config{})

	d := c.Classify(Result{Code: CodeDisconnected, Connected: true})
	assert.Equal(t, ActionBreakReport, d.Action)
	assert.Equal(t, termlink.StateDisconnected, d.State)
}

func TestReset_ClearsWindowsAndCounters(t *testing.T) {
	t.Parallel()
	c := New(Config{GraceWindow: time.Hour})
	c.MarkConnected()
	c.Classify(Result{Code: CodeFailed, Connected: true})
	c.Reset()

	assert.Zero(t, c.Stats().Total)

	d := c.Classify(Result{Code: CodeDisconnected, Connected: true})
	assert.Equal(t, ActionBreakReport, d.Action)
}

func TestStats_TracksErrorHistory(t *testing.T) {
	t.Parallel()
	c := New(Config{})

	c.Classify(Result{Code: CodeFailed, Connected: true})
	c.Classify(Result{Code: CodeTimeout, Connected: true})

	stats := c.Stats()
	assert.Equal(t, 1, stats.Consecutive)
	assert.Equal(t, 2, stats.Total)
	assert.False(t, stats.LastError.IsZero())
}

func TestCodeFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: 0},
		{name: "timeout sentinel", err: termlink.ErrTransportTimeout, want: CodeTimeout},
		{name: "deadline", err: context.DeadlineExceeded, want: CodeTimeout},
		{name: "wrapped timeout", err: termlink.NewTimeoutError("read", "usb"), want: CodeTimeout},
		{name: "disconnect", err: termlink.ErrDisconnected, want: CodeDisconnected},
		{name: "read failure", err: termlink.ErrTransportRead, want: CodeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CodeFor(tt.err))
		})
	}
}
