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

package heartbeat

import "time"

// Stats is a snapshot of the monitor's liveness counters. Sent and Received
// only ever grow; ConsecutiveMisses resets on every recognized response.
type Stats struct {
	// Sent counts probes handed to the sender, including ones that
	// failed to transmit.
	Sent uint64
	// Received counts recognized probe responses.
	Received uint64
	// ConsecutiveMisses counts uninterrupted misses since the last
	// recognized response.
	ConsecutiveMisses int
	// AvgRTT is the exponential running average of probe round-trip
	// times. Zero until the first response.
	AvgRTT time.Duration
	// LastProbeAt is when the most recent probe was sent.
	LastProbeAt time.Time
	// LastResponseAt is when the most recent response was recognized.
	LastResponseAt time.Time
}

// rttSmoothing divides each sample's distance from the running average;
// every response moves the average one eighth of the way to the sample.
const rttSmoothing = 8

func smoothRTT(avg, sample time.Duration) time.Duration {
	if avg == 0 {
		return sample
	}
	return avg + (sample-avg)/rttSmoothing
}
