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

// ConnectionState represents the lifecycle state of a Link.
//
// The only legal edges are DISCONNECTED/ERROR -> CONNECTING -> CONNECTED ->
// DISCONNECTED/ERROR, plus CONNECTING -> DISCONNECTED/ERROR for failed or
// cancelled connect attempts.
type ConnectionState int

const (
	// StateDisconnected is the idle state; connects are accepted
	StateDisconnected ConnectionState = iota
	// StateConnecting is an in-flight connect attempt
	StateConnecting
	// StateConnected is an established channel
	StateConnected
	// StateError is a terminal failure state; connects are accepted
	StateError
)

// String returns the state name
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// canTransition reports whether the edge from s to next is legal.
func (s ConnectionState) canTransition(next ConnectionState) bool {
	switch s {
	case StateDisconnected, StateError:
		return next == StateConnecting
	case StateConnecting:
		return next == StateConnected || next == StateDisconnected || next == StateError
	case StateConnected:
		return next == StateDisconnected || next == StateError
	default:
		return false
	}
}

// StateChange describes one applied state transition. Code and Message are
// set when entering a terminal state through a failure; Extra carries
// transport-reported session details when entering StateConnected.
type StateChange struct {
	Extra   map[string]string
	Code    string
	Message string
	From    ConnectionState
	To      ConnectionState
}
