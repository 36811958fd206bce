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

import "testing"

func TestConnectionState_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		want  string
		state ConnectionState
	}{
		{state: StateDisconnected, want: "disconnected"},
		{state: StateConnecting, want: "connecting"},
		{state: StateConnected, want: "connected"},
		{state: StateError, want: "error"},
		{state: ConnectionState(42), want: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			if got := tt.state.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConnectionState_CanTransition(t *testing.T) {
	t.Parallel()

	states := []ConnectionState{
		StateDisconnected, StateConnecting, StateConnected, StateError,
	}
	legal := map[ConnectionState][]ConnectionState{
		StateDisconnected: {StateConnecting},
		StateError:        {StateConnecting},
		StateConnecting:   {StateConnected, StateDisconnected, StateError},
		StateConnected:    {StateDisconnected, StateError},
	}

	for _, from := range states {
		for _, to := range states {
			want := false
			for _, allowed := range legal[from] {
				if to == allowed {
					want = true
				}
			}
			if got := from.canTransition(to); got != want {
				t.Errorf("canTransition(%s -> %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestConnectionState_ConnectedOnlyFromConnecting(t *testing.T) {
	t.Parallel()

	for _, from := range []ConnectionState{StateDisconnected, StateConnected, StateError} {
		if from.canTransition(StateConnected) {
			t.Errorf("canTransition(%s -> connected) = true, want false", from)
		}
	}
	if !StateConnecting.canTransition(StateConnected) {
		t.Error("canTransition(connecting -> connected) = false, want true")
	}
}

func TestConnectionState_NoErrorToDisconnectedEdge(t *testing.T) {
	t.Parallel()

	// Releasing resources from the error state keeps the error state
	// visible; only a fresh connect leaves it.
	if StateError.canTransition(StateDisconnected) {
		t.Error("canTransition(error -> disconnected) = true, want false")
	}
}
