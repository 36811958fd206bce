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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capMockConn is a MockConn advertising a fixed capability set.
type capMockConn struct {
	MockConn
	caps map[Capability]bool
}

func (c *capMockConn) HasCapability(capability Capability) bool {
	return c.caps[capability]
}

func TestRegisterTransport_ConnectResolvesScheme(t *testing.T) {
	mock := NewMockConn()
	RegisterTransport("regtest", func() Conn { return mock })

	l, err := New()
	require.NoError(t, err)

	desc := &Descriptor{Kind: TransportMock, Scheme: "regtest"}
	done := make(chan error, 1)
	require.NoError(t, l.Connect(context.Background(), desc, func(err error) { done <- err }))
	require.NoError(t, waitErr(t, done))

	assert.Equal(t, 1, mock.Connects())
	require.NoError(t, l.Disconnect())
}

func TestConnect_UnregisteredScheme(t *testing.T) {
	t.Parallel()
	l, err := New()
	require.NoError(t, err)

	desc := &Descriptor{Kind: TransportIPC, Scheme: "carrier-pigeon"}
	done := make(chan error, 1)
	err = l.Connect(context.Background(), desc, func(err error) { done <- err })
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDescriptorUnsupported)
	assert.ErrorIs(t, waitErr(t, done), ErrDescriptorUnsupported)
	assert.Equal(t, StateDisconnected, l.State())
}

func TestRegisteredSchemes(t *testing.T) {
	RegisterTransport("reglist", func() Conn { return NewMockConn() })
	assert.Contains(t, RegisteredSchemes(), "reglist")
}

func TestRegisterTransport_LastRegistrationWins(t *testing.T) {
	first := NewMockConn()
	second := NewMockConn()
	RegisterTransport("regwins", func() Conn { return first })
	RegisterTransport("regwins", func() Conn { return second })

	conn, err := newConnForScheme("regwins")
	require.NoError(t, err)
	assert.Same(t, second, conn)
}

func TestNewConnForScheme_Unknown(t *testing.T) {
	t.Parallel()
	_, err := newConnForScheme("absent")
	assert.ErrorIs(t, err, ErrDescriptorUnsupported)
}

func TestHasCapability(t *testing.T) {
	t.Parallel()
	framed := &capMockConn{caps: map[Capability]bool{CapabilityFramed: true}}
	assert.True(t, HasCapability(framed, CapabilityFramed))
	assert.False(t, HasCapability(framed, CapabilityMessageOriented))
	assert.False(t, HasCapability(NewMockConn(), CapabilityFramed),
		"conns without a checker advertise nothing")
}
