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
	"sync"
)

// Conn is the per-transport extension point of the Link kernel. It is
// implemented once per channel kind (IPC, cable, network) and holds only
// transport-specific state; lifecycle, locking and state-machine discipline
// live in Link.
type Conn interface {
	// Validate checks the descriptor before any I/O is attempted
	Validate(desc *Descriptor) error

	// Connect establishes the channel described by desc and starts delivering
	// inbound payloads and loss signals to sink. The returned map carries
	// transport-reported session details. A failed Connect must release
	// everything it opened before returning.
	Connect(ctx context.Context, desc *Descriptor, sink Sink) (map[string]string, error)

	// Send transmits one opaque payload
	Send(ctx context.Context, payload []byte) error

	// Close releases the channel. It is called synchronously during teardown
	// and must complete without waiting on any context.
	Close() error

	// Kind returns the transport kind
	Kind() TransportKind

	// Name returns a human-readable transport name
	Name() string
}

// Sink receives inbound traffic and loss signals from a Conn. *Link
// implements Sink; transports never call back into the kernel any other way.
type Sink interface {
	// Deliver pushes one decoded payload up to the kernel
	Deliver(payload []byte)

	// Lost reports that the channel died underneath the transport
	Lost(err error)
}

// Capability represents specific capabilities or behaviors of a transport
type Capability string

const (
	// CapabilityFramed indicates the transport carries the hex frame protocol
	// on the wire (byte-oriented cables)
	CapabilityFramed Capability = "framed"

	// CapabilityMessageOriented indicates the transport preserves message
	// boundaries itself, so payloads bypass the frame codec
	CapabilityMessageOriented Capability = "message_oriented"

	// CapabilityProtocolSwitch indicates the transport re-enumerates through
	// a protocol-switch phase right after connecting, during which a brief
	// disconnect is expected rather than fatal
	CapabilityProtocolSwitch Capability = "protocol_switch"
)

// CapabilityChecker defines an interface for querying transport capabilities
type CapabilityChecker interface {
	// HasCapability returns true if the transport has the specified capability
	HasCapability(capability Capability) bool
}

// HasCapability reports whether conn advertises the capability. Conns that
// do not implement CapabilityChecker advertise nothing.
func HasCapability(conn Conn, capability Capability) bool {
	if checker, ok := conn.(CapabilityChecker); ok {
		return checker.HasCapability(capability)
	}
	return false
}

// ConnFactory creates an unconnected Conn for a descriptor scheme.
type ConnFactory func() Conn

var (
	factoryMu sync.RWMutex
	factories = make(map[string]ConnFactory)
)

// RegisterTransport registers a factory for a descriptor scheme. Transport
// packages call this from init; blank-import a transport package to make its
// schemes connectable through a Link.
func RegisterTransport(scheme string, factory ConnFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[scheme] = factory
}

// RegisteredSchemes returns the schemes with a registered transport factory.
func RegisteredSchemes() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	schemes := make([]string, 0, len(factories))
	for scheme := range factories {
		schemes = append(schemes, scheme)
	}
	return schemes
}

// newConnForScheme creates a Conn from the registry.
func newConnForScheme(scheme string) (Conn, error) {
	factoryMu.RLock()
	factory, ok := factories[scheme]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no transport registered for scheme %q",
			ErrDescriptorUnsupported, scheme)
	}
	return factory(), nil
}
