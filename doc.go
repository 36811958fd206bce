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

/*
Package termlink is the device-communication core of a point-of-sale payment
SDK. It connects a merchant application to a payment terminal over one of
three mutually exclusive transports (same-device IPC, a USB/serial cable, or
a local-network socket) and carries opaque payloads reliably across
whichever channel is active.

The package owns the connection lifecycle state machine, the hex
framing/checksum protocol used over byte-oriented cables, the error
classification and retry policy, and the pending-exchange registry that
correlates sends with their asynchronous responses by caller-supplied trace
identifiers. Payload contents are never interpreted here.

Features:
  - Mutually exclusive transports: IPC, USB/serial cable, network socket
  - Descriptor URIs (local://, ws://, wss://, usb://, vsp://, rs232://)
  - Strictly serialized sends with local retry of transient failures
  - Hex frame protocol with checksum validation for cable transports
  - Heartbeat liveness monitoring (package heartbeat)
  - Service discovery and address-change detection (package discovery)
  - Bounded-backoff automatic reconnection (package reconnect)

Basic Usage:

	import (
	    "github.com/TermlinkProject/go-termlink"
	    _ "github.com/TermlinkProject/go-termlink/transport/ws"
	)

	link, err := termlink.New()
	if err != nil {
	    log.Fatal(err)
	}

	desc, err := termlink.ParseDescriptor("ws://10.0.0.5:8443")
	if err != nil {
	    log.Fatal(err)
	}

	stop := link.OnStateChange(func(change termlink.StateChange) {
	    fmt.Printf("%s -> %s\n", change.From, change.To)
	})
	defer stop()

	err = link.Connect(ctx, desc, func(err error) {
	    if err != nil {
	        log.Printf("connect: %v", err)
	    }
	})

	// Once connected, sends are correlated by trace identifier.
	err = link.Send(ctx, "T1", payload, &termlink.ExchangeCallback{
	    OnSuccess: func(response []byte) { ... },
	    OnFailure: func(err error) { ... },
	})

Transport Selection:

Transport packages register themselves for their descriptor schemes on
import:

  - transport/ipc: local:// same-device binding
  - transport/serial: vsp:// and rs232:// cables
  - transport/usb: usb://host/<device> and usb://accessory cables
  - transport/ws: ws:// and wss:// network sockets

auto:// descriptors are resolved by the caller (usually via the discovery
package and the persisted last-known-good state) before connecting.

Error Handling:

All operations return meaningful errors that can be inspected:

	if errors.Is(err, termlink.ErrNotConnected) {
	    // Handle illegal-state send
	}

Every terminal failure also carries a machine-readable code, available
through termlink.ErrorCode.

Thread Safety:

Link is safe for concurrent use. State listeners are invoked synchronously
on the goroutine applying the transition and must not block.
*/
package termlink
