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

package bus

import (
	termlink "github.com/TermlinkProject/go-termlink"
	"github.com/TermlinkProject/go-termlink/discovery"
)

// Bus topics.
const (
	TopicConnStatus       = "conn.status"
	TopicReconnectAttempt = "reconnect.attempt"
	TopicDiscoveryService = "discovery.service"
	TopicExchangeResult   = "exchange.result"
)

// ConnStatus is a snapshot of the link state, published on TopicConnStatus
// at every state change.
type ConnStatus struct {
	State   termlink.ConnectionState
	Code    string
	Message string
	Extra   map[string]string
}

// ReconnectAttempt is published on TopicReconnectAttempt before each
// automatic redial. MaxAttempts is 0 when the budget is unlimited.
type ReconnectAttempt struct {
	Attempt     int
	MaxAttempts int
	Descriptor  string
}

// ServiceEventKind classifies a discovery set change.
type ServiceEventKind string

const (
	ServiceFound   ServiceEventKind = "found"
	ServiceUpdated ServiceEventKind = "updated"
	ServiceRemoved ServiceEventKind = "removed"
)

// ServiceEvent is published on TopicDiscoveryService when the discovered
// set changes. Removed events carry only the identity.
type ServiceEvent struct {
	Kind           ServiceEventKind
	Service        discovery.Service
	AddressChanged bool
}

// ExchangeResult is published on TopicExchangeResult when a traced exchange
// resolves. Err is empty on success.
type ExchangeResult struct {
	TraceID  string
	Response []byte
	Err      string
}
