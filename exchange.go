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
	"sync"
	"time"
)

// ExchangeStage marks progress milestones of one traced send.
type ExchangeStage string

const (
	// StageQueued means the send was accepted and is waiting on the send lock
	StageQueued ExchangeStage = "queued"
	// StageTransmitted means the payload left through the transport
	StageTransmitted ExchangeStage = "transmitted"
)

// ExchangeCallback carries the channel callbacks for one traced send. Any
// field may be nil. OnFailure fires at most once; after it fires the
// exchange is no longer tracked.
type ExchangeCallback struct {
	// OnProgress reports milestones while the exchange is in flight
	OnProgress func(stage ExchangeStage)
	// OnSuccess delivers the correlated response payload
	OnSuccess func(response []byte)
	// OnFailure reports the terminal failure of the exchange
	OnFailure func(err error)
}

func (c *ExchangeCallback) progress(stage ExchangeStage) {
	if c != nil && c.OnProgress != nil {
		c.OnProgress(stage)
	}
}

func (c *ExchangeCallback) success(response []byte) {
	if c != nil && c.OnSuccess != nil {
		c.OnSuccess(response)
	}
}

func (c *ExchangeCallback) failure(err error) {
	if c != nil && c.OnFailure != nil {
		c.OnFailure(err)
	}
}

// pendingExchange is one tracked send awaiting its correlated response.
type pendingExchange struct {
	queuedAt time.Time
	cb       *ExchangeCallback
	traceID  string
}

// exchangeTable tracks pending exchanges by trace identifier. At most one
// exchange per trace identifier is tracked at a time.
type exchangeTable struct {
	pending map[string]*pendingExchange
	mu      sync.Mutex
}

func newExchangeTable() *exchangeTable {
	return &exchangeTable{
		pending: make(map[string]*pendingExchange),
	}
}

// add registers a pending exchange. Reusing a trace identifier that is still
// pending is an error.
func (t *exchangeTable) add(traceID string, cb *ExchangeCallback) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.pending[traceID]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateTrace, traceID)
	}
	t.pending[traceID] = &pendingExchange{
		traceID:  traceID,
		cb:       cb,
		queuedAt: time.Now(),
	}
	return nil
}

// remove untracks and returns the exchange for traceID, or nil.
func (t *exchangeTable) remove(traceID string) *pendingExchange {
	t.mu.Lock()
	defer t.mu.Unlock()
	pe := t.pending[traceID]
	delete(t.pending, traceID)
	return pe
}

// failAll untracks every pending exchange and invokes each failure callback
// with err, in no particular order.
func (t *exchangeTable) failAll(err error) {
	t.mu.Lock()
	dropped := make([]*pendingExchange, 0, len(t.pending))
	for _, pe := range t.pending {
		dropped = append(dropped, pe)
	}
	t.pending = make(map[string]*pendingExchange)
	t.mu.Unlock()

	for _, pe := range dropped {
		pe.cb.failure(err)
	}
}

func (t *exchangeTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
