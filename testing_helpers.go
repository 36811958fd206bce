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
	"sync"
	"time"
)

// MockConn is a minimal in-memory Conn for tests. Connect succeeds (or
// returns ConnectErr), Send records payloads, and inbound traffic is pushed
// through DeliverToSink/ReportLost.
type MockConn struct {
	ConnectErr  error
	SendErr     error
	ValidateErr error
	SendFunc    func(payload []byte) error
	sink        Sink
	sent        [][]byte
	mu          sync.Mutex
	closed      bool
	connects    int
	closes      int
}

// NewMockConn creates a new mock transport
func NewMockConn() *MockConn {
	return &MockConn{}
}

// Validate implements Conn
func (m *MockConn) Validate(_ *Descriptor) error {
	return m.ValidateErr
}

// Connect implements Conn
func (m *MockConn) Connect(_ context.Context, _ *Descriptor, sink Sink) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	if m.ConnectErr != nil {
		return nil, m.ConnectErr
	}
	m.sink = sink
	m.closed = false
	return map[string]string{"transport": "mock"}, nil
}

// Send implements Conn
func (m *MockConn) Send(_ context.Context, payload []byte) error {
	m.mu.Lock()
	sendFunc := m.SendFunc
	sendErr := m.SendErr
	closed := m.closed
	m.mu.Unlock()

	if closed {
		return ErrTransportWrite
	}
	if sendFunc != nil {
		return sendFunc(payload)
	}
	if sendErr != nil {
		return sendErr
	}

	m.mu.Lock()
	m.sent = append(m.sent, append([]byte(nil), payload...))
	m.mu.Unlock()
	return nil
}

// Close implements Conn
func (m *MockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.closes++
	m.sink = nil
	return nil
}

// Kind implements Conn
func (*MockConn) Kind() TransportKind { return TransportMock }

// Name implements Conn
func (*MockConn) Name() string { return "mock" }

// Sent returns the payloads passed to Send, in order.
func (m *MockConn) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.sent))
	copy(out, m.sent)
	return out
}

// Connects returns how many times Connect was called.
func (m *MockConn) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

// Closes returns how many times Close was called.
func (m *MockConn) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// DeliverToSink pushes an inbound payload through the connected sink.
func (m *MockConn) DeliverToSink(payload []byte) {
	m.mu.Lock()
	sink := m.sink
	m.mu.Unlock()
	if sink != nil {
		sink.Deliver(payload)
	}
}

// ReportLost reports channel loss through the connected sink.
func (m *MockConn) ReportLost(err error) {
	m.mu.Lock()
	sink := m.sink
	m.mu.Unlock()
	if sink != nil {
		sink.Lost(err)
	}
}

// BlockingMockConn is a mock transport whose Send and Connect block until
// released. This is used for testing deadlock scenarios, supersede races and
// context cancellation.
type BlockingMockConn struct {
	MockConn
	sendBlock    chan struct{}
	connectBlock chan struct{}
	blockMu      sync.Mutex
	timeout      time.Duration
	blockConnect bool
}

// NewBlockingMockConn creates a new blocking mock transport
func NewBlockingMockConn() *BlockingMockConn {
	return &BlockingMockConn{
		sendBlock:    make(chan struct{}),
		connectBlock: make(chan struct{}),
		timeout:      5 * time.Second,
	}
}

// BlockNextConnect makes the next Connect block until UnblockConnect.
func (m *BlockingMockConn) BlockNextConnect() {
	m.blockMu.Lock()
	defer m.blockMu.Unlock()
	m.blockConnect = true
}

// Connect blocks when armed, then behaves like MockConn.Connect.
func (m *BlockingMockConn) Connect(ctx context.Context, desc *Descriptor, sink Sink) (map[string]string, error) {
	m.blockMu.Lock()
	blocked := m.blockConnect
	blockChan := m.connectBlock
	timeout := m.timeout
	m.blockMu.Unlock()

	if blocked {
		select {
		case <-blockChan:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(timeout):
			return nil, NewTimeoutError("connect", "mock")
		}
	}
	return m.MockConn.Connect(ctx, desc, sink)
}

// UnblockConnect releases every Connect currently blocked.
func (m *BlockingMockConn) UnblockConnect() {
	m.blockMu.Lock()
	defer m.blockMu.Unlock()
	m.blockConnect = false
	close(m.connectBlock)
	m.connectBlock = make(chan struct{})
}

// Send blocks until Unblock is called, the context is cancelled or the
// timeout expires.
func (m *BlockingMockConn) Send(ctx context.Context, payload []byte) error {
	m.blockMu.Lock()
	blockChan := m.sendBlock
	timeout := m.timeout
	m.blockMu.Unlock()

	select {
	case <-blockChan:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return NewTimeoutError("send", "mock")
	}
	return m.MockConn.Send(ctx, payload)
}

// Unblock allows blocked Send calls to proceed
func (m *BlockingMockConn) Unblock() {
	m.blockMu.Lock()
	defer m.blockMu.Unlock()
	close(m.sendBlock)
	m.sendBlock = make(chan struct{})
}

// SetTimeout configures the timeout for blocking operations
func (m *BlockingMockConn) SetTimeout(timeout time.Duration) {
	m.blockMu.Lock()
	defer m.blockMu.Unlock()
	m.timeout = timeout
}
