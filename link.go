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
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultSendTimeout bounds one payload transmission, including local
// retries of transient failures.
const DefaultSendTimeout = 15 * time.Second

// ConnectCallback receives the outcome of one connect call. It fires exactly
// once per call: synchronously for immediate rejections, asynchronously for
// accepted attempts.
type ConnectCallback func(err error)

// stateSub is one registered state listener.
type stateSub struct {
	fn func(StateChange)
	id uint64
}

// Link is the transport-agnostic connection kernel. It owns the connection
// state machine, serializes sends, tracks pending exchanges and routes
// inbound payloads to the registered receiver. Transport-specific I/O is
// delegated to a Conn chosen per descriptor.
//
// Link is safe for concurrent use. The send lock is always acquired before
// any transport-internal lock; transports must never call back into the
// kernel while holding their own send lock.
type Link struct {
	log         *zap.Logger
	conn        Conn
	pinned      Conn
	desc        *Descriptor
	retry       *RetryConfig
	exchanges   *exchangeTable
	receiver    func(payload []byte)
	connectStop context.CancelFunc
	stateSubs   []stateSub
	sendTimeout time.Duration
	generation  atomic.Uint64
	nextSubID   uint64
	receiverID  uint64
	state       ConnectionState
	mu          sync.Mutex
	sendMu      sync.Mutex
}

// New creates a Link. Without options it uses the registered transport
// factories, default retry configuration and a no-op logger.
func New(opts ...Option) (*Link, error) {
	l := &Link{
		log:         zap.NewNop(),
		retry:       DefaultRetryConfig(),
		exchanges:   newExchangeTable(),
		sendTimeout: DefaultSendTimeout,
		state:       StateDisconnected,
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// State returns the current connection state.
func (l *Link) State() ConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Descriptor returns the descriptor of the current or most recent connect
// call, or nil before the first one.
func (l *Link) Descriptor() *Descriptor {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.desc
}

// OnStateChange registers a listener invoked synchronously on every applied
// state transition, in registration order. The returned function removes the
// registration.
func (l *Link) OnStateChange(fn func(StateChange)) (remove func()) {
	l.mu.Lock()
	l.nextSubID++
	id := l.nextSubID
	l.stateSubs = append(l.stateSubs, stateSub{id: id, fn: fn})
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, sub := range l.stateSubs {
			if sub.id == id {
				l.stateSubs = append(l.stateSubs[:i], l.stateSubs[i+1:]...)
				break
			}
		}
	}
}

// RegisterReceiver installs fn as the decoded-payload receiver, replacing
// any previous registration. The returned function removes the registration
// if it is still the active one.
func (l *Link) RegisterReceiver(fn func(payload []byte)) (remove func()) {
	l.mu.Lock()
	l.nextSubID++
	id := l.nextSubID
	l.receiver = fn
	l.receiverID = id
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.receiverID == id {
			l.receiver = nil
			l.receiverID = 0
		}
	}
}

// Connect establishes the channel described by desc. It is accepted only in
// StateDisconnected or StateError; acceptance transitions to StateConnecting
// and supersedes any connect attempt still in flight. The callback fires
// exactly once with the attempt's outcome. Immediate rejections are also
// returned synchronously.
func (l *Link) Connect(ctx context.Context, desc *Descriptor, cb ConnectCallback) error {
	if desc == nil {
		return l.rejectConnect(cb, fmt.Errorf("%w: nil descriptor", ErrDescriptorInvalid))
	}
	if desc.Kind == TransportAuto {
		return l.rejectConnect(cb, fmt.Errorf(
			"%w: auto:// must be resolved before connect", ErrDescriptorUnsupported))
	}

	l.mu.Lock()
	if l.state != StateDisconnected && l.state != StateError {
		state := l.state
		l.mu.Unlock()
		return l.rejectConnect(cb, NewStateError("connect", state))
	}

	conn, err := l.connFor(desc)
	if err != nil {
		l.mu.Unlock()
		return l.rejectConnect(cb, err)
	}
	if err := conn.Validate(desc); err != nil {
		l.mu.Unlock()
		return l.rejectConnect(cb, fmt.Errorf("validate descriptor: %w", err))
	}

	// Supersede any attempt still in flight. The stale attempt observes the
	// generation bump and discards its result.
	if l.connectStop != nil {
		l.connectStop()
	}
	gen := l.generation.Add(1)
	attemptCtx, cancel := context.WithCancel(ctx)
	l.connectStop = cancel
	l.conn = conn
	l.desc = desc
	change := l.transitionLocked(StateConnecting, "", "", nil)
	l.mu.Unlock()

	l.notify(change)
	l.log.Debug("connecting",
		zap.String("descriptor", desc.String()),
		zap.String("transport", conn.Name()))
	go l.runConnect(attemptCtx, gen, conn, desc, cb)
	return nil
}

// rejectConnect reports an immediate connect rejection through both paths.
func (l *Link) rejectConnect(cb ConnectCallback, err error) error {
	l.log.Debug("connect rejected", zap.Error(err))
	if cb != nil {
		cb(err)
	}
	return err
}

// connFor picks the Conn serving desc: the pinned one when set, otherwise a
// fresh instance from the scheme registry.
func (l *Link) connFor(desc *Descriptor) (Conn, error) {
	if l.pinned != nil {
		return l.pinned, nil
	}
	return newConnForScheme(desc.Scheme)
}

// runConnect drives one accepted connect attempt to completion.
func (l *Link) runConnect(ctx context.Context, gen uint64, conn Conn, desc *Descriptor, cb ConnectCallback) {
	extra, err := conn.Connect(ctx, desc, l)

	l.mu.Lock()
	if gen != l.generation.Load() {
		l.mu.Unlock()
		if err == nil {
			if cerr := conn.Close(); cerr != nil {
				l.log.Warn("close superseded connection", zap.Error(cerr))
			}
		}
		if cb != nil {
			cb(ErrSuperseded)
		}
		return
	}

	if err != nil {
		l.connectStop = nil
		l.conn = nil
		var change *StateChange
		if errors.Is(err, context.Canceled) {
			change = l.transitionLocked(StateDisconnected, CodeCancelled, err.Error(), nil)
		} else {
			change = l.transitionLocked(StateError, ErrorCode(err), err.Error(), nil)
		}
		l.mu.Unlock()

		l.notify(change)
		l.log.Warn("connect failed",
			zap.String("descriptor", desc.String()),
			zap.Error(err))
		if cb != nil {
			cb(err)
		}
		return
	}

	l.connectStop = nil
	change := l.transitionLocked(StateConnected, "", "", extra)
	l.mu.Unlock()

	l.notify(change)
	l.log.Info("connected",
		zap.String("descriptor", desc.String()),
		zap.String("transport", conn.Name()))
	if cb != nil {
		cb(nil)
	}
}

// Send transmits one opaque payload correlated by traceID. It fails
// synchronously (and through cb.OnFailure) unless the state is
// StateConnected; transmission itself runs asynchronously, strictly
// serialized behind the kernel send lock. Transient transport failures are
// retried locally per the retry configuration; a lost channel is not.
func (l *Link) Send(ctx context.Context, traceID string, payload []byte, cb *ExchangeCallback) error {
	l.mu.Lock()
	state := l.state
	conn := l.conn
	l.mu.Unlock()

	if state != StateConnected || conn == nil {
		err := NewStateError("send", state)
		cb.failure(err)
		return err
	}
	if traceID == "" {
		err := fmt.Errorf("%w: empty trace identifier", ErrInvalidParameter)
		cb.failure(err)
		return err
	}
	if err := l.exchanges.add(traceID, cb); err != nil {
		cb.failure(err)
		return err
	}

	cb.progress(StageQueued)
	gen := l.generation.Load()
	go l.transmit(ctx, gen, conn, traceID, payload, cb)
	return nil
}

// transmit performs the serialized wire write for one accepted send.
func (l *Link) transmit(ctx context.Context, gen uint64, conn Conn, traceID string, payload []byte, cb *ExchangeCallback) {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()

	// The connection may have been torn down while this send waited on the
	// send lock.
	if gen != l.generation.Load() {
		if l.exchanges.remove(traceID) != nil {
			cb.failure(NewDisconnectedError("send", traceID, nil))
		}
		return
	}

	sctx := ctx
	if l.sendTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, l.sendTimeout)
		defer cancel()
	}

	err := RetryWithConfig(sctx, l.retry, func() error {
		return conn.Send(sctx, payload)
	})
	if err != nil {
		l.log.Warn("send failed",
			zap.String("trace_id", traceID),
			zap.Error(err))
		if l.exchanges.remove(traceID) != nil {
			cb.failure(NewTransportError("send", traceID, err, GetErrorType(err)))
		}
		return
	}

	l.log.Debug("payload transmitted",
		zap.String("trace_id", traceID),
		zap.Int("len", len(payload)))
	cb.progress(StageTransmitted)
}

// CompleteExchange resolves the pending exchange for traceID with its
// correlated response payload. The layer that decodes responses calls this;
// the kernel itself never interprets payload bytes. Returns false when no
// exchange with that trace identifier is pending.
func (l *Link) CompleteExchange(traceID string, response []byte) bool {
	pe := l.exchanges.remove(traceID)
	if pe == nil {
		return false
	}
	pe.cb.success(response)
	return true
}

// FailExchange fails the pending exchange for traceID. Returns false when no
// exchange with that trace identifier is pending.
func (l *Link) FailExchange(traceID string, err error) bool {
	pe := l.exchanges.remove(traceID)
	if pe == nil {
		return false
	}
	pe.cb.failure(err)
	return true
}

// PendingExchanges returns the number of sends awaiting their response.
func (l *Link) PendingExchanges() int {
	return l.exchanges.size()
}

// Deliver implements Sink. Payloads arriving without a registered receiver
// are dropped with a log notice.
func (l *Link) Deliver(payload []byte) {
	l.mu.Lock()
	receiver := l.receiver
	l.mu.Unlock()

	if receiver == nil {
		l.log.Debug("inbound payload dropped, no receiver registered",
			zap.Int("len", len(payload)))
		return
	}
	receiver(payload)
}

// Lost implements Sink. The transport reports that the established channel
// died underneath it; the kernel fails pending exchanges and surfaces the
// disconnection. A report wrapping ErrChannelDegraded lands in StateError
// instead: the channel crossed the transfer-failure threshold and the kernel
// stops treating it as cleanly disconnected. Channel loss is never retried
// here, the reconnection coordinator owns that decision.
func (l *Link) Lost(err error) {
	l.mu.Lock()
	if l.state != StateConnected || l.conn == nil {
		l.mu.Unlock()
		return
	}
	conn := l.conn
	l.conn = nil
	l.generation.Add(1)
	message := ""
	if err != nil {
		message = err.Error()
	}
	state, code := StateDisconnected, CodeDisconnected
	if errors.Is(err, ErrChannelDegraded) {
		state, code = StateError, CodeTransferError
	}
	change := l.transitionLocked(state, code, message, nil)
	l.mu.Unlock()

	if cerr := conn.Close(); cerr != nil {
		l.log.Warn("close lost connection", zap.Error(cerr))
	}
	l.exchanges.failAll(NewDisconnectedError("receive", "", err))
	l.notify(change)
	l.log.Warn("connection lost", zap.Error(err))
}

// Disconnect tears the link down. It is idempotent: disconnecting an already
// disconnected link is a no-op. Resource release is synchronous; pending
// exchanges and the receiver registration are cleared. From StateError the
// resources are released but the state stays put, since the state machine
// has no error-to-disconnected edge.
func (l *Link) Disconnect() error {
	l.mu.Lock()
	if l.state == StateDisconnected {
		l.mu.Unlock()
		return nil
	}
	if l.connectStop != nil {
		l.connectStop()
		l.connectStop = nil
	}
	l.generation.Add(1)
	conn := l.conn
	l.conn = nil
	l.receiver = nil
	l.receiverID = 0
	fromError := l.state == StateError
	l.mu.Unlock()

	// Release outside the kernel lock: Close may wait for a reader goroutine
	// that could be blocked delivering into the kernel.
	var closeErr error
	if conn != nil {
		closeErr = conn.Close()
	}

	l.mu.Lock()
	var change *StateChange
	switch {
	case fromError:
		// no legal edge out of StateError except a new connect
	case closeErr != nil:
		change = l.transitionLocked(StateError, CodeTransferError, closeErr.Error(), nil)
	default:
		change = l.transitionLocked(StateDisconnected, "", "", nil)
	}
	l.mu.Unlock()

	l.exchanges.failAll(NewDisconnectedError("disconnect", "", nil))
	l.notify(change)

	if closeErr != nil {
		l.log.Error("release transport", zap.Error(closeErr))
		return fmt.Errorf("release transport: %w", closeErr)
	}
	l.log.Info("disconnected")
	return nil
}

// transitionLocked applies the transition if the edge is legal and returns
// the change to notify, or nil when it was filtered. Caller holds l.mu.
func (l *Link) transitionLocked(next ConnectionState, code, message string, extra map[string]string) *StateChange {
	if l.state == next {
		return nil
	}
	if !l.state.canTransition(next) {
		l.log.Error("illegal state transition suppressed",
			zap.Stringer("from", l.state),
			zap.Stringer("to", next))
		return nil
	}
	change := &StateChange{
		From:    l.state,
		To:      next,
		Code:    code,
		Message: message,
		Extra:   extra,
	}
	l.state = next
	return change
}

// notify invokes the registered state listeners synchronously, in
// registration order.
func (l *Link) notify(change *StateChange) {
	if change == nil {
		return
	}
	l.mu.Lock()
	subs := make([]stateSub, len(l.stateSubs))
	copy(subs, l.stateSubs)
	l.mu.Unlock()

	for _, sub := range subs {
		sub.fn(*change)
	}
}
