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

// Package reconnect drives automatic reconnection after channel loss. A
// Coordinator sits beside a Link: the application routes connect lifecycle
// notifications through it, and when the channel drops without an explicit
// disconnect it redials the last descriptor on a policy-controlled schedule.
// The last successful descriptor is persisted through an optional Store so a
// later session can resume the same device without discovery.
package reconnect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	termlink "github.com/TermlinkProject/go-termlink"
	"github.com/TermlinkProject/go-termlink/persist"
)

// Dialer starts one connect attempt. The callback fires exactly once with
// the attempt's outcome; immediate rejections are also returned
// synchronously. *termlink.Link satisfies this.
type Dialer interface {
	Connect(ctx context.Context, desc *termlink.Descriptor, cb termlink.ConnectCallback) error
}

// Store persists the last-known-good connection for future sessions.
// *persist.Store satisfies this.
type Store interface {
	SaveLinkState(ctx context.Context, st persist.LinkState) error
	ClearLinkState(ctx context.Context) error
}

// Coordinator tracks one reconnection session: the descriptor of the last
// explicit connect, a retry counter, and listeners waiting on an in-flight
// attempt. All notification methods are safe for concurrent use.
//
// The expected call pattern mirrors the link lifecycle: PrepareConnect
// before every explicit Link.Connect, OnConnected when the link reaches
// StateConnected, OnDisconnected when it reports channel loss, and
// Disconnect on explicit teardown (before Link.Disconnect, so armed retries
// are cancelled first).
type Coordinator struct {
	dial  Dialer
	store Store
	log   *zap.Logger

	// policy applies when a descriptor carries no reconnect policy of its
	// own. Descriptor-level policy wins when any field is set.
	policy termlink.ReconnectPolicy

	// OnAttempt is invoked before each automatic redial with the attempt
	// number and the session's attempt budget (0 for unlimited). Set before
	// first use; called without internal locks held.
	OnAttempt func(attempt, maxAttempts int)
	// OnExhausted is invoked when an automatic redial fails and no further
	// retry can be scheduled. Set before first use.
	OnExhausted func(err error)

	mu       sync.Mutex
	active   termlink.ReconnectPolicy
	manual   bool
	attempts int
	desc     *termlink.Descriptor
	identity string
	timer    *time.Timer
	inFlight bool
	waiters  []termlink.ConnectCallback
	gen      uint64
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

// WithStore enables persistence of the last-known-good connection.
func WithStore(store Store) Option {
	return func(c *Coordinator) {
		c.store = store
	}
}

// WithPolicy sets the fallback policy for descriptors that carry none.
func WithPolicy(policy termlink.ReconnectPolicy) Option {
	return func(c *Coordinator) {
		c.policy = policy
	}
}

// New returns a Coordinator redialing through dial.
func New(dial Dialer, opts ...Option) *Coordinator {
	c := &Coordinator{
		dial: dial,
		log:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PrepareConnect starts a fresh session for an explicit connect: the retry
// counter and manual flag reset, pending retries are cancelled, and listeners
// still waiting on a superseded reconnection are failed with ErrSuperseded.
func (c *Coordinator) PrepareConnect(desc *termlink.Descriptor) {
	c.mu.Lock()
	waiters := c.takeWaitersLocked()
	c.cancelPendingLocked()
	c.manual = false
	c.attempts = 0
	c.desc = desc
	c.identity = ""
	c.active = normalizePolicy(c.policyFor(desc))
	c.mu.Unlock()

	notifyWaiters(waiters, termlink.ErrSuperseded)
}

// OnConnected records a successful connection: the retry counter resets, the
// descriptor and identity are persisted for future sessions, and waiting
// listeners are notified of success.
func (c *Coordinator) OnConnected(ctx context.Context, desc *termlink.Descriptor, identity string) {
	c.mu.Lock()
	c.cancelPendingLocked()
	c.manual = false
	c.attempts = 0
	if desc != nil {
		c.desc = desc
		c.active = normalizePolicy(c.policyFor(desc))
	}
	c.identity = identity
	waiters := c.takeWaitersLocked()
	store := c.store
	var st persist.LinkState
	if store != nil && c.desc != nil {
		st = persist.LinkState{
			DescriptorURI: c.desc.URI(),
			Identity:      identity,
			CableMode:     string(c.desc.CableMode),
			AutoConnect:   c.active.Enabled,
		}
	} else {
		store = nil
	}
	c.mu.Unlock()

	notifyWaiters(waiters, nil)
	if store != nil {
		if err := store.SaveLinkState(ctx, st); err != nil {
			c.log.Warn("persist link state", zap.Error(err))
		}
	}
}

// OnDisconnected reacts to channel loss. When the session policy allows it,
// a delayed redial is scheduled and true is returned; otherwise false, and
// the caller surfaces the loss itself. Repeat notifications while a retry is
// already armed or dialing are reported handled without side effects.
func (c *Coordinator) OnDisconnected(cause error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scheduleRetryLocked(cause)
}

// OnAddressChanged follows a device that moved to a new address. The session
// descriptor is replaced and, when reconnection is active, a zero-delay
// redial starts with the retry counter reset: migration carries no penalty.
// Returns true when the coordinator took over the redial.
func (c *Coordinator) OnAddressChanged(desc *termlink.Descriptor) bool {
	if desc == nil {
		return false
	}
	c.mu.Lock()
	if c.desc == nil {
		c.mu.Unlock()
		return false
	}
	c.desc = desc
	if c.dial == nil || c.manual || !c.active.Enabled {
		c.mu.Unlock()
		return false
	}
	c.cancelPendingLocked()
	c.attempts = 0
	gen := c.gen
	c.timer = time.AfterFunc(0, func() { c.fire(gen) })
	c.log.Info("following address change", zap.String("descriptor", desc.URI()))
	c.mu.Unlock()
	return true
}

// Disconnect ends the session explicitly: pending retries are cancelled,
// waiting listeners are failed with ErrSuperseded, automatic reconnection is
// disabled until the next PrepareConnect, and persisted state is cleared.
func (c *Coordinator) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	waiters := c.takeWaitersLocked()
	c.cancelPendingLocked()
	c.manual = true
	c.attempts = 0
	c.desc = nil
	c.identity = ""
	store := c.store
	c.mu.Unlock()

	notifyWaiters(waiters, termlink.ErrSuperseded)
	if store != nil {
		if err := store.ClearLinkState(ctx); err != nil {
			return fmt.Errorf("clear link state: %w", err)
		}
	}
	return nil
}

// Coalesce queues cb onto an in-flight reconnection when desc addresses the
// same target as the session descriptor. It returns true when queued; the
// callback then fires once the pending attempt resolves. False means no
// reconnection is pending for that target and the caller should connect
// normally.
func (c *Coordinator) Coalesce(desc *termlink.Descriptor, cb termlink.ConnectCallback) bool {
	if cb == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.desc == nil || (c.timer == nil && !c.inFlight) {
		return false
	}
	if !c.desc.Equal(desc) {
		return false
	}
	c.waiters = append(c.waiters, cb)
	return true
}

// Pending reports whether a retry is armed or a redial is in flight.
func (c *Coordinator) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer != nil || c.inFlight
}

// Attempts returns the retry count of the current disconnection episode.
func (c *Coordinator) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// scheduleRetryLocked arms the next redial if the session policy, manual
// flag and retry budget allow. Reports true when a retry is armed or one is
// already pending. Caller holds c.mu.
func (c *Coordinator) scheduleRetryLocked(cause error) bool {
	if c.dial == nil || c.desc == nil || c.manual || !c.active.Enabled {
		return false
	}
	if c.timer != nil || c.inFlight {
		return true
	}
	if c.active.MaxAttempts > 0 && c.attempts >= c.active.MaxAttempts {
		return false
	}
	c.attempts++
	attempt := c.attempts
	delay := retryDelay(c.active, attempt)
	gen := c.gen
	c.timer = time.AfterFunc(delay, func() { c.fire(gen) })
	c.log.Info("reconnect scheduled",
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
		zap.String("descriptor", c.desc.URI()),
		zap.Error(cause))
	return true
}

// fire runs one scheduled redial. A generation mismatch means an explicit
// connect or disconnect superseded the timer after it was armed.
func (c *Coordinator) fire(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.timer == nil {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.inFlight = true
	desc := c.desc
	attempt := c.attempts
	budget := c.active.MaxAttempts
	c.mu.Unlock()

	if attempt > 0 && c.OnAttempt != nil {
		if budget < 0 {
			budget = 0
		}
		c.OnAttempt(attempt, budget)
	}
	c.log.Info("reconnecting",
		zap.Int("attempt", attempt),
		zap.String("descriptor", desc.URI()))
	if err := c.dial.Connect(context.Background(), desc, func(err error) {
		c.dialDone(gen, err)
	}); err != nil {
		// The dialer reports rejections through the callback too; this
		// fallback only matters for dialers that do not.
		c.dialDone(gen, err)
	}
}

// dialDone resolves one redial attempt. Waiting listeners are notified with
// the attempt's outcome either way; a failed attempt schedules the next one
// while the budget lasts, and OnExhausted fires when it runs out.
func (c *Coordinator) dialDone(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen || !c.inFlight {
		c.mu.Unlock()
		return
	}
	c.inFlight = false
	waiters := c.takeWaitersLocked()
	if err == nil {
		c.attempts = 0
		c.log.Info("reconnected", zap.String("descriptor", c.desc.URI()))
		c.mu.Unlock()
		notifyWaiters(waiters, nil)
		return
	}
	if c.scheduleRetryLocked(err) {
		c.mu.Unlock()
		notifyWaiters(waiters, err)
		return
	}
	attempts := c.attempts
	c.log.Warn("reconnect abandoned",
		zap.Int("attempts", attempts),
		zap.Error(err))
	c.mu.Unlock()

	notifyWaiters(waiters, err)
	if c.OnExhausted != nil {
		c.OnExhausted(err)
	}
}

// cancelPendingLocked invalidates any armed timer or in-flight redial by
// bumping the generation. Caller holds c.mu.
func (c *Coordinator) cancelPendingLocked() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.inFlight = false
}

// policyFor picks the descriptor's own policy when it sets any field,
// otherwise the coordinator default.
func (c *Coordinator) policyFor(desc *termlink.Descriptor) termlink.ReconnectPolicy {
	if desc != nil && desc.Reconnect != (termlink.ReconnectPolicy{}) {
		return desc.Reconnect
	}
	return c.policy
}

func (c *Coordinator) takeWaitersLocked() []termlink.ConnectCallback {
	w := c.waiters
	c.waiters = nil
	return w
}

func notifyWaiters(waiters []termlink.ConnectCallback, err error) {
	for _, cb := range waiters {
		cb(err)
	}
}
