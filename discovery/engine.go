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

// Package discovery turns raw multicast service announcements into a
// classified stream of found, updated and removed terminals. The multicast
// primitive itself is an external collaborator: a Browser streams
// advertisement arrivals and withdrawals, a Resolver expands one
// advertisement into host, port and attributes. The engine owns
// deduplication, the per-service resolution guard and change
// classification.
package discovery

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultServiceType is the service type terminals announce themselves
// under.
const DefaultServiceType = "_termlink._tcp"

// DefaultResolveTimeout bounds one advertisement resolution.
const DefaultResolveTimeout = 5 * time.Second

// Engine-specific errors.
var (
	// ErrAlreadyRunning is returned by Start while a browse session is
	// active.
	ErrAlreadyRunning = errors.New("discovery engine already running")
	// ErrNoBackend is returned by Start when the engine was built without
	// a browser or resolver.
	ErrNoBackend = errors.New("discovery engine needs a browser and a resolver")
)

// Advertisement is one raw browse observation, before resolution.
type Advertisement struct {
	// Identity is the stable instance identity within the service type.
	Identity string
	// Type is the browsed service type.
	Type string
}

// Service is a resolved advertisement.
type Service struct {
	Identity string
	Host     string
	Port     int
	Attrs    map[string]string
}

// Browser streams advertisement arrivals and withdrawals for one service
// type. Browse blocks until ctx is cancelled; found and lost are invoked
// from the browse session as observations arrive.
type Browser interface {
	Browse(ctx context.Context, serviceType string, found, lost func(Advertisement)) error
}

// Resolver expands one advertisement into host, port and attributes.
type Resolver interface {
	Resolve(ctx context.Context, adv Advertisement) (Service, error)
}

// Engine classifies resolved services against the last known record per
// identity. Reports are delivered through the On… callback fields, which
// must be set before Start. Callbacks run under the engine's update lock,
// so the discovered set cannot change beneath them; they must not call
// back into the engine.
type Engine struct {
	browser        Browser
	resolver       Resolver
	log            *zap.Logger
	resolveTimeout time.Duration

	// OnFound reports an identity seen for the first time.
	OnFound func(Service)
	// OnUpdated reports a change to a known identity. addressChanged is
	// set when host or port differ from the previous record.
	OnUpdated func(svc Service, addressChanged bool)
	// OnRemoved reports a withdrawn identity.
	OnRemoved func(identity string)

	mu         sync.Mutex
	known      map[string]Service
	resolving  map[string]uint64
	resolveSeq uint64
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithResolveTimeout bounds one advertisement resolution.
func WithResolveTimeout(d time.Duration) Option {
	return func(e *Engine) { e.resolveTimeout = d }
}

// New creates a stopped engine around the given discovery backend.
func New(browser Browser, resolver Resolver, opts ...Option) *Engine {
	e := &Engine{
		browser:        browser,
		resolver:       resolver,
		log:            zap.NewNop(),
		resolveTimeout: DefaultResolveTimeout,
		known:          make(map[string]Service),
		resolving:      make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start opens a browse session for serviceType. The session ends when ctx
// is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context, serviceType string) error {
	if e.browser == nil || e.resolver == nil {
		return ErrNoBackend
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.wg.Add(1)
	go e.browse(runCtx, serviceType)
	return nil
}

// Stop ends the browse session and waits for in-flight resolutions to
// drain. It is a no-op on a stopped engine. The discovered set survives a
// stop, so a later session classifies re-appearing services against it.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	e.wg.Wait()
}

// Snapshot returns the currently known services sorted by identity.
// Attribute maps are copied; mutating them does not affect the engine.
func (e *Engine) Snapshot() []Service {
	e.mu.Lock()
	out := make([]Service, 0, len(e.known))
	for _, svc := range e.known {
		svc.Attrs = maps.Clone(svc.Attrs)
		out = append(out, svc)
	}
	e.mu.Unlock()

	slices.SortFunc(out, func(a, b Service) int {
		return strings.Compare(a.Identity, b.Identity)
	})
	return out
}

// browse runs one browse session to completion.
func (e *Engine) browse(ctx context.Context, serviceType string) {
	defer e.wg.Done()
	e.log.Info("browsing", zap.String("service_type", serviceType))
	err := e.browser.Browse(ctx, serviceType,
		func(adv Advertisement) { e.handleFound(ctx, adv) },
		func(adv Advertisement) { e.handleLost(adv) })
	if err != nil && !errors.Is(err, context.Canceled) {
		e.log.Error("browse session ended", zap.Error(err))
	}
}

// handleFound starts one resolution per advertisement unless one is
// already in flight for the same identity.
func (e *Engine) handleFound(ctx context.Context, adv Advertisement) {
	if adv.Identity == "" {
		return
	}
	e.mu.Lock()
	if _, busy := e.resolving[adv.Identity]; busy {
		e.mu.Unlock()
		return
	}
	e.resolveSeq++
	token := e.resolveSeq
	e.resolving[adv.Identity] = token
	e.wg.Add(1)
	e.mu.Unlock()

	go e.resolve(ctx, adv, token)
}

// handleLost removes the identity and clears any in-flight resolution
// guard, so a late resolution result for it is discarded.
func (e *Engine) handleLost(adv Advertisement) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.resolving, adv.Identity)
	if _, ok := e.known[adv.Identity]; !ok {
		return
	}
	delete(e.known, adv.Identity)
	e.log.Info("service lost", zap.String("identity", adv.Identity))
	if e.OnRemoved != nil {
		e.OnRemoved(adv.Identity)
	}
}

// resolve expands one advertisement and classifies the result against the
// last known record. The token detects a guard cleared while the
// resolution was in flight.
func (e *Engine) resolve(ctx context.Context, adv Advertisement, token uint64) {
	defer e.wg.Done()
	sctx, cancel := context.WithTimeout(ctx, e.resolveTimeout)
	svc, err := e.resolver.Resolve(sctx, adv)
	cancel()
	svc.Identity = adv.Identity

	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, inFlight := e.resolving[adv.Identity]; !inFlight || cur != token {
		// The advertisement was withdrawn while resolving.
		return
	}
	delete(e.resolving, adv.Identity)

	if err != nil {
		if !errors.Is(err, context.Canceled) {
			e.log.Warn("resolve failed",
				zap.String("identity", adv.Identity),
				zap.Error(err))
		}
		return
	}

	prev, seen := e.known[adv.Identity]
	if seen && sameService(prev, svc) {
		return
	}
	e.known[adv.Identity] = svc

	if !seen {
		e.log.Info("service found",
			zap.String("identity", svc.Identity),
			zap.String("host", svc.Host),
			zap.Int("port", svc.Port))
		if e.OnFound != nil {
			e.OnFound(svc)
		}
		return
	}

	addressChanged := prev.Host != svc.Host || prev.Port != svc.Port
	e.log.Info("service updated",
		zap.String("identity", svc.Identity),
		zap.Bool("address_changed", addressChanged))
	if e.OnUpdated != nil {
		e.OnUpdated(svc, addressChanged)
	}
}

// sameService reports whether two records are identical in every field
// the engine tracks.
func sameService(a, b Service) bool {
	return a.Host == b.Host && a.Port == b.Port && maps.Equal(a.Attrs, b.Attrs)
}
