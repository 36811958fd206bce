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

// Package heartbeat detects silent channel death by probing the peer on a
// fixed cadence. The monitor runs on its own goroutine so probe timing is
// never starved by payload traffic; how a probe reaches the wire is the
// caller's business, injected as a SendFunc. The caller feeds recognized
// probe responses back through ObserveResponse, keyed by the probe token.
package heartbeat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Monitor defaults.
const (
	DefaultInterval        = 15 * time.Second
	DefaultSendTimeout     = 5 * time.Second
	DefaultResponseTimeout = 5 * time.Second
	DefaultMaxMisses       = 3
)

// Monitor-specific errors.
var (
	// ErrAlreadyRunning is returned by Start when the monitor loop is
	// already active.
	ErrAlreadyRunning = errors.New("heartbeat monitor already running")
	// ErrNoSender is returned by Start when no probe sender was provided.
	ErrNoSender = errors.New("heartbeat monitor has no probe sender")
)

// SendFunc transmits one liveness probe identified by token. The monitor
// never builds probe payloads itself; the function owns the message format
// and must embed the token so the matching response can be recognized.
type SendFunc func(ctx context.Context, token string) error

// Config tunes the probe cadence and failure policy.
type Config struct {
	// Interval between probes.
	Interval time.Duration
	// SendTimeout bounds the probe transmission itself.
	SendTimeout time.Duration
	// ResponseTimeout is how long after a sent probe its response may
	// arrive before the probe counts as missed.
	ResponseTimeout time.Duration
	// MaxMisses is the number of consecutive misses after which the
	// monitor reports the channel as failed rather than merely timing out.
	MaxMisses int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = DefaultResponseTimeout
	}
	if c.MaxMisses <= 0 {
		c.MaxMisses = DefaultMaxMisses
	}
	return c
}

// Monitor probes the peer periodically and tracks liveness statistics.
// Reports are delivered through the On… callback fields, which must be set
// before Start. Callbacks run on the monitor's internal goroutines; they
// may call ObserveResponse, Snapshot or SetConfig, but must not block.
type Monitor struct {
	send SendFunc
	log  *zap.Logger

	// OnTimeout reports one missed probe below the failure threshold.
	// A later response resets the count, so a timeout is recoverable.
	OnTimeout func(consecutive int)
	// OnFailed reports that consecutive misses reached MaxMisses. The
	// channel is considered dead; recovery is the owner's decision.
	OnFailed func(consecutive int)

	mu      sync.Mutex
	cfg     Config
	stop    chan struct{}
	reload  chan struct{}
	pending map[string]*probeRecord
	stats   Stats
	wg      sync.WaitGroup
}

// probeRecord is one sent probe awaiting its response.
type probeRecord struct {
	sentAt time.Time
	timer  *time.Timer
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the monitor logger.
func WithLogger(log *zap.Logger) Option {
	return func(m *Monitor) { m.log = log }
}

// New creates a stopped monitor. Zero Config fields take their defaults.
func New(send SendFunc, cfg Config, opts ...Option) *Monitor {
	m := &Monitor{
		send:    send,
		log:     zap.NewNop(),
		cfg:     cfg.withDefaults(),
		pending: make(map[string]*probeRecord),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the probe loop. It returns ErrAlreadyRunning while a
// previous loop is still active. The loop stops when ctx is cancelled or
// Stop is called.
func (m *Monitor) Start(ctx context.Context) error {
	if m.send == nil {
		return ErrNoSender
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		return ErrAlreadyRunning
	}
	stop := make(chan struct{})
	reload := make(chan struct{}, 1)
	m.stop = stop
	m.reload = reload
	m.wg.Add(1)
	go m.run(ctx, stop, reload)
	return nil
}

// Stop halts the probe loop and discards probes still awaiting responses.
// It blocks until the loop has exited and is a no-op on a stopped monitor.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stop := m.stop
	m.stop = nil
	m.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	m.wg.Wait()
}

// IsRunning reports whether the probe loop is active.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stop != nil
}

// SetConfig swaps the probe parameters. A running loop restarts its cadence
// with the new interval; probes already in flight under the old parameters
// are discarded.
func (m *Monitor) SetConfig(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg.withDefaults()
	m.clearPendingLocked()
	reload := m.reload
	m.mu.Unlock()

	if reload != nil {
		select {
		case reload <- struct{}{}:
		default:
		}
	}
}

// ObserveResponse feeds one recognized probe response back to the monitor.
// It reports whether token matched an outstanding probe; on a match the
// consecutive-miss count resets and the round-trip average absorbs the
// sample.
func (m *Monitor) ObserveResponse(token string) bool {
	now := time.Now()
	m.mu.Lock()
	rec, ok := m.pending[token]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.pending, token)
	rec.timer.Stop()
	rtt := now.Sub(rec.sentAt)
	m.stats.Received++
	m.stats.ConsecutiveMisses = 0
	m.stats.LastResponseAt = now
	m.stats.AvgRTT = smoothRTT(m.stats.AvgRTT, rtt)
	m.mu.Unlock()

	m.log.Debug("probe answered",
		zap.String("token", token),
		zap.Duration("rtt", rtt))
	return true
}

// Snapshot returns a copy of the current statistics.
func (m *Monitor) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// run owns the probe cadence. The outer loop rebuilds the ticker whenever
// SetConfig signals a reload.
func (m *Monitor) run(ctx context.Context, stop, reload chan struct{}) {
	defer func() {
		m.mu.Lock()
		if m.stop == stop {
			m.stop = nil
		}
		m.clearPendingLocked()
		m.mu.Unlock()
		m.wg.Done()
	}()

	for {
		m.mu.Lock()
		interval := m.cfg.Interval
		m.mu.Unlock()
		ticker := time.NewTicker(interval)

		rebuild := false
		for !rebuild {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-stop:
				ticker.Stop()
				return
			case <-reload:
				rebuild = true
			case <-ticker.C:
				m.probe(ctx)
			}
		}
		ticker.Stop()
		m.log.Debug("heartbeat reconfigured", zap.Duration("interval", interval))
	}
}

// probe sends one liveness probe and arms its response-timeout check.
func (m *Monitor) probe(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	m.mu.Lock()
	cfg := m.cfg
	m.mu.Unlock()

	token := uuid.NewString()
	sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	err := m.send(sctx, token)
	cancel()
	now := time.Now()

	m.mu.Lock()
	m.stats.Sent++
	m.stats.LastProbeAt = now
	m.mu.Unlock()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			// The loop is being torn down; not a liveness verdict.
			return
		}
		m.log.Debug("probe send failed",
			zap.String("token", token),
			zap.Error(err))
		m.recordMiss(token)
		return
	}

	m.mu.Lock()
	m.pending[token] = &probeRecord{
		sentAt: now,
		timer:  time.AfterFunc(cfg.ResponseTimeout, func() { m.expire(token) }),
	}
	m.mu.Unlock()
}

// expire fires when a sent probe's response window closes unanswered.
func (m *Monitor) expire(token string) {
	m.mu.Lock()
	if _, ok := m.pending[token]; !ok {
		// Answered or discarded in the meantime.
		m.mu.Unlock()
		return
	}
	delete(m.pending, token)
	m.mu.Unlock()
	m.recordMiss(token)
}

// recordMiss counts one unanswered or unsendable probe and reports it.
// At MaxMisses the report escalates from a recoverable timeout to failed.
func (m *Monitor) recordMiss(token string) {
	m.mu.Lock()
	m.stats.ConsecutiveMisses++
	consecutive := m.stats.ConsecutiveMisses
	limit := m.cfg.MaxMisses
	m.mu.Unlock()

	if consecutive >= limit {
		m.log.Warn("liveness lost",
			zap.String("token", token),
			zap.Int("consecutive", consecutive))
		if m.OnFailed != nil {
			m.OnFailed(consecutive)
		}
		return
	}
	m.log.Debug("probe unanswered",
		zap.String("token", token),
		zap.Int("consecutive", consecutive))
	if m.OnTimeout != nil {
		m.OnTimeout(consecutive)
	}
}

// clearPendingLocked drops outstanding probes. Caller holds m.mu.
func (m *Monitor) clearPendingLocked() {
	for token, rec := range m.pending {
		rec.timer.Stop()
		delete(m.pending, token)
	}
}
