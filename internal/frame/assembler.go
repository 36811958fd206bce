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

package frame

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Assembler defaults
const (
	DefaultQueueSize  = 64
	DefaultMaxBuffer  = 64 * 1024
	DefaultStaleAfter = 3 * time.Second
	DefaultSweepEvery = time.Second
)

// AssemblerConfig tunes an Assembler. Zero values pick the defaults.
type AssemblerConfig struct {
	Log *zap.Logger
	// QueueSize is the fragment queue capacity
	QueueSize int
	// MaxBuffer caps the assembly buffer; exceeding it resets the buffer
	MaxBuffer int
	// StaleAfter drops partial data that has sat unconsumed this long
	StaleAfter time.Duration
	// SweepEvery is the stale-check cadence
	SweepEvery time.Duration
}

func (c *AssemblerConfig) withDefaults() AssemblerConfig {
	out := AssemblerConfig{}
	if c != nil {
		out = *c
	}
	if out.Log == nil {
		out.Log = zap.NewNop()
	}
	if out.QueueSize <= 0 {
		out.QueueSize = DefaultQueueSize
	}
	if out.MaxBuffer <= 0 {
		out.MaxBuffer = DefaultMaxBuffer
	}
	if out.StaleAfter <= 0 {
		out.StaleAfter = DefaultStaleAfter
	}
	if out.SweepEvery <= 0 {
		out.SweepEvery = DefaultSweepEvery
	}
	return out
}

// Assembler buffers raw byte fragments and extracts complete frames through
// the codec. Fragments are drained strictly FIFO by one dedicated worker, so
// frames cannot interleave no matter how many goroutines push. A buffer
// overflow resets the assembly buffer (the partial frame is lost and
// logged); a periodic sweep drops partial data older than the stale timeout
// so one broken frame cannot block the channel forever.
type Assembler struct {
	log       *zap.Logger
	deliver   func(payload []byte)
	queue     chan []byte
	done      chan struct{}
	buf       []byte
	lastData  time.Time
	cfg       AssemblerConfig
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewAssembler starts an assembler delivering complete frame payloads to
// deliver, in extraction order, from the worker goroutine.
func NewAssembler(deliver func(payload []byte), cfg *AssemblerConfig) *Assembler {
	resolved := cfg.withDefaults()
	a := &Assembler{
		log:     resolved.Log,
		deliver: deliver,
		queue:   make(chan []byte, resolved.QueueSize),
		done:    make(chan struct{}),
		cfg:     resolved,
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// Push enqueues one raw fragment in arrival order. It blocks only while the
// fragment queue is full; the codec never runs on the caller's goroutine.
func (a *Assembler) Push(fragment []byte) {
	if len(fragment) == 0 {
		return
	}
	chunk := make([]byte, len(fragment))
	copy(chunk, fragment)
	select {
	case a.queue <- chunk:
	case <-a.done:
	}
}

// Close stops the worker and discards any queued fragments. It is
// idempotent and returns once the worker has exited.
func (a *Assembler) Close() {
	a.closeOnce.Do(func() {
		close(a.done)
	})
	a.wg.Wait()
}

func (a *Assembler) run() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.SweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-a.done:
			return
		case chunk := <-a.queue:
			a.ingest(chunk)
		case <-ticker.C:
			a.sweep()
		}
	}
}

// ingest appends one fragment and extracts whatever frames completed.
func (a *Assembler) ingest(chunk []byte) {
	a.buf = append(a.buf, chunk...)
	a.lastData = time.Now()

	if len(a.buf) > a.cfg.MaxBuffer {
		a.log.Warn("assembly buffer overflow, resetting",
			zap.Int("buffered", len(a.buf)),
			zap.Int("max", a.cfg.MaxBuffer))
		a.buf = a.buf[:0]
		return
	}

	frames, consumed := Decode(a.buf)
	if consumed > 0 {
		a.buf = append(a.buf[:0], a.buf[consumed:]...)
	}
	for _, payload := range frames {
		a.deliver(payload)
	}
}

// sweep drops partial data that has waited past the stale timeout.
func (a *Assembler) sweep() {
	if len(a.buf) == 0 {
		return
	}
	if time.Since(a.lastData) > a.cfg.StaleAfter {
		a.log.Warn("dropping stale partial frame",
			zap.Int("buffered", len(a.buf)),
			zap.Duration("stale_after", a.cfg.StaleAfter))
		a.buf = a.buf[:0]
	}
}
