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

// Package ipc implements the same-device transport for local:// descriptors.
// The platform binding mechanism is injected as a Binder; the shipped binder
// dials a unix domain socket named after the descriptor. Bound channels are
// byte streams, so payloads travel hex-framed like on a cable.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"path/filepath"
	"sync"
	"syscall"

	"go.uber.org/zap"

	termlink "github.com/TermlinkProject/go-termlink"
	"github.com/TermlinkProject/go-termlink/internal/frame"
)

// DefaultSocketDir is where the shipped unix binder looks for terminal
// endpoints.
const DefaultSocketDir = "/run/termlink"

const readBufferSize = 4096

func init() {
	termlink.RegisterTransport("local", func() termlink.Conn { return New() })
}

// Binder is the platform capability that produces the byte channel for a
// local descriptor. Implementations resolve identifier and sub to whatever
// the platform binds processes with.
type Binder interface {
	Bind(ctx context.Context, identifier, sub string) (io.ReadWriteCloser, error)
}

// BinderFunc adapts a function to the Binder interface.
type BinderFunc func(ctx context.Context, identifier, sub string) (io.ReadWriteCloser, error)

// Bind implements Binder.
func (f BinderFunc) Bind(ctx context.Context, identifier, sub string) (io.ReadWriteCloser, error) {
	return f(ctx, identifier, sub)
}

// UnixBinder binds local descriptors to unix domain sockets under Dir.
// local://pinpad resolves to <Dir>/pinpad.sock, local://pinpad/admin to
// <Dir>/pinpad.admin.sock.
type UnixBinder struct {
	Dir string
}

// Bind implements Binder.
func (b *UnixBinder) Bind(ctx context.Context, identifier, sub string) (io.ReadWriteCloser, error) {
	dir := b.Dir
	if dir == "" {
		dir = DefaultSocketDir
	}
	name := identifier
	if sub != "" {
		name += "." + sub
	}
	var d net.Dialer
	return d.DialContext(ctx, "unix", filepath.Join(dir, name+".sock"))
}

// Transport implements the termlink.Conn interface over an injected binding.
type Transport struct {
	log    *zap.Logger
	binder Binder

	mu      sync.Mutex
	channel io.ReadWriteCloser
	asm     *frame.Assembler
	sink    termlink.Sink
	done    chan struct{}
	target  string
	wg      sync.WaitGroup
	writeMu sync.Mutex
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the transport logger.
func WithLogger(log *zap.Logger) Option {
	return func(t *Transport) { t.log = log }
}

// WithBinder replaces the shipped unix-socket binder.
func WithBinder(b Binder) Option {
	return func(t *Transport) { t.binder = b }
}

// New creates an unconnected same-device transport.
func New(opts ...Option) *Transport {
	t := &Transport{
		log:    zap.NewNop(),
		binder: &UnixBinder{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Validate implements termlink.Conn.
func (*Transport) Validate(desc *termlink.Descriptor) error {
	if desc.Kind != termlink.TransportIPC {
		return fmt.Errorf("%w: ipc transport cannot serve %s descriptors",
			termlink.ErrDescriptorUnsupported, desc.Kind)
	}
	if desc.Target == "" {
		return fmt.Errorf("%w: missing local identifier", termlink.ErrDescriptorInvalid)
	}
	return nil
}

// Connect implements termlink.Conn. It binds the endpoint and starts the
// reader that feeds the frame assembler.
func (t *Transport) Connect(ctx context.Context, desc *termlink.Descriptor, sink termlink.Sink) (map[string]string, error) {
	if err := t.Validate(desc); err != nil {
		return nil, err
	}

	target := desc.Target
	if desc.SubTarget != "" {
		target += "/" + desc.SubTarget
	}
	channel, err := t.binder.Bind(ctx, desc.Target, desc.SubTarget)
	if err != nil {
		return nil, classifyBindErr(target, err)
	}

	t.mu.Lock()
	if t.channel != nil {
		t.mu.Unlock()
		_ = channel.Close()
		return nil, fmt.Errorf("%w: ipc channel already open", termlink.ErrIllegalState)
	}
	asm := frame.NewAssembler(sink.Deliver, &frame.AssemblerConfig{Log: t.log})
	done := make(chan struct{})
	t.channel = channel
	t.asm = asm
	t.sink = sink
	t.done = done
	t.target = target
	t.wg.Add(1)
	t.mu.Unlock()

	go t.readLoop(channel, asm, done, target)

	t.log.Info("ipc channel open", zap.String("target", target))
	return map[string]string{
		"transport": "ipc",
		"target":    target,
	}, nil
}

// Send implements termlink.Conn. The payload is framed and written whole;
// concurrent writers are serialized so frames never interleave.
func (t *Transport) Send(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	channel := t.channel
	target := t.target
	t.mu.Unlock()
	if channel == nil {
		return fmt.Errorf("%w: ipc channel not open", termlink.ErrNotConnected)
	}

	encoded, err := frame.Encode(payload)
	if err != nil {
		return termlink.NewDataTooLargeError("send", target)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := channel.Write(encoded); err != nil {
		return fmt.Errorf("%w: %w", termlink.ErrTransportWrite, err)
	}
	return nil
}

// Close implements termlink.Conn. It is idempotent and waits for the reader
// to stop before releasing the frame assembler.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.channel == nil {
		t.mu.Unlock()
		return nil
	}
	channel := t.channel
	asm := t.asm
	t.channel = nil
	t.asm = nil
	t.sink = nil
	close(t.done)
	t.mu.Unlock()

	closeErr := channel.Close()
	t.wg.Wait()
	asm.Close()

	if closeErr != nil {
		return fmt.Errorf("close ipc channel: %w", closeErr)
	}
	return nil
}

// Kind implements termlink.Conn.
func (*Transport) Kind() termlink.TransportKind { return termlink.TransportIPC }

// Name implements termlink.Conn.
func (*Transport) Name() string { return "ipc" }

// HasCapability implements termlink.CapabilityChecker.
func (*Transport) HasCapability(capability termlink.Capability) bool {
	return capability == termlink.CapabilityFramed
}

// readLoop pulls raw bytes off the channel and pushes them into the
// assembler. A bound channel read blocks until data or channel death, so
// shutdown relies on Close unblocking the read.
func (t *Transport) readLoop(channel io.Reader, asm *frame.Assembler, done chan struct{}, target string) {
	defer t.wg.Done()
	buf := make([]byte, readBufferSize)
	for {
		n, err := channel.Read(buf)
		if n > 0 {
			asm.Push(buf[:n])
		}
		if err != nil {
			select {
			case <-done:
				// Shutdown closed the channel under us.
			default:
				lost := termlink.NewDisconnectedError("read", target, err)
				// Reported off this goroutine: the kernel's loss handling
				// closes the transport, and Close waits for this reader.
				go t.reportLost(lost)
			}
			return
		}
	}
}

// reportLost delivers the loss signal at most once per open channel.
func (t *Transport) reportLost(err error) {
	t.mu.Lock()
	sink := t.sink
	t.sink = nil
	t.mu.Unlock()
	if sink == nil {
		return
	}
	t.log.Warn("ipc channel lost", zap.Error(err))
	sink.Lost(err)
}

// classifyBindErr maps binding failures onto the error taxonomy.
func classifyBindErr(target string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %s: %w", termlink.ErrPermissionDenied, target, err)
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("%w: %s: %w", termlink.ErrTargetUnavailable, target, err)
	}
	return fmt.Errorf("bind %s: %w", target, err)
}
