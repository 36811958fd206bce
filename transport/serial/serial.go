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

// Package serial implements the cable transport for vsp:// and rs232://
// descriptors. It carries the hex frame protocol over a byte-oriented serial
// line and reassembles inbound fragments before delivery.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	termlink "github.com/TermlinkProject/go-termlink"
	"github.com/TermlinkProject/go-termlink/internal/frame"
)

const (
	// readPollInterval bounds one blocking port read so the reader notices
	// shutdown without data arriving.
	readPollInterval = 300 * time.Millisecond

	readBufferSize = 4096
)

func init() {
	termlink.RegisterTransport("vsp", func() termlink.Conn { return New() })
	termlink.RegisterTransport("rs232", func() termlink.Conn { return New() })
}

// Port is the narrow slice of a serial line the transport needs. The system
// implementation is go.bug.st/serial; tests substitute their own.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Opener opens the named serial line with the given mode.
type Opener func(name string, mode *serial.Mode) (Port, error)

func systemOpener(name string, mode *serial.Mode) (Port, error) {
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}

// Transport implements the termlink.Conn interface for serial cables.
type Transport struct {
	log    *zap.Logger
	opener Opener
	lister func() ([]string, error)

	// portName pins a specific device node. When empty the first enumerated
	// port is used.
	portName string

	mu       sync.Mutex
	port     Port
	asm      *frame.Assembler
	sink     termlink.Sink
	done     chan struct{}
	openName string
	wg       sync.WaitGroup
	writeMu  sync.Mutex
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the transport logger.
func WithLogger(log *zap.Logger) Option {
	return func(t *Transport) { t.log = log }
}

// WithPortName pins the device node instead of enumerating.
func WithPortName(name string) Option {
	return func(t *Transport) { t.portName = name }
}

// WithOpener replaces the system serial opener.
func WithOpener(open Opener) Option {
	return func(t *Transport) { t.opener = open }
}

// WithPortLister replaces the system port enumeration.
func WithPortLister(list func() ([]string, error)) Option {
	return func(t *Transport) { t.lister = list }
}

// New creates an unconnected serial cable transport.
func New(opts ...Option) *Transport {
	t := &Transport{
		log:    zap.NewNop(),
		opener: systemOpener,
		lister: serial.GetPortsList,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Validate implements termlink.Conn.
func (*Transport) Validate(desc *termlink.Descriptor) error {
	if desc.Kind != termlink.TransportCable {
		return fmt.Errorf("%w: serial transport cannot serve %s descriptors",
			termlink.ErrDescriptorUnsupported, desc.Kind)
	}
	switch desc.CableMode {
	case termlink.CableVirtualSerial, termlink.CableRS232:
	default:
		return fmt.Errorf("%w: cable mode %q", termlink.ErrDescriptorUnsupported, desc.CableMode)
	}
	if desc.Serial == nil {
		return fmt.Errorf("%w: missing serial line parameters", termlink.ErrDescriptorInvalid)
	}
	_, err := modeFor(desc.Serial)
	return err
}

// Connect implements termlink.Conn. It opens the line, starts the reader and
// hands reassembled frames to sink.
func (t *Transport) Connect(ctx context.Context, desc *termlink.Descriptor, sink termlink.Sink) (map[string]string, error) {
	if err := t.Validate(desc); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := t.portName
	if name == "" {
		var err error
		if name, err = t.firstPort(); err != nil {
			return nil, err
		}
	}

	mode, err := modeFor(desc.Serial)
	if err != nil {
		return nil, err
	}
	port, err := t.opener(name, mode)
	if err != nil {
		return nil, classifyOpenErr(name, err)
	}
	if err := port.SetReadTimeout(readPollInterval); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", name, err)
	}

	t.mu.Lock()
	if t.port != nil {
		t.mu.Unlock()
		_ = port.Close()
		return nil, fmt.Errorf("%w: serial channel already open", termlink.ErrIllegalState)
	}
	asm := frame.NewAssembler(sink.Deliver, &frame.AssemblerConfig{Log: t.log})
	done := make(chan struct{})
	t.port = port
	t.asm = asm
	t.sink = sink
	t.done = done
	t.openName = name
	t.wg.Add(1)
	t.mu.Unlock()

	go t.readLoop(port, asm, done, name)

	t.log.Info("serial channel open",
		zap.String("port", name),
		zap.String("mode", modeLabel(desc.Serial)))
	return map[string]string{
		"transport": "serial",
		"port":      name,
		"mode":      modeLabel(desc.Serial),
	}, nil
}

// Send implements termlink.Conn. The payload is framed and written whole;
// concurrent writers are serialized so frames never interleave.
func (t *Transport) Send(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	port := t.port
	name := t.openName
	t.mu.Unlock()
	if port == nil {
		return fmt.Errorf("%w: serial channel not open", termlink.ErrNotConnected)
	}

	encoded, err := frame.Encode(payload)
	if err != nil {
		return termlink.NewDataTooLargeError("send", name)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := writeFull(ctx, port, encoded); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %w", termlink.ErrTransportWrite, err)
	}
	return nil
}

// Close implements termlink.Conn. It is idempotent and waits for the reader
// to stop before releasing the frame assembler.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.port == nil {
		t.mu.Unlock()
		return nil
	}
	port := t.port
	asm := t.asm
	t.port = nil
	t.asm = nil
	t.sink = nil
	close(t.done)
	t.mu.Unlock()

	closeErr := port.Close()
	t.wg.Wait()
	asm.Close()

	if closeErr != nil {
		return fmt.Errorf("close serial port: %w", closeErr)
	}
	return nil
}

// Kind implements termlink.Conn.
func (*Transport) Kind() termlink.TransportKind { return termlink.TransportCable }

// Name implements termlink.Conn.
func (*Transport) Name() string { return "serial" }

// HasCapability implements termlink.CapabilityChecker.
func (*Transport) HasCapability(capability termlink.Capability) bool {
	return capability == termlink.CapabilityFramed
}

// readLoop pulls raw bytes off the line and pushes them into the assembler.
// Frame delivery happens on the assembler's worker, never here, so a slow
// receiver cannot stall the line.
func (t *Transport) readLoop(port Port, asm *frame.Assembler, done chan struct{}, name string) {
	defer t.wg.Done()
	buf := make([]byte, readBufferSize)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			asm.Push(buf[:n])
		}
		if err != nil {
			select {
			case <-done:
				// Shutdown closed the port under us.
			default:
				lost := termlink.NewDisconnectedError("read", name, err)
				// Reported off this goroutine: the kernel's loss handling
				// closes the transport, and Close waits for this reader.
				go t.reportLost(lost)
			}
			return
		}
		select {
		case <-done:
			return
		default:
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
	t.log.Warn("serial channel lost", zap.Error(err))
	sink.Lost(err)
}

func (t *Transport) firstPort() (string, error) {
	ports, err := t.lister()
	if err != nil {
		return "", fmt.Errorf("enumerate serial ports: %w", err)
	}
	if len(ports) == 0 {
		return "", fmt.Errorf("%w: no serial ports present", termlink.ErrTargetUnavailable)
	}
	return ports[0], nil
}

// modeFor maps descriptor line parameters onto the serial library's mode.
func modeFor(p *termlink.SerialParams) (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: p.BaudRate,
		DataBits: p.DataBits,
	}
	switch p.Parity {
	case "", "none":
		mode.Parity = serial.NoParity
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	default:
		return nil, fmt.Errorf("%w: parity %q", termlink.ErrDescriptorInvalid, p.Parity)
	}
	switch p.StopBits {
	case 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("%w: stop bits %d", termlink.ErrDescriptorInvalid, p.StopBits)
	}
	return mode, nil
}

func modeLabel(p *termlink.SerialParams) string {
	return strconv.Itoa(p.BaudRate) + "/" + strconv.Itoa(p.DataBits) +
		"/" + p.Parity + "/" + strconv.Itoa(p.StopBits)
}

// classifyOpenErr maps library open failures onto the error taxonomy.
func classifyOpenErr(name string, err error) error {
	var pe *serial.PortError
	if errors.As(err, &pe) {
		switch pe.Code() {
		case serial.PortNotFound:
			return fmt.Errorf("%w: %s: %w", termlink.ErrTargetUnavailable, name, err)
		case serial.PortBusy:
			return fmt.Errorf("%w: %s is busy: %w", termlink.ErrTargetUnavailable, name, err)
		case serial.PermissionDenied:
			return fmt.Errorf("%w: %s: %w", termlink.ErrPermissionDenied, name, err)
		}
	}
	return fmt.Errorf("open serial port %q: %w", name, err)
}

// writeFull writes buf completely, honoring cancellation between partial
// writes.
func writeFull(ctx context.Context, w io.Writer, buf []byte) error {
	written := 0
	for written < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := w.Write(buf[written:])
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		written += n
	}
	return nil
}
