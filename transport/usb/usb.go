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

// Package usb implements the cable transport for usb://host/<device> and
// usb://accessory descriptors. The platform USB driver is an external
// collaborator injected as an Opener; this package owns the bulk read pump
// and its failure policy. Accessory mode re-enumerates the device during the
// protocol switch, so endpoint drops around that phase are tolerated and the
// pump reopens the endpoint quietly instead of reporting a dead channel.
package usb

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	termlink "github.com/TermlinkProject/go-termlink"
	"github.com/TermlinkProject/go-termlink/internal/frame"
	"github.com/TermlinkProject/go-termlink/internal/xfer"
)

const (
	// DefaultReadTimeout bounds one bulk-in transfer.
	DefaultReadTimeout = 500 * time.Millisecond
	// DefaultWriteTimeout bounds one bulk-out transfer.
	DefaultWriteTimeout = 2 * time.Second
	// DefaultReopenWait bounds the quiet endpoint reopen after a tolerated
	// drop (accessory re-enumeration).
	DefaultReopenWait = 10 * time.Second

	readBufferSize = 4096
)

// Endpoint is the bulk-transfer surface of an attached terminal. ReadBulk
// and WriteBulk return the transferred byte count, or one of the negative
// driver codes (xfer.CodeTimeout, xfer.CodeFailed, xfer.CodeDisconnected)
// when the driver reports a failure instead of a count. Connected reports
// whether the endpoint handle is still open; a vanished device keeps the
// handle open and fails transfers with xfer.CodeDisconnected.
type Endpoint interface {
	ReadBulk(buf []byte, timeout time.Duration) int
	WriteBulk(buf []byte, timeout time.Duration) int
	Connected() bool
	Close() error
}

// Opener attaches the device a cable descriptor names. Accessory openers
// perform the accessory handshake; switched reports whether the device was
// re-enumerated on the way, which arms the protocol-switch tolerance.
type Opener interface {
	Open(ctx context.Context, mode termlink.CableMode, device string) (ep Endpoint, switched bool, err error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, mode termlink.CableMode, device string) (Endpoint, bool, error)

// Open implements Opener.
func (f OpenerFunc) Open(ctx context.Context, mode termlink.CableMode, device string) (Endpoint, bool, error) {
	return f(ctx, mode, device)
}

var (
	driverMu sync.RWMutex
	driver   Opener
)

// RegisterDriver installs the platform USB driver used by descriptor-routed
// connects. Callers constructing the transport directly pass the opener to
// New instead.
func RegisterDriver(opener Opener) {
	driverMu.Lock()
	driver = opener
	driverMu.Unlock()
}

func registeredDriver() Opener {
	driverMu.RLock()
	defer driverMu.RUnlock()
	return driver
}

func init() {
	termlink.RegisterTransport("usb", func() termlink.Conn { return New(registeredDriver()) })
}

// Transport implements the termlink.Conn interface for USB cables.
type Transport struct {
	log          *zap.Logger
	opener       Opener
	policy       xfer.Config
	readTimeout  time.Duration
	writeTimeout time.Duration
	reopenWait   time.Duration

	mu      sync.Mutex
	ep      Endpoint
	asm     *frame.Assembler
	cls     *xfer.Classifier
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

// WithReadTimeout bounds one bulk-in transfer.
func WithReadTimeout(d time.Duration) Option {
	return func(t *Transport) { t.readTimeout = d }
}

// WithWriteTimeout bounds one bulk-out transfer.
func WithWriteTimeout(d time.Duration) Option {
	return func(t *Transport) { t.writeTimeout = d }
}

// WithReopenWait bounds the quiet endpoint reopen after a tolerated drop.
func WithReopenWait(d time.Duration) Option {
	return func(t *Transport) { t.reopenWait = d }
}

// WithMaxConsecutiveFailures overrides the transfer-failure threshold that
// degrades the channel.
func WithMaxConsecutiveFailures(n int) Option {
	return func(t *Transport) { t.policy.MaxConsecutive = n }
}

// WithRetryDelay overrides the pause between retried bulk transfers.
func WithRetryDelay(d time.Duration) Option {
	return func(t *Transport) { t.policy.RetryDelay = d }
}

// WithGraceWindow overrides the post-connect window in which endpoint drops
// are tolerated.
func WithGraceWindow(d time.Duration) Option {
	return func(t *Transport) { t.policy.GraceWindow = d }
}

// WithSwitchWindow overrides the protocol-switch window in which endpoint
// drops are tolerated.
func WithSwitchWindow(d time.Duration) Option {
	return func(t *Transport) { t.policy.SwitchWindow = d }
}

// New creates an unconnected USB cable transport around the given driver.
// A nil opener is accepted so the transport can be constructed before a
// platform driver is registered; connecting without one fails.
func New(opener Opener, opts ...Option) *Transport {
	t := &Transport{
		log:          zap.NewNop(),
		opener:       opener,
		readTimeout:  DefaultReadTimeout,
		writeTimeout: DefaultWriteTimeout,
		reopenWait:   DefaultReopenWait,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Validate implements termlink.Conn.
func (*Transport) Validate(desc *termlink.Descriptor) error {
	if desc.Kind != termlink.TransportCable {
		return fmt.Errorf("%w: usb transport cannot serve %s descriptors",
			termlink.ErrDescriptorUnsupported, desc.Kind)
	}
	switch desc.CableMode {
	case termlink.CableUSBHost:
		if desc.Device == "" {
			return fmt.Errorf("%w: usb host mode requires a device", termlink.ErrDescriptorInvalid)
		}
	case termlink.CableUSBAccessory:
	default:
		return fmt.Errorf("%w: cable mode %q", termlink.ErrDescriptorUnsupported, desc.CableMode)
	}
	return nil
}

// Connect implements termlink.Conn. It attaches the device through the
// driver and starts the classifier-driven bulk pump.
func (t *Transport) Connect(ctx context.Context, desc *termlink.Descriptor, sink termlink.Sink) (map[string]string, error) {
	if err := t.Validate(desc); err != nil {
		return nil, err
	}
	if t.opener == nil {
		return nil, fmt.Errorf("%w: no usb driver registered", termlink.ErrTargetUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode, device := desc.CableMode, desc.Device
	target := "usb/" + string(mode)
	if device != "" {
		target += "/" + device
	}

	cls := xfer.New(t.policy)
	if mode == termlink.CableUSBAccessory {
		// The accessory handshake re-enumerates the device; drops during
		// that phase are expected.
		cls.MarkSwitching()
	}
	ep, switched, err := t.opener.Open(ctx, mode, device)
	if err != nil {
		return nil, classifyOpenErr(target, err)
	}
	if switched {
		cls.MarkSwitching()
	}
	cls.MarkConnected()

	t.mu.Lock()
	if t.ep != nil {
		t.mu.Unlock()
		_ = ep.Close()
		return nil, fmt.Errorf("%w: usb channel already open", termlink.ErrIllegalState)
	}
	asm := frame.NewAssembler(sink.Deliver, &frame.AssemblerConfig{Log: t.log})
	done := make(chan struct{})
	t.ep = ep
	t.asm = asm
	t.cls = cls
	t.sink = sink
	t.done = done
	t.target = target
	t.wg.Add(1)
	t.mu.Unlock()

	st := pumpState{
		asm:    asm,
		cls:    cls,
		done:   done,
		target: target,
		mode:   mode,
		device: device,
	}
	go t.pump(ep, st)

	t.log.Info("usb channel open",
		zap.String("target", target),
		zap.Bool("switched", switched))
	return map[string]string{
		"transport": "usb",
		"mode":      string(mode),
		"device":    device,
		"switched":  strconv.FormatBool(switched),
	}, nil
}

// Send implements termlink.Conn. The payload is framed and pushed through
// bulk-out transfers until fully written.
func (t *Transport) Send(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	ep := t.ep
	target := t.target
	t.mu.Unlock()
	if ep == nil {
		return fmt.Errorf("%w: usb channel not open", termlink.ErrNotConnected)
	}

	encoded, err := frame.Encode(payload)
	if err != nil {
		return termlink.NewDataTooLargeError("send", target)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	written := 0
	for written < len(encoded) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := ep.WriteBulk(encoded[written:], t.writeTimeout)
		switch {
		case n > 0:
			written += n
		case n == xfer.CodeTimeout:
			return termlink.NewTimeoutError("send", target)
		case n == xfer.CodeDisconnected:
			return termlink.NewDisconnectedError("send", target, nil)
		default:
			return fmt.Errorf("%w: bulk write returned %d", termlink.ErrTransportWrite, n)
		}
	}
	return nil
}

// Close implements termlink.Conn. It is idempotent and waits for the pump to
// stop before releasing the frame assembler.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.ep == nil {
		t.mu.Unlock()
		return nil
	}
	ep := t.ep
	asm := t.asm
	t.ep = nil
	t.asm = nil
	t.cls = nil
	t.sink = nil
	close(t.done)
	t.mu.Unlock()

	closeErr := ep.Close()
	t.wg.Wait()
	asm.Close()

	if closeErr != nil {
		return fmt.Errorf("close usb endpoint: %w", closeErr)
	}
	return nil
}

// Kind implements termlink.Conn.
func (*Transport) Kind() termlink.TransportKind { return termlink.TransportCable }

// Name implements termlink.Conn.
func (*Transport) Name() string { return "usb" }

// HasCapability implements termlink.CapabilityChecker.
func (*Transport) HasCapability(capability termlink.Capability) bool {
	switch capability {
	case termlink.CapabilityFramed, termlink.CapabilityProtocolSwitch:
		return true
	}
	return false
}

type pumpState struct {
	asm    *frame.Assembler
	cls    *xfer.Classifier
	done   chan struct{}
	target string
	mode   termlink.CableMode
	device string
}

// pump drives bulk-in transfers and lets the classifier decide what each
// outcome means. Tolerated endpoint drops reopen the device quietly; real
// failures are reported exactly once.
func (t *Transport) pump(ep Endpoint, st pumpState) {
	defer t.wg.Done()
	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-st.done:
			return
		default:
		}

		n := ep.ReadBulk(buf, t.readTimeout)
		if n > 0 {
			st.asm.Push(buf[:n])
		}
		directive := st.cls.Classify(xfer.Result{
			Code:      n,
			Connected: ep.Connected(),
		})

		switch directive.Action {
		case xfer.ActionContinue:
			if directive.Delay > 0 {
				select {
				case <-st.done:
					return
				case <-time.After(directive.Delay):
				}
			}
		case xfer.ActionBreakSilent:
			next, ok := t.reopen(st)
			if !ok {
				return
			}
			ep = next
		case xfer.ActionBreakReport:
			select {
			case <-st.done:
				// Shutdown closed the endpoint under us.
			default:
				// Reported off this goroutine: the kernel's loss handling
				// closes the transport, and Close waits for this pump.
				go t.reportLost(t.lossFor(directive, st))
			}
			return
		}
	}
}

// reopen reattaches the endpoint after a tolerated drop. The device is
// expected back shortly; failing to find it turns the quiet drop into a
// reported loss.
func (t *Transport) reopen(st pumpState) (Endpoint, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), t.reopenWait)
	defer cancel()
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-st.done:
			cancel()
		case <-watchDone:
		}
	}()
	defer close(watchDone)

	ep, _, err := t.opener.Open(ctx, st.mode, st.device)
	if err != nil {
		select {
		case <-st.done:
		default:
			go t.reportLost(termlink.NewDisconnectedError("reopen", st.target, err))
		}
		return nil, false
	}

	t.mu.Lock()
	if t.done != st.done {
		// Transport closed while reopening.
		t.mu.Unlock()
		_ = ep.Close()
		return nil, false
	}
	old := t.ep
	t.ep = ep
	t.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	st.cls.MarkConnected()
	t.log.Info("usb endpoint reopened", zap.String("target", st.target))
	return ep, true
}

// lossFor turns a break-and-report directive into the error the kernel sees.
func (t *Transport) lossFor(directive xfer.Directive, st pumpState) error {
	if directive.State == termlink.StateError {
		stats := st.cls.Stats()
		return fmt.Errorf("%w: %d consecutive transfer failures on %s",
			termlink.ErrChannelDegraded, stats.Consecutive, st.target)
	}
	return termlink.NewDisconnectedError("read", st.target, nil)
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
	t.log.Warn("usb channel lost", zap.Error(err))
	sink.Lost(err)
}

// classifyOpenErr maps driver attach failures onto the error taxonomy.
func classifyOpenErr(target string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %s: %w", termlink.ErrPermissionDenied, target, err)
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s: %w", termlink.ErrTargetUnavailable, target, err)
	}
	return fmt.Errorf("open usb device %s: %w", target, err)
}
