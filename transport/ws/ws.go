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

// Package ws implements the network transport for ws:// and wss://
// descriptors. Websocket messages already carry boundaries, so payloads move
// whole in both directions and no byte-stream framing is applied.
package ws

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	termlink "github.com/TermlinkProject/go-termlink"
)

const (
	// DefaultHandshakeTimeout bounds the websocket upgrade.
	DefaultHandshakeTimeout = 10 * time.Second
	// DefaultWriteTimeout applies when the send context carries no deadline.
	DefaultWriteTimeout = 10 * time.Second

	closeGraceTimeout = time.Second
)

func init() {
	termlink.RegisterTransport("ws", func() termlink.Conn { return New() })
	termlink.RegisterTransport("wss", func() termlink.Conn { return New() })
}

// Socket is the slice of a websocket connection the transport needs. The
// system implementation is *websocket.Conn; tests substitute their own.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer establishes a websocket connection to url.
type Dialer func(ctx context.Context, url string) (Socket, error)

// Transport implements the termlink.Conn interface over a websocket client.
type Transport struct {
	log       *zap.Logger
	dialer    Dialer
	tlsConfig *tls.Config
	handshake time.Duration

	mu      sync.Mutex
	sock    Socket
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

// WithTLSConfig sets the client TLS configuration used for wss descriptors.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(t *Transport) { t.tlsConfig = cfg }
}

// WithHandshakeTimeout bounds the websocket upgrade.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(t *Transport) { t.handshake = d }
}

// WithDialer replaces the system websocket dialer.
func WithDialer(dial Dialer) Option {
	return func(t *Transport) { t.dialer = dial }
}

// New creates an unconnected websocket transport.
func New(opts ...Option) *Transport {
	t := &Transport{
		log:       zap.NewNop(),
		handshake: DefaultHandshakeTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Validate implements termlink.Conn.
func (*Transport) Validate(desc *termlink.Descriptor) error {
	if desc.Kind != termlink.TransportNetwork {
		return fmt.Errorf("%w: websocket transport cannot serve %s descriptors",
			termlink.ErrDescriptorUnsupported, desc.Kind)
	}
	switch desc.Scheme {
	case "ws", "wss":
	default:
		return fmt.Errorf("%w: scheme %q", termlink.ErrDescriptorUnsupported, desc.Scheme)
	}
	if desc.Host == "" {
		return fmt.Errorf("%w: missing host", termlink.ErrDescriptorInvalid)
	}
	if desc.Port <= 0 || desc.Port > 65535 {
		return fmt.Errorf("%w: port %d", termlink.ErrDescriptorInvalid, desc.Port)
	}
	return nil
}

// Connect implements termlink.Conn. It dials the endpoint and starts the read
// pump that hands inbound messages to sink.
func (t *Transport) Connect(ctx context.Context, desc *termlink.Descriptor, sink termlink.Sink) (map[string]string, error) {
	if err := t.Validate(desc); err != nil {
		return nil, err
	}

	target := desc.URI()
	dial := t.dialer
	if dial == nil {
		dial = t.systemDial
	}
	sock, err := dial(ctx, target)
	if err != nil {
		return nil, classifyDialErr(target, err)
	}

	t.mu.Lock()
	if t.sock != nil {
		t.mu.Unlock()
		_ = sock.Close()
		return nil, fmt.Errorf("%w: websocket channel already open", termlink.ErrIllegalState)
	}
	done := make(chan struct{})
	t.sock = sock
	t.sink = sink
	t.done = done
	t.target = target
	t.wg.Add(1)
	t.mu.Unlock()

	go t.readLoop(sock, sink, done, target)

	t.log.Info("websocket channel open",
		zap.String("url", target),
		zap.Bool("secure", desc.Secure))
	return map[string]string{
		"transport": "ws",
		"url":       target,
		"secure":    strconv.FormatBool(desc.Secure),
	}, nil
}

// Send implements termlink.Conn. Each payload travels as one binary message;
// concurrent writers are serialized because gorilla permits one writer at a
// time.
func (t *Transport) Send(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	sock := t.sock
	t.mu.Unlock()
	if sock == nil {
		return fmt.Errorf("%w: websocket channel not open", termlink.ErrNotConnected)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultWriteTimeout)
	}
	_ = sock.SetWriteDeadline(deadline)
	if err := sock.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return fmt.Errorf("%w: %w", termlink.ErrTransportWrite, err)
	}
	return nil
}

// Close implements termlink.Conn. A close frame is offered to the peer before
// the socket is torn down; the read pump is drained before returning.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.sock == nil {
		t.mu.Unlock()
		return nil
	}
	sock := t.sock
	t.sock = nil
	t.sink = nil
	close(t.done)
	t.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = sock.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGraceTimeout))
	closeErr := sock.Close()
	t.wg.Wait()

	if closeErr != nil {
		return fmt.Errorf("close websocket: %w", closeErr)
	}
	return nil
}

// Kind implements termlink.Conn.
func (*Transport) Kind() termlink.TransportKind { return termlink.TransportNetwork }

// Name implements termlink.Conn.
func (*Transport) Name() string { return "ws" }

// HasCapability implements termlink.CapabilityChecker.
func (*Transport) HasCapability(capability termlink.Capability) bool {
	return capability == termlink.CapabilityMessageOriented
}

func (t *Transport) systemDial(ctx context.Context, url string) (Socket, error) {
	d := websocket.Dialer{
		HandshakeTimeout: t.handshake,
		TLSClientConfig:  t.tlsConfig,
	}
	sock, resp, err := d.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return nil, err
	}
	return sock, nil
}

// readLoop delivers inbound messages in arrival order. Control frames are
// handled inside ReadMessage; anything that is not a data message is dropped.
func (t *Transport) readLoop(sock Socket, sink termlink.Sink, done chan struct{}, target string) {
	defer t.wg.Done()
	for {
		msgType, payload, err := sock.ReadMessage()
		if err != nil {
			select {
			case <-done:
				// Shutdown closed the socket under us.
			default:
				lost := termlink.NewDisconnectedError("read", target, err)
				// Reported off this goroutine: the kernel's loss handling
				// closes the transport, and Close waits for this pump.
				go t.reportLost(lost)
			}
			return
		}
		switch msgType {
		case websocket.BinaryMessage, websocket.TextMessage:
			sink.Deliver(payload)
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
	t.log.Warn("websocket channel lost", zap.Error(err))
	sink.Lost(err)
}

// classifyDialErr maps dial failures onto the error taxonomy.
func classifyDialErr(target string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, websocket.ErrBadHandshake):
		return fmt.Errorf("%w: %s: %w", termlink.ErrHandshakeFailed, target, err)
	}
	return fmt.Errorf("%w: dial %s: %w", termlink.ErrTargetUnavailable, target, err)
}
