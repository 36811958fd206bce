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

package ipc

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	termlink "github.com/TermlinkProject/go-termlink"
	"github.com/TermlinkProject/go-termlink/internal/frame"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeChannel stands in for a bound byte channel. Reads block like a socket
// read and fail once the channel is closed.
type fakeChannel struct {
	incoming  chan []byte
	readErrs  chan error
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	written  []byte
	writeErr error
	pending  []byte
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		incoming: make(chan []byte, 16),
		readErrs: make(chan error, 4),
		closed:   make(chan struct{}),
	}
}

func (c *fakeChannel) Read(buf []byte) (int, error) {
	c.mu.Lock()
	if len(c.pending) > 0 {
		n := copy(buf, c.pending)
		c.pending = c.pending[n:]
		c.mu.Unlock()
		return n, nil
	}
	c.mu.Unlock()

	select {
	case chunk := <-c.incoming:
		n := copy(buf, chunk)
		if n < len(chunk) {
			c.mu.Lock()
			c.pending = append(c.pending, chunk[n:]...)
			c.mu.Unlock()
		}
		return n, nil
	case err := <-c.readErrs:
		return 0, err
	case <-c.closed:
		return 0, io.ErrClosedPipe
	}
}

func (c *fakeChannel) Write(buf []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	select {
	case <-c.closed:
		return 0, io.ErrClosedPipe
	default:
	}
	c.written = append(c.written, buf...)
	return len(buf), nil
}

func (c *fakeChannel) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeChannel) Written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, len(c.written))
	copy(out, c.written)
	return out
}

func (c *fakeChannel) FailWrites(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

type recordingSink struct {
	frames chan []byte
	lost   chan error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		frames: make(chan []byte, 16),
		lost:   make(chan error, 4),
	}
}

func (s *recordingSink) Deliver(payload []byte) {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	s.frames <- buf
}

func (s *recordingSink) Lost(err error) { s.lost <- err }

func mustDescriptor(t *testing.T, uri string) *termlink.Descriptor {
	t.Helper()
	desc, err := termlink.ParseDescriptor(uri)
	require.NoError(t, err)
	return desc
}

func connectFake(t *testing.T) (*Transport, *fakeChannel, *recordingSink) {
	t.Helper()
	channel := newFakeChannel()
	tr := New(WithBinder(BinderFunc(func(context.Context, string, string) (io.ReadWriteCloser, error) {
		return channel, nil
	})))
	sink := newRecordingSink()
	_, err := tr.Connect(context.Background(), mustDescriptor(t, "local://pinpad"), sink)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr, channel, sink
}

func TestSchemeRegistered(t *testing.T) {
	assert.Contains(t, termlink.RegisteredSchemes(), "local")
}

func TestValidate(t *testing.T) {
	tr := New()

	assert.NoError(t, tr.Validate(mustDescriptor(t, "local://pinpad")))
	assert.NoError(t, tr.Validate(mustDescriptor(t, "local://pinpad/admin")))

	err := tr.Validate(mustDescriptor(t, "ws://10.0.0.5:9100"))
	assert.ErrorIs(t, err, termlink.ErrDescriptorUnsupported)

	err = tr.Validate(&termlink.Descriptor{Kind: termlink.TransportIPC, Scheme: "local"})
	assert.ErrorIs(t, err, termlink.ErrDescriptorInvalid)
}

func TestConnect_BindsDescriptorTarget(t *testing.T) {
	var boundID, boundSub string
	channel := newFakeChannel()
	tr := New(WithBinder(BinderFunc(func(_ context.Context, identifier, sub string) (io.ReadWriteCloser, error) {
		boundID, boundSub = identifier, sub
		return channel, nil
	})))

	extra, err := tr.Connect(context.Background(), mustDescriptor(t, "local://pinpad/admin"), newRecordingSink())
	require.NoError(t, err)
	defer tr.Close()

	assert.Equal(t, "pinpad", boundID)
	assert.Equal(t, "admin", boundSub)
	assert.Equal(t, "ipc", extra["transport"])
	assert.Equal(t, "pinpad/admin", extra["target"])
}

func TestConnect_BindFailureClassified(t *testing.T) {
	tests := []struct {
		name    string
		bindErr error
		wantErr error
	}{
		{
			name:    "endpoint missing",
			bindErr: fs.ErrNotExist,
			wantErr: termlink.ErrTargetUnavailable,
		},
		{
			name:    "endpoint refusing",
			bindErr: &net.OpError{Op: "dial", Err: errors.New("refused")},
			wantErr: nil,
		},
		{
			name:    "permission denied",
			bindErr: fs.ErrPermission,
			wantErr: termlink.ErrPermissionDenied,
		},
		{
			name:    "cancelled bind",
			bindErr: context.Canceled,
			wantErr: context.Canceled,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New(WithBinder(BinderFunc(func(context.Context, string, string) (io.ReadWriteCloser, error) {
				return nil, tt.bindErr
			})))
			_, err := tr.Connect(context.Background(), mustDescriptor(t, "local://pinpad"), newRecordingSink())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.bindErr)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestConnect_SecondConnectRejected(t *testing.T) {
	tr := New(WithBinder(BinderFunc(func(context.Context, string, string) (io.ReadWriteCloser, error) {
		return newFakeChannel(), nil
	})))
	desc := mustDescriptor(t, "local://pinpad")
	_, err := tr.Connect(context.Background(), desc, newRecordingSink())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	_, err = tr.Connect(context.Background(), desc, newRecordingSink())
	assert.ErrorIs(t, err, termlink.ErrIllegalState)
}

func TestSend_WritesOneFrame(t *testing.T) {
	tr, channel, _ := connectFake(t)

	require.NoError(t, tr.Send(context.Background(), []byte("OK")))

	want, err := frame.Encode([]byte("OK"))
	require.NoError(t, err)
	assert.Equal(t, want, channel.Written())
}

func TestSend_NotConnected(t *testing.T) {
	tr := New()
	err := tr.Send(context.Background(), []byte("early"))
	assert.ErrorIs(t, err, termlink.ErrNotConnected)
}

func TestSend_PayloadTooLarge(t *testing.T) {
	tr, channel, _ := connectFake(t)

	err := tr.Send(context.Background(), make([]byte, frame.MaxPayloadSize+1))
	assert.ErrorIs(t, err, termlink.ErrDataTooLarge)
	assert.Empty(t, channel.Written())
}

func TestSend_WriteFailureIsRetryable(t *testing.T) {
	tr, channel, _ := connectFake(t)
	channel.FailWrites(errors.New("EPIPE"))

	err := tr.Send(context.Background(), []byte("OK"))
	assert.ErrorIs(t, err, termlink.ErrTransportWrite)
	assert.True(t, termlink.IsRetryable(err))
}

func TestReceive_DeliversAssembledFrames(t *testing.T) {
	_, channel, sink := connectFake(t)

	// One frame split across two fragments.
	channel.incoming <- []byte("FF0002")
	channel.incoming <- []byte("4F4B9AFE")

	select {
	case got := <-sink.frames:
		assert.Equal(t, []byte("OK"), got)
	case <-time.After(2 * time.Second):
		t.Fatal("frame never delivered")
	}
}

func TestReadFailureReportsLoss(t *testing.T) {
	_, channel, sink := connectFake(t)

	channel.readErrs <- io.ErrUnexpectedEOF

	select {
	case err := <-sink.lost:
		assert.ErrorIs(t, err, termlink.ErrDisconnected)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	case <-time.After(2 * time.Second):
		t.Fatal("loss never reported")
	}
}

func TestClose_SuppressesLossReport(t *testing.T) {
	tr, _, sink := connectFake(t)

	require.NoError(t, tr.Close())

	select {
	case err := <-sink.lost:
		t.Fatalf("unexpected loss report after close: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClose_Idempotent(t *testing.T) {
	tr, _, _ := connectFake(t)

	assert.NoError(t, tr.Close())
	assert.NoError(t, tr.Close())
}

func TestIdentity(t *testing.T) {
	tr := New()
	assert.Equal(t, termlink.TransportIPC, tr.Kind())
	assert.Equal(t, "ipc", tr.Name())
	assert.True(t, tr.HasCapability(termlink.CapabilityFramed))
	assert.False(t, tr.HasCapability(termlink.CapabilityMessageOriented))
}

func TestUnixBinder_DialsSocketUnderDir(t *testing.T) {
	dir := t.TempDir()
	ln, err := net.Listen("unix", filepath.Join(dir, "pinpad.admin.sock"))
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			_ = conn.Close()
		}
		close(accepted)
	}()

	b := &UnixBinder{Dir: dir}
	channel, err := b.Bind(context.Background(), "pinpad", "admin")
	require.NoError(t, err)
	defer channel.Close()

	select {
	case <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("listener never saw the bind")
	}
}

func TestConnect_MissingSocketIsUnavailable(t *testing.T) {
	tr := New(WithBinder(&UnixBinder{Dir: t.TempDir()}))

	_, err := tr.Connect(context.Background(), mustDescriptor(t, "local://pinpad"), newRecordingSink())
	assert.ErrorIs(t, err, termlink.ErrTargetUnavailable)
}
