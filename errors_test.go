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
	"strings"
	"testing"
)

func TestIsRetryable(t *testing.T) {
	t.Parallel()
	tests := getIsRetryableTestCases()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := IsRetryable(tt.err)
			if got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func getIsRetryableTestCases() []struct {
	err  error
	name string
	want bool
} {
	return []struct {
		err  error
		name string
		want bool
	}{
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
		{
			name: "transport timeout retryable",
			err:  ErrTransportTimeout,
			want: true,
		},
		{
			name: "transport read retryable",
			err:  ErrTransportRead,
			want: true,
		},
		{
			name: "transport write retryable",
			err:  ErrTransportWrite,
			want: true,
		},
		{
			name: "frame corrupted retryable",
			err:  ErrFrameCorrupted,
			want: true,
		},
		{
			name: "checksum mismatch retryable",
			err:  ErrChecksumMismatch,
			want: true,
		},
		{
			name: "partial transfer retryable",
			err:  ErrPartialTransfer,
			want: true,
		},
		{
			name: "disconnected not retryable",
			err:  ErrDisconnected,
			want: false,
		},
		{
			name: "degraded channel not retryable",
			err:  ErrChannelDegraded,
			want: false,
		},
		{
			name: "target unavailable not retryable",
			err:  ErrTargetUnavailable,
			want: false,
		},
		{
			name: "permission denied not retryable",
			err:  ErrPermissionDenied,
			want: false,
		},
		{
			name: "data too large not retryable",
			err:  ErrDataTooLarge,
			want: false,
		},
		{
			name: "invalid parameter not retryable",
			err:  ErrInvalidParameter,
			want: false,
		},
		{
			name: "wrapped retryable error",
			err:  errors.New("outer: " + ErrTransportTimeout.Error()),
			want: false,
		},
	}
}

func TestIsRetryable_TransportError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		transport *TransportError
		name      string
		want      bool
	}{
		{
			name: "transport error retryable=true",
			transport: &TransportError{
				Err:       errors.New("test error"),
				Op:        "read",
				Target:    "ws://10.0.0.5:8443",
				Type:      ErrorTypeTransient,
				Retryable: true,
			},
			want: true,
		},
		{
			name: "transport error retryable=false",
			transport: &TransportError{
				Err:       errors.New("test error"),
				Op:        "send",
				Target:    "ws://10.0.0.5:8443",
				Type:      ErrorTypeTransient,
				Retryable: false,
			},
			want: false,
		},
		{
			name: "transport error with retryable underlying error but retryable=false",
			transport: &TransportError{
				Err:       ErrTransportTimeout,
				Op:        "read",
				Target:    "/dev/ttyUSB0",
				Type:      ErrorTypeTimeout,
				Retryable: false,
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := IsRetryable(tt.transport)
			if got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetErrorType(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		name string
		want ErrorType
	}{
		{
			name: "nil error",
			err:  nil,
			want: ErrorTypePermanent,
		},
		{
			name: "transport timeout",
			err:  ErrTransportTimeout,
			want: ErrorTypeTimeout,
		},
		{
			name: "transport read",
			err:  ErrTransportRead,
			want: ErrorTypeTransient,
		},
		{
			name: "transport write",
			err:  ErrTransportWrite,
			want: ErrorTypeTransient,
		},
		{
			name: "frame corrupted",
			err:  ErrFrameCorrupted,
			want: ErrorTypeTransient,
		},
		{
			name: "checksum mismatch",
			err:  ErrChecksumMismatch,
			want: ErrorTypeTransient,
		},
		{
			name: "partial transfer",
			err:  ErrPartialTransfer,
			want: ErrorTypeTransient,
		},
		{
			name: "disconnected",
			err:  ErrDisconnected,
			want: ErrorTypePermanent,
		},
		{
			name: "handshake failed",
			err:  ErrHandshakeFailed,
			want: ErrorTypePermanent,
		},
		{
			name: "unknown error",
			err:  errors.New("unknown error"),
			want: ErrorTypePermanent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := GetErrorType(tt.err)
			if got != tt.want {
				t.Errorf("GetErrorType() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetErrorType_TransportError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		transport *TransportError
		name      string
		want      ErrorType
	}{
		{
			name: "transport error transient",
			transport: &TransportError{
				Err:       errors.New("test error"),
				Op:        "read",
				Target:    "/dev/ttyUSB0",
				Type:      ErrorTypeTransient,
				Retryable: true,
			},
			want: ErrorTypeTransient,
		},
		{
			name: "transport error timeout",
			transport: &TransportError{
				Err:       errors.New("test error"),
				Op:        "read",
				Target:    "/dev/ttyUSB0",
				Type:      ErrorTypeTimeout,
				Retryable: true,
			},
			want: ErrorTypeTimeout,
		},
		{
			name: "transport error permanent",
			transport: &TransportError{
				Err:       errors.New("test error"),
				Op:        "connect",
				Target:    "/dev/ttyUSB0",
				Type:      ErrorTypePermanent,
				Retryable: false,
			},
			want: ErrorTypePermanent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := GetErrorType(tt.transport)
			if got != tt.want {
				t.Errorf("GetErrorType() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewTransportError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err      error
		name     string
		op       string
		target   string
		errType  ErrorType
		wantCode string
	}{
		{
			name:     "basic transport error",
			op:       "connect",
			target:   "ws://10.0.0.5:8443",
			err:      ErrTargetUnavailable,
			errType:  ErrorTypePermanent,
			wantCode: CodeUnavailable,
		},
		{
			name:     "empty target",
			op:       "send",
			target:   "",
			err:      ErrTransportWrite,
			errType:  ErrorTypeTransient,
			wantCode: CodeTransferError,
		},
		{
			name:     "timeout error",
			op:       "send",
			target:   "local://terminal",
			err:      ErrTransportTimeout,
			errType:  ErrorTypeTimeout,
			wantCode: CodeTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			te := NewTransportError(tt.op, tt.target, tt.err, tt.errType)

			if te.Op != tt.op {
				t.Errorf("Op = %q, want %q", te.Op, tt.op)
			}
			if te.Target != tt.target {
				t.Errorf("Target = %q, want %q", te.Target, tt.target)
			}
			if !errors.Is(te.Err, tt.err) {
				t.Errorf("Err = %v, want %v", te.Err, tt.err)
			}
			if te.Type != tt.errType {
				t.Errorf("Type = %v, want %v", te.Type, tt.errType)
			}
			if te.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", te.Code, tt.wantCode)
			}
			if te.Retryable != (tt.errType != ErrorTypePermanent) {
				t.Errorf("Retryable = %v for type %v", te.Retryable, tt.errType)
			}
		})
	}
}

func TestTransportError_Error(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		te   *TransportError
		want []string // Substrings that should be present
	}{
		{
			name: "with target",
			te: &TransportError{
				Err:    errors.New("connection refused"),
				Op:     "connect",
				Target: "ws://10.0.0.5:8443",
			},
			want: []string{"connect", "ws://10.0.0.5:8443", "connection refused"},
		},
		{
			name: "without target",
			te: &TransportError{
				Err:    errors.New("device busy"),
				Op:     "send",
				Target: "",
			},
			want: []string{"send", "device busy"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := tt.te.Error()
			for _, substr := range tt.want {
				if !strings.Contains(got, substr) {
					t.Errorf("Error() = %q, should contain %q", got, substr)
				}
			}
		})
	}
}

func TestTransportError_Unwrap(t *testing.T) {
	t.Parallel()
	originalErr := errors.New("original error")
	te := &TransportError{
		Err:    originalErr,
		Op:     "test",
		Target: "mock",
	}

	unwrapped := te.Unwrap()
	if !errors.Is(unwrapped, originalErr) {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, originalErr)
	}
}

func TestNewTimeoutError(t *testing.T) {
	t.Parallel()
	te := NewTimeoutError("send", "local://terminal")

	if te.Op != "send" {
		t.Errorf("Op = %q, want %q", te.Op, "send")
	}
	if te.Target != "local://terminal" {
		t.Errorf("Target = %q, want %q", te.Target, "local://terminal")
	}
	if te.Type != ErrorTypeTimeout {
		t.Errorf("Type = %v, want %v", te.Type, ErrorTypeTimeout)
	}
	if te.Code != CodeTimeout {
		t.Errorf("Code = %q, want %q", te.Code, CodeTimeout)
	}
	if !te.Retryable {
		t.Error("Retryable should be true for timeout errors")
	}
}

func TestNewDisconnectedError(t *testing.T) {
	t.Parallel()
	cause := errors.New("broken pipe")
	te := NewDisconnectedError("receive", "ws://10.0.0.5:8443", cause)

	if !errors.Is(te, ErrDisconnected) {
		t.Error("error should match ErrDisconnected")
	}
	if !errors.Is(te, cause) {
		t.Error("error should preserve its cause")
	}
	if te.Code != CodeDisconnected {
		t.Errorf("Code = %q, want %q", te.Code, CodeDisconnected)
	}
	if te.Retryable {
		t.Error("Retryable should be false: reconnection owns lost channels")
	}

	// Without a cause the sentinel alone is carried.
	bare := NewDisconnectedError("receive", "", nil)
	if !errors.Is(bare, ErrDisconnected) {
		t.Error("bare error should match ErrDisconnected")
	}
}

func TestNewFrameCorruptedError(t *testing.T) {
	t.Parallel()
	te := NewFrameCorruptedError("read", "/dev/ttyUSB0")

	if te.Op != "read" {
		t.Errorf("Op = %q, want %q", te.Op, "read")
	}
	if te.Type != ErrorTypeTransient {
		t.Errorf("Type = %v, want %v", te.Type, ErrorTypeTransient)
	}
	if te.Code != CodeProtocol {
		t.Errorf("Code = %q, want %q", te.Code, CodeProtocol)
	}
	if !te.Retryable {
		t.Error("Retryable should be true for frame corrupted errors")
	}
}

func TestNewDataTooLargeError(t *testing.T) {
	t.Parallel()
	te := NewDataTooLargeError("send", "/dev/ttyUSB0")

	if te.Type != ErrorTypePermanent {
		t.Errorf("Type = %v, want %v", te.Type, ErrorTypePermanent)
	}
	if te.Retryable {
		t.Error("Retryable should be false for data too large errors")
	}
}

func TestNewStateError(t *testing.T) {
	t.Parallel()
	te := NewStateError("send", StateConnecting)

	if !errors.Is(te, ErrIllegalState) {
		t.Error("error should match ErrIllegalState")
	}
	if te.Code != CodeIllegalState {
		t.Errorf("Code = %q, want %q", te.Code, CodeIllegalState)
	}
	if !strings.Contains(te.Error(), "connecting") {
		t.Errorf("Error() = %q, should name the offending state", te.Error())
	}
	if te.Retryable {
		t.Error("Retryable should be false for state errors")
	}
}

func TestErrorCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		name string
		want string
	}{
		{name: "nil error", err: nil, want: ""},
		{name: "illegal state", err: ErrIllegalState, want: CodeIllegalState},
		{name: "not connected", err: ErrNotConnected, want: CodeIllegalState},
		{name: "invalid descriptor", err: ErrDescriptorInvalid, want: CodeBadDescriptor},
		{name: "unsupported descriptor", err: ErrDescriptorUnsupported, want: CodeBadDescriptor},
		{name: "target unavailable", err: ErrTargetUnavailable, want: CodeUnavailable},
		{name: "permission denied", err: ErrPermissionDenied, want: CodePermissionDenied},
		{name: "handshake failed", err: ErrHandshakeFailed, want: CodeHandshakeFailed},
		{name: "timeout", err: ErrTransportTimeout, want: CodeTimeout},
		{name: "context deadline", err: context.DeadlineExceeded, want: CodeTimeout},
		{name: "disconnected", err: ErrDisconnected, want: CodeDisconnected},
		{name: "partial transfer", err: ErrPartialTransfer, want: CodePartialTransfer},
		{name: "degraded channel", err: ErrChannelDegraded, want: CodeTransferError},
		{name: "read failure", err: ErrTransportRead, want: CodeTransferError},
		{name: "write failure", err: ErrTransportWrite, want: CodeTransferError},
		{name: "frame corrupted", err: ErrFrameCorrupted, want: CodeProtocol},
		{name: "checksum mismatch", err: ErrChecksumMismatch, want: CodeProtocol},
		{name: "superseded", err: ErrSuperseded, want: CodeSuperseded},
		{name: "context canceled", err: context.Canceled, want: CodeCancelled},
		{name: "unknown", err: errors.New("mystery"), want: CodeUnknown},
		{
			name: "wrapped sentinel",
			err:  errors.Join(errors.New("outer"), ErrPermissionDenied),
			want: CodePermissionDenied,
		},
		{
			name: "transport error carries its own code",
			err:  NewTimeoutError("send", "mock"),
			want: CodeTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ErrorCode(tt.err)
			if got != tt.want {
				t.Errorf("ErrorCode() = %q, want %q", got, tt.want)
			}
		})
	}
}
