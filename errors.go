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
	"fmt"
)

// State and descriptor errors
var (
	// ErrIllegalState indicates an operation that is not permitted in the
	// current connection state.
	ErrIllegalState = errors.New("operation not permitted in current state")
	// ErrNotConnected indicates a send was attempted without an established
	// connection.
	ErrNotConnected = errors.New("not connected")
	// ErrDescriptorInvalid indicates a connection descriptor that does not
	// follow the descriptor grammar.
	ErrDescriptorInvalid = errors.New("invalid connection descriptor")
	// ErrDescriptorUnsupported indicates a descriptor no registered transport
	// can serve.
	ErrDescriptorUnsupported = errors.New("unsupported connection descriptor")
	// ErrDuplicateTrace indicates a send reused a trace identifier that is
	// still pending.
	ErrDuplicateTrace = errors.New("trace identifier already in flight")
	// ErrSuperseded indicates a connect attempt was replaced by a newer one
	// before it completed.
	ErrSuperseded = errors.New("connect attempt superseded")
	// ErrInvalidParameter indicates an invalid argument
	ErrInvalidParameter = errors.New("invalid parameter")
)

// Transport errors
var (
	ErrTransportTimeout  = errors.New("transport timeout")
	ErrTransportRead     = errors.New("transport read failed")
	ErrTransportWrite    = errors.New("transport write failed")
	ErrTargetUnavailable = errors.New("target unavailable")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrHandshakeFailed   = errors.New("handshake failed")
	ErrDisconnected      = errors.New("channel disconnected")
	ErrPartialTransfer   = errors.New("partial transfer")
	// ErrChannelDegraded marks a channel that crossed the consecutive
	// transfer-failure threshold: technically up, practically unusable.
	ErrChannelDegraded = errors.New("channel degraded by repeated transfer failures")
)

// Protocol errors
var (
	ErrFrameCorrupted   = errors.New("frame corrupted")
	ErrChecksumMismatch = errors.New("frame checksum mismatch")
	ErrDataTooLarge     = errors.New("payload exceeds maximum frame size")
)

// Machine-readable failure codes. Every terminal failure surfaced through a
// callback carries one of these alongside its human-readable message.
const (
	CodeIllegalState     = "illegal_state"
	CodeBadDescriptor    = "bad_descriptor"
	CodeUnavailable      = "target_unavailable"
	CodePermissionDenied = "permission_denied"
	CodeHandshakeFailed  = "handshake_failed"
	CodeTimeout          = "timeout"
	CodeTransferError    = "transfer_error"
	CodePartialTransfer  = "partial_transfer"
	CodeDisconnected     = "disconnected"
	CodeProtocol         = "protocol_error"
	CodeSuperseded       = "superseded"
	CodeCancelled        = "cancelled"
	CodeUnknown          = "unknown"
)

// ErrorType categorizes errors for retry decisions
type ErrorType int

const (
	// ErrorTypeTransient indicates a temporary error that may succeed on retry
	ErrorTypeTransient ErrorType = iota
	// ErrorTypeTimeout indicates a timeout occurred
	ErrorTypeTimeout
	// ErrorTypePermanent indicates a permanent error that will not succeed on retry
	ErrorTypePermanent
)

// TransportError provides detailed error information for transport operations
type TransportError struct {
	Err       error
	Op        string
	Target    string
	Code      string
	Type      ErrorType
	Retryable bool
}

// Error returns the error message
func (e *TransportError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a new transport error
func NewTransportError(op, target string, err error, errType ErrorType) *TransportError {
	return &TransportError{
		Op:        op,
		Target:    target,
		Err:       err,
		Code:      ErrorCode(err),
		Type:      errType,
		Retryable: errType != ErrorTypePermanent,
	}
}

// NewTimeoutError creates a timeout transport error
func NewTimeoutError(op, target string) *TransportError {
	return &TransportError{
		Op:        op,
		Target:    target,
		Err:       ErrTransportTimeout,
		Code:      CodeTimeout,
		Type:      ErrorTypeTimeout,
		Retryable: true,
	}
}

// NewDisconnectedError creates a transport error for a lost channel. A lost
// channel is never retried at the send level; reconnection owns it.
func NewDisconnectedError(op, target string, cause error) *TransportError {
	err := error(ErrDisconnected)
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrDisconnected, cause)
	}
	return &TransportError{
		Op:        op,
		Target:    target,
		Err:       err,
		Code:      CodeDisconnected,
		Type:      ErrorTypePermanent,
		Retryable: false,
	}
}

// NewFrameCorruptedError creates a frame corruption transport error
func NewFrameCorruptedError(op, target string) *TransportError {
	return &TransportError{
		Op:        op,
		Target:    target,
		Err:       ErrFrameCorrupted,
		Code:      CodeProtocol,
		Type:      ErrorTypeTransient,
		Retryable: true,
	}
}

// NewDataTooLargeError creates a transport error for oversized payloads
func NewDataTooLargeError(op, target string) *TransportError {
	return &TransportError{
		Op:        op,
		Target:    target,
		Err:       ErrDataTooLarge,
		Code:      CodeProtocol,
		Type:      ErrorTypePermanent,
		Retryable: false,
	}
}

// NewStateError creates a transport error for an operation attempted in an
// illegal connection state
func NewStateError(op string, state ConnectionState) *TransportError {
	return &TransportError{
		Op:        op,
		Err:       fmt.Errorf("%w: %s", ErrIllegalState, state),
		Code:      CodeIllegalState,
		Type:      ErrorTypePermanent,
		Retryable: false,
	}
}

// IsRetryable returns true if the error may succeed on retry
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}

	switch {
	case errors.Is(err, ErrTransportTimeout),
		errors.Is(err, ErrTransportRead),
		errors.Is(err, ErrTransportWrite),
		errors.Is(err, ErrFrameCorrupted),
		errors.Is(err, ErrChecksumMismatch),
		errors.Is(err, ErrPartialTransfer):
		return true
	default:
		return false
	}
}

// GetErrorType returns the error type for retry and classification decisions
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ErrorTypePermanent
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Type
	}

	switch {
	case errors.Is(err, ErrTransportTimeout):
		return ErrorTypeTimeout
	case errors.Is(err, ErrTransportRead),
		errors.Is(err, ErrTransportWrite),
		errors.Is(err, ErrFrameCorrupted),
		errors.Is(err, ErrChecksumMismatch),
		errors.Is(err, ErrPartialTransfer):
		return ErrorTypeTransient
	default:
		return ErrorTypePermanent
	}
}

// ErrorCode returns the machine-readable failure code for err. Errors outside
// the taxonomy map to CodeUnknown.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var te *TransportError
	if errors.As(err, &te) && te.Code != "" {
		return te.Code
	}

	switch {
	case errors.Is(err, ErrIllegalState), errors.Is(err, ErrNotConnected):
		return CodeIllegalState
	case errors.Is(err, ErrDescriptorInvalid), errors.Is(err, ErrDescriptorUnsupported):
		return CodeBadDescriptor
	case errors.Is(err, ErrTargetUnavailable):
		return CodeUnavailable
	case errors.Is(err, ErrPermissionDenied):
		return CodePermissionDenied
	case errors.Is(err, ErrHandshakeFailed):
		return CodeHandshakeFailed
	case errors.Is(err, ErrTransportTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, ErrDisconnected):
		return CodeDisconnected
	case errors.Is(err, ErrPartialTransfer):
		return CodePartialTransfer
	case errors.Is(err, ErrTransportRead), errors.Is(err, ErrTransportWrite),
		errors.Is(err, ErrChannelDegraded):
		return CodeTransferError
	case errors.Is(err, ErrFrameCorrupted), errors.Is(err, ErrChecksumMismatch),
		errors.Is(err, ErrDataTooLarge):
		return CodeProtocol
	case errors.Is(err, ErrSuperseded):
		return CodeSuperseded
	case errors.Is(err, context.Canceled):
		return CodeCancelled
	default:
		return CodeUnknown
	}
}
