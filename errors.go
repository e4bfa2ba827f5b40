// Package kvbridge implements a shared-memory IPC bridge between many
// client processes and a single long-lived worker process hosting an
// embedded key-value storage engine.
package kvbridge

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/vidardb/kvbridge/internal/wire"
)

// Error represents a structured bridge error with context and errno mapping.
type Error struct {
	Op       string // Operation that failed (e.g. "Send", "Open", "ReadBatch")
	WorkerID uint32 // Worker ID (0 if not applicable)
	DBID     uint32 // Database ID (0 if not applicable)
	Code     ErrorCode
	Errno    syscall.Errno // Kernel errno (0 if not applicable)
	Msg      string
	Inner    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.WorkerID != 0 {
		parts = append(parts, fmt.Sprintf("worker=%d", e.WorkerID))
	}
	if e.DBID != 0 {
		parts = append(parts, fmt.Sprintf("db=%d", e.DBID))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("kvbridge: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("kvbridge: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is reports whether target is an *Error with the same Code; any other
// target never matches.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode is the error taxonomy this module surfaces to callers.
type ErrorCode string

const (
	// IpcSystemError covers any shared-memory or semaphore syscall failure.
	IpcSystemError ErrorCode = "ipc system error"
	// Interrupted indicates a semaphore operation was interrupted by a
	// signal. internal/shm's blocking Wait retries EINTR itself without
	// limit, so this code only appears when an EINTR from another call
	// (such as Post or TryWait) is passed to WrapError.
	Interrupted ErrorCode = "interrupted"
	// ProtocolViolation covers unknown ops, size mismatches, and other
	// malformed wire traffic.
	ProtocolViolation ErrorCode = "protocol violation"
	// EngineError wraps a failure returned by the storage engine
	// collaborator.
	EngineError ErrorCode = "engine error"
	// BufferOverflow indicates a request or response would not fit in
	// its arena/slot.
	BufferOverflow ErrorCode = "buffer overflow"
	// ChannelClosed indicates the peer (worker or client) has gone away.
	ChannelClosed ErrorCode = "channel closed"
)

// Error constructors.

// NewError creates a new structured error.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewErrorWithErrno creates a new structured error carrying a syscall errno.
func NewErrorWithErrno(op string, code ErrorCode, errno syscall.Errno) *Error {
	return &Error{Op: op, Code: code, Errno: errno, Msg: errno.Error()}
}

// NewWorkerError creates a new worker-scoped error.
func NewWorkerError(op string, workerID, dbID uint32, code ErrorCode, msg string) *Error {
	return &Error{Op: op, WorkerID: workerID, DBID: dbID, Code: code, Msg: msg}
}

// WrapError wraps an existing error with bridge context, mapping syscall
// errnos to the closest ErrorCode.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if be, ok := inner.(*Error); ok {
		return &Error{
			Op:       op,
			WorkerID: be.WorkerID,
			DBID:     be.DBID,
			Code:     be.Code,
			Errno:    be.Errno,
			Msg:      be.Msg,
			Inner:    be.Inner,
		}
	}

	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{
			Op:    op,
			Code:  mapErrnoToCode(errno),
			Errno: errno,
			Msg:   errno.Error(),
			Inner: inner,
		}
	}

	if we, ok := inner.(wire.WireError); ok {
		return &Error{
			Op:    op,
			Code:  mapWireErrorToCode(we),
			Msg:   we.Error(),
			Inner: inner,
		}
	}

	return &Error{Op: op, Code: IpcSystemError, Msg: inner.Error(), Inner: inner}
}

func mapWireErrorToCode(we wire.WireError) ErrorCode {
	switch we {
	case wire.ErrEntityTooLarge:
		return BufferOverflow
	case wire.ErrShortBuffer, wire.ErrMalformedEntity:
		return ProtocolViolation
	default:
		return ProtocolViolation
	}
}

func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.EINTR:
		return Interrupted
	case syscall.EINVAL, syscall.E2BIG, syscall.ENAMETOOLONG:
		return ProtocolViolation
	case syscall.ENOMEM, syscall.ENOSPC, syscall.EFBIG:
		return BufferOverflow
	case syscall.ENOENT, syscall.EPIPE, syscall.ECONNRESET:
		return ChannelClosed
	default:
		return IpcSystemError
	}
}

// IsCode reports whether err (or one it wraps) is a *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Code == code
	}
	return false
}
