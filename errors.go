package forkserver

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/behrlich/go-forkserver/internal/ipc"
)

// Error is a structured forkserver error: an operation name, an
// error-kind category, the underlying errno when one is available, and
// an optional wrapped cause. Shape mirrors go-ublk's own *Error type,
// retargeted from device/queue context to the forkserver domain.
type Error struct {
	Op    string    // Operation that failed (e.g. "spawn", "handshake", "execute")
	Kind  ErrorKind // High-level error category
	Errno syscall.Errno
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		if e.Errno != 0 {
			return fmt.Sprintf("forkserver: %s: %s (errno=%d)", e.Op, msg, e.Errno)
		}
		return fmt.Sprintf("forkserver: %s: %s", e.Op, msg)
	}
	return fmt.Sprintf("forkserver: %s", msg)
}

func (e *Error) Unwrap() error {
	return e.Inner
}

// Is supports comparison against a bare ErrorKind as well as another
// *Error, the same dual comparison go-ublk's errors.go supports for its
// legacy UblkError string type.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if kind, ok := target.(ErrorKind); ok {
		return e.Kind == kind
	}
	if te, ok := target.(*Error); ok {
		return e.Kind == te.Kind
	}
	return false
}

// ErrorKind categorizes forkserver failures (spec.md §7).
type ErrorKind string

const (
	ErrorKindIO                 ErrorKind = "I/O error"
	ErrorKindInvalidELF         ErrorKind = "invalid ELF"
	ErrorKindProtocolViolation  ErrorKind = "protocol violation"
	ErrorKindProtocolOverflow   ErrorKind = "protocol overflow"
	ErrorKindOSFailure          ErrorKind = "OS failure"
)

// Error lets a bare ErrorKind be used as an errors.Is target.
func (k ErrorKind) Error() string {
	return string(k)
}

// NewError creates a plain structured error.
func NewError(op string, kind ErrorKind, msg string) *Error {
	return &Error{Op: op, Kind: kind, Msg: msg}
}

// NewErrorWithErrno creates a structured error carrying a raw errno.
func NewErrorWithErrno(op string, kind ErrorKind, errno syscall.Errno) *Error {
	return &Error{Op: op, Kind: kind, Errno: errno, Msg: errno.Error()}
}

// WrapError wraps an arbitrary error with forkserver context, mapping
// internal/ipc and internal/procio error types onto the public ErrorKind
// taxonomy. Already-structured *Error values just get their Op updated,
// the same "don't double-wrap" behavior go-ublk's WrapError has.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if fe, ok := inner.(*Error); ok {
		return &Error{Op: op, Kind: fe.Kind, Errno: fe.Errno, Msg: fe.Msg, Inner: fe.Inner}
	}

	var oversize *ipc.OversizeError
	var framing *ipc.FramingError
	var alternation *ipc.AlternationError
	var osErr *ipc.OSError

	switch {
	case errors.As(inner, &oversize):
		return &Error{Op: op, Kind: ErrorKindProtocolOverflow, Msg: oversize.Error(), Inner: inner}
	case errors.As(inner, &framing):
		return &Error{Op: op, Kind: ErrorKindProtocolViolation, Msg: framing.Error(), Inner: inner}
	case errors.As(inner, &alternation):
		return &Error{Op: op, Kind: ErrorKindProtocolViolation, Msg: alternation.Error(), Inner: inner}
	case errors.As(inner, &osErr):
		return &Error{Op: op, Kind: ErrorKindOSFailure, Errno: osErr.Errno, Msg: osErr.Error(), Inner: inner}
	}

	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{Op: op, Kind: ErrorKindOSFailure, Errno: errno, Msg: errno.Error(), Inner: inner}
	}

	return &Error{Op: op, Kind: ErrorKindIO, Msg: inner.Error(), Inner: inner}
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}
