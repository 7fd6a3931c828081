package ipc

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// OSError wraps a raw errno from a futex or mmap syscall. The root package
// maps this into the public *forkserver.Error with ErrorKindOSFailure,
// mirroring how go-ublk's errors.go turns raw errnos into *ublk.Error via
// mapErrnoToCode.
type OSError struct {
	Op    string
	Errno unix.Errno
}

func (e *OSError) Error() string {
	return fmt.Sprintf("ipc: %s: %s", e.Op, e.Errno)
}

func (e *OSError) Unwrap() error {
	return e.Errno
}

// OversizeError is returned by Channel.Send when the payload exceeds
// MaxMessageSize. It must be detected before the semaphore is touched
// (spec.md §4.2 edge case): an oversize send must not corrupt channel state.
type OversizeError struct {
	Size int
	Max  int
}

func (e *OversizeError) Error() string {
	return fmt.Sprintf("ipc: message of %d bytes exceeds channel capacity %d", e.Size, e.Max)
}

// FramingError is returned by Channel.Recv when the caller's buffer length
// does not exactly match the sender's declared message_size.
type FramingError struct {
	Expected int
	Got      int
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("ipc: framing mismatch: sender declared %d bytes, receiver supplied %d", e.Expected, e.Got)
}

// AlternationError is raised only under the forkserver_debug build tag
// (spec.md REDESIGN FLAGS) when a caller issues two sends or two receives
// in a row through one Segment without an intervening opposite operation.
// The check spans the Segment's command and status channels together.
type AlternationError struct {
	Channel string
	Last    string
	Attempt string
}

func (e *AlternationError) Error() string {
	return fmt.Sprintf("ipc: protocol alternation violated on %s channel: last op %s, attempted %s", e.Channel, e.Last, e.Attempt)
}
