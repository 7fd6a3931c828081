// Package ipc implements the fixed-layout, semaphore-synchronized shared
// memory channel the forkserver and its target use to exchange commands
// and statuses (spec.md §3, §4.2, §4.3). It has no cgo dependency: the
// semaphore is a hand-rolled futex-based primitive (sem.go) rather than a
// binding to libc's sem_t, following the same raw-syscall style the
// teacher repo uses for io_uring (internal/uring/minimal.go).
package ipc

import (
	"time"
	"unsafe"

	"github.com/behrlich/go-forkserver/internal/constants"
)

// wireChannel is the exact in-memory layout shared across processes:
// a 4-byte futex word, 4 bytes of padding, a uint64 message length, and a
// fixed 64-byte payload buffer, 80 bytes in all, pinned with a
// compile-time size assertion the way the teacher pins kernel struct
// layouts in internal/uapi/structs.go. The field order follows the
// original Channel (original_source/bindings/src/ipc.rs), but the layout
// is not the C layout { sem_t; size_t; uint8_t[64]; }: the semaphore is
// the futex word of sem.go, not a libc sem_t, so only peers built on this
// package share the layout.
type wireChannel struct {
	sem         semaphore
	_           [4]byte // pad sem (4 bytes) out to the 8-byte alignment of messageSize
	messageSize uint64
	message     [constants.MaxMessageSize]byte
}

var _ [unsafe.Sizeof(wireChannel{})]byte = [80]byte{}

// Channel is the handle a caller uses to send and receive framed messages
// over one direction of a Segment. It does not own the memory backing it;
// Segment places two Channels inside one mmap'd region.
type Channel struct {
	w *wireChannel

	name  string
	state *alternationState
}

type opKind int

const (
	opNone opKind = iota
	opSend
	opRecv
)

// alternationState is the controller-side last_op tracker (spec.md §4.3,
// §9: "None -> Read <-> Write"). It is shared between a Segment's command
// and status Channels, since the protocol's alternation requirement spans
// both channels together (write command, then read status) rather than
// being a per-channel send/recv rule.
type alternationState struct {
	last opKind
}

// newChannel binds a Channel handle to a wireChannel already present at
// the given offset inside a shared mapping.
func newChannel(base []byte, offset int, name string, state *alternationState) *Channel {
	w := (*wireChannel)(unsafe.Pointer(&base[offset]))
	return &Channel{w: w, name: name, state: state}
}

// initEmpty initializes the semaphore to 0 (no message pending), matching
// sem_init(&chan.semaphore, 1, 0) in the original Rust Channel::init.
func (c *Channel) initEmpty() {
	c.w.sem.init(0)
	c.w.messageSize = 0
	c.state.last = opNone
}

// Send hands a message of 0 to MaxMessageSize bytes to the other side and
// posts the semaphore; it does not wait for the receiver. Oversize payloads are rejected before the semaphore is
// touched (spec.md §4.2 edge case), so a bad caller cannot desynchronize
// the protocol.
func (c *Channel) Send(msg []byte) error {
	if len(msg) > constants.MaxMessageSize {
		return &OversizeError{Size: len(msg), Max: constants.MaxMessageSize}
	}
	if err := c.checkAlternation(opSend); err != nil {
		return err
	}
	copy(c.w.message[:], msg)
	for i := len(msg); i < constants.MaxMessageSize; i++ {
		c.w.message[i] = 0
	}
	c.w.messageSize = uint64(len(msg))
	return c.w.sem.post()
}

// Recv blocks until a message is available, then copies it into buf. buf's
// length must exactly equal the sender's declared size, or FramingError is
// returned without consuming the pending message.
func (c *Channel) Recv(buf []byte) error {
	if err := c.checkAlternation(opRecv); err != nil {
		return err
	}
	if err := c.w.sem.wait(); err != nil {
		return err
	}
	size := int(c.w.messageSize)
	if size != len(buf) {
		// Put the wakeup back so a correctly-sized retry can still
		// observe the pending message.
		_ = c.w.sem.post()
		return &FramingError{Expected: size, Got: len(buf)}
	}
	copy(buf, c.w.message[:size])
	return nil
}

// RecvByteTimeout is RecvByte with a deadline, returning ipc.ErrTimeout
// if no message arrives in time. Used to enforce a
// per-iteration execution timeout on the status channel.
func (c *Channel) RecvByteTimeout(d time.Duration) (byte, error) {
	if err := c.checkAlternation(opRecv); err != nil {
		return 0, err
	}
	if err := c.w.sem.waitTimeout(d); err != nil {
		return 0, err
	}
	size := int(c.w.messageSize)
	if size != 1 {
		_ = c.w.sem.post()
		return 0, &FramingError{Expected: size, Got: 1}
	}
	return c.w.message[0], nil
}

// SendByte is the single-byte fast path used for the command/status hot
// loop (spec.md §4.2).
func (c *Channel) SendByte(b byte) error {
	return c.Send([]byte{b})
}

// RecvByte is the single-byte fast path used for the command/status hot
// loop.
func (c *Channel) RecvByte() (byte, error) {
	var buf [1]byte
	if err := c.Recv(buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}
