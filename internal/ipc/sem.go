package ipc

import (
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// semaphore is a process-shared counting semaphore backed by the Linux
// futex(2) syscall rather than libc's sem_t, so the whole IPC layer stays
// cgo-free in the same spirit as the teacher's raw io_uring syscall usage
// (internal/uring/minimal.go upstream). Because the word lives inside the
// mmap'd shared-memory segment, any process that maps that segment shares
// the same futex, which is exactly the "process-shared, not thread-shared"
// requirement spec.md §4.2/§9 calls out for sem_init's pshared argument.
type semaphore struct {
	value int32
}

// futex operation codes from <linux/futex.h>. Stable kernel ABI; not
// exposed by golang.org/x/sys/unix, so they are hardcoded here the same
// way the teacher hardcodes IORING_OP_* and UBLK_CMD_* constants.
const (
	futexWait = 0
	futexWake = 1
)

func (s *semaphore) init(count int32) {
	atomic.StoreInt32(&s.value, count)
}

// post increments the count and wakes one waiter. Ordering: the caller
// must finish writing the payload before calling post (see Channel.Send),
// since the atomic add here is the release operation the protocol relies
// on for cross-process visibility.
func (s *semaphore) post() error {
	atomic.AddInt32(&s.value, 1)
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(&s.value)), uintptr(futexWake), 1, 0, 0, 0)
	if errno != 0 {
		return &OSError{Op: "sem_post", Errno: errno}
	}
	return nil
}

// wait blocks until the count is positive, then atomically decrements it.
func (s *semaphore) wait() error {
	for {
		v := atomic.LoadInt32(&s.value)
		if v > 0 {
			if atomic.CompareAndSwapInt32(&s.value, v, v-1) {
				return nil
			}
			continue
		}

		_, _, errno := unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(&s.value)), uintptr(futexWait), uintptr(v), 0, 0, 0)
		if errno != 0 && errno != unix.EAGAIN && errno != unix.EINTR {
			return &OSError{Op: "sem_wait", Errno: errno}
		}
	}
}

// ErrTimeout is returned by waitTimeout when the deadline elapses before
// the count becomes positive.
var ErrTimeout = &OSError{Op: "sem_wait", Errno: unix.ETIMEDOUT}

// waitTimeout behaves like wait but gives up once d has elapsed, using
// futex(2)'s relative-timeout argument. This is how Execute enforces a
// per-iteration deadline on the status channel (spec.md §4.4.3).
func (s *semaphore) waitTimeout(d time.Duration) error {
	deadline := time.Now().Add(d)
	for {
		v := atomic.LoadInt32(&s.value)
		if v > 0 {
			if atomic.CompareAndSwapInt32(&s.value, v, v-1) {
				return nil
			}
			continue
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrTimeout
		}
		ts := unix.NsecToTimespec(remaining.Nanoseconds())
		_, _, errno := unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(&s.value)), uintptr(futexWait), uintptr(v), uintptr(unsafe.Pointer(&ts)), 0, 0)
		if errno == unix.ETIMEDOUT {
			return ErrTimeout
		}
		if errno != 0 && errno != unix.EAGAIN && errno != unix.EINTR {
			return &OSError{Op: "sem_wait", Errno: errno}
		}
	}
}

// destroy is a no-op for a futex-backed semaphore: there is no kernel
// object beyond the shared memory word itself, which the Segment's own
// munmap takes care of. Kept as a named step so Segment.Close reads the
// same "destroy both semaphores" shape spec.md §4.3 describes.
func (s *semaphore) destroy() error {
	return nil
}
