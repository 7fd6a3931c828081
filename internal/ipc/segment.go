package ipc

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/behrlich/go-forkserver/internal/constants"
)

// Segment layout inside the shared mapping: command channel, then status
// channel, then the fixed ForkserverConfig the target reads once at
// startup. All three fit comfortably inside the page-sized mapping
// (spec.md §4.3).
const (
	commandChannelOffset = 0
	statusChannelOffset  = int(unsafe.Sizeof(wireChannel{}))
	configOffset         = statusChannelOffset + int(unsafe.Sizeof(wireChannel{}))
)

// Segment owns the shared-memory mapping backing one forkserver session:
// a command channel (controller -> target), a status channel (target ->
// controller), and the ForkserverConfig the target consults once at
// startup. It is exported to the target process as an inherited file
// descriptor whose number is published in the __FORKSERVER_SHM
// environment variable, the same fd-inheritance trick §4.4.1 uses for the
// handshake pipes; no shm_open/shmat path lookup is needed. procio.Spawn
// passes a dup of the fd to the child at a fixed number.
type Segment struct {
	fd      int
	mapping []byte

	Command *Channel
	Status  *Channel
}

// CreateSegment allocates a new anonymous, non-CLOEXEC shared mapping via
// memfd_create, sized per constants.SharedMemorySegmentSize, and wires up
// the two channels inside it. MFD_CLOEXEC is not set on the returned
// Segment's FD.
func CreateSegment() (*Segment, error) {
	fd, err := unix.MemfdCreate("forkserver-ipc", 0)
	if err != nil {
		return nil, &OSError{Op: "memfd_create", Errno: err.(unix.Errno)}
	}
	if err := unix.Ftruncate(fd, constants.SharedMemorySegmentSize); err != nil {
		unix.Close(fd)
		return nil, &OSError{Op: "ftruncate", Errno: err.(unix.Errno)}
	}
	mapping, err := unix.Mmap(fd, 0, constants.SharedMemorySegmentSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, &OSError{Op: "mmap", Errno: err.(unix.Errno)}
	}

	state := &alternationState{}
	s := &Segment{
		fd:      fd,
		mapping: mapping,
		Command: newChannel(mapping, commandChannelOffset, "command", state),
		Status:  newChannel(mapping, statusChannelOffset, "status", state),
	}
	s.Command.initEmpty()
	s.Status.initEmpty()
	return s, nil
}

// OpenSegment maps an already-open shared-memory fd, inherited from a
// parent forkserver process via __FORKSERVER_SHM. Used by target-side
// test helpers (internal/testutil) that play the role of the instrumented
// binary without a real exec boundary.
func OpenSegment(fd int) (*Segment, error) {
	mapping, err := unix.Mmap(fd, 0, constants.SharedMemorySegmentSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, &OSError{Op: "mmap", Errno: err.(unix.Errno)}
	}
	state := &alternationState{}
	return &Segment{
		fd:      fd,
		mapping: mapping,
		Command: newChannel(mapping, commandChannelOffset, "command", state),
		Status:  newChannel(mapping, statusChannelOffset, "status", state),
	}, nil
}

// FD returns the underlying file descriptor in this process.
func (s *Segment) FD() int {
	return s.fd
}

// EnvEntry formats a __FORKSERVER_SHM assignment naming this process's
// own fd number. procio.Spawn does not use it: the child receives the
// segment at a different fd number, which Spawn exports itself.
func (s *Segment) EnvEntry() string {
	return fmt.Sprintf("%s=%d", constants.EnvForkserverSHM, s.fd)
}

// WriteConfig stores cfg at the config offset inside the mapping so the
// target can read it once at startup.
func (s *Segment) WriteConfig(cfg *ForkserverConfig) {
	copy(s.mapping[configOffset:], MarshalConfig(cfg))
}

// ReadConfig reads back the ForkserverConfig written by WriteConfig.
func (s *Segment) ReadConfig() (*ForkserverConfig, error) {
	return UnmarshalConfig(s.mapping[configOffset : configOffset+forkserverConfigSize])
}

// Close destroys both channel semaphores and unmaps the segment. Errors
// from each step are collected but do not prevent later steps from
// running, the same best-effort multi-step teardown the teacher's
// internal/queue/runner.go Close() uses.
func (s *Segment) Close() error {
	var firstErr error
	if err := s.Command.w.sem.destroy(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.Status.w.sem.destroy(); err != nil && firstErr == nil {
		firstErr = err
	}
	if s.mapping != nil {
		if err := unix.Munmap(s.mapping); err != nil && firstErr == nil {
			firstErr = &OSError{Op: "munmap", Errno: err.(unix.Errno)}
		}
		s.mapping = nil
	}
	if s.fd >= 0 {
		_ = unix.Close(s.fd)
		s.fd = -1
	}
	return firstErr
}
