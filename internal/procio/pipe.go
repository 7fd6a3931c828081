// Package procio manages the target child process: the handshake pipe
// pair, fd plumbing across fork/exec, environment defaulting, and the
// signal/reap based teardown. It mirrors the way go-ublk's
// internal/queue/runner.go manages a kernel-backed worker's lifecycle,
// retargeted from a ublk char-device queue to a forkserver child.
package procio

import (
	"os"

	"golang.org/x/sys/unix"
)

// pipePair is one direction of the handshake channel: readEnd is kept by
// whichever side receives, writeEnd by whichever side sends.
type pipePair struct {
	readEnd  *os.File
	writeEnd *os.File
}

// newPipePair creates an OS pipe with both ends inheritable across exec
// (no O_CLOEXEC), since the whole point is for the child to keep one end
// open after execve. os.Pipe sets O_CLOEXEC on both ends by default, so
// this uses unix.Pipe2 directly, the same way the teacher reaches for raw
// golang.org/x/sys/unix calls instead of the higher-level os package
// whenever fd lifetime across exec matters (internal/queue/runner.go).
func newPipePair() (pipePair, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], 0); err != nil {
		return pipePair{}, err
	}
	return pipePair{
		readEnd:  os.NewFile(uintptr(fds[0]), "pipe-r"),
		writeEnd: os.NewFile(uintptr(fds[1]), "pipe-w"),
	}, nil
}

// handshakePipes holds the two pipes used to bootstrap a forkserver
// child: backward carries bytes from controller to target, forward
// carries bytes from target to controller (spec.md §4.4.1). After Spawn,
// the controller retains backward.writeEnd and forward.readEnd; the
// child inherits backward.readEnd and forward.writeEnd at a contiguous
// fd pair via exec.Cmd.ExtraFiles.
type handshakePipes struct {
	forward  pipePair // target -> controller
	backward pipePair // controller -> target
}

func newHandshakePipes() (*handshakePipes, error) {
	forward, err := newPipePair()
	if err != nil {
		return nil, err
	}
	backward, err := newPipePair()
	if err != nil {
		forward.readEnd.Close()
		forward.writeEnd.Close()
		return nil, err
	}
	return &handshakePipes{forward: forward, backward: backward}, nil
}

// childFiles returns the two files to hand the child via ExtraFiles, in
// the fixed order (read end first) that fixes the base fd the child sees
// in __FORKSERVER_FD: base = backward.readEnd, base+1 = forward.writeEnd.
func (h *handshakePipes) childFiles() []*os.File {
	return []*os.File{h.backward.readEnd, h.forward.writeEnd}
}

// closeChildEnds closes the controller's copies of the fds the child now
// owns, once the child has forked. Leaving them open in the controller
// would mean the forward pipe never signals EOF when the child exits.
func (h *handshakePipes) closeChildEnds() {
	h.backward.readEnd.Close()
	h.forward.writeEnd.Close()
}

// closeControllerEnds closes the controller's own ends, used on a failed
// spawn to release every fd cleanly.
func (h *handshakePipes) closeControllerEnds() {
	h.backward.writeEnd.Close()
	h.forward.readEnd.Close()
}
