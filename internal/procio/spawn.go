package procio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/behrlich/go-forkserver/internal/constants"
	"github.com/behrlich/go-forkserver/internal/ipc"
)

// childFDBase is the fd number the target sees for its handshake "read"
// end once exec.Cmd places the two ExtraFiles right after stdin/stdout/
// stderr. Go always provisions fds 0-2 for a spawned child (even when
// Stdin/Stdout/Stderr are nil it wires them to /dev/null), so the first
// ExtraFiles entry is always fd 3.
const childFDBase = 3

// SpawnOptions configures one target child process.
type SpawnOptions struct {
	Binary string
	Args   []string
	Env    []string
	Stdout *os.File
	Stderr *os.File
}

// Child is a running target process plus the handshake/IPC state needed
// to drive and tear it down.
type Child struct {
	cmd     *exec.Cmd
	pipes   *handshakePipes
	segment *ipc.Segment
}

// Spawn launches the target binary with the handshake pipes and a shared
// memory segment wired in via environment variables, per spec.md §4.4.1
// and §4.4.2. On success the controller side of the handshake pipes is
// the only side still open in this process; the child's copies were
// closed once exec.Cmd forked.
func Spawn(opts SpawnOptions, segment *ipc.Segment) (*Child, error) {
	pipes, err := newHandshakePipes()
	if err != nil {
		return nil, &Error{Op: "pipe", Err: err}
	}

	// The segment's memfd is handed over as the third ExtraFiles entry
	// (fd childFDBase+2) so that exec.Cmd placing the pipe ends onto fds 3
	// and 4 cannot overwrite it. A dup is passed so that closing the
	// *os.File wrapper leaves the Segment's own fd open.
	shmDup, err := syscall.Dup(segment.FD())
	if err != nil {
		pipes.closeControllerEnds()
		return nil, &Error{Op: "dup", Err: err}
	}
	shmFile := os.NewFile(uintptr(shmDup), "forkserver-shm")
	defer shmFile.Close()

	cmd := exec.Command(opts.Binary, opts.Args...)
	cmd.Env = buildChildEnv(opts.Env, childFDBase, childFDBase+2)
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	cmd.ExtraFiles = append(pipes.childFiles(), shmFile)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		pipes.closeControllerEnds()
		return nil, &Error{Op: "start", Err: err}
	}
	pipes.closeChildEnds()

	return &Child{cmd: cmd, pipes: pipes, segment: segment}, nil
}

// buildChildEnv merges the caller's environment with the forkserver fd
// variables and the sanitizer defaults the spec requires when the caller
// hasn't set them explicitly (spec.md §4.4.2).
func buildChildEnv(base []string, fdBase, shmFD int) []string {
	env := make([]string, len(base))
	copy(env, base)

	env = append(env,
		fmt.Sprintf("%s=%d", constants.EnvForkserverFD, fdBase),
		fmt.Sprintf("%s=%d", constants.EnvForkserverSHM, shmFD),
	)

	defaults := map[string]string{
		constants.EnvLDBindNow:   constants.DefaultLDBindNow,
		constants.EnvLSANOptions: constants.DefaultLSANOptions,
		constants.EnvASANOptions: constants.DefaultASANOptions,
	}
	for key, value := range defaults {
		if !envHasKey(base, key) {
			env = append(env, key+"="+value)
		}
	}
	return env
}

func envHasKey(env []string, key string) bool {
	prefix := key + "="
	for _, kv := range env {
		if len(kv) >= len(prefix) && kv[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// Handshake reads the 4-byte little-endian hello word the target writes
// to its inherited write end on startup. It first sets a read deadline;
// the blocking pipes newPipePair creates do not support deadlines, so
// for them that call fails and the read waits without a bound.
func (c *Child) Handshake(timeout time.Duration) (ipc.Hello, error) {
	if err := c.pipes.forward.readEnd.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		// Not every platform/file-kind supports deadlines; fall back to
		// an unbounded read rather than failing the handshake outright.
		_ = err
	}
	var buf [4]byte
	if _, err := readFull(c.pipes.forward.readEnd, buf[:]); err != nil {
		return ipc.Hello{}, &Error{Op: "handshake", Err: err}
	}
	return ipc.DecodeHello(binary.LittleEndian.Uint32(buf[:])), nil
}

func readFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrUnexpectedEOF
		}
	}
	return total, nil
}

// Pid returns the child's process ID.
func (c *Child) Pid() int {
	return c.cmd.Process.Pid
}

// Signal sends sig to the whole process group, so a target that spawns
// its own subprocesses (e.g. a shell wrapper) is reached too.
func (c *Child) Signal(sig syscall.Signal) error {
	return syscall.Kill(-c.cmd.Process.Pid, sig)
}

// Wait blocks until the child exits and returns its exit state.
func (c *Child) Wait() (*os.ProcessState, error) {
	err := c.cmd.Wait()
	return c.cmd.ProcessState, err
}

// TryWait performs a non-blocking reap check, used by the teardown path
// to poll for exit after a kill signal without blocking indefinitely.
func (c *Child) TryWait() (exited bool, state *os.ProcessState) {
	var ws syscall.WaitStatus
	pid, err := syscall.Wait4(c.cmd.Process.Pid, &ws, syscall.WNOHANG, nil)
	if err != nil || pid == 0 {
		return false, nil
	}
	return true, c.cmd.ProcessState
}

// Close releases the controller's remaining pipe fds. It does not signal
// or wait for the child; that is the Forkserver's responsibility.
func (c *Child) Close() error {
	c.pipes.closeControllerEnds()
	return nil
}

// Error wraps an I/O failure during spawn/handshake with the operation
// that failed, mirroring the {Op, Inner} shape of the teacher's own
// *ublk.Error.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("procio: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
