// Package forkserver drives an instrumented target binary through a
// coverage-guided fuzzing loop over the shared-memory forkserver
// protocol (spec.md §1-§6). It is the Go-native sibling of the original
// Rust ForkserverBuilder/Forkserver pair, built the way go-ublk builds
// its own Device/DeviceParams pair around a kernel-facing control plane.
package forkserver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/behrlich/go-forkserver/internal/constants"
	"github.com/behrlich/go-forkserver/internal/ipc"
	"github.com/behrlich/go-forkserver/internal/logging"
	"github.com/behrlich/go-forkserver/internal/metrics"
	"github.com/behrlich/go-forkserver/internal/procio"
)

// Mode selects whether the target re-execs for every iteration
// (ModeForkserver) or loops internally across many iterations inside one
// process (ModePersistent). Learned from the handshake Hello.Mode byte
// (1 = forkserver, 2 = persistent; see decodeHandshakeMode).
type Mode uint8

const (
	ModeForkserver Mode = 0
	ModePersistent Mode = 1
)

func (m Mode) String() string {
	if m == ModePersistent {
		return "persistent"
	}
	return "forkserver"
}

// Stats is a point-in-time snapshot of execution counters for one
// Forkserver session.
type Stats = metrics.Snapshot

// Forkserver drives one target binary through repeated fuzzing
// iterations. It is not safe for concurrent use from multiple
// goroutines; Execute rejects concurrent calls rather than silently
// corrupting the shared channel state (spec.md §5 concurrency note).
type Forkserver struct {
	mode       Mode
	binary     string
	args       []string
	env        []string
	timeout    time.Duration
	killSignal syscall.Signal
	cfg        ipc.ForkserverConfig
	stdout     *os.File
	stderr     *os.File

	segment *ipc.Segment
	child   *procio.Child
	metrics *metrics.Metrics
	logger  *logging.Logger

	inUse  atomic.Bool
	closed atomic.Bool
}

// Execute drives the target through one fuzzing iteration: send Run on
// the command channel, wait for a Status on the status channel within
// the configured timeout, and reap/relaunch the child as the mode
// requires (spec.md §4.4.3, §4.4.4).
func (f *Forkserver) Execute(ctx context.Context) (ipc.Status, error) {
	if f.closed.Load() {
		return 0, WrapError("execute", errClosed)
	}
	if !f.inUse.CompareAndSwap(false, true) {
		return 0, NewError("execute", ErrorKindProtocolViolation, "concurrent Execute call rejected")
	}
	defer f.inUse.Store(false)

	if f.child == nil {
		if err := f.launch(); err != nil {
			f.metrics.RecordRun(metrics.OutcomeError, 0)
			return 0, WrapError("execute", err)
		}
	}

	start := time.Now()

	if err := f.segment.Command.SendByte(byte(ipc.CommandRun)); err != nil {
		f.metrics.RecordRun(metrics.OutcomeError, 0)
		return 0, WrapError("execute", err)
	}

	// spec.md §5 relies solely on the target promoting a hang into a
	// Timeout status byte; the RecvByteTimeout deadline here is a
	// documented expansion (SPEC_FULL.md §5) layered on top of that,
	// since this repo's own stub target has no internal watchdog of its
	// own to enforce ForkserverConfig.timeout.
	statusByte, err := f.segment.Status.RecvByteTimeout(f.timeout)
	if err != nil {
		if errors.Is(err, ipc.ErrTimeout) {
			f.logger.Warn("target exceeded iteration timeout", "binary", f.binary, "timeout_ms", f.timeout.Milliseconds())
			f.metrics.RecordRun(metrics.OutcomeTimeout, uint64(time.Since(start)))
			f.killAndReap()
			if relaunchErr := f.relaunch(); relaunchErr != nil {
				return ipc.StatusTimeout, WrapError("execute", relaunchErr)
			}
			return ipc.StatusTimeout, nil
		}
		f.metrics.RecordRun(metrics.OutcomeError, uint64(time.Since(start)))
		return 0, WrapError("execute", err)
	}

	status := ipc.Status(statusByte)
	elapsed := uint64(time.Since(start))

	switch {
	case status == ipc.StatusCrash:
		f.metrics.RecordRun(metrics.OutcomeCrash, elapsed)
	case status == ipc.StatusTimeout:
		f.metrics.RecordRun(metrics.OutcomeTimeout, elapsed)
	default:
		f.metrics.RecordRun(metrics.OutcomeOK, elapsed)
	}

	if f.mode == ModeForkserver || status == ipc.StatusCrash {
		f.reapChild()
		if err := f.relaunch(); err != nil {
			return status, WrapError("execute", err)
		}
	}

	return status, nil
}

// Stats returns a point-in-time snapshot of this session's execution
// counters.
func (f *Forkserver) Stats() Stats {
	return f.metrics.Snapshot()
}

// Mode returns the mode learned from the target's handshake hello
// (spec.md §3). Zero until the first successful launch.
func (f *Forkserver) Mode() Mode {
	return f.mode
}

// Pid returns the current target process's PID, or 0 if no child is
// currently running (e.g. between relaunches).
func (f *Forkserver) Pid() int {
	if f.child == nil {
		return 0
	}
	return f.child.Pid()
}

// Close runs the scoped-destruction sequence of spec.md §4.4.5: issue
// stop_target twice (in persistent mode the grandchild must be stopped
// before the outer forkserver loop, which then also needs its own Stop),
// send the configured kill signal, then reap non-blockingly. Each step
// runs regardless of the previous step's error, the same best-effort
// multi-step teardown go-ublk's internal/queue/runner.go Close() uses.
func (f *Forkserver) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	runtime.SetFinalizer(f, nil)

	f.stopTarget()
	f.stopTarget()
	f.killTarget()
	f.reapChild()

	var firstErr error
	if f.child != nil {
		if err := f.child.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if f.segment != nil {
		if err := f.segment.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.metrics.Stop()
	return firstErr
}

// launch spawns the target binary, performs the pipe handshake, and
// writes the ForkserverConfig into the shared segment (spec.md §4.4.1,
// §4.4.2, §4.4.3). Mode is learned from the handshake hello, not
// configured by the caller (spec.md §3); an unrecognized mode value is a
// fatal protocol violation, same as a bad magic or version.
func (f *Forkserver) launch() error {
	child, err := procio.Spawn(procio.SpawnOptions{
		Binary: f.binary,
		Args:   f.args,
		Env:    f.env,
		Stdout: f.stdout,
		Stderr: f.stderr,
	}, f.segment)
	if err != nil {
		return err
	}

	handshakeTimeout := f.timeout
	if handshakeTimeout < time.Second {
		handshakeTimeout = time.Second
	}
	hello, err := child.Handshake(handshakeTimeout)
	if err != nil {
		_ = child.Close()
		return err
	}
	if hello.Magic != uint16(constants.HandshakeMagic) || hello.Version != uint8(constants.HandshakeVersion) {
		_ = child.Close()
		return NewError("handshake", ErrorKindProtocolViolation, fmt.Sprintf("unexpected hello %+v", hello))
	}
	mode, err := decodeHandshakeMode(hello.Mode)
	if err != nil {
		_ = child.Close()
		return err
	}
	f.mode = mode

	timeoutMS := uint32(f.timeout / time.Millisecond)
	if f.mode == ModePersistent && timeoutMS < constants.PersistentMinTimeoutMS {
		timeoutMS = constants.PersistentMinTimeoutMS
		f.timeout = time.Duration(timeoutMS) * time.Millisecond
	}
	f.cfg.TimeoutMS = timeoutMS

	f.segment.WriteConfig(&f.cfg)
	f.child = child
	return nil
}

// decodeHandshakeMode maps the handshake hello's mode byte onto Mode
// (spec.md §4.4.3 step 3: 1 == Forkserver, 2 == Persistent); any other
// value is fatal.
func decodeHandshakeMode(raw uint8) (Mode, error) {
	switch raw {
	case constants.HandshakeModeForkserver:
		return ModeForkserver, nil
	case constants.HandshakeModePersistent:
		return ModePersistent, nil
	default:
		return 0, NewError("handshake", ErrorKindProtocolViolation, fmt.Sprintf("unsupported handshake mode %d", raw))
	}
}

// relaunch replaces a dead or crashed child with a fresh one, reusing the
// same shared-memory segment.
func (f *Forkserver) relaunch() error {
	f.child = nil
	return f.launch()
}

// stopTarget sends Stop on the command channel (spec.md §4.4.5): the
// target's own forkserver loop interprets this as the signal to exit
// cleanly. Safe to call when no child is running, and safe to call
// twice: in persistent mode the grandchild must be stopped before the
// outer forkserver loop (which then also needs its own Stop); in
// non-persistent mode the second Stop may land on a peer that has
// already exited, which is harmless since the controller only writes.
func (f *Forkserver) stopTarget() {
	if f.child == nil {
		return
	}
	_ = f.segment.Command.SendByte(byte(ipc.CommandStop))
}

// killTarget sends the configured kill signal, falling back to SIGKILL
// if that fails (spec.md §4.4.5 step 2).
func (f *Forkserver) killTarget() {
	if f.child == nil {
		return
	}
	if err := f.child.Signal(f.killSignal); err != nil {
		_ = f.child.Signal(syscall.SIGKILL)
	}
}

// killAndReap forcibly terminates a hung target after a timeout.
func (f *Forkserver) killAndReap() {
	if f.child == nil {
		return
	}
	_ = f.child.Signal(syscall.SIGKILL)
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if exited, _ := f.child.TryWait(); exited {
			return
		}
		time.Sleep(constants.ReapPollInterval)
	}
}

// reapChild waits non-blockingly for an already-exited (non-persistent)
// child so it doesn't linger as a zombie before the next launch.
func (f *Forkserver) reapChild() {
	if f.child == nil {
		return
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if exited, _ := f.child.TryWait(); exited {
			return
		}
		time.Sleep(constants.ReapPollInterval)
	}
}

var errClosed = errors.New("forkserver: session already closed")
