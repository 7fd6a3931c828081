package forkserver

import (
	"fmt"
	"os"
	"runtime"
	"syscall"
	"time"

	"github.com/behrlich/go-forkserver/internal/constants"
	"github.com/behrlich/go-forkserver/internal/ipc"
	"github.com/behrlich/go-forkserver/internal/logging"
	"github.com/behrlich/go-forkserver/internal/metrics"
)

// Builder assembles a Forkserver session with a fluent, chained API, the
// Go-native shape of the original Rust ForkserverBuilder (generalized
// from go-ublk's DeviceParams/Options struct-literal configuration into
// a builder, since the Rust source this spec comes from is itself
// builder-shaped).
type Builder struct {
	binary     string
	args       []string
	env        []string
	timeoutMS  uint32
	killSignal syscall.Signal
	exitCodes  [constants.ExitCodeBitmapSize]byte
	stdout     *os.File
	stderr     *os.File
	logger     *logging.Logger
}

// NewBuilder starts a Builder for the given target binary path.
func NewBuilder(binary string) *Builder {
	return &Builder{
		binary:     binary,
		env:        os.Environ(),
		timeoutMS:  constants.DefaultTimeoutMS,
		killSignal: syscall.SIGKILL,
	}
}

// Arg appends one argument to the target's argv.
func (b *Builder) Arg(arg string) *Builder {
	b.args = append(b.args, arg)
	return b
}

// Args appends multiple arguments to the target's argv.
func (b *Builder) Args(args ...string) *Builder {
	b.args = append(b.args, args...)
	return b
}

// Env appends one KEY=VALUE pair to the target's environment, on top of
// the inherited ambient environment.
func (b *Builder) Env(kv string) *Builder {
	b.env = append(b.env, kv)
	return b
}

// TimeoutMS sets the per-iteration execution timeout. 0 keeps the
// current value (DefaultTimeoutMS unless set earlier).
func (b *Builder) TimeoutMS(ms uint32) *Builder {
	if ms == 0 {
		return b
	}
	b.timeoutMS = ms
	return b
}

// KillSignal sets the signal used to stop a hung or unwanted target.
func (b *Builder) KillSignal(sig syscall.Signal) *Builder {
	b.killSignal = sig
	return b
}

// CrashExitCode marks an additional exit code that should be treated as
// a crash when the target exits with it (spec.md §4.4.4).
func (b *Builder) CrashExitCode(code uint8) *Builder {
	b.exitCodes[code/8] |= 1 << (code % 8)
	return b
}

// Output directs the target's stdout/stderr to the given files instead
// of the default (discarded to /dev/null).
func (b *Builder) Output(stdout, stderr *os.File) *Builder {
	b.stdout = stdout
	b.stderr = stderr
	return b
}

// Logger sets the logger used for warnings (e.g. timeouts, finalizer
// leaks). Defaults to logging.Default().
func (b *Builder) Logger(l *logging.Logger) *Builder {
	b.logger = l
	return b
}

// Spawn creates the shared-memory segment, launches the target, performs
// the handshake, and returns a ready-to-drive Forkserver.
func (b *Builder) Spawn() (*Forkserver, error) {
	if b.binary == "" {
		return nil, NewError("spawn", ErrorKindIO, "no binary configured")
	}

	segment, err := ipc.CreateSegment()
	if err != nil {
		return nil, WrapError("spawn", err)
	}

	logger := b.logger
	if logger == nil {
		logger = logging.Default()
	}

	// timeout/cfg.TimeoutMS are provisional until launch() learns the
	// target's mode from the handshake and applies the persistent-mode
	// floor (spec.md §4.4.3 step 4): mode is discovered, not configured.
	f := &Forkserver{
		binary:     b.binary,
		args:       b.args,
		env:        b.env,
		timeout:    time.Duration(b.timeoutMS) * time.Millisecond,
		killSignal: b.killSignal,
		cfg: ipc.ForkserverConfig{
			TimeoutMS: b.timeoutMS,
			Signal:    uint32(b.killSignal),
			ExitCodes: b.exitCodes,
		},
		stdout:  b.stdout,
		stderr:  b.stderr,
		segment: segment,
		metrics: metrics.NewMetrics(),
		logger:  logger,
	}

	if err := f.launch(); err != nil {
		segment.Close()
		return nil, WrapError("spawn", err)
	}

	runtime.SetFinalizer(f, func(f *Forkserver) {
		if !f.closed.Load() {
			f.logger.Warn("Forkserver finalized without Close being called", "binary", f.binary)
			_ = f.Close()
		}
	})

	return f, nil
}

// String renders the builder's target for debugging. Mode isn't known
// until Spawn completes the handshake, so it's omitted here.
func (b *Builder) String() string {
	return fmt.Sprintf("Builder{binary=%s, timeoutMS=%d}", b.binary, b.timeoutMS)
}
