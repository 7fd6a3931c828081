// Package testutil provides an in-process stand-in for a real
// instrumented target binary, so the forkserver protocol can be
// exercised end-to-end in tests without shipping a prebuilt sancov
// binary in the repo. It re-execs the test binary itself as the target
// process, the same pattern
// other_examples/0d34ed0d_e2b-dev-infra.../cross_process_helper_test.go.go
// uses to play "the other side" of a protocol from inside a Go test.
package testutil

import (
	"encoding/binary"
	"os"
	"strconv"
	"time"

	"github.com/behrlich/go-forkserver/internal/constants"
	"github.com/behrlich/go-forkserver/internal/ipc"
)

// Behavior selects what a fake target does when it receives a Run
// command.
type Behavior int

const (
	// BehaviorOK replies StatusOK immediately.
	BehaviorOK Behavior = iota
	// BehaviorCrash replies StatusCrash and then exits with ExitCode.
	BehaviorCrash
	// BehaviorHang never replies, forcing the controller's timeout path.
	BehaviorHang
	// BehaviorExitWithoutReply exits immediately without sending a
	// status, simulating an instrumentation bug or an unhandled signal.
	BehaviorExitWithoutReply
)

// Config controls a fake target run via environment variables, since
// the process is re-exec'd and can't take Go-typed arguments directly.
type Config struct {
	Behavior Behavior
	ExitCode int
	// Iterations is the number of Run commands a persistent-mode target
	// answers before exiting; ignored for forkserver mode, which always
	// exits after its single iteration.
	Iterations int
	Persistent bool
}

const (
	envBehavior   = "GO_FORKSERVER_FAKE_BEHAVIOR"
	envExitCode   = "GO_FORKSERVER_FAKE_EXIT_CODE"
	envIterations = "GO_FORKSERVER_FAKE_ITERATIONS"
	envPersistent = "GO_FORKSERVER_FAKE_PERSISTENT"
)

// EnvFor renders cfg as environment variable assignments to append to a
// child's Env before Spawn.
func EnvFor(cfg Config) []string {
	persistent := "0"
	if cfg.Persistent {
		persistent = "1"
	}
	return []string{
		envBehavior + "=" + strconv.Itoa(int(cfg.Behavior)),
		envExitCode + "=" + strconv.Itoa(cfg.ExitCode),
		envIterations + "=" + strconv.Itoa(cfg.Iterations),
		envPersistent + "=" + persistent,
	}
}

func configFromEnv() Config {
	behavior, _ := strconv.Atoi(os.Getenv(envBehavior))
	exitCode, _ := strconv.Atoi(os.Getenv(envExitCode))
	iterations, _ := strconv.Atoi(os.Getenv(envIterations))
	return Config{
		Behavior:   Behavior(behavior),
		ExitCode:   exitCode,
		Iterations: iterations,
		Persistent: os.Getenv(envPersistent) == "1",
	}
}

// Run performs the target side of the forkserver protocol: reads its
// inherited fds from the environment, opens the shared segment, sends
// the handshake hello, then answers Run commands according to its
// configured Behavior. It calls os.Exit itself and never returns, the
// way a real target's forkserver shim would.
func Run() {
	cfg := configFromEnv()

	fdBase, err := strconv.Atoi(os.Getenv(constants.EnvForkserverFD))
	if err != nil {
		os.Exit(1)
	}
	shmFD, err := strconv.Atoi(os.Getenv(constants.EnvForkserverSHM))
	if err != nil {
		os.Exit(1)
	}

	writeEnd := os.NewFile(uintptr(fdBase+1), "forward-w")
	segment, err := ipc.OpenSegment(shmFD)
	if err != nil {
		os.Exit(1)
	}

	hello := ipc.EncodeHello(ipc.Hello{Magic: uint16(constants.HandshakeMagic), Version: uint8(constants.HandshakeVersion), Mode: wireMode(cfg.Persistent)})
	var helloBuf [4]byte
	binary.LittleEndian.PutUint32(helloBuf[:], hello)
	if _, err := writeEnd.Write(helloBuf[:]); err != nil {
		os.Exit(1)
	}

	runOneIteration(segment, cfg)
}

// wireMode renders the handshake mode byte (spec.md §4.4.3 step 3: 1 ==
// Forkserver, 2 == Persistent).
func wireMode(persistent bool) uint8 {
	if persistent {
		return constants.HandshakeModePersistent
	}
	return constants.HandshakeModeForkserver
}

func runOneIteration(segment *ipc.Segment, cfg Config) {
	iterations := cfg.Iterations
	if !cfg.Persistent {
		iterations = 1
	}
	if iterations <= 0 {
		iterations = 1
	}

	for i := 0; i < iterations; i++ {
		cmdByte, err := segment.Command.RecvByte()
		if err != nil {
			os.Exit(1)
		}
		if ipc.Command(cmdByte) == ipc.CommandStop {
			os.Exit(0)
		}

		switch cfg.Behavior {
		case BehaviorHang:
			time.Sleep(time.Hour)
		case BehaviorExitWithoutReply:
			os.Exit(cfg.ExitCode)
		case BehaviorCrash:
			_ = segment.Status.SendByte(byte(ipc.StatusCrash))
			os.Exit(cfg.ExitCode)
		default:
			_ = segment.Status.SendByte(byte(ipc.StatusOK))
		}
	}
	os.Exit(0)
}
