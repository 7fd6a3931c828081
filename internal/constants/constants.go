// Package constants holds protocol-level constants shared by the ipc and
// procio packages, mirroring the way go-ublk centralizes its kernel-facing
// defaults in one place.
package constants

import "time"

// Wire-level protocol constants (spec.md §3, §4.3).
const (
	// MaxMessageSize is the fixed capacity of a Channel's message buffer.
	MaxMessageSize = 64

	// HandshakeMagic is the high 16 bits of the client hello u32.
	HandshakeMagic uint32 = 0xDEAD

	// HandshakeVersion is the only version this controller understands.
	HandshakeVersion uint32 = 1
)

// Handshake bitmask layout (spec.md §3).
const (
	HandshakeMagicMask   uint32 = 0xFFFF0000
	HandshakeVersionMask uint32 = 0x0000FF00
	HandshakeModeMask    uint32 = 0x000000FF
)

// Handshake mode byte values (spec.md §4.4.3 step 3). The target, not the
// controller, decides which of these it announces; any other value is a
// fatal protocol violation.
const (
	HandshakeModeForkserver uint8 = 1
	HandshakeModePersistent uint8 = 2
)

// Default configuration constants (spec.md §4.5).
const (
	// DefaultTimeoutMS is used when the builder's timeout is left at 0.
	DefaultTimeoutMS uint32 = 5000

	// PersistentMinTimeoutMS is the floor applied to persistent-mode
	// children regardless of configured timeout (spec.md §4.4.3 step 4).
	PersistentMinTimeoutMS uint32 = 1000

	// DefaultKillSignal is used when the builder never calls KillSignal.
	DefaultKillSignal = "SIGKILL"
)

// ExitCodeBitmapSize is the byte length of ForkserverConfig.ExitCodes.
const ExitCodeBitmapSize = 32

// Environment variables exchanged between controller and target (spec.md §6).
const (
	EnvForkserverFD  = "__FORKSERVER_FD"
	EnvForkserverSHM = "__FORKSERVER_SHM"
	EnvLDBindNow     = "LD_BIND_NOW"
	EnvLSANOptions   = "LSAN_OPTIONS"
	EnvASANOptions   = "ASAN_OPTIONS"
)

// Default environment values the spawn step injects when the ambient
// environment and the caller's own env both leave them unset (spec.md §4.4.2).
const (
	DefaultLDBindNow   = "1"
	DefaultLSANOptions = "exitcode=23"
	DefaultASANOptions = "detect_leaks=1:abort_on_error=1:halt_on_error=1:symbolize=0:detect_stack_use_after_return=1:max_malloc_fill_size=1073741824"
)

// SharedMemorySegmentSize is the size of the mapping backing an IPC segment.
const SharedMemorySegmentSize = 4096

// ReapPollInterval is how often Close polls for child reap completion
// while waiting non-blockingly, mirroring the short polling intervals the
// teacher repo uses while waiting on kernel state transitions.
const ReapPollInterval = 5 * time.Millisecond
