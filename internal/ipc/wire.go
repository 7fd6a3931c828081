package ipc

import (
	"encoding/binary"
	"unsafe"

	"github.com/behrlich/go-forkserver/internal/constants"
)

// Command is a single-byte value the controller sends on the command
// channel to drive the target through one fuzzing iteration (spec.md §3).
type Command byte

const (
	CommandRun  Command = 0
	CommandStop Command = 1
)

// Status is the single-byte value the target sends back on the status
// channel after handling a Command.
type Status byte

const (
	StatusOK      Status = 0
	StatusCrash   Status = 1
	StatusTimeout Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusCrash:
		return "crash"
	case StatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// ForkserverConfig is the fixed-layout struct the controller writes into
// the shared segment before the target's first iteration: the per-run
// timeout, the signal used to kill a hung child, and a 256-bit bitmap of
// exit codes the controller should treat as crashes (spec.md §3, §4.4.3).
// Layout has no padding and fields are encoded little-endian regardless
// of host byte order, marshaled manually the same
// way go-ublk's internal/uapi/marshal.go hand-rolls binary.LittleEndian
// puts instead of relying on encoding/binary's struct reflection.
type ForkserverConfig struct {
	TimeoutMS uint32
	Signal    uint32
	ExitCodes [constants.ExitCodeBitmapSize]byte
}

const forkserverConfigSize = 4 + 4 + constants.ExitCodeBitmapSize

var _ [forkserverConfigSize]byte = [unsafe.Sizeof(ForkserverConfig{})]byte{}

// MarshalConfig encodes cfg into its wire representation.
func MarshalConfig(cfg *ForkserverConfig) []byte {
	buf := make([]byte, forkserverConfigSize)
	binary.LittleEndian.PutUint32(buf[0:4], cfg.TimeoutMS)
	binary.LittleEndian.PutUint32(buf[4:8], cfg.Signal)
	copy(buf[8:], cfg.ExitCodes[:])
	return buf
}

// UnmarshalConfig decodes a ForkserverConfig from its wire representation.
func UnmarshalConfig(buf []byte) (*ForkserverConfig, error) {
	if len(buf) != forkserverConfigSize {
		return nil, &FramingError{Expected: forkserverConfigSize, Got: len(buf)}
	}
	cfg := &ForkserverConfig{
		TimeoutMS: binary.LittleEndian.Uint32(buf[0:4]),
		Signal:    binary.LittleEndian.Uint32(buf[4:8]),
	}
	copy(cfg.ExitCodes[:], buf[8:])
	return cfg, nil
}

// SetExitCode marks code as one that should be treated as a crash when the
// target exits with it (used in non-persistent mode, spec.md §4.4.4).
func (c *ForkserverConfig) SetExitCode(code uint8) {
	c.ExitCodes[code/8] |= 1 << (code % 8)
}

// HasExitCode reports whether code is marked in the bitmap.
func (c *ForkserverConfig) HasExitCode(code uint8) bool {
	return c.ExitCodes[code/8]&(1<<(code%8)) != 0
}

// Hello is the u32 handshake value the target writes to its end of the
// pipe on startup: magic in the high 16 bits, protocol version in the next
// 8, and a mode flag in the low 8 (spec.md §3, §4.4.1).
type Hello struct {
	Magic   uint16
	Version uint8
	Mode    uint8
}

// EncodeHello packs h into the u32 wire value.
func EncodeHello(h Hello) uint32 {
	return uint32(h.Magic)<<16 | uint32(h.Version)<<8 | uint32(h.Mode)
}

// DecodeHello unpacks a raw u32 handshake value.
func DecodeHello(raw uint32) Hello {
	return Hello{
		Magic:   uint16((raw & constants.HandshakeMagicMask) >> 16),
		Version: uint8((raw & constants.HandshakeVersionMask) >> 8),
		Mode:    uint8(raw & constants.HandshakeModeMask),
	}
}
