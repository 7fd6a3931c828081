package forkserver

import "github.com/behrlich/go-forkserver/internal/constants"

// Re-exported protocol and default-configuration constants, the same
// thin facade go-ublk's own constants.go puts over internal/constants.
const (
	MaxMessageSize         = constants.MaxMessageSize
	HandshakeMagic         = constants.HandshakeMagic
	HandshakeVersion       = constants.HandshakeVersion
	DefaultTimeoutMS       = constants.DefaultTimeoutMS
	PersistentMinTimeoutMS = constants.PersistentMinTimeoutMS
	DefaultKillSignal      = constants.DefaultKillSignal
	ExitCodeBitmapSize     = constants.ExitCodeBitmapSize
)
