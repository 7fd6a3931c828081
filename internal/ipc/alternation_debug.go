//go:build forkserver_debug

package ipc

// checkAlternation enforces strict write-command/read-status alternation
// across a Segment's pair of channels. Only compiled into debug builds
// (go build -tags forkserver_debug), matching the spec's allowance
// (REDESIGN FLAGS) that release builds may skip this check on the hot
// path. Go has no separate debug/release profile the way Rust's
// cfg!(debug_assertions) does, so a build tag is the idiomatic
// substitute.
func (c *Channel) checkAlternation(next opKind) error {
	if c.state.last != opNone && c.state.last == next {
		return &AlternationError{
			Channel: c.name,
			Last:    opName(c.state.last),
			Attempt: opName(next),
		}
	}
	c.state.last = next
	return nil
}

func opName(k opKind) string {
	switch k {
	case opSend:
		return "send"
	case opRecv:
		return "recv"
	default:
		return "none"
	}
}
