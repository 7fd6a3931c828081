//go:build forkserver_debug

package ipc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestAlternationControllerWriteReadAlternates exercises the normal
// controller loop -- write command, read status, repeat -- which must
// never trip the alternation check (spec.md §8 property #1).
func TestAlternationControllerWriteReadAlternates(t *testing.T) {
	controller, err := CreateSegment()
	require.NoError(t, err)
	defer controller.Close()

	// A target-side view of the same shared mapping with its own
	// independent alternation tracker: the check is in-process
	// bookkeeping, not part of the wire layout, so each side of the real
	// fork/exec boundary gets its own.
	targetState := &alternationState{}
	targetCommand := newChannel(controller.mapping, commandChannelOffset, "command", targetState)
	targetStatus := newChannel(controller.mapping, statusChannelOffset, "status", targetState)

	for i := 0; i < 2; i++ {
		require.NoError(t, controller.Command.SendByte(byte(CommandRun)))
		_, err := targetCommand.RecvByte()
		require.NoError(t, err)

		require.NoError(t, targetStatus.SendByte(byte(StatusOK)))
		_, err = controller.Status.RecvByte()
		require.NoError(t, err)
	}
}

// TestAlternationConsecutiveWritesFault confirms two same-direction
// writes in a row -- with no intervening read -- raise an
// AlternationError (spec.md §8 property #1).
func TestAlternationConsecutiveWritesFault(t *testing.T) {
	seg, err := CreateSegment()
	require.NoError(t, err)
	defer seg.Close()

	require.NoError(t, seg.Command.SendByte(byte(CommandRun)))

	err = seg.Command.SendByte(byte(CommandRun))
	require.Error(t, err)
	var altErr *AlternationError
	require.ErrorAs(t, err, &altErr)
}

// TestAlternationConsecutiveReadsFault confirms two same-direction reads
// in a row -- across the command and status channels, since the
// controller-side last_op spans both -- raise an AlternationError.
func TestAlternationConsecutiveReadsFault(t *testing.T) {
	seg, err := CreateSegment()
	require.NoError(t, err)
	defer seg.Close()

	require.NoError(t, seg.Command.SendByte(byte(CommandRun)))
	_, err = seg.Command.RecvByte()
	require.NoError(t, err)

	_, err = seg.Status.RecvByte()
	require.Error(t, err)
	var altErr *AlternationError
	require.ErrorAs(t, err, &altErr)
}
