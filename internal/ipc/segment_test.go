package ipc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSegmentCreateAndClose(t *testing.T) {
	seg, err := CreateSegment()
	require.NoError(t, err)
	require.NotNil(t, seg.Command)
	require.NotNil(t, seg.Status)
	require.NoError(t, seg.Close())
}

func TestSegmentConfigRoundTrip(t *testing.T) {
	seg, err := CreateSegment()
	require.NoError(t, err)
	defer seg.Close()

	cfg := &ForkserverConfig{TimeoutMS: 1500, Signal: 9}
	cfg.SetExitCode(134)
	seg.WriteConfig(cfg)

	got, err := seg.ReadConfig()
	require.NoError(t, err)
	require.Equal(t, uint32(1500), got.TimeoutMS)
	require.Equal(t, uint32(9), got.Signal)
	require.True(t, got.HasExitCode(134))
	require.False(t, got.HasExitCode(1))
}

func TestSegmentCommandStatusHandshake(t *testing.T) {
	seg, err := CreateSegment()
	require.NoError(t, err)
	defer seg.Close()

	require.NoError(t, seg.Command.SendByte(byte(CommandRun)))
	cmd, err := seg.Command.RecvByte()
	require.NoError(t, err)
	require.Equal(t, byte(CommandRun), cmd)

	require.NoError(t, seg.Status.SendByte(byte(StatusOK)))
	status, err := seg.Status.RecvByte()
	require.NoError(t, err)
	require.Equal(t, byte(StatusOK), status)
}
