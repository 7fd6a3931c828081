package ipc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestForkserverConfigMarshalRoundTrip(t *testing.T) {
	cfg := &ForkserverConfig{TimeoutMS: 2500, Signal: 6}
	cfg.SetExitCode(0)
	cfg.SetExitCode(255)

	buf := MarshalConfig(cfg)
	require.Len(t, buf, forkserverConfigSize)

	got, err := UnmarshalConfig(buf)
	require.NoError(t, err)
	require.Equal(t, cfg.TimeoutMS, got.TimeoutMS)
	require.Equal(t, cfg.Signal, got.Signal)
	require.True(t, got.HasExitCode(0))
	require.True(t, got.HasExitCode(255))
	require.False(t, got.HasExitCode(128))
}

func TestUnmarshalConfigRejectsWrongLength(t *testing.T) {
	_, err := UnmarshalConfig(make([]byte, 4))
	require.Error(t, err)
}

func TestHelloEncodeDecodeRoundTrip(t *testing.T) {
	h := Hello{Magic: 0xDEAD, Version: 1, Mode: 1}
	raw := EncodeHello(h)
	got := DecodeHello(raw)
	require.Equal(t, h, got)
}
