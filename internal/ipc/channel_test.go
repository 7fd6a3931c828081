package ipc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestChannel(t *testing.T) *Channel {
	t.Helper()
	buf := make([]byte, 4096)
	c := newChannel(buf, 0, "test", &alternationState{})
	c.initEmpty()
	return c
}

func TestChannelSendRecvRoundTrip(t *testing.T) {
	c := newTestChannel(t)

	require.NoError(t, c.Send([]byte("hello")))

	out := make([]byte, 5)
	require.NoError(t, c.Recv(out))
	require.Equal(t, "hello", string(out))
}

func TestChannelSendByteRecvByte(t *testing.T) {
	c := newTestChannel(t)

	require.NoError(t, c.SendByte(0x2a))
	b, err := c.RecvByte()
	require.NoError(t, err)
	require.Equal(t, byte(0x2a), b)
}

func TestChannelOversizeRejected(t *testing.T) {
	c := newTestChannel(t)

	oversized := make([]byte, 65)
	err := c.Send(oversized)
	require.Error(t, err)
	var sizeErr *OversizeError
	require.ErrorAs(t, err, &sizeErr)

	// The channel must remain usable: the rejected send must not have
	// touched the semaphore or message_size.
	require.NoError(t, c.Send([]byte("ok")))
	out := make([]byte, 2)
	require.NoError(t, c.Recv(out))
	require.Equal(t, "ok", string(out))
}

func TestChannelFramingMismatch(t *testing.T) {
	c := newTestChannel(t)
	require.NoError(t, c.Send([]byte("abcd")))

	wrong := make([]byte, 2)
	err := c.Recv(wrong)
	require.Error(t, err)
	var framingErr *FramingError
	require.ErrorAs(t, err, &framingErr)
	require.Equal(t, 4, framingErr.Expected)

	// The message must still be retrievable with the correctly sized
	// buffer, since Recv re-posts on a framing mismatch.
	right := make([]byte, 4)
	require.NoError(t, c.Recv(right))
	require.Equal(t, "abcd", string(right))
}

func TestChannelRecvBlocksUntilSend(t *testing.T) {
	c := newTestChannel(t)

	var wg sync.WaitGroup
	result := make(chan string, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]byte, 3)
		if err := c.Recv(buf); err == nil {
			result <- string(buf)
		} else {
			result <- ""
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.Send([]byte("go!")))
	wg.Wait()
	require.Equal(t, "go!", <-result)
}
