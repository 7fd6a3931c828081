package procio

import (
	"encoding/binary"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/go-forkserver/internal/constants"
	"github.com/behrlich/go-forkserver/internal/ipc"
)

// TestMain lets this test binary also play the role of the target
// process: when GO_TEST_HELPER_PROCESS is set, it writes a hello
// handshake word to its inherited fd and exits, instead of running the
// test suite. Grounded on the re-exec-self pattern in
// other_examples/0d34ed0d_e2b-dev-infra.../cross_process_helper_test.go.go.
func TestMain(m *testing.M) {
	if os.Getenv("GO_TEST_HELPER_PROCESS") == "1" {
		runHelperProcess()
		return
	}
	os.Exit(m.Run())
}

func runHelperProcess() {
	fdBase, err := strconv.Atoi(os.Getenv(constants.EnvForkserverFD))
	if err != nil {
		os.Exit(1)
	}
	writeEnd := os.NewFile(uintptr(fdBase+1), "forward-w")
	hello := ipc.EncodeHello(ipc.Hello{Magic: 0xDEAD, Version: 1, Mode: 0})
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], hello)
	if _, err := writeEnd.Write(buf[:]); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

func TestSpawnAndHandshake(t *testing.T) {
	self, err := os.Executable()
	require.NoError(t, err)

	seg, err := ipc.CreateSegment()
	require.NoError(t, err)
	defer seg.Close()

	child, err := Spawn(SpawnOptions{
		Binary: self,
		Args:   []string{"-test.run=TestMain"},
		Env:    append(os.Environ(), "GO_TEST_HELPER_PROCESS=1"),
	}, seg)
	require.NoError(t, err)
	defer child.Close()

	hello, err := child.Handshake(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, uint16(0xDEAD), hello.Magic)
	require.Equal(t, uint8(1), hello.Version)

	_, err = child.Wait()
	require.NoError(t, err)
}
