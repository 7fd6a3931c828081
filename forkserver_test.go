package forkserver

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/go-forkserver/internal/ipc"
	"github.com/behrlich/go-forkserver/internal/testutil"
)

// TestMain lets this test binary also play the target: when
// GO_TEST_HELPER_PROCESS is set, it runs the fake-target protocol
// handler instead of the test suite, the same re-exec-self pattern used
// in internal/procio/spawn_test.go.
func TestMain(m *testing.M) {
	if os.Getenv("GO_TEST_HELPER_PROCESS") == "1" {
		testutil.Run()
		return
	}
	os.Exit(m.Run())
}

func spawnFake(t *testing.T, cfg testutil.Config, timeoutMS uint32) *Forkserver {
	t.Helper()
	self, err := os.Executable()
	require.NoError(t, err)

	builder := NewBuilder(self).
		Args("-test.run=TestMain").
		TimeoutMS(timeoutMS).
		Env("GO_TEST_HELPER_PROCESS=1")
	for _, kv := range testutil.EnvFor(cfg) {
		builder = builder.Env(kv)
	}
	fs, err := builder.Spawn()
	require.NoError(t, err)
	return fs
}

// S1: a normal run reports StatusOK and increments Executions.
func TestScenarioNormalExecution(t *testing.T) {
	fs := spawnFake(t, testutil.Config{Behavior: testutil.BehaviorOK}, 2000)
	defer fs.Close()

	status, err := fs.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, ipc.StatusOK, status)
	require.Equal(t, uint64(1), fs.Stats().Executions)
}

// S2: a target that reports a crash is reflected as StatusCrash and
// counted in the Crashes stat.
func TestScenarioCrash(t *testing.T) {
	fs := spawnFake(t, testutil.Config{Behavior: testutil.BehaviorCrash, ExitCode: 1}, 2000)
	defer fs.Close()

	status, err := fs.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, ipc.StatusCrash, status)
	require.Equal(t, uint64(1), fs.Stats().Crashes)
}

// S3: a target that never replies trips the configured timeout and is
// killed rather than hanging the controller forever.
func TestScenarioTimeout(t *testing.T) {
	fs := spawnFake(t, testutil.Config{Behavior: testutil.BehaviorHang}, 200)
	defer fs.Close()

	status, err := fs.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, ipc.StatusTimeout, status)
	require.Equal(t, uint64(1), fs.Stats().Timeouts)
}

// S4: persistent-mode targets answer multiple Run commands inside the
// same process without being relaunched in between.
func TestScenarioPersistentMultipleIterations(t *testing.T) {
	fs := spawnFake(t, testutil.Config{Behavior: testutil.BehaviorOK, Persistent: true, Iterations: 3}, 2000)
	defer fs.Close()

	pid := fs.Pid()
	for i := 0; i < 3; i++ {
		status, err := fs.Execute(context.Background())
		require.NoError(t, err)
		require.Equal(t, ipc.StatusOK, status)
		require.Equal(t, pid, fs.Pid(), "persistent target should not be relaunched between OK iterations")
	}
	require.Equal(t, uint64(3), fs.Stats().Executions)
}

// S5: Close is idempotent and safe to call more than once.
func TestScenarioCloseIsIdempotent(t *testing.T) {
	fs := spawnFake(t, testutil.Config{Behavior: testutil.BehaviorOK}, 2000)
	require.NoError(t, fs.Close())
	require.NoError(t, fs.Close())
}

// S6: a concurrent Execute call while one is already in flight is
// rejected rather than corrupting channel state.
func TestScenarioConcurrentExecuteRejected(t *testing.T) {
	fs := spawnFake(t, testutil.Config{Behavior: testutil.BehaviorOK}, 2000)
	defer fs.Close()

	fs.inUse.Store(true)
	defer fs.inUse.Store(false)

	_, err := fs.Execute(context.Background())
	require.Error(t, err)
	require.True(t, IsKind(err, ErrorKindProtocolViolation))
}

func TestModeString(t *testing.T) {
	require.Equal(t, "forkserver", ModeForkserver.String())
	require.Equal(t, "persistent", ModePersistent.String())
}

func TestExecuteTimeoutDoesNotBlockForever(t *testing.T) {
	fs := spawnFake(t, testutil.Config{Behavior: testutil.BehaviorHang}, 100)
	defer fs.Close()

	done := make(chan struct{})
	go func() {
		fs.Execute(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Execute did not return within a reasonable bound after a hang")
	}
}
