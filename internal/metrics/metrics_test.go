package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordRunCountsOutcomes(t *testing.T) {
	m := NewMetrics()
	m.RecordRun(OutcomeOK, 5_000)
	m.RecordRun(OutcomeCrash, 20_000)
	m.RecordRun(OutcomeTimeout, 50_000)
	m.RecordRun(OutcomeError, 1_000)

	snap := m.Snapshot()
	require.Equal(t, uint64(4), snap.Executions)
	require.Equal(t, uint64(1), snap.Crashes)
	require.Equal(t, uint64(1), snap.Timeouts)
	require.Equal(t, uint64(1), snap.Errors)
	require.InDelta(t, 25.0, snap.CrashRate, 0.01)
}

func TestSnapshotLatencyHistogram(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < 10; i++ {
		m.RecordRun(OutcomeOK, 500) // falls in every bucket >= 1us
	}
	snap := m.Snapshot()
	for _, count := range snap.LatencyHistogram {
		require.Equal(t, uint64(10), count)
	}
}

func TestResetClearsCounters(t *testing.T) {
	m := NewMetrics()
	m.RecordRun(OutcomeCrash, 100)
	m.Reset()
	snap := m.Snapshot()
	require.Zero(t, snap.Executions)
	require.Zero(t, snap.Crashes)
}
