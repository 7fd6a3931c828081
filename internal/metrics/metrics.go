// Package metrics tracks per-run fuzzing statistics, the same
// atomic-counters-plus-histogram shape the teacher uses for ublk device
// I/O (metrics.go), retargeted from read/write/discard/flush operations
// to forkserver run outcomes (ok/crash/timeout).
package metrics

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the iteration-latency histogram buckets in
// nanoseconds, unchanged from the teacher's spacing: 1us to 10s,
// logarithmic.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks execution counts and latency for one Forkserver session.
type Metrics struct {
	Executions atomic.Uint64
	Crashes    atomic.Uint64
	Timeouts   atomic.Uint64
	Errors     atomic.Uint64

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordRun records the outcome and wall-clock latency of one Execute
// call (spec.md §4.4.3/§4.4.4).
func (m *Metrics) RecordRun(outcome Outcome, latencyNs uint64) {
	m.Executions.Add(1)
	switch outcome {
	case OutcomeCrash:
		m.Crashes.Add(1)
	case OutcomeTimeout:
		m.Timeouts.Add(1)
	case OutcomeError:
		m.Errors.Add(1)
	}
	m.recordLatency(latencyNs)
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the session as finished.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// Outcome classifies one Execute call for metrics purposes.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeCrash
	OutcomeTimeout
	OutcomeError
)

// Snapshot is a point-in-time read of Metrics.
type Snapshot struct {
	Executions uint64
	Crashes    uint64
	Timeouts   uint64
	Errors     uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns uint64
	LatencyP99Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	ExecsPerSecond float64
	CrashRate      float64
}

// Snapshot returns a point-in-time snapshot of the running counters.
func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{
		Executions: m.Executions.Load(),
		Crashes:    m.Crashes.Load(),
		Timeouts:   m.Timeouts.Load(),
		Errors:     m.Errors.Load(),
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		snap.ExecsPerSecond = float64(snap.Executions) / (float64(snap.UptimeNs) / 1e9)
	}
	if snap.Executions > 0 {
		snap.CrashRate = float64(snap.Crashes) / float64(snap.Executions) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}
	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) by linear interpolation between histogram buckets, the same
// approach the teacher uses for ublk I/O latency percentiles.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}
	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}
	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes all counters and restarts the session clock. Useful in
// tests that reuse one Metrics across scenarios.
func (m *Metrics) Reset() {
	m.Executions.Store(0)
	m.Crashes.Store(0)
	m.Timeouts.Store(0)
	m.Errors.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}
