package duck

import (
	"sync/atomic"
	"time"
)

// Metrics accumulates ducking counters for the process lifetime
// All fields are atomics: envelope ticks write without taking the engine
// lock and readers snapshot without blocking
type Metrics struct {
	totalEvents    atomic.Uint64
	cascadingDucks atomic.Uint64
	emergencyDucks atomic.Uint64

	attackCount  atomic.Uint64
	attackSumNs  atomic.Int64
	maxAttackNs  atomic.Int64
	releaseCount atomic.Uint64
	releaseSumNs atomic.Int64
}

// MetricsSnapshot is a consistent-enough copy for observability surfaces
type MetricsSnapshot struct {
	TotalDuckingEvents uint64
	CascadingDuckCount uint64
	EmergencyDuckCount uint64
	AverageAttackTime  time.Duration
	AverageReleaseTime time.Duration
	MaxAttackTime      time.Duration
}

func (m *Metrics) recordEvent() {
	m.totalEvents.Add(1)
}

func (m *Metrics) recordCascade() {
	m.cascadingDucks.Add(1)
}

func (m *Metrics) recordEmergency() {
	m.emergencyDucks.Add(1)
}

// recordAttack notes a completed attack ramp and tracks the running maximum
func (m *Metrics) recordAttack(elapsed time.Duration) {
	m.attackCount.Add(1)
	m.attackSumNs.Add(int64(elapsed))
	for {
		old := m.maxAttackNs.Load()
		if int64(elapsed) <= old {
			return
		}
		if m.maxAttackNs.CompareAndSwap(old, int64(elapsed)) {
			return
		}
	}
}

func (m *Metrics) recordRelease(elapsed time.Duration) {
	m.releaseCount.Add(1)
	m.releaseSumNs.Add(int64(elapsed))
}

// Snapshot returns current counter values and running averages
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		TotalDuckingEvents: m.totalEvents.Load(),
		CascadingDuckCount: m.cascadingDucks.Load(),
		EmergencyDuckCount: m.emergencyDucks.Load(),
		MaxAttackTime:      time.Duration(m.maxAttackNs.Load()),
	}
	if n := m.attackCount.Load(); n > 0 {
		snap.AverageAttackTime = time.Duration(m.attackSumNs.Load() / int64(n))
	}
	if n := m.releaseCount.Load(); n > 0 {
		snap.AverageReleaseTime = time.Duration(m.releaseSumNs.Load() / int64(n))
	}
	return snap
}

// Reset zeroes all counters; only explicit resets clear metrics
func (m *Metrics) Reset() {
	m.totalEvents.Store(0)
	m.cascadingDucks.Store(0)
	m.emergencyDucks.Store(0)
	m.attackCount.Store(0)
	m.attackSumNs.Store(0)
	m.maxAttackNs.Store(0)
	m.releaseCount.Store(0)
	m.releaseSumNs.Store(0)
}
