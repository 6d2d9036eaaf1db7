// Package metrics provides MetricsRecorder backends. Every backend keeps an
// in-process aggregate so Snapshot works regardless of the export target.
package metrics

import (
	"sync"
	"time"

	"github.com/i2y/oapimcp/internal/domain"
)

// DefaultHistory is the number of recent failures kept for snapshots.
const DefaultHistory = 100

// Memory aggregates samples per handle.
type Memory struct {
	mu       sync.Mutex
	handles  map[string]*domain.HandleStats
	failures []domain.MetricSample
	history  int
}

// NewMemory creates a recorder keeping at most history recent failures.
func NewMemory(history int) *Memory {
	if history <= 0 {
		history = DefaultHistory
	}
	return &Memory{
		handles: make(map[string]*domain.HandleStats),
		history: history,
	}
}

func (m *Memory) Record(s domain.MetricSample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.handles[s.Handle]
	if !ok {
		st = &domain.HandleStats{Failures: map[domain.OutcomeClass]int64{}}
		m.handles[s.Handle] = st
	}
	st.Calls++
	st.TotalLatency += s.Latency
	if s.Latency > st.MaxLatency {
		st.MaxLatency = s.Latency
	}
	if s.Cached {
		st.CacheHits++
	}
	if s.Outcome == domain.OutcomeSuccess {
		st.Successes++
		return
	}
	st.Failures[s.Outcome]++

	if len(m.failures) == m.history {
		copy(m.failures, m.failures[1:])
		m.failures = m.failures[:len(m.failures)-1]
	}
	m.failures = append(m.failures, s)
}

// Snapshot returns a deep copy of the current aggregate.
func (m *Memory) Snapshot() domain.MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := domain.MetricsSnapshot{
		TakenAt: time.Now(),
		Handles: make(map[string]domain.HandleStats, len(m.handles)),
	}
	for name, st := range m.handles {
		cp := *st
		cp.Failures = make(map[domain.OutcomeClass]int64, len(st.Failures))
		for k, v := range st.Failures {
			cp.Failures[k] = v
		}
		snap.Handles[name] = cp
	}
	snap.RecentFailures = append([]domain.MetricSample(nil), m.failures...)
	return snap
}
