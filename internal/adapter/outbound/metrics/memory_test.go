package metrics_test

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/oapimcp/internal/adapter/outbound/metrics"
	"github.com/i2y/oapimcp/internal/domain"
)

func sample(handle string, outcome domain.OutcomeClass, latency time.Duration, cached bool) domain.MetricSample {
	return domain.MetricSample{Handle: handle, Outcome: outcome, Latency: latency, Timestamp: time.Now(), Cached: cached}
}

func TestMemory_Aggregates(t *testing.T) {
	m := metrics.NewMemory(10)
	m.Record(sample("getPet", domain.OutcomeSuccess, 10*time.Millisecond, false))
	m.Record(sample("getPet", domain.OutcomeSuccess, 30*time.Millisecond, true))
	m.Record(sample("getPet", domain.OutcomeUpstreamError, 20*time.Millisecond, false))
	m.Record(sample("addPet", domain.OutcomeValidationError, time.Millisecond, false))

	snap := m.Snapshot()
	require.Len(t, snap.Handles, 2)

	get := snap.Handles["getPet"]
	assert.Equal(t, int64(3), get.Calls)
	assert.Equal(t, int64(2), get.Successes)
	assert.Equal(t, int64(1), get.CacheHits)
	assert.Equal(t, int64(1), get.Failures[domain.OutcomeUpstreamError])
	assert.Equal(t, 30*time.Millisecond, get.MaxLatency)
	assert.Equal(t, 20*time.Millisecond, get.AvgLatency())

	require.Len(t, snap.RecentFailures, 2)
	assert.Equal(t, "getPet", snap.RecentFailures[0].Handle)
	assert.Equal(t, "addPet", snap.RecentFailures[1].Handle)
}

func TestMemory_HistoryIsBounded(t *testing.T) {
	m := metrics.NewMemory(3)
	for i := 0; i < 5; i++ {
		s := sample("h", domain.OutcomeTransportError, time.Millisecond, false)
		s.Detail = fmt.Sprintf("failure %d", i)
		m.Record(s)
	}
	snap := m.Snapshot()
	require.Len(t, snap.RecentFailures, 3)
	assert.Equal(t, "failure 2", snap.RecentFailures[0].Detail)
	assert.Equal(t, "failure 4", snap.RecentFailures[2].Detail)
	assert.Equal(t, int64(5), snap.Handles["h"].Failures[domain.OutcomeTransportError])
}

func TestMemory_SnapshotIsACopy(t *testing.T) {
	m := metrics.NewMemory(3)
	m.Record(sample("h", domain.OutcomeAuthError, time.Millisecond, false))
	snap := m.Snapshot()
	snap.Handles["h"].Failures[domain.OutcomeAuthError] = 99

	assert.Equal(t, int64(1), m.Snapshot().Handles["h"].Failures[domain.OutcomeAuthError])
}

func TestMemory_ConcurrentRecord(t *testing.T) {
	m := metrics.NewMemory(10)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Record(sample("h", domain.OutcomeSuccess, time.Millisecond, false))
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), m.Snapshot().Handles["h"].Calls)
}

func TestNew(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tests := []struct {
		backend string
		wantErr bool
	}{
		{backend: ""},
		{backend: "memory"},
		{backend: "Prometheus"},
		{backend: "otel"},
		{backend: "statsd", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			rec, err := metrics.New(tt.backend, 10, prometheus.NewRegistry(), logger)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			rec.Record(sample("h", domain.OutcomeSuccess, time.Millisecond, false))
			assert.Equal(t, int64(1), rec.Snapshot().Handles["h"].Calls)
		})
	}
}
