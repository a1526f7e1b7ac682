package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_CountersAccumulatePerService(t *testing.T) {
	c := New()
	c.IncRequests("svc-a")
	c.IncRequests("svc-a")
	c.IncRequests("svc-b")
	c.IncQueueRejected("svc-a")
	c.IncStartupAttempt("svc-a")
	c.IncStartupSuccess("svc-a")

	snap := c.Snapshot()
	a, ok := snap["svc-a"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 2, a["requests"])
	assert.EqualValues(t, 1, a["queue_rejected"])
	assert.EqualValues(t, 1, a["startup_attempts"])
	assert.EqualValues(t, 1, a["startup_successes"])

	b, ok := snap["svc-b"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, b["requests"])
}

func TestCollector_LatencyPercentilesReflectObservations(t *testing.T) {
	c := New()
	for i := 1; i <= 100; i++ {
		c.ObserveProxyLatency("svc", time.Duration(i)*time.Millisecond)
	}

	snap := c.Snapshot()
	svc := snap["svc"].(map[string]any)
	lat := svc["latency_ms"].(map[string]int64)

	assert.InDelta(t, 50, lat["p50"], 5)
	assert.InDelta(t, 95, lat["p95"], 5)
	assert.InDelta(t, 99, lat["p99"], 5)
}

func TestCollector_SnapshotEmptyWhenUntouched(t *testing.T) {
	c := New()
	assert.Empty(t, c.Snapshot())
}

func TestReservoirSampler_BoundsMemoryRegardlessOfObservationCount(t *testing.T) {
	rs := newReservoirSampler(10)
	for i := 0; i < 10_000; i++ {
		rs.add(int64(i))
	}
	assert.Len(t, rs.samples, 10)
	assert.EqualValues(t, 10_000, rs.count)
}
