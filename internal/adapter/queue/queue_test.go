package queue

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hestia-project/hestia-gateway/internal/core/domain"
)

func newEntry(t *testing.T, serviceID string) *domain.QueueEntry {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	return domain.NewQueueEntry(r, "req-1", serviceID, time.Now().Add(time.Minute))
}

func TestQueue_Enqueue_RejectsWhenFull(t *testing.T) {
	q := New(1)
	require.NoError(t, q.Enqueue(newEntry(t, "svc")))

	err := q.Enqueue(newEntry(t, "svc"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrQueueFull)
	assert.Equal(t, 1, q.Len())
}

func TestQueue_Enqueue_UnboundedWhenCapacityZero(t *testing.T) {
	q := New(0)
	for i := 0; i < 50; i++ {
		require.NoError(t, q.Enqueue(newEntry(t, "svc")))
	}
	assert.Equal(t, 50, q.Len())
}

func TestQueue_DrainAll_ReleasesInFIFOOrder(t *testing.T) {
	q := New(0)
	entries := make([]*domain.QueueEntry, 3)
	for i := range entries {
		entries[i] = newEntry(t, "svc")
		require.NoError(t, q.Enqueue(entries[i]))
	}

	q.DrainAll(domain.SignalProceed, nil)
	assert.Equal(t, 0, q.Len())

	for _, e := range entries {
		select {
		case out := <-e.Done():
			assert.Equal(t, domain.SignalProceed, out.Signal)
		default:
			t.Fatal("entry was not completed by DrainAll")
		}
	}
}

func TestQueue_Shutdown_ReleasesWithGatewayShutdownAndClosesGate(t *testing.T) {
	q := New(0)
	e := newEntry(t, "svc")
	require.NoError(t, q.Enqueue(e))

	q.Shutdown()

	out := <-e.Done()
	assert.Equal(t, domain.SignalGatewayShutdown, out.Signal)

	err := q.Enqueue(newEntry(t, "svc"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrShutdownInProgress)
}

func TestQueue_DrainAll_StartupFailedCarriesError(t *testing.T) {
	q := New(0)
	e := newEntry(t, "svc")
	require.NoError(t, q.Enqueue(e))

	startupErr := &domain.StartupError{Reason: "boom", Attempt: 2}
	q.DrainAll(domain.SignalStartupFailed, startupErr)

	out := <-e.Done()
	assert.Equal(t, domain.SignalStartupFailed, out.Signal)
	require.NotNil(t, out.Err)
	assert.Equal(t, "boom", out.Err.Reason)
}
