package healthcheck

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_ClosedUntilThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)
	url := "http://instance-a/internal/health"

	assert.False(t, cb.IsOpen(url))
	cb.RecordFailure(url)
	cb.RecordFailure(url)
	assert.False(t, cb.IsOpen(url), "should stay closed below the failure threshold")

	cb.RecordFailure(url)
	assert.True(t, cb.IsOpen(url), "should trip open once the threshold is reached")
}

func TestCircuitBreaker_SuccessResetsState(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)
	url := "http://instance-b/internal/health"

	cb.RecordFailure(url)
	cb.RecordFailure(url)
	require.True(t, cb.IsOpen(url))

	cb.RecordSuccess(url)
	assert.False(t, cb.IsOpen(url), "a recorded success should close the circuit again")
}

func TestCircuitBreaker_HalfOpenAfterCooldown(t *testing.T) {
	cb := NewCircuitBreaker(1, 20*time.Millisecond)
	url := "http://instance-c/internal/health"

	cb.RecordFailure(url)
	require.True(t, cb.IsOpen(url))

	time.Sleep(30 * time.Millisecond)
	assert.False(t, cb.IsOpen(url), "a single probe should be let through after the cooldown elapses")
	assert.True(t, cb.IsOpen(url), "further callers should still see the circuit as open until an outcome is recorded")
}

func TestCircuitBreaker_Forget(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	url := "http://instance-d/internal/health"

	cb.RecordFailure(url)
	require.True(t, cb.IsOpen(url))

	cb.Forget(url)
	assert.False(t, cb.IsOpen(url), "forgetting an instance should drop its tracked state")
}

func TestCircuitBreaker_UnknownURLIsClosed(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)
	assert.False(t, cb.IsOpen("http://never-seen/internal/health"))
}

func TestNewCircuitBreaker_DefaultsInvalidArgs(t *testing.T) {
	cb := NewCircuitBreaker(0, 0)
	assert.Equal(t, 3, cb.failureThreshold)
	assert.Equal(t, 30*time.Second, cb.cooldown)
}
