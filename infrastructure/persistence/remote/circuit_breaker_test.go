package remote

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	breaker := NewCircuitBreaker(3, time.Minute, nil)

	breaker.RecordFailure()
	breaker.RecordFailure()
	assert.Equal(t, "closed", breaker.State())
	assert.NoError(t, breaker.Allow())

	breaker.RecordFailure()
	assert.Equal(t, "open", breaker.State())
	assert.Error(t, breaker.Allow())
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	breaker := NewCircuitBreaker(3, time.Minute, nil)

	breaker.RecordFailure()
	breaker.RecordFailure()
	breaker.RecordSuccess()
	breaker.RecordFailure()
	breaker.RecordFailure()

	assert.Equal(t, "closed", breaker.State(), "non-consecutive failures must not open the breaker")
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	breaker := NewCircuitBreaker(1, 10*time.Millisecond, nil)

	breaker.RecordFailure()
	require.Equal(t, "open", breaker.State())
	require.Error(t, breaker.Allow())

	time.Sleep(20 * time.Millisecond)

	// The reset timeout elapsed, so one probe goes through
	assert.NoError(t, breaker.Allow())
	assert.Equal(t, "half-open", breaker.State())
}

func TestCircuitBreaker_ProbeSuccessCloses(t *testing.T) {
	breaker := NewCircuitBreaker(1, 10*time.Millisecond, nil)

	breaker.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, breaker.Allow())

	breaker.RecordSuccess()
	assert.Equal(t, "closed", breaker.State())
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	breaker := NewCircuitBreaker(5, 10*time.Millisecond, nil)

	for i := 0; i < 5; i++ {
		breaker.RecordFailure()
	}
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, breaker.Allow())
	require.Equal(t, "half-open", breaker.State())

	// A single probe failure reopens regardless of the threshold
	breaker.RecordFailure()
	assert.Equal(t, "open", breaker.State())
	assert.Error(t, breaker.Allow())
}
