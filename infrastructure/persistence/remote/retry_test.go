package remote

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/engramdb/engram/pkg/errors"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetry_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func() error {
		calls++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_RetriesTransientFailures(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return pkgerrors.NewConnectionError("remote", fmt.Errorf("connection refused"))
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func() error {
		calls++
		return pkgerrors.NewBackendError("save_memory", fmt.Errorf("boom"))
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, pkgerrors.IsBackend(err))
}

func TestRetry_DoesNotRetryCallerErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"validation", pkgerrors.NewValidationError("bad input")},
		{"not found", pkgerrors.NewNotFoundError("memory", "abc")},
		{"conflict", pkgerrors.NewConflictError("cycle")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := fastPolicy().Do(context.Background(), func() error {
				calls++
				return tt.err
			})

			require.Error(t, err)
			assert.Equal(t, 1, calls, "retrying cannot change the outcome")
		})
	}
}

func TestRetry_DoesNotRetryOpenCircuit(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func() error {
		calls++
		return pkgerrors.NewConnectionError("remote", errCircuitOpen)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "an open breaker rejects instantly; retrying would defeat it")
}

func TestRetry_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := fastPolicy().Do(ctx, func() error {
		calls++
		cancel()
		return pkgerrors.NewConnectionError("remote", fmt.Errorf("connection refused"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
