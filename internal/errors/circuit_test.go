package errors

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker("rewrite", WithMaxFailures(3))

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}

	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_ClosedAllowsRequests(t *testing.T) {
	cb := NewCircuitBreaker("rewrite")

	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.Allow())
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker("embed", WithMaxFailures(3))

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()

	assert.Equal(t, 0, cb.Failures())
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	cb := NewCircuitBreaker("rewrite",
		WithMaxFailures(1),
		WithResetTimeout(10*time.Millisecond))

	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.True(t, cb.Allow())
}

func TestExecuteWithFallback_OpenCircuitUsesFallback(t *testing.T) {
	cb := NewCircuitBreaker("rewrite", WithMaxFailures(1), WithResetTimeout(time.Minute))
	cb.RecordFailure()

	called := false
	got, err := ExecuteWithFallback(cb,
		func() (string, error) {
			t.Fatal("primary must not run while circuit is open")
			return "", nil
		},
		func() (string, error) {
			called = true
			return "fallback", nil
		})

	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "fallback", got)
}

func TestExecuteWithFallback_FailureCountsTowardOpen(t *testing.T) {
	cb := NewCircuitBreaker("embed", WithMaxFailures(2))
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		_, err := ExecuteWithFallback(cb,
			func() (int, error) { return 0, boom },
			func() (int, error) { return -1, nil })
		require.ErrorIs(t, err, boom)
	}

	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_ExecuteReturnsErrCircuitOpen(t *testing.T) {
	cb := NewCircuitBreaker("rewrite", WithMaxFailures(1), WithResetTimeout(time.Minute))
	cb.RecordFailure()

	err := cb.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}
