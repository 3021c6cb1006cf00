package poll

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAwaitImmediate verifies a condition that already holds returns on the
// first attempt without sleeping.
func TestAwaitImmediate(t *testing.T) {
	start := time.Now()
	v, err := Await(func() (int, bool) { return 42, true },
		WithAttempts(3), WithInterval(time.Second))

	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Less(t, time.Since(start), 500*time.Millisecond,
		"Immediate success must not pay the interval")
}

// TestAwaitEventual verifies the poller keeps re-evaluating until the
// condition holds.
func TestAwaitEventual(t *testing.T) {
	calls := 0
	v, err := Await(func() (string, bool) {
		calls++
		if calls < 4 {
			return "", false
		}
		return "ready", true
	}, WithAttempts(10), WithInterval(5*time.Millisecond))

	require.NoError(t, err)
	assert.Equal(t, "ready", v)
	assert.Equal(t, 4, calls)
}

// TestAwaitTimeout verifies the attempt budget is honored exactly and the
// error wraps ErrTimeout.
func TestAwaitTimeout(t *testing.T) {
	calls := 0
	_, err := Await(func() (int, bool) {
		calls++
		return 0, false
	}, WithAttempts(5), WithInterval(time.Millisecond), WithLabel("never"))

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout), "Expected ErrTimeout, got %v", err)
	assert.Equal(t, 5, calls, "Predicate must run exactly maxAttempts times")
	assert.Contains(t, err.Error(), "never")
}

// TestAwaitSynchronous verifies evaluation happens on the calling goroutine.
func TestAwaitSynchronous(t *testing.T) {
	done := make(chan struct{})
	go func() {
		_, _ = Await(func() (int, bool) { return 1, true })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Await did not return promptly")
	}
}

// TestDefaults pins the documented default budget: 120 attempts at 500ms,
// the standard 60 second window.
func TestDefaults(t *testing.T) {
	assert.Equal(t, 120, DefaultAttempts)
	assert.Equal(t, 500*time.Millisecond, DefaultInterval)
	assert.Equal(t, time.Minute, time.Duration(DefaultAttempts)*DefaultInterval)
}
