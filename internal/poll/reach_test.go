package poll

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/flotilla/internal/cluster"
)

// testAddr binds an ephemeral loopback port and returns the address plus the
// live listener so tests control exactly when it opens and closes.
func testAddr(t *testing.T) (cluster.HostAddress, net.Listener) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return cluster.HostAddress{
		Host: "127.0.0.1",
		Port: l.Addr().(*net.TCPAddr).Port,
	}, l
}

// TestAwaitBoundAlreadyListening verifies the fast path: a live listener is
// reported bound immediately.
func TestAwaitBoundAlreadyListening(t *testing.T) {
	addr, l := testAddr(t)
	defer l.Close()

	err := AwaitBound(addr, WithAttempts(5), WithInterval(10*time.Millisecond))
	assert.NoError(t, err)
}

// TestAwaitBoundDelayedListener verifies a listener that appears mid-budget
// is still detected: bind after ~1s inside a much larger budget.
func TestAwaitBoundDelayedListener(t *testing.T) {
	addr, l := testAddr(t)
	// Free the port, rebind it after a delay.
	require.NoError(t, l.Close())

	go func() {
		time.Sleep(1 * time.Second)
		late, err := net.Listen("tcp", addr.String())
		if err != nil {
			return
		}
		time.Sleep(3 * time.Second)
		_ = late.Close()
	}()

	start := time.Now()
	err := AwaitBound(addr, WithAttempts(60), WithInterval(100*time.Millisecond))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond,
		"Should not report bound before the listener exists")
}

// TestAwaitBoundTimeout verifies the never-listening branch surfaces
// ErrTimeout once the budget is spent.
func TestAwaitBoundTimeout(t *testing.T) {
	addr, l := testAddr(t)
	require.NoError(t, l.Close()) // nothing will ever listen here

	err := AwaitBound(addr, WithAttempts(4), WithInterval(10*time.Millisecond))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
}

// TestAwaitUnbound verifies release detection: succeeds once the listener
// closes, times out while it stays open.
func TestAwaitUnbound(t *testing.T) {
	addr, l := testAddr(t)

	// Listener still open: must time out.
	err := AwaitUnbound(addr, WithAttempts(3), WithInterval(10*time.Millisecond))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))

	// Release it in the background, detection must follow.
	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = l.Close()
	}()
	err = AwaitUnbound(addr, WithAttempts(50), WithInterval(20*time.Millisecond))
	assert.NoError(t, err)
}
