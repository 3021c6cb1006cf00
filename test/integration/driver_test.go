//go:build !windows

// Package integration exercises the whole orchestration harness against the
// real discoveryd and noded binaries, built once per test run.
package integration

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/flotilla/internal/cluster"
	"github.com/dreamware/flotilla/internal/driver"
	"github.com/dreamware/flotilla/internal/poll"
)

var (
	discoverydBin string
	nodedBin      string
)

// TestMain builds both child binaries into a temp dir shared by all tests.
func TestMain(m *testing.M) {
	binDir, err := os.MkdirTemp("", "flotilla-bin-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkdir: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(binDir)

	discoverydBin = filepath.Join(binDir, "discoveryd")
	nodedBin = filepath.Join(binDir, "noded")

	for bin, pkg := range map[string]string{
		discoverydBin: "github.com/dreamware/flotilla/cmd/discoveryd",
		nodedBin:      "github.com/dreamware/flotilla/cmd/noded",
	} {
		cmd := exec.Command("go", "build", "-o", bin, pkg)
		if out, err := cmd.CombinedOutput(); err != nil {
			fmt.Fprintf(os.Stderr, "build %s: %v\n%s", pkg, err, out)
			os.Exit(1)
		}
	}

	os.Exit(m.Run())
}

// newDriver builds a session with a readiness budget suitable for CI:
// generous enough for process start-up, short enough that failures are
// reported in seconds, not minutes.
func newDriver(t *testing.T, nodeEnv ...string) *driver.Driver {
	t.Helper()
	d, err := driver.New(driver.Config{
		BaseDir:       t.TempDir(),
		DiscoveryExec: driver.Executable{Path: discoverydBin},
		NodeExec:      driver.Executable{Path: nodedBin, Env: nodeEnv},
		PollOpts:      []poll.Option{poll.WithAttempts(60), poll.WithInterval(250 * time.Millisecond)},
	})
	require.NoError(t, err)
	return d
}

// dialRefused reports whether nothing is accepting on addr right now.
func dialRefused(addr cluster.HostAddress) bool {
	conn, err := net.DialTimeout("tcp", addr.String(), 250*time.Millisecond)
	if err != nil {
		return true
	}
	conn.Close()
	return false
}

// TestStartShutdownZeroNodes verifies the minimal session: start, then
// immediately shut down, with every address verifiably released.
func TestStartShutdownZeroNodes(t *testing.T) {
	d := newDriver(t)

	require.NoError(t, d.Start(context.Background()))
	rec := d.DiscoveryRecord()
	assert.Equal(t, cluster.DiscoveryServiceName, rec.DisplayName)
	assert.NotEmpty(t, rec.Identity, "Bootstrap must resolve a real identity")

	require.NoError(t, d.Shutdown())
	assert.True(t, dialRefused(rec.ServiceAddress),
		"Discovery address must be released after shutdown")
}

// TestTwoNamedNodes verifies the two-node session: distinct records under
// the exact requested names, and fail-fast on a duplicate.
func TestTwoNamedNodes(t *testing.T) {
	d := newDriver(t)
	defer d.Shutdown()

	ctx := context.Background()
	require.NoError(t, d.Start(ctx))

	alice, err := d.StartNode(ctx, "Alice", nil)
	require.NoError(t, err)
	bob, err := d.StartNode(ctx, "Bob", []cluster.CapabilityTag{"notary"})
	require.NoError(t, err)

	assert.Equal(t, "Alice", alice.DisplayName)
	assert.Equal(t, "Bob", bob.DisplayName)
	assert.NotEqual(t, alice.ServiceAddress, bob.ServiceAddress,
		"Nodes must get distinct messaging addresses")
	assert.NotEqual(t, alice.Identity, bob.Identity)
	assert.Contains(t, bob.Capabilities, cluster.CapabilityTag("notary"))

	_, err = d.StartNode(ctx, "Alice", nil)
	assert.True(t, errors.Is(err, driver.ErrDuplicateName), "got %v", err)

	require.NoError(t, d.Shutdown())
}

// TestAutoGeneratedNames verifies nameless launches draw pool names and the
// records land under them.
func TestAutoGeneratedNames(t *testing.T) {
	d := newDriver(t)
	defer d.Shutdown()

	ctx := context.Background()
	require.NoError(t, d.Start(ctx))

	rec, err := d.StartNode(ctx, "", nil)
	require.NoError(t, err)
	assert.Regexp(t, `^[a-z]+-\d+$`, rec.DisplayName)

	require.NoError(t, d.Shutdown())
}

// TestWaitForAllNodesToFinish verifies natural-exit waiting: both nodes exit
// immediately after registering and the wait returns once both exits are
// observed.
func TestWaitForAllNodesToFinish(t *testing.T) {
	d := newDriver(t, "NODE_EXIT_AFTER_REGISTER=1")
	defer d.Shutdown()

	ctx := context.Background()
	require.NoError(t, d.Start(ctx))

	// Each node registers, holds its sockets open until the launch probe
	// has connected, then exits; StartNode must succeed despite the exit
	// following moments later.
	_, err := d.StartNode(ctx, "Alice", nil)
	require.NoError(t, err)
	_, err = d.StartNode(ctx, "Bob", nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		d.WaitForAllNodesToFinish()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("WaitForAllNodesToFinish did not observe both exits")
	}

	require.NoError(t, d.Shutdown())
}

// TestNodeStartTimeoutWhenNeverRegistered verifies the failure taxonomy for
// a node that binds its addresses but never shows up in discovery: the error
// is the registration timeout, not a launch failure.
func TestNodeStartTimeoutWhenNeverRegistered(t *testing.T) {
	d, err := driver.New(driver.Config{
		BaseDir:       t.TempDir(),
		DiscoveryExec: driver.Executable{Path: discoverydBin},
		NodeExec:      driver.Executable{Path: nodedBin, Env: []string{"NODE_SKIP_REGISTER=1"}},
		PollOpts:      []poll.Option{poll.WithAttempts(20), poll.WithInterval(250 * time.Millisecond)},
	})
	require.NoError(t, err)
	defer d.Shutdown()

	ctx := context.Background()
	require.NoError(t, d.Start(ctx))

	_, err = d.StartNode(ctx, "ghost", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, driver.ErrNodeStartTimeout), "got %v", err)
	assert.False(t, errors.Is(err, driver.ErrNodeLaunchTimeout),
		"A node that bound its addresses must not be reported as a launch failure")

	require.NoError(t, d.Shutdown())
}

// TestForceKillStubbornNode verifies the layered shutdown: a node that
// ignores graceful termination is force-killed within the grace period plus
// a small epsilon, and its addresses still come back released.
func TestForceKillStubbornNode(t *testing.T) {
	grace := 2 * time.Second
	d, err := driver.New(driver.Config{
		BaseDir:       t.TempDir(),
		DiscoveryExec: driver.Executable{Path: discoverydBin},
		NodeExec:      driver.Executable{Path: nodedBin, Env: []string{"NODE_IGNORE_TERM=1"}},
		GracePeriod:   grace,
		PollOpts:      []poll.Option{poll.WithAttempts(60), poll.WithInterval(250 * time.Millisecond)},
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, d.Start(ctx))

	rec, err := d.StartNode(ctx, "stubborn", nil)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, d.Shutdown())
	elapsed := time.Since(start)

	// Graceful phase burns the full grace period, then the force kill
	// and the unbind checks should be fast.
	assert.Less(t, elapsed, grace+10*time.Second,
		"Shutdown must not hang on a termination-ignoring child")
	assert.True(t, dialRefused(rec.ServiceAddress),
		"Stubborn node's address must be released after force kill")
}

// TestNodeWritesArtifacts verifies the launch side effects end up in the
// node's working directory: node.conf and the per-process error log.
func TestNodeWritesArtifacts(t *testing.T) {
	d := newDriver(t)
	defer d.Shutdown()

	ctx := context.Background()
	require.NoError(t, d.Start(ctx))

	_, err := d.StartNode(ctx, "Alice", nil)
	require.NoError(t, err)

	nodeDir := filepath.Join(d.BaseDir(), "Alice")
	_, err = os.Stat(filepath.Join(nodeDir, "node.conf"))
	assert.NoError(t, err, "node.conf must be written before launch")
	_, err = os.Stat(filepath.Join(nodeDir, "error.Alice.log"))
	assert.NoError(t, err, "stderr must be redirected to the error log")

	require.NoError(t, d.Shutdown())
}
