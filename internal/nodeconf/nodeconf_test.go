package nodeconf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/flotilla/internal/cluster"
)

// TestWriteRead verifies the artifact round-trips through the working
// directory, including the nested discovery section.
func TestWriteRead(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "alice-10001")

	cfg := Config{
		DisplayName:      "alice-10001",
		Capabilities:     []cluster.CapabilityTag{"notary"},
		MessagingAddress: cluster.HostAddress{Host: "127.0.0.1", Port: 10001},
		APIAddress:       cluster.HostAddress{Host: "127.0.0.1", Port: 10002},
		DebugPort:        5005,
		Discovery: &Discovery{
			DisplayName: cluster.DiscoveryServiceName,
			Identity:    "deadbeef",
			Address:     cluster.HostAddress{Host: "127.0.0.1", Port: 10000},
		},
	}
	require.NoError(t, Write(dir, cfg))

	// The artifact lives under the documented name.
	_, err := os.Stat(filepath.Join(dir, FileName))
	require.NoError(t, err)

	got, err := Read(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

// TestWriteDiscoveryOwnConfig verifies the discovery service's own config
// omits the discovery section entirely.
func TestWriteDiscoveryOwnConfig(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, Write(dir, Config{
		DisplayName:      cluster.DiscoveryServiceName,
		MessagingAddress: cluster.HostAddress{Host: "127.0.0.1", Port: 10000},
	}))

	got, err := Read(dir)
	require.NoError(t, err)
	assert.Nil(t, got.Discovery)

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "discovery:")
}

// TestReadMissing verifies a missing artifact surfaces as an error.
func TestReadMissing(t *testing.T) {
	_, err := Read(t.TempDir())
	assert.Error(t, err)
}
