package driver

import (
	"fmt"

	"github.com/dreamware/flotilla/internal/cluster"
)

// Executable names an out-of-process program the driver can spawn, plus any
// fixed leading arguments and extra environment entries. The driver appends
// its own "-dir <workdir>" pair; everything else the child needs it reads
// from node.conf.
type Executable struct {
	Path string
	Args []string
	Env  []string
}

// NodeLaunchSpec collects everything a single node launch needs. Built once
// per StartNode call, immutable afterwards, consumed by the supervisor.
// DiscoveryAddress and DiscoveryIdentity are zero only for the discovery
// service's own spec.
type NodeLaunchSpec struct {
	DisplayName            string
	AdvertisedCapabilities []cluster.CapabilityTag
	MessagingAddress       cluster.HostAddress
	APIAddress             cluster.HostAddress
	DiscoveryAddress       cluster.HostAddress
	DiscoveryIdentity      cluster.Identity
	WorkingDirectory       string
	DebugPort              int
}

// namePool seeds auto-generated display names. Short and human-debuggable;
// the messaging port is appended to keep generated names unique within a
// session even past one cycle through the pool.
var namePool = []string{"alice", "bob", "carol", "dave", "erin", "frank"}

// poolName produces the nth auto-generated name for the given port.
func poolName(n, port int) string {
	return fmt.Sprintf("%s-%d", namePool[n%len(namePool)], port)
}
