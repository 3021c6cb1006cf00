// Package ports implements the port allocation policy used by the driver
// when handing out listening addresses to the processes it launches.
//
// Exactly two policies exist and the set is closed: Incremental hands out a
// deterministic sequence from a caller-chosen base, RandomFree asks the OS
// for an ephemeral port. Neither reserves ports at the OS level beyond
// RandomFree's transient probe bind, so an unrelated process can still race
// for the same port; the driver treats that as a launch-time fault surfaced
// by the readiness check, not as an allocator bug.
package ports

import (
	"fmt"
	"net"

	"github.com/dreamware/flotilla/internal/cluster"
)

// LoopbackHost is the fixed host every allocated address is bound to.
// The harness only ever orchestrates processes on the local machine.
const LoopbackHost = "127.0.0.1"

// Allocator produces non-colliding local ports for one orchestration
// session. Implementations are not safe for concurrent use; the driver
// allocates from a single goroutine.
type Allocator interface {
	// NextPort returns a port not previously returned by this instance.
	NextPort() (int, error)

	// NextAddress wraps NextPort in a loopback HostAddress.
	NextAddress() (cluster.HostAddress, error)
}

// Incremental hands out consecutive ports starting at a fixed base.
// Deterministic and reproducible across runs with the same base, which
// makes failure logs comparable between runs.
type Incremental struct {
	next int
}

// NewIncremental creates an Incremental allocator starting at base.
func NewIncremental(base int) *Incremental {
	return &Incremental{next: base}
}

// NextPort returns the current counter value and advances it.
func (a *Incremental) NextPort() (int, error) {
	if a.next > 65535 {
		return 0, fmt.Errorf("port allocation exhausted at %d", a.next)
	}
	p := a.next
	a.next++
	return p, nil
}

// NextAddress returns the next port wrapped in a loopback address.
func (a *Incremental) NextAddress() (cluster.HostAddress, error) {
	p, err := a.NextPort()
	if err != nil {
		return cluster.HostAddress{}, err
	}
	return cluster.HostAddress{Host: LoopbackHost, Port: p}, nil
}

// RandomFree asks the OS for an ephemeral port by binding 127.0.0.1:0,
// releasing the listener, and returning the port it was assigned.
//
// Best-effort only: between release and the launched process binding it,
// another process may grab the port. Callers needing strict exclusivity
// should prefer Incremental with a session-unique base. RandomFree exists
// for parallel test sessions that must not collide on fixed port ranges.
type RandomFree struct{}

// NewRandomFree creates a RandomFree allocator.
func NewRandomFree() *RandomFree {
	return &RandomFree{}
}

// NextPort binds an ephemeral loopback port, closes it, and returns it.
func (a *RandomFree) NextPort() (int, error) {
	l, err := net.Listen("tcp", LoopbackHost+":0")
	if err != nil {
		return 0, fmt.Errorf("probe ephemeral port: %w", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	if err := l.Close(); err != nil {
		return 0, fmt.Errorf("release probe listener: %w", err)
	}
	return port, nil
}

// NextAddress returns a fresh ephemeral port wrapped in a loopback address.
func (a *RandomFree) NextAddress() (cluster.HostAddress, error) {
	p, err := a.NextPort()
	if err != nil {
		return cluster.HostAddress{}, err
	}
	return cluster.HostAddress{Host: LoopbackHost, Port: p}, nil
}
