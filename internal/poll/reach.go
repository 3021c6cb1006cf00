package poll

import (
	"net"
	"time"

	"github.com/dreamware/flotilla/internal/cluster"
)

// dialTimeout bounds each individual connect probe. Short on purpose: the
// outer attempt budget owns the overall wait, a probe only needs to tell
// bound from unbound on the local machine.
const dialTimeout = 250 * time.Millisecond

// AwaitBound blocks until a TCP connect to addr succeeds, confirming a
// launched process has actually opened its listening socket. The probe
// connection is closed immediately; nothing is sent on it.
func AwaitBound(addr cluster.HostAddress, opts ...Option) error {
	opts = append([]Option{WithLabel("address " + addr.String() + " not bound")}, opts...)
	_, err := Await(func() (struct{}, bool) {
		conn, err := net.DialTimeout("tcp", addr.String(), dialTimeout)
		if err != nil {
			return struct{}{}, false
		}
		_ = conn.Close()
		return struct{}{}, true
	}, opts...)
	return err
}

// AwaitUnbound blocks until a TCP connect to addr fails, confirming the
// socket has been released after shutdown. A still-reachable address past
// the budget means a leaked or hung child process.
func AwaitUnbound(addr cluster.HostAddress, opts ...Option) error {
	opts = append([]Option{WithLabel("address " + addr.String() + " still bound")}, opts...)
	_, err := Await(func() (struct{}, bool) {
		conn, err := net.DialTimeout("tcp", addr.String(), dialTimeout)
		if err != nil {
			return struct{}{}, true
		}
		_ = conn.Close()
		return struct{}{}, false
	}, opts...)
	return err
}
