package driver

import "errors"

var (
	// ErrStarted indicates Start was called on a driver that already ran.
	// A driver is single-use: one session, one Start, one Shutdown.
	ErrStarted = errors.New("driver already started")

	// ErrNotStarted indicates StartNode was called before Start completed.
	ErrNotStarted = errors.New("driver not started")

	// ErrDuplicateName indicates StartNode was called with a display name
	// already claimed in this session. Display names are the discovery
	// cache's primary key, so this fails fast rather than overwriting.
	ErrDuplicateName = errors.New("display name already in use")

	// ErrNodeLaunchTimeout indicates a launched node process never bound
	// its listening sockets within the poll budget.
	ErrNodeLaunchTimeout = errors.New("node did not bind its addresses")

	// ErrNodeStartTimeout indicates a node bound its sockets but never
	// appeared in the discovery cache within the poll budget.
	ErrNodeStartTimeout = errors.New("node did not appear in discovery")

	// ErrDiscoveryBootstrapTimeout indicates the discovery service never
	// resolved its own real identity. The session is unusable; there is
	// no retry beyond the poll budget.
	ErrDiscoveryBootstrapTimeout = errors.New("discovery service identity never resolved")

	// ErrAddressLeaked indicates an address was still bound after
	// shutdown's grace period: a leaked or hung child process that would
	// corrupt subsequent runs.
	ErrAddressLeaked = errors.New("address still bound after shutdown")
)
