// Package driver is the top of the flotilla orchestration harness: it boots
// a small network of cooperating server processes for testing, bootstraps
// the discovery service among them, and tears the fleet down
// deterministically afterwards.
//
// # Session lifecycle
//
//	d, _ := driver.New(driver.Config{
//	    DiscoveryExec: driver.Executable{Path: "bin/discoveryd"},
//	    NodeExec:      driver.Executable{Path: "bin/noded"},
//	})
//	defer d.Shutdown()
//
//	if err := d.Start(ctx); err != nil { ... }
//	alice, _ := d.StartNode(ctx, "alice", nil)
//	bob, _ := d.StartNode(ctx, "bob", nil)
//	...
//	d.WaitForAllNodesToFinish()
//
// Start launches the discovery service, opens the driver's own messaging
// endpoint against it, and resolves the service's real identity via the
// bootstrap rendezvous (see bootstrap.go). StartNode launches one node at a
// time and returns only once the node's record is visible in the discovery
// mirror. Shutdown terminates every child (graceful signal, then a forced
// kill after the grace period), stops the endpoint, and verifies both the
// driver's and the discovery service's addresses are actually released.
//
// # Bounded waits
//
// Every blocking wait in the package has an explicit bound: readiness polls
// carry an attempt budget, shutdown carries the grace period. A hung
// harness is worse than a failed one, so nothing here waits forever.
//
// # Error taxonomy
//
// poll.ErrTimeout is the generic readiness failure; the driver wraps it as
// ErrNodeLaunchTimeout (socket never bound), ErrNodeStartTimeout (bound but
// never registered), or ErrDiscoveryBootstrapTimeout (discovery never
// resolved its own identity). All are terminal for the session. Address
// leaks at shutdown surface as ErrAddressLeaked. Spawn failures propagate
// untranslated from the supervisor.
//
// # Abnormal exit
//
// Shutdown is guarded by sync.Once and returns the first run's result on
// every call, so the embedding program wires it to both the normal exit
// path and its signal handler without double-teardown. The driver never
// registers global hooks itself; lifecycle ownership stays explicit.
package driver
