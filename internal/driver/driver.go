package driver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dreamware/flotilla/internal/cluster"
	"github.com/dreamware/flotilla/internal/discovery"
	"github.com/dreamware/flotilla/internal/nodeconf"
	"github.com/dreamware/flotilla/internal/poll"
	"github.com/dreamware/flotilla/internal/ports"
	"github.com/dreamware/flotilla/internal/proc"
)

// defaultGracePeriod is how long shutdown waits for children to exit
// voluntarily before force-killing them.
const defaultGracePeriod = 5 * time.Second

// defaultDebugPortBase seeds the incremental allocator for debug ports.
const defaultDebugPortBase = 5005

// Config configures one orchestration session.
type Config struct {
	// BaseDir is where node working directories are created. Defaults to
	// a session-unique directory under os.TempDir so parallel sessions
	// never share state.
	BaseDir string

	// Ports allocates messaging and API addresses. Defaults to RandomFree
	// so parallel sessions do not collide on fixed ranges.
	Ports ports.Allocator

	// DebugPorts allocates debug ports. Defaults to Incremental(5005).
	DebugPorts ports.Allocator

	// DiscoveryExec and NodeExec name the programs the driver spawns.
	// Both are required.
	DiscoveryExec Executable
	NodeExec      Executable

	// GracePeriod bounds the graceful phase of shutdown. Defaults to 5s.
	GracePeriod time.Duration

	// PollOpts override the default readiness budget (120 x 500ms) for
	// every poll the driver performs. Used by tests.
	PollOpts []poll.Option
}

// Driver is the orchestrator for one session: it boots the discovery
// service, launches node processes on demand, and tears the fleet down
// deterministically. Single-use; all methods are driven from one
// orchestrating goroutine, except that Shutdown is safe to invoke
// concurrently from an abnormal-exit path (signal handler).
type Driver struct {
	cfg Config
	sup *proc.Supervisor

	// mu orders the session fields below between the orchestrating
	// goroutine and a Shutdown arriving from a signal handler mid-Start.
	mu            sync.Mutex
	endpoint      *discovery.Endpoint
	ownAddr       cluster.HostAddress
	discoveryAddr cluster.HostAddress

	// discoveryRecord is non-zero for the whole interval between the end
	// of Start and the beginning of Shutdown.
	discoveryRecord cluster.DiscoveryRecord

	nodeHandles []*proc.Handle
	names       map[string]bool
	nameSeq     int

	startCalled  bool
	started      bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a driver, applying defaults for everything but the two
// executables.
func New(cfg Config) (*Driver, error) {
	if cfg.DiscoveryExec.Path == "" || cfg.NodeExec.Path == "" {
		return nil, errors.New("driver: both DiscoveryExec and NodeExec are required")
	}
	if cfg.BaseDir == "" {
		cfg.BaseDir = filepath.Join(os.TempDir(), "flotilla-"+uuid.NewString())
	}
	if cfg.Ports == nil {
		cfg.Ports = ports.NewRandomFree()
	}
	if cfg.DebugPorts == nil {
		cfg.DebugPorts = ports.NewIncremental(defaultDebugPortBase)
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = defaultGracePeriod
	}

	return &Driver{
		cfg:   cfg,
		sup:   proc.NewSupervisor(),
		names: make(map[string]bool),
	}, nil
}

// BaseDir returns the session's working-directory root.
func (d *Driver) BaseDir() string {
	return d.cfg.BaseDir
}

// DiscoveryRecord returns the resolved discovery service record. Zero
// before Start completes.
func (d *Driver) DiscoveryRecord() cluster.DiscoveryRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.discoveryRecord
}

// Start boots the session: allocates the discovery and endpoint addresses,
// launches the discovery service process, opens the driver's own messaging
// endpoint against it, and resolves the service's real identity.
//
// Single-use: a second call returns ErrStarted.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.startCalled {
		d.mu.Unlock()
		return ErrStarted
	}
	d.startCalled = true
	d.names[cluster.DiscoveryServiceName] = true
	d.mu.Unlock()

	discoveryAddr, err := d.cfg.Ports.NextAddress()
	if err != nil {
		return err
	}
	ownAddr, err := d.cfg.Ports.NextAddress()
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.discoveryAddr, d.ownAddr = discoveryAddr, ownAddr
	d.mu.Unlock()

	dir := filepath.Join(d.cfg.BaseDir, cluster.DiscoveryServiceName)
	err = nodeconf.Write(dir, nodeconf.Config{
		DisplayName:      cluster.DiscoveryServiceName,
		Capabilities:     []cluster.CapabilityTag{cluster.CapabilityDiscovery},
		MessagingAddress: discoveryAddr,
	})
	if err != nil {
		return err
	}

	if _, err := d.launch(d.cfg.DiscoveryExec, "discoveryd", dir, discoveryAddr); err != nil {
		return err
	}

	ep := discovery.Open(ownAddr, discoveryAddr)
	d.mu.Lock()
	d.endpoint = ep
	d.mu.Unlock()

	rec, err := d.bootstrapDiscovery(ctx)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.discoveryRecord = rec
	d.started = true
	d.mu.Unlock()
	log.Printf("driver: session up (base dir %s)", d.cfg.BaseDir)
	return nil
}

// StartNode launches one node process and blocks until it has registered
// with discovery. Launches are strictly sequential: the call does not
// return until the new node's record is visible, so starting several nodes
// pays the full per-node readiness latency cumulatively. Deliberate
// simplicity/latency trade-off.
//
// An empty displayName draws from the name pool, suffixed with the node's
// messaging port. An explicit duplicate fails fast with ErrDuplicateName.
func (d *Driver) StartNode(ctx context.Context, displayName string, capabilities []cluster.CapabilityTag) (cluster.DiscoveryRecord, error) {
	d.mu.Lock()
	started, ep := d.started, d.endpoint
	d.mu.Unlock()
	if !started {
		return cluster.DiscoveryRecord{}, ErrNotStarted
	}

	spec, err := d.buildSpec(displayName, capabilities)
	if err != nil {
		return cluster.DiscoveryRecord{}, err
	}

	err = nodeconf.Write(spec.WorkingDirectory, nodeconf.Config{
		DisplayName:      spec.DisplayName,
		Capabilities:     spec.AdvertisedCapabilities,
		MessagingAddress: spec.MessagingAddress,
		APIAddress:       spec.APIAddress,
		DebugPort:        spec.DebugPort,
		Discovery: &nodeconf.Discovery{
			DisplayName: cluster.DiscoveryServiceName,
			Identity:    spec.DiscoveryIdentity,
			Address:     spec.DiscoveryAddress,
		},
	})
	if err != nil {
		return cluster.DiscoveryRecord{}, err
	}

	h, err := d.launch(d.cfg.NodeExec, spec.DisplayName, spec.WorkingDirectory,
		spec.MessagingAddress, spec.APIAddress)
	if err != nil {
		if errors.Is(err, proc.ErrLaunchTimeout) {
			return cluster.DiscoveryRecord{}, fmt.Errorf("%v: %w", err, ErrNodeLaunchTimeout)
		}
		return cluster.DiscoveryRecord{}, err
	}
	d.mu.Lock()
	d.nodeHandles = append(d.nodeHandles, h)
	d.mu.Unlock()

	rec, err := poll.Await(func() (cluster.DiscoveryRecord, bool) {
		return ep.Lookup(spec.DisplayName)
	}, d.pollOpts("node "+spec.DisplayName+" in discovery")...)
	if err != nil {
		return cluster.DiscoveryRecord{}, fmt.Errorf("%v: %w", err, ErrNodeStartTimeout)
	}

	log.Printf("driver: node %s registered @ %s", rec.DisplayName, rec.ServiceAddress)
	return rec, nil
}

// WaitForAllNodesToFinish blocks until every process launched via StartNode
// has exited naturally. It does not initiate termination and does not wait
// on the discovery service, which runs for the whole session.
func (d *Driver) WaitForAllNodesToFinish() {
	d.mu.Lock()
	handles := append([]*proc.Handle(nil), d.nodeHandles...)
	d.mu.Unlock()

	for _, h := range handles {
		h.Wait()
	}
}

// Shutdown tears the session down: graceful-then-forced termination of
// every child, stop of the driver's own endpoint, and verification that
// both the driver's and the discovery service's addresses are actually
// released. A still-bound address is reported as ErrAddressLeaked rather
// than silently passing, because a leaked child corrupts subsequent runs.
//
// Idempotent: the first call does the work, every call returns its result.
// Safe to wire to both the normal exit path and a signal handler.
func (d *Driver) Shutdown() error {
	d.shutdownOnce.Do(func() {
		log.Printf("driver: shutting down")
		d.sup.TerminateAll(d.cfg.GracePeriod)

		d.mu.Lock()
		ep := d.endpoint
		addrs := []cluster.HostAddress{d.ownAddr, d.discoveryAddr}
		d.mu.Unlock()

		var errs []error
		if ep != nil && ep.Started() {
			if err := ep.Stop(); err != nil {
				errs = append(errs, err)
			}
		}

		for _, addr := range addrs {
			if addr.IsZero() {
				continue
			}
			if err := poll.AwaitUnbound(addr, d.cfg.PollOpts...); err != nil {
				errs = append(errs, fmt.Errorf("%s: %v: %w", addr, err, ErrAddressLeaked))
			}
		}

		d.mu.Lock()
		d.started = false
		d.mu.Unlock()
		d.shutdownErr = errors.Join(errs...)
	})
	return d.shutdownErr
}

// launch spawns a child in dir and waits for its addresses to bind. Zero
// addresses are skipped (a node may have no API address).
func (d *Driver) launch(exe Executable, name, dir string, addrs ...cluster.HostAddress) (*proc.Handle, error) {
	waitAddrs := make([]cluster.HostAddress, 0, len(addrs))
	for _, a := range addrs {
		if !a.IsZero() {
			waitAddrs = append(waitAddrs, a)
		}
	}
	return d.sup.Launch(proc.Command{
		Name:      name,
		Path:      exe.Path,
		Args:      append(append([]string(nil), exe.Args...), "-dir", dir),
		Env:       exe.Env,
		Dir:       dir,
		WaitAddrs: waitAddrs,
		PollOpts:  d.cfg.PollOpts,
	})
}

// buildSpec allocates addresses and resolves the display name for one node
// launch. The name is claimed before the process spawns so two sequential
// StartNode calls can never race for it.
func (d *Driver) buildSpec(displayName string, capabilities []cluster.CapabilityTag) (NodeLaunchSpec, error) {
	messaging, err := d.cfg.Ports.NextAddress()
	if err != nil {
		return NodeLaunchSpec{}, err
	}
	api, err := d.cfg.Ports.NextAddress()
	if err != nil {
		return NodeLaunchSpec{}, err
	}
	debugPort, err := d.cfg.DebugPorts.NextPort()
	if err != nil {
		return NodeLaunchSpec{}, err
	}

	if displayName == "" {
		displayName = poolName(d.nameSeq, messaging.Port)
		d.nameSeq++
	}
	if d.names[displayName] {
		return NodeLaunchSpec{}, fmt.Errorf("%q: %w", displayName, ErrDuplicateName)
	}
	d.names[displayName] = true

	return NodeLaunchSpec{
		DisplayName:            displayName,
		AdvertisedCapabilities: capabilities,
		MessagingAddress:       messaging,
		APIAddress:             api,
		DiscoveryAddress:       d.discoveryRecord.ServiceAddress,
		DiscoveryIdentity:      d.discoveryRecord.Identity,
		WorkingDirectory:       filepath.Join(d.cfg.BaseDir, displayName),
		DebugPort:              debugPort,
	}, nil
}

// pollOpts prepends a label to the session-wide poll overrides.
func (d *Driver) pollOpts(label string) []poll.Option {
	return append([]poll.Option{poll.WithLabel(label)}, d.cfg.PollOpts...)
}
