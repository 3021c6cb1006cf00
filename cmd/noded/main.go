// Package main implements noded, the node runtime a flotilla session spawns
// once per StartNode call.
//
// On start-up the node:
//   - reads node.conf from its working directory
//   - generates its cryptographic identity
//   - binds its messaging address (and API address, when configured)
//   - registers its discovery record with the discovery service
//   - runs until signalled
//
// Invocation:
//
//	noded -dir <working directory>
//
// Test hooks (environment):
//   - NODE_EXIT_AFTER_REGISTER=1: exit successfully right after
//     registration, for tests that wait on natural exits.
//   - NODE_SKIP_REGISTER=1: bind the addresses but never register, for
//     tests that verify the registration-timeout failure mode.
//   - NODE_IGNORE_TERM=1: ignore graceful termination, for tests that
//     verify the force-kill path.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dreamware/flotilla/internal/cluster"
	"github.com/dreamware/flotilla/internal/nodeconf"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

// registerAttempts bounds the registration retry loop. The discovery
// service is already up when the driver spawns a node, so failures here
// mean a genuinely broken session.
const registerAttempts = 10

func main() {
	dir := flag.String("dir", "", "working directory containing node.conf")
	flag.Parse()
	if *dir == "" {
		logFatal("noded: -dir is required")
	}

	cfg, err := nodeconf.Read(*dir)
	if err != nil {
		logFatal("noded: %v", err)
	}
	if cfg.Discovery == nil {
		logFatal("noded: node.conf has no discovery section")
	}

	identity, err := cluster.GenerateIdentity()
	if err != nil {
		logFatal("noded: %v", err)
	}

	record := cluster.DiscoveryRecord{
		DisplayName:    cfg.DisplayName,
		Identity:       identity,
		ServiceAddress: cfg.MessagingAddress,
		Capabilities:   cfg.Capabilities,
	}

	// Messaging server: health plus the node's own view of itself.
	messaging := newServer(cfg.MessagingAddress, record)
	messagingL, err := listenOn(cfg.MessagingAddress)
	if err != nil {
		logFatal("noded: %v", err)
	}
	go serve("messaging", messaging, messagingL)
	listeners := []*firstConnListener{messagingL}

	// API server is optional; the driver allocates it for every node but
	// a hand-written config may omit it.
	var api *http.Server
	if !cfg.APIAddress.IsZero() {
		api = newServer(cfg.APIAddress, record)
		apiL, err := listenOn(cfg.APIAddress)
		if err != nil {
			logFatal("noded: %v", err)
		}
		go serve("api", api, apiL)
		listeners = append(listeners, apiL)
	}

	if os.Getenv("NODE_SKIP_REGISTER") == "1" {
		log.Printf("node[%s] skipping registration", cfg.DisplayName)
	} else {
		register(cfg, record)
	}

	if os.Getenv("NODE_EXIT_AFTER_REGISTER") == "1" {
		// The launcher treats an address it never managed to connect to as
		// a failed launch, so hold each socket open until it has accepted
		// at least one connection before exiting.
		awaitFirstConnections(listeners, 30*time.Second)
		log.Printf("node[%s] exiting after registration", cfg.DisplayName)
		shutdownAll(messaging, api)
		return
	}

	if os.Getenv("NODE_IGNORE_TERM") == "1" {
		log.Printf("node[%s] ignoring termination signals", cfg.DisplayName)
		signal.Ignore(syscall.SIGTERM, os.Interrupt)
		select {} // run until force-killed
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownAll(messaging, api)
	log.Printf("node[%s] stopped", cfg.DisplayName)
}

// firstConnListener signals the first accepted connection so the exit hook
// can tell its bind has been observed from outside.
type firstConnListener struct {
	net.Listener
	once     sync.Once
	accepted chan struct{}
}

func listenOn(addr cluster.HostAddress) (*firstConnListener, error) {
	l, err := net.Listen("tcp", addr.String())
	if err != nil {
		return nil, err
	}
	return &firstConnListener{Listener: l, accepted: make(chan struct{})}, nil
}

func (l *firstConnListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err == nil {
		l.once.Do(func() { close(l.accepted) })
	}
	return conn, err
}

// awaitFirstConnections blocks until every listener has accepted at least
// one connection, bounded by timeout so a probe-less launcher cannot pin
// the process forever.
func awaitFirstConnections(listeners []*firstConnListener, timeout time.Duration) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for _, l := range listeners {
		select {
		case <-l.accepted:
		case <-deadline.C:
			return
		}
	}
}

// newServer builds an HTTP server exposing /health and /info at addr.
func newServer(addr cluster.HostAddress, record cluster.DiscoveryRecord) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/info", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(record)
	})
	return &http.Server{
		Addr:              addr.String(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func serve(label string, srv *http.Server, l net.Listener) {
	log.Printf("noded %s listening on %s", label, srv.Addr)
	if err := srv.Serve(l); err != nil && err != http.ErrServerClosed {
		logFatal("listen %s: %v", label, err)
	}
}

// register announces the node's record to the discovery service, retrying
// a bounded number of times before giving up.
func register(cfg nodeconf.Config, record cluster.DiscoveryRecord) {
	ctx := context.Background()
	url := cfg.Discovery.Address.URL() + "/register"

	var lastErr error
	for i := 0; i < registerAttempts; i++ {
		lastErr = cluster.PostJSON(ctx, url, cluster.RegisterRequest{Record: record}, nil)
		if lastErr == nil {
			log.Printf("node[%s] registered with discovery @ %s", cfg.DisplayName, cfg.Discovery.Address)
			return
		}
		log.Printf("register retry %d: %v", i+1, lastErr)
		time.Sleep(time.Duration(i+1) * 200 * time.Millisecond)
	}
	logFatal("failed to register with discovery: %v", lastErr)
}

func shutdownAll(servers ...*http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range servers {
		if srv != nil {
			_ = srv.Shutdown(ctx)
		}
	}
}
