// Package main implements discoveryd, the network map service of a flotilla
// session. Nodes register their discovery records here; subscribers (the
// driver's endpoint) receive a snapshot on subscribe and a push for every
// subsequent registration.
//
// The service generates its cryptographic identity at start-up and
// immediately publishes its own record under the well-known display name,
// which is what lets the driver's bootstrap resolve the real identity
// behind the address it picked in advance.
//
// Invocation:
//
//	discoveryd -dir <working directory>
//
// The working directory must contain a node.conf written by the driver;
// the messaging address in it is where the HTTP API binds.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dreamware/flotilla/internal/cluster"
	"github.com/dreamware/flotilla/internal/nodeconf"
	"github.com/dreamware/flotilla/internal/registry"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

// server bundles the record registry with the push plumbing.
type server struct {
	reg  *registry.Registry
	self cluster.DiscoveryRecord
}

func main() {
	dir := flag.String("dir", "", "working directory containing node.conf")
	flag.Parse()
	if *dir == "" {
		logFatal("discoveryd: -dir is required")
	}

	cfg, err := nodeconf.Read(*dir)
	if err != nil {
		logFatal("discoveryd: %v", err)
	}

	identity, err := cluster.GenerateIdentity()
	if err != nil {
		logFatal("discoveryd: %v", err)
	}

	srv := &server{
		reg: registry.New(),
		self: cluster.DiscoveryRecord{
			DisplayName:    cfg.DisplayName,
			Identity:       identity,
			ServiceAddress: cfg.MessagingAddress,
			Capabilities:   []cluster.CapabilityTag{cluster.CapabilityDiscovery},
		},
	}
	// Self-publish first so the very first snapshot any subscriber sees
	// already carries the real identity.
	srv.reg.Register(srv.self)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/register", srv.handleRegister)
	mux.HandleFunc("/subscribe", srv.handleSubscribe)
	mux.HandleFunc("/records", srv.handleRecords)

	httpSrv := &http.Server{
		Addr:              cfg.MessagingAddress.String(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Probe registered nodes so a hung child shows up in this log rather
	// than only as a poll timeout in the driver.
	monitor := registry.NewMonitor(5 * time.Second)
	monitor.SetOnUnhealthy(func(name string) {
		log.Printf("discoveryd: node %s stopped answering health probes", name)
	})
	monitor.Start(srv.nodeRecords)
	defer monitor.Stop()

	go func() {
		log.Printf("discoveryd[%s] listening on %s", cfg.DisplayName, cfg.MessagingAddress)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	log.Println("discoveryd stopped")
}

// handleRegister stores a node's record and pushes the update to every
// subscriber.
func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Record.DisplayName == "" {
		http.Error(w, "missing display_name", http.StatusBadRequest)
		return
	}

	existed := s.reg.Register(req.Record)
	if existed {
		log.Printf("discoveryd: re-registered %s", req.Record.DisplayName)
	} else {
		log.Printf("discoveryd: registered %s @ %s", req.Record.DisplayName, req.Record.ServiceAddress)
	}
	w.WriteHeader(http.StatusNoContent)

	go s.push(s.reg.Subscribers(), []cluster.DiscoveryRecord{req.Record})
}

// handleSubscribe records a push target and immediately sends it the full
// snapshot, including this service's own record.
func (s *server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req cluster.SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Addr.IsZero() {
		http.Error(w, "missing addr", http.StatusBadRequest)
		return
	}

	s.reg.Subscribe(req.Addr)
	log.Printf("discoveryd: subscriber %s", req.Addr)
	w.WriteHeader(http.StatusNoContent)

	go s.push([]cluster.HostAddress{req.Addr}, s.reg.Snapshot())
}

// nodeRecords returns every record except the service's own; probing
// ourselves over our own listener says nothing useful.
func (s *server) nodeRecords() []cluster.DiscoveryRecord {
	all := s.reg.Snapshot()
	out := all[:0]
	for _, rec := range all {
		if rec.DisplayName != s.self.DisplayName {
			out = append(out, rec)
		}
	}
	return out
}

// handleRecords serves the current snapshot.
func (s *server) handleRecords(w http.ResponseWriter, _ *http.Request) {
	_ = json.NewEncoder(w).Encode(cluster.RecordsResponse{Records: s.reg.Snapshot()})
}

// push delivers records to subscribers. Failures are logged and dropped;
// the subscriber's periodic resync covers missed pushes.
func (s *server) push(to []cluster.HostAddress, records []cluster.DiscoveryRecord) {
	if len(records) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()

	for _, addr := range to {
		err := cluster.PostJSON(ctx, addr.URL()+"/publish",
			cluster.PublishRequest{Records: records}, nil)
		if err != nil {
			log.Printf("discoveryd: push to %s: %v", addr, err)
		}
	}
}
