// Package discovery implements the driver's messaging endpoint: the one
// inbound/outbound channel the orchestrator opens against the discovery
// service, and the local mirror of the network map it keeps current.
//
// The mirror is the single structure shared across the driver's goroutine
// boundary: the endpoint's background tasks write it, the driver's polling
// reads it. Updates are last-writer-wins per display name.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/dreamware/flotilla/internal/cluster"
)

// resyncInterval is how often the endpoint pulls a full snapshot from the
// discovery service as a catch-up for any missed push.
const resyncInterval = 2 * time.Second

// subscribeAttempts bounds the initial subscription handshake; the discovery
// process has already passed its socket readiness check by the time Start
// runs, so only a few retries are needed to cover its HTTP mux coming up.
const subscribeAttempts = 5

// Endpoint is the orchestrator's own messaging endpoint. Open it against
// the discovery service's address, Start it once, Stop it at shutdown.
type Endpoint struct {
	own       cluster.HostAddress
	discovery cluster.HostAddress

	// mu guards the mirror and the lifecycle fields; Started may be read
	// from a shutdown path racing a Start still in flight.
	mu      sync.RWMutex
	cache   map[string]cluster.DiscoveryRecord
	srv     *http.Server
	cancel  context.CancelFunc
	started bool

	wg sync.WaitGroup
}

// Open creates an endpoint bound-to-be at own, talking to the discovery
// service at discoveryAddr. No sockets are opened until Start.
func Open(own, discoveryAddr cluster.HostAddress) *Endpoint {
	return &Endpoint{
		own:       own,
		discovery: discoveryAddr,
		cache:     make(map[string]cluster.DiscoveryRecord),
	}
}

// Seed injects a locally constructed record into the mirror without any
// network traffic. The bootstrap uses this to plant the provisional
// discovery-service record that the real one later overwrites.
func (e *Endpoint) Seed(rec cluster.DiscoveryRecord) {
	e.merge([]cluster.DiscoveryRecord{rec})
}

// Start binds the endpoint's inbound address, subscribes to the discovery
// service's record feed, and launches the background resync task. The
// discovery service pushes its current snapshot immediately on subscribe,
// then every subsequent registration.
func (e *Endpoint) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("endpoint already started")
	}
	e.mu.Unlock()

	l, err := net.Listen("tcp", e.own.String())
	if err != nil {
		return fmt.Errorf("bind endpoint %s: %w", e.own, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/publish", e.handlePublish)
	mux.HandleFunc("/records", e.handleRecords)

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	loopCtx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	e.srv = srv
	e.cancel = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := srv.Serve(l); err != nil && err != http.ErrServerClosed {
			log.Printf("endpoint: serve: %v", err)
		}
	}()

	if err := e.subscribe(ctx); err != nil {
		e.shutdownServer()
		cancel()
		e.wg.Wait()
		return err
	}

	e.wg.Add(1)
	go e.resyncLoop(loopCtx)

	e.mu.Lock()
	e.started = true
	e.mu.Unlock()
	log.Printf("endpoint: listening on %s, subscribed to discovery at %s", e.own, e.discovery)
	return nil
}

// Started reports whether Start completed successfully.
func (e *Endpoint) Started() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.started
}

// Lookup returns the mirrored record for a display name, if present.
func (e *Endpoint) Lookup(name string) (cluster.DiscoveryRecord, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.cache[name]
	return rec, ok
}

// Records returns a copy of the whole mirror.
func (e *Endpoint) Records() map[string]cluster.DiscoveryRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]cluster.DiscoveryRecord, len(e.cache))
	for k, v := range e.cache {
		out[k] = v
	}
	return out
}

// Publish registers a record with the discovery service on the outbound
// path. The driver never calls it (each child process announces itself);
// it is the outbound counterpart of the inbound /publish handler, for
// callers that manage records directly.
func (e *Endpoint) Publish(ctx context.Context, rec cluster.DiscoveryRecord) error {
	return cluster.PostJSON(ctx, e.discovery.URL()+"/register",
		cluster.RegisterRequest{Record: rec}, nil)
}

// Stop shuts the inbound server down and joins the background tasks.
// Safe to call on an endpoint that never started.
func (e *Endpoint) Stop() error {
	e.mu.Lock()
	cancel := e.cancel
	e.started = false
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := e.shutdownServer()
	e.wg.Wait()
	return err
}

func (e *Endpoint) shutdownServer() error {
	e.mu.RLock()
	srv := e.srv
	e.mu.RUnlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// subscribe performs the subscription handshake with bounded retries.
func (e *Endpoint) subscribe(ctx context.Context) error {
	var lastErr error
	for i := 0; i < subscribeAttempts; i++ {
		lastErr = cluster.PostJSON(ctx, e.discovery.URL()+"/subscribe",
			cluster.SubscribeRequest{Addr: e.own}, nil)
		if lastErr == nil {
			return nil
		}
		log.Printf("endpoint: subscribe retry %d: %v", i+1, lastErr)
		time.Sleep(time.Duration(i+1) * 200 * time.Millisecond)
	}
	return fmt.Errorf("subscribe to discovery at %s: %w", e.discovery, lastErr)
}

// resyncLoop periodically pulls the full record snapshot so a dropped push
// cannot wedge the mirror for the rest of the session.
func (e *Endpoint) resyncLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(resyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			var resp cluster.RecordsResponse
			if err := cluster.GetJSON(ctx, e.discovery.URL()+"/records", &resp); err != nil {
				// The discovery process may already be gone during
				// shutdown; the next tick or cancellation decides.
				continue
			}
			e.merge(resp.Records)
		case <-ctx.Done():
			return
		}
	}
}

func (e *Endpoint) merge(records []cluster.DiscoveryRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rec := range records {
		e.cache[rec.DisplayName] = rec
	}
}

// handlePublish receives record pushes from the discovery service.
func (e *Endpoint) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req cluster.PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	e.merge(req.Records)
	w.WriteHeader(http.StatusNoContent)
}

// handleRecords exposes the mirror, mostly for debugging a stuck session.
func (e *Endpoint) handleRecords(w http.ResponseWriter, _ *http.Request) {
	recs := e.Records()
	out := cluster.RecordsResponse{Records: make([]cluster.DiscoveryRecord, 0, len(recs))}
	for _, rec := range recs {
		out.Records = append(out.Records, rec)
	}
	_ = json.NewEncoder(w).Encode(out)
}
