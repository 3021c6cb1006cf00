package registry

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/dreamware/flotilla/internal/cluster"
)

// NodeHealth tracks the probe status of a single registered node.
// Protected by the Monitor's mutex when accessed.
type NodeHealth struct {
	DisplayName      string
	Status           string // "healthy", "unhealthy", "unknown"
	LastCheck        time.Time
	LastHealthy      time.Time
	ConsecutiveFails int
}

// Monitor periodically probes every registered node's /health endpoint.
// In a test-harness fleet a node that stops answering is almost always a
// hung child; the monitor cannot fix it, but surfacing it in the discovery
// service's log pinpoints which process wedged a run. Thread-safe.
type Monitor struct {
	mu          sync.RWMutex
	nodes       map[string]*NodeHealth
	checkFunc   func(addr cluster.HostAddress) error
	onUnhealthy func(displayName string)
	httpClient  *http.Client
	interval    time.Duration
	maxFailures int
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewMonitor creates a monitor probing at the given interval. Nodes are
// reported unhealthy after 3 consecutive failed probes.
func NewMonitor(interval time.Duration) *Monitor {
	return &Monitor{
		nodes:       make(map[string]*NodeHealth),
		interval:    interval,
		maxFailures: 3,
		httpClient:  &http.Client{Timeout: 2 * time.Second},
	}
}

// SetOnUnhealthy registers a callback invoked once per transition into the
// unhealthy state.
func (m *Monitor) SetOnUnhealthy(callback func(displayName string)) {
	m.onUnhealthy = callback
}

// SetCheckFunction overrides the default HTTP probe, for tests.
func (m *Monitor) SetCheckFunction(checkFunc func(addr cluster.HostAddress) error) {
	m.checkFunc = checkFunc
}

// Start launches the probe loop against the records returned by provider.
// Non-blocking; Stop cancels the loop and waits for it.
func (m *Monitor) Start(provider func() []cluster.DiscoveryRecord) {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	if m.checkFunc == nil {
		m.checkFunc = m.defaultCheck
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.checkAll(provider())
		for {
			select {
			case <-ticker.C:
				m.checkAll(provider())
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the probe loop and waits for it to finish.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Health returns a copy of the current health record, or nil if the node
// is not tracked.
func (m *Monitor) Health(displayName string) *NodeHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.nodes[displayName]
	if !ok {
		return nil
	}
	cp := *h
	return &cp
}

// checkAll probes every record and drops tracking for ones no longer
// registered.
func (m *Monitor) checkAll(records []cluster.DiscoveryRecord) {
	current := make(map[string]bool, len(records))
	for _, rec := range records {
		current[rec.DisplayName] = true
		m.check(rec)
	}

	m.mu.Lock()
	for name := range m.nodes {
		if !current[name] {
			delete(m.nodes, name)
		}
	}
	m.mu.Unlock()
}

func (m *Monitor) check(rec cluster.DiscoveryRecord) {
	m.mu.Lock()
	h, ok := m.nodes[rec.DisplayName]
	if !ok {
		h = &NodeHealth{
			DisplayName: rec.DisplayName,
			Status:      "unknown",
			LastHealthy: time.Now(),
		}
		m.nodes[rec.DisplayName] = h
	}
	m.mu.Unlock()

	// Probe without holding the lock.
	err := m.checkFunc(rec.ServiceAddress)

	m.mu.Lock()
	defer m.mu.Unlock()
	h.LastCheck = time.Now()

	if err != nil {
		h.ConsecutiveFails++
		if h.ConsecutiveFails >= m.maxFailures {
			previous := h.Status
			h.Status = "unhealthy"
			if previous != "unhealthy" && m.onUnhealthy != nil {
				log.Printf("monitor: node %s unhealthy after %d failed probes",
					rec.DisplayName, h.ConsecutiveFails)
				go m.onUnhealthy(rec.DisplayName)
			}
		}
		return
	}

	if h.Status == "unhealthy" {
		log.Printf("monitor: node %s recovered", rec.DisplayName)
	}
	h.Status = "healthy"
	h.ConsecutiveFails = 0
	h.LastHealthy = time.Now()
}

func (m *Monitor) defaultCheck(addr cluster.HostAddress) error {
	resp, err := m.httpClient.Get(addr.URL() + "/health")
	if err != nil {
		return fmt.Errorf("health probe failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health probe returned status %d", resp.StatusCode)
	}
	return nil
}
