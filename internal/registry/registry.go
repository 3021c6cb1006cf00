// Package registry holds the discovery service's authoritative record table:
// every node registration in one orchestration session, keyed by display
// name, plus the list of subscribers the records get pushed to.
package registry

import (
	"errors"
	"sort"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/flotilla/internal/cluster"
)

// ErrNameNotFound is returned when no record exists for a display name.
var ErrNameNotFound = errors.New("display name not found")

// Registry is the in-memory network map. All methods are thread-safe;
// registrations use last-writer-wins semantics per display name.
type Registry struct {
	mu          sync.RWMutex
	records     map[string]cluster.DiscoveryRecord
	subscribers []cluster.HostAddress
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		records: make(map[string]cluster.DiscoveryRecord),
	}
}

// Register stores a record, overwriting any previous record with the same
// display name. Returns whether the name was already present.
func (r *Registry) Register(rec cluster.DiscoveryRecord) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, existed := r.records[rec.DisplayName]
	r.records[rec.DisplayName] = rec
	return existed
}

// Lookup returns the record for a display name.
// Returns ErrNameNotFound if the name was never registered.
func (r *Registry) Lookup(name string) (cluster.DiscoveryRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[name]
	if !ok {
		return cluster.DiscoveryRecord{}, ErrNameNotFound
	}
	return rec, nil
}

// Snapshot returns all records ordered by display name. The slice is a
// copy; callers may hold it across further registrations.
func (r *Registry) Snapshot() []cluster.DiscoveryRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]cluster.DiscoveryRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DisplayName < out[j].DisplayName
	})
	return out
}

// Len returns the number of registered records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Subscribe adds a push target, deduplicating repeat subscriptions from the
// same address.
func (r *Registry) Subscribe(addr cluster.HostAddress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := slices.IndexFunc(r.subscribers, func(a cluster.HostAddress) bool {
		return a == addr
	})
	if idx < 0 {
		r.subscribers = append(r.subscribers, addr)
	}
}

// Subscribers returns a copy of the current push targets.
func (r *Registry) Subscribers() []cluster.HostAddress {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]cluster.HostAddress(nil), r.subscribers...)
}
