package driver

import (
	"context"
	"fmt"
	"log"

	"github.com/dreamware/flotilla/internal/cluster"
	"github.com/dreamware/flotilla/internal/poll"
)

// bootstrapDiscovery solves the discovery rendezvous: the discovery
// service's network address is chosen before its process exists, but its
// cryptographic identity is only generated at its own start-up, and every
// other node needs that identity to address it.
//
// The driver plants a provisional record (any freshly generated key, only
// ever used to address the very first traffic) in its own mirror, then
// waits for the service's self-published record, carrying the real
// identity, to overwrite the placeholder via the subscription feed.
//
// The discovery process is already running and its socket bound when this
// is called; the endpoint has been opened but not started.
func (d *Driver) bootstrapDiscovery(ctx context.Context) (cluster.DiscoveryRecord, error) {
	provisional, err := cluster.GenerateIdentity()
	if err != nil {
		return cluster.DiscoveryRecord{}, err
	}

	d.endpoint.Seed(cluster.DiscoveryRecord{
		DisplayName:    cluster.DiscoveryServiceName,
		Identity:       provisional,
		ServiceAddress: d.discoveryAddr,
		Capabilities:   []cluster.CapabilityTag{cluster.CapabilityDiscovery},
	})

	if err := d.endpoint.Start(ctx); err != nil {
		return cluster.DiscoveryRecord{}, err
	}

	rec, err := poll.Await(func() (cluster.DiscoveryRecord, bool) {
		rec, ok := d.endpoint.Lookup(cluster.DiscoveryServiceName)
		if !ok || rec.Identity == provisional {
			return cluster.DiscoveryRecord{}, false
		}
		return rec, true
	}, d.pollOpts("discovery service identity")...)
	if err != nil {
		return cluster.DiscoveryRecord{}, fmt.Errorf("%v: %w", err, ErrDiscoveryBootstrapTimeout)
	}

	log.Printf("driver: discovery service resolved as %s @ %s",
		shortID(rec.Identity), rec.ServiceAddress)
	return rec, nil
}

// shortID trims an identity for log lines.
func shortID(id cluster.Identity) string {
	if len(id) > 12 {
		return string(id[:12]) + "..."
	}
	return string(id)
}
