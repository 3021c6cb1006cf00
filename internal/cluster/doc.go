// Package cluster defines the wire vocabulary shared by every component of
// the flotilla orchestration harness: addresses, identities, discovery
// records, and the JSON-over-HTTP helpers used to move them between
// processes.
//
// # Overview
//
// A flotilla session is a small fleet of short-lived server processes: one
// discovery service and zero or more nodes, all spawned and supervised by
// the driver. The fleet shares a single source of truth about who exists and
// where they listen (the network map held by the discovery service), and
// this package defines the record type that map is made of.
//
// # Topology
//
//	              ┌──────────────┐
//	              │  discoveryd  │
//	              │              │
//	              │ - Registry   │
//	              │ - Push feed  │
//	              └──────┬───────┘
//	                     │ register / subscribe / publish
//	      ┌──────────────┼──────────────┐
//	      │              │              │
//	┌─────▼─────┐  ┌─────▼─────┐  ┌─────▼─────┐
//	│  driver   │  │  node #1  │  │  node #2  │
//	│ (mirror)  │  │           │  │           │
//	└───────────┘  └───────────┘  └───────────┘
//
// # Core types
//
// HostAddress: a host:port endpoint, immutable once produced.
//
// Identity: the hex of an ed25519 public key. A node's identity exists only
// once its process has started and generated a keypair, which is what forces
// the driver's bootstrap rendezvous (see the driver package).
//
// DiscoveryRecord: one network-map entry, keyed by display name. Display
// names must be unique within a session; the driver treats a collision as a
// caller error.
//
// # Protocol
//
// All inter-process traffic is JSON over HTTP:
//
//   - POST /register on discoveryd: a node announces its record.
//   - POST /subscribe on discoveryd: an endpoint asks for the record feed;
//     discoveryd immediately pushes the current snapshot, then every update.
//   - POST /publish on a subscriber: discoveryd delivering records.
//   - GET /records on discoveryd: one-shot snapshot, used by tests.
//
// PostJSON and GetJSON wrap the http client with the timeouts and status
// handling every caller needs; no caller in this repo builds requests by
// hand.
package cluster
