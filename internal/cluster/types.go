package cluster

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DiscoveryServiceName is the well-known display name the discovery service
// publishes itself under. The driver polls the cache mirror for this key
// during bootstrap.
const DiscoveryServiceName = "discovery"

// Identity is a node's cryptographic public identifier: the hex encoding of
// an ed25519 public key. It is only resolvable after the owning process has
// actually started and generated its keypair.
type Identity string

// GenerateIdentity creates a fresh identity from a newly generated ed25519
// keypair. The private half is discarded: within the orchestration harness
// an identity is only ever used for addressing, never for signing.
func GenerateIdentity() (Identity, error) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate identity: %w", err)
	}
	return Identity(hex.EncodeToString(pub)), nil
}

// CapabilityTag labels an optional service a node advertises, for example
// acting as the discovery service itself.
type CapabilityTag string

// CapabilityDiscovery marks the node that serves the network map.
const CapabilityDiscovery CapabilityTag = "discovery"

// HostAddress is a host:port endpoint. Immutable once produced.
type HostAddress struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// String renders the address in net.Dial form, e.g. "127.0.0.1:10001".
func (a HostAddress) String() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// URL renders the address as an http base URL, e.g. "http://127.0.0.1:10001".
func (a HostAddress) URL() string {
	return fmt.Sprintf("http://%s:%d", a.Host, a.Port)
}

// IsZero reports whether the address has never been populated.
func (a HostAddress) IsZero() bool {
	return a.Host == "" && a.Port == 0
}

// DiscoveryRecord is a node's entry in the network map: produced by the node
// registering itself with the discovery service and mirrored into each
// endpoint's local cache. DisplayName is the primary key within one
// orchestration session; collisions are a caller error.
type DiscoveryRecord struct {
	DisplayName    string          `json:"display_name"`
	Identity       Identity        `json:"identity"`
	ServiceAddress HostAddress     `json:"service_address"`
	Capabilities   []CapabilityTag `json:"capabilities,omitempty"`
}

// RegisterRequest is the body of POST /register on the discovery service.
type RegisterRequest struct {
	Record DiscoveryRecord `json:"record"`
}

// SubscribeRequest is the body of POST /subscribe on the discovery service.
// Addr is the subscriber's inbound endpoint; the discovery service pushes a
// snapshot of all current records to it immediately, then every update.
type SubscribeRequest struct {
	Addr HostAddress `json:"addr"`
}

// PublishRequest is the body of POST /publish on a subscriber endpoint.
type PublishRequest struct {
	Records []DiscoveryRecord `json:"records"`
}

// RecordsResponse is the body of GET /records on the discovery service.
type RecordsResponse struct {
	Records []DiscoveryRecord `json:"records"`
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

// PostJSON posts body as JSON to url and, when out is non-nil, decodes the
// response into it. Any status >= 300 is an error.
func PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetJSON fetches url and decodes the JSON response into out.
func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
