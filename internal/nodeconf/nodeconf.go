// Package nodeconf persists the per-node configuration artifact the driver
// writes into each working directory before spawning the process. The node
// runtime reads it back at startup; argument-vector settings win over the
// file where both are present.
package nodeconf

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/dreamware/flotilla/internal/cluster"
)

// FileName is the artifact's name inside the node's working directory.
const FileName = "node.conf"

// Discovery points a node at the discovery service it must register with.
// Nil only for the discovery service's own configuration.
type Discovery struct {
	DisplayName string              `yaml:"display_name"`
	Identity    cluster.Identity    `yaml:"identity"`
	Address     cluster.HostAddress `yaml:"address"`
}

// Config is the node.conf document.
type Config struct {
	DisplayName      string                  `yaml:"display_name"`
	Capabilities     []cluster.CapabilityTag `yaml:"capabilities,omitempty"`
	MessagingAddress cluster.HostAddress     `yaml:"messaging_address"`
	APIAddress       cluster.HostAddress     `yaml:"api_address,omitempty"`
	DebugPort        int                     `yaml:"debug_port,omitempty"`
	Discovery        *Discovery              `yaml:"discovery,omitempty"`
}

// Write persists cfg as node.conf inside dir, creating dir if needed.
func Write(dir string, cfg Config) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create node dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", FileName, err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", FileName, err)
	}
	return nil
}

// Read loads node.conf from dir.
func Read(dir string) (Config, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return Config{}, fmt.Errorf("read %s: %w", FileName, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode %s: %w", FileName, err)
	}
	return cfg, nil
}
