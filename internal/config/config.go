// Package config loads optional YAML defaults for the peer and
// name-server binaries; CLI flags (see cmd/) always take precedence
// over a loaded file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Peer holds the boot parameters for a peer process.
type Peer struct {
	NodeID         string `yaml:"node_id"`
	Port           int    `yaml:"port"`
	NameserverAddr string `yaml:"nameserver_addr"`
	Seats          int    `yaml:"seats"`
	AdminAddr      string `yaml:"admin_addr"`
}

// NameServer holds the boot parameters for the name-server process.
type NameServer struct {
	Addr      string `yaml:"addr"`
	AdminAddr string `yaml:"admin_addr"`
}

// LoadPeer reads a YAML file into defaults. A missing path is not an
// error — the caller's flag defaults stand unchanged.
func LoadPeer(path string, defaults *Peer) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, defaults); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// LoadNameServer reads a YAML file into defaults. A missing path is not
// an error.
func LoadNameServer(path string, defaults *NameServer) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, defaults); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}
