// Package config loads node-level configuration: the one knob §6 of the
// specification assigns to this layer (num_of_local_shards) plus node
// identity/DC and the settings the ambient stack (catalog, rotation
// scheduler, metrics) needs to start up. Structure and the *_Str duration
// pattern follow the teacher's pkg/config/config.go.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config holds the full node configuration.
type Config struct {
	Node     NodeConfig     `json:"node"`
	Metadata MetadataConfig `json:"metadata"`
	Sharding ShardingConfig `json:"sharding"`
	Rotation RotationConfig `json:"rotation"`
}

// NodeConfig identifies this node and its default local shard count, per
// §6 "Configuration inputs".
type NodeConfig struct {
	NodeID           string `json:"node_id"`
	DC               string `json:"dc"`
	NumOfLocalShards int    `json:"num_of_local_shards"`
}

// MetadataConfig configures the etcd-backed catalog store (C2).
type MetadataConfig struct {
	Endpoints  []string `json:"endpoints"`
	TimeoutStr string   `json:"timeout"`
	Timeout    time.Duration `json:"-"`
}

// ShardingConfig configures the default ring/hash behavior (C3).
type ShardingConfig struct {
	HashFunction      string `json:"hash_function"` // "murmur3" or "xxhash"
	ReplicationFactor int    `json:"replication_factor"`
	TopologyTimeoutStr string `json:"topology_timeout"`
	TopologyTimeout   time.Duration `json:"-"`
}

// RotationConfig configures the wrapped-bucket rotation scheduler (C4).
type RotationConfig struct {
	CheckIntervalStr string        `json:"check_interval"`
	CheckInterval    time.Duration `json:"-"`
}

// Load reads configuration from a JSON file, parses duration strings, and
// fills in defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse durations: %w", err)
	}
	setDefaults(&cfg)
	return &cfg, nil
}

func parseDurations(c *Config) error {
	var err error
	if c.Metadata.TimeoutStr != "" {
		if c.Metadata.Timeout, err = time.ParseDuration(c.Metadata.TimeoutStr); err != nil {
			return fmt.Errorf("invalid metadata timeout: %w", err)
		}
	}
	if c.Sharding.TopologyTimeoutStr != "" {
		if c.Sharding.TopologyTimeout, err = time.ParseDuration(c.Sharding.TopologyTimeoutStr); err != nil {
			return fmt.Errorf("invalid topology_timeout: %w", err)
		}
	}
	if c.Rotation.CheckIntervalStr != "" {
		if c.Rotation.CheckInterval, err = time.ParseDuration(c.Rotation.CheckIntervalStr); err != nil {
			return fmt.Errorf("invalid check_interval: %w", err)
		}
	}
	return nil
}

func setDefaults(c *Config) {
	if c.Node.NumOfLocalShards == 0 {
		c.Node.NumOfLocalShards = 4
	}
	if c.Sharding.HashFunction == "" {
		c.Sharding.HashFunction = "murmur3"
	}
	if c.Sharding.ReplicationFactor == 0 {
		c.Sharding.ReplicationFactor = 1
	}
	if c.Sharding.TopologyTimeout == 0 {
		c.Sharding.TopologyTimeout = 10 * time.Second // spec.md §4.4/§5: 10s topology timeout
	}
	if c.Rotation.CheckInterval == 0 {
		c.Rotation.CheckInterval = time.Minute
	}
}
