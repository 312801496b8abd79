package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir string, cfg Config) string {
	t.Helper()
	path := filepath.Join(dir, "config.json")
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_ParsesDurationsAndDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, Config{
		Node:     NodeConfig{NodeID: "n1", DC: "dc1"},
		Metadata: MetadataConfig{TimeoutStr: "5s"},
		Rotation: RotationConfig{CheckIntervalStr: "30s"},
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Metadata.Timeout != 5*time.Second {
		t.Errorf("expected metadata timeout 5s, got %v", cfg.Metadata.Timeout)
	}
	if cfg.Rotation.CheckInterval != 30*time.Second {
		t.Errorf("expected check_interval 30s, got %v", cfg.Rotation.CheckInterval)
	}
	if cfg.Node.NumOfLocalShards != 4 {
		t.Errorf("expected default num_of_local_shards=4, got %d", cfg.Node.NumOfLocalShards)
	}
	if cfg.Sharding.HashFunction != "murmur3" {
		t.Errorf("expected default hash_function=murmur3, got %q", cfg.Sharding.HashFunction)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, Config{Metadata: MetadataConfig{TimeoutStr: "not-a-duration"}})
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid duration string")
	}
}
