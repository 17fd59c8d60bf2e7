package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DHT.TargetCount() != 10 {
		t.Errorf("expected 10 target candidates for redundancy 3, got %d", cfg.DHT.TargetCount())
	}
	if cfg.Transfer.QueueCount != 4 {
		t.Errorf("expected 4 queues, got %d", cfg.Transfer.QueueCount)
	}
}

func TestLoadYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peer.yaml")
	yaml := `
dht:
  peerId: peer-a
  redundancyFactor: 1
  minContainerPostings: 5
  maxContainerPostings: 100
  maxTimeMillis: -1
  cycleInterval: 2s
  seedPeers:
    - id: peer-b
      ringPosition: "8000000000000000"
      address: peer-b:9092
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("DHT_MAX_CONTAINER_POSTINGS", "250")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DHT.PeerID != "peer-a" {
		t.Errorf("expected peer-a, got %q", cfg.DHT.PeerID)
	}
	if cfg.DHT.TargetCount() != 4 {
		t.Errorf("expected 4 target candidates, got %d", cfg.DHT.TargetCount())
	}
	if cfg.DHT.MaxContainerPostings != 250 {
		t.Errorf("expected env override 250, got %d", cfg.DHT.MaxContainerPostings)
	}
	if cfg.DHT.MaxTimeMillis != -1 {
		t.Errorf("expected unbounded time budget, got %d", cfg.DHT.MaxTimeMillis)
	}
	if cfg.DHT.CycleInterval != 2*time.Second {
		t.Errorf("expected 2s cycle, got %v", cfg.DHT.CycleInterval)
	}
	if len(cfg.DHT.SeedPeers) != 1 || cfg.DHT.SeedPeers[0].ID != "peer-b" {
		t.Errorf("unexpected seed peers %+v", cfg.DHT.SeedPeers)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative redundancy", func(c *Config) { c.DHT.RedundancyFactor = -1 }},
		{"min above max", func(c *Config) { c.DHT.MinContainerPostings = c.DHT.MaxContainerPostings + 1 }},
		{"bad time budget", func(c *Config) { c.DHT.MaxTimeMillis = -2 }},
		{"no queues", func(c *Config) { c.Transfer.QueueCount = 0 }},
		{"no peer id", func(c *Config) { c.DHT.PeerID = "" }},
		{"no cycle interval", func(c *Config) { c.DHT.CycleInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
