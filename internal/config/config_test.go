package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	ApplyDefaults(&cfg)

	if cfg.Listen != DefaultListen || cfg.LocalNode != "A" {
		t.Fatalf("listen/local_node defaults not set: %+v", cfg)
	}
	if cfg.StatusInterval != 5*time.Second || cfg.StatsInterval != 2*time.Second {
		t.Fatalf("intervals=%s/%s", cfg.StatusInterval, cfg.StatsInterval)
	}
	if cfg.HistorySize != 30 {
		t.Fatalf("history_size=%d", cfg.HistorySize)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidate_RejectsUnknownSources(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "node", mutate: func(c *Config) { c.LocalNode = "C" }},
		{name: "status", mutate: func(c *Config) { c.StatusSource = "sysfs" }},
		{name: "counters", mutate: func(c *Config) { c.CounterSource = "snmp" }},
		{name: "psk", mutate: func(c *Config) { c.PSK.Source = "vault" }},
		{name: "addressing", mutate: func(c *Config) { c.Addressing.Mode = "mesh" }},
		{name: "history", mutate: func(c *Config) { c.HistorySize = -1 }},
	}
	for _, tt := range tests {
		cfg := Default()
		tt.mutate(&cfg)
		if err := Validate(cfg); err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
	}
}

func TestLoad_ParsesDurations(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	path := filepath.Join(tmp, "wgpair.yaml")
	data := []byte("local_node: B\npeer_api: http://10.1.1.1:3001\nstatus_interval: 10s\npsk:\n  source: builtin\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LocalNode != "B" || cfg.PeerAPI != "http://10.1.1.1:3001" {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.StatusInterval != 10*time.Second {
		t.Fatalf("status_interval=%s", cfg.StatusInterval)
	}
	if cfg.StatsInterval != DefaultStatsInterval {
		t.Fatalf("stats_interval=%s", cfg.StatsInterval)
	}
	if cfg.PSK.Source != "builtin" {
		t.Fatalf("psk.source=%q", cfg.PSK.Source)
	}
}

func TestSave_Writes0600(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	path := filepath.Join(tmp, "conf", "wgpair.yaml")
	if err := Save(path, Config{LocalNode: "B"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode=%o", info.Mode().Perm())
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LocalNode != "B" || cfg.StatsInterval != DefaultStatsInterval {
		t.Fatalf("roundtrip cfg=%+v", cfg)
	}
}
