package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultListen         = ":3001"
	DefaultLocalNode      = "A"
	DefaultConfigDir      = "/etc/wireguard"
	DefaultStatusSource   = "ip"
	DefaultCounterSource  = "dump"
	DefaultProcNetDev     = "/proc/net/dev"
	DefaultPSKSource      = "helper"
	DefaultPSKHelper      = "/usr/local/bin/pqc-psk"
	DefaultPSKAlgorithm   = "ML-KEM-768"
	DefaultAddressingMode = "loopback"
	DefaultStatusInterval = 5 * time.Second
	DefaultStatsInterval  = 2 * time.Second
	DefaultHistorySize    = 30
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "console"
)

// Config holds the settings of one wgpair process.
type Config struct {
	Listen    string `yaml:"listen"`
	LocalNode string `yaml:"local_node"`
	// PeerAPI is the base URL of the other node's service. Empty means both
	// nodes are served by this process.
	PeerAPI string `yaml:"peer_api,omitempty"`

	ConfigDir     string `yaml:"config_dir"`
	UseSudo       bool   `yaml:"use_sudo"`
	StatusSource  string `yaml:"status_source"`
	CounterSource string `yaml:"counter_source"`
	ProcNetDev    string `yaml:"proc_net_dev"`

	PSK         PSKConfig        `yaml:"psk"`
	Addressing  AddressingConfig `yaml:"addressing"`
	STUNServers []string         `yaml:"stun_servers,omitempty"`

	StatusInterval time.Duration `yaml:"status_interval"`
	StatsInterval  time.Duration `yaml:"stats_interval"`
	HistorySize    int           `yaml:"history_size"`
	MetricsPath    string        `yaml:"metrics_path,omitempty"`

	Log LogConfig `yaml:"log"`
}

// PSKConfig selects where pre-shared secrets come from.
type PSKConfig struct {
	Source     string `yaml:"source"`
	HelperPath string `yaml:"helper_path"`
	Algorithm  string `yaml:"algorithm"`
}

// AddressingConfig is the endpoint policy used when generating a pair.
type AddressingConfig struct {
	Mode  string `yaml:"mode"`
	HostA string `yaml:"host_a,omitempty"`
	HostB string `yaml:"host_b,omitempty"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a config with every default applied.
func Default() Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return cfg
}

// Load reads and parses a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks enumerations and required fields.
func Validate(cfg Config) error {
	if cfg.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	switch cfg.LocalNode {
	case "A", "B", "a", "b":
	default:
		return fmt.Errorf("local_node must be A or B, got %q", cfg.LocalNode)
	}
	if cfg.ConfigDir == "" {
		return fmt.Errorf("config_dir is required")
	}
	switch cfg.StatusSource {
	case "ip", "netlink":
	default:
		return fmt.Errorf("status_source must be ip or netlink, got %q", cfg.StatusSource)
	}
	switch cfg.CounterSource {
	case "dump", "wgctrl":
	default:
		return fmt.Errorf("counter_source must be dump or wgctrl, got %q", cfg.CounterSource)
	}
	switch cfg.PSK.Source {
	case "helper":
		if cfg.PSK.HelperPath == "" {
			return fmt.Errorf("psk.helper_path is required for the helper source")
		}
	case "builtin":
	default:
		return fmt.Errorf("psk.source must be helper or builtin, got %q", cfg.PSK.Source)
	}
	switch cfg.Addressing.Mode {
	case "loopback", "hosts":
	default:
		return fmt.Errorf("addressing.mode must be loopback or hosts, got %q", cfg.Addressing.Mode)
	}
	if cfg.StatusInterval <= 0 || cfg.StatsInterval <= 0 {
		return fmt.Errorf("status_interval and stats_interval must be positive")
	}
	if cfg.HistorySize <= 0 {
		return fmt.Errorf("history_size must be positive")
	}
	return nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.LocalNode == "" {
		cfg.LocalNode = DefaultLocalNode
	}
	if cfg.ConfigDir == "" {
		cfg.ConfigDir = DefaultConfigDir
	}
	if cfg.StatusSource == "" {
		cfg.StatusSource = DefaultStatusSource
	}
	if cfg.CounterSource == "" {
		cfg.CounterSource = DefaultCounterSource
	}
	if cfg.ProcNetDev == "" {
		cfg.ProcNetDev = DefaultProcNetDev
	}
	if cfg.PSK.Source == "" {
		cfg.PSK.Source = DefaultPSKSource
	}
	if cfg.PSK.HelperPath == "" {
		cfg.PSK.HelperPath = DefaultPSKHelper
	}
	if cfg.PSK.Algorithm == "" {
		cfg.PSK.Algorithm = DefaultPSKAlgorithm
	}
	if cfg.Addressing.Mode == "" {
		cfg.Addressing.Mode = DefaultAddressingMode
	}
	if cfg.StatusInterval == 0 {
		cfg.StatusInterval = DefaultStatusInterval
	}
	if cfg.StatsInterval == 0 {
		cfg.StatsInterval = DefaultStatsInterval
	}
	if cfg.HistorySize == 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}
