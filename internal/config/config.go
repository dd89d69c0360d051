// Package config handles configuration loading using viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"firestige.xyz/pktedit/internal/core"
	"firestige.xyz/pktedit/pkg/alloc"
	"firestige.xyz/pktedit/pkg/buffer"
	"firestige.xyz/pktedit/pkg/packet"
)

// Config represents the top-level configuration.
// Maps to the `pktedit:` root key in YAML.
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Buffer  BufferConfig  `mapstructure:"buffer"`
	Parse   ParseConfig   `mapstructure:"parse"`
	Capture CaptureConfig `mapstructure:"capture"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Buffer ───

// BufferConfig selects how packet bytes are stored.
type BufferConfig struct {
	Policy       string `mapstructure:"policy"`         // legacy / amortized / exact / fixed
	Allocator    string `mapstructure:"allocator"`      // heap / pool
	MaxPacketLen int    `mapstructure:"max_packet_len"` // slot size for the fixed policy
	Slots        int    `mapstructure:"slots"`          // slot count for the fixed policy
}

// BufferPolicy returns the parsed policy.
func (b BufferConfig) BufferPolicy() (buffer.Policy, error) {
	return buffer.ParsePolicy(b.Policy)
}

// NewAllocator returns the configured allocator. The fixed policy allocates
// from a slot pool sized by MaxPacketLen and Slots instead.
func (b BufferConfig) NewAllocator() (alloc.Allocator, error) {
	policy, err := b.BufferPolicy()
	if err != nil {
		return nil, err
	}
	if policy == buffer.PolicyFixed {
		return buffer.NewSlotPool(b.MaxPacketLen, b.Slots), nil
	}
	a, ok := alloc.ByName(b.Allocator)
	if !ok {
		return nil, fmt.Errorf("%w: unknown allocator %q", core.ErrConfigInvalid, b.Allocator)
	}
	return a, nil
}

// ─── Parse ───

// ParseConfig bounds how deep packets are decoded.
type ParseConfig struct {
	StopProtocol string `mapstructure:"stop_protocol"` // e.g. "tcp" or "ipv4|ipv6"; empty parses everything
	StopLayer    string `mapstructure:"stop_layer"`    // OSI layer name or number; empty parses everything
}

// Options returns the packet parse options.
func (p ParseConfig) Options() ([]packet.Option, error) {
	proto, err := packet.ParseProtocol(p.StopProtocol)
	if err != nil {
		return nil, err
	}
	osi, err := packet.ParseOsiModelLayer(p.StopLayer)
	if err != nil {
		return nil, err
	}
	return []packet.Option{packet.WithStopProtocol(proto), packet.WithStopLayer(osi)}, nil
}

// ─── Capture ───

// CaptureConfig configures how capture files are read.
type CaptureConfig struct {
	Filter  string `mapstructure:"filter"`  // BPF expression, empty = accept all
	Snaplen int    `mapstructure:"snaplen"` // written to output file headers
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `pktedit: ...`.
type configRoot struct {
	Pktedit Config `mapstructure:"pktedit"`
}

// Load loads configuration from file. An empty path yields the defaults,
// still subject to environment overrides.
// The YAML file uses `pktedit:` as root key; env vars use the PKTEDIT_ prefix
// (e.g., PKTEDIT_LOG_LEVEL).
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `pktedit.` key prefix maps to `PKTEDIT_` in env vars via the key
	// replacer (e.g., key "pktedit.log.level" → env "PKTEDIT_LOG_LEVEL").
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Pktedit

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(err)
	}
	return cfg
}

// setDefaults sets default values for configuration.
// All keys use the "pktedit." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("pktedit.log.level", "info")
	v.SetDefault("pktedit.log.format", "text")
	v.SetDefault("pktedit.log.outputs.file.enabled", false)
	v.SetDefault("pktedit.log.outputs.file.path", "pktedit.log")
	v.SetDefault("pktedit.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("pktedit.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("pktedit.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("pktedit.log.outputs.file.rotation.compress", true)

	// Buffer defaults
	v.SetDefault("pktedit.buffer.policy", "amortized")
	v.SetDefault("pktedit.buffer.allocator", "heap")
	v.SetDefault("pktedit.buffer.max_packet_len", 65535)
	v.SetDefault("pktedit.buffer.slots", 64)

	// Parse defaults
	v.SetDefault("pktedit.parse.stop_protocol", "")
	v.SetDefault("pktedit.parse.stop_layer", "")

	// Capture defaults
	v.SetDefault("pktedit.capture.filter", "")
	v.SetDefault("pktedit.capture.snaplen", 65535)

	// Metrics defaults
	v.SetDefault("pktedit.metrics.enabled", false)
	v.SetDefault("pktedit.metrics.listen", ":9091")
	v.SetDefault("pktedit.metrics.path", "/metrics")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *Config) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: invalid log level: %s (must be debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("%w: invalid log format: %s (must be json/text)", core.ErrConfigInvalid, cfg.Log.Format)
	}
	if cfg.Log.Outputs.File.Enabled && cfg.Log.Outputs.File.Path == "" {
		return fmt.Errorf("%w: log.outputs.file.path is required when file output is enabled", core.ErrConfigInvalid)
	}

	// ── Buffer validation ──
	policy, err := cfg.Buffer.BufferPolicy()
	if err != nil {
		return fmt.Errorf("%w: buffer.policy: %v", core.ErrConfigInvalid, err)
	}
	if _, ok := alloc.ByName(cfg.Buffer.Allocator); !ok {
		return fmt.Errorf("%w: unknown buffer.allocator: %s (must be heap/pool)", core.ErrConfigInvalid, cfg.Buffer.Allocator)
	}
	if cfg.Buffer.MaxPacketLen <= 0 {
		return fmt.Errorf("%w: buffer.max_packet_len must be positive", core.ErrConfigInvalid)
	}
	if policy == buffer.PolicyFixed && cfg.Buffer.Slots <= 0 {
		return fmt.Errorf("%w: buffer.slots must be positive for the fixed policy", core.ErrConfigInvalid)
	}

	// ── Parse validation ──
	if _, err := cfg.Parse.Options(); err != nil {
		return fmt.Errorf("%w: parse: %v", core.ErrConfigInvalid, err)
	}

	// ── Capture defaults ──
	if cfg.Capture.Snaplen <= 0 {
		cfg.Capture.Snaplen = 65535
	}

	// ── Metrics defaults ──
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("%w: metrics.listen is required when metrics.enabled=true", core.ErrConfigInvalid)
	}

	return nil
}
