package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/pktedit/internal/core"
	"firestige.xyz/pktedit/pkg/alloc"
	"firestige.xyz/pktedit/pkg/buffer"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
pktedit:
  log:
    level: "debug"
    format: "json"
  buffer:
    policy: "exact"
    allocator: "pool"
  parse:
    stop_protocol: "tcp"
    stop_layer: "transport"
  capture:
    filter: "udp port 53"
  metrics:
    enabled: true
    listen: "127.0.0.1:9100"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "udp port 53", cfg.Capture.Filter)
	assert.Equal(t, 65535, cfg.Capture.Snaplen)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Listen)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)

	policy, err := cfg.Buffer.BufferPolicy()
	require.NoError(t, err)
	assert.Equal(t, buffer.PolicyExactFit, policy)

	a, err := cfg.Buffer.NewAllocator()
	require.NoError(t, err)
	assert.IsType(t, &alloc.Pool{}, a)

	opts, err := cfg.Parse.Options()
	require.NoError(t, err)
	assert.Len(t, opts, 2)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.False(t, cfg.Log.Outputs.File.Enabled)
	assert.Equal(t, "amortized", cfg.Buffer.Policy)
	assert.Equal(t, "heap", cfg.Buffer.Allocator)
	assert.Equal(t, 65535, cfg.Buffer.MaxPacketLen)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9091", cfg.Metrics.Listen)

	assert.Equal(t, cfg, Default())
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("PKTEDIT_LOG_LEVEL", "warn")
	t.Setenv("PKTEDIT_BUFFER_POLICY", "legacy")

	cfg, err := Load(writeConfig(t, `
pktedit:
  log:
    level: "debug"
`))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "legacy", cfg.Buffer.Policy)
}

func TestFixedPolicyUsesSlotPool(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
pktedit:
  buffer:
    policy: "fixed"
    max_packet_len: 2048
    slots: 8
`))
	require.NoError(t, err)

	a, err := cfg.Buffer.NewAllocator()
	require.NoError(t, err)
	pool, ok := a.(*buffer.SlotPool)
	require.True(t, ok)
	assert.Equal(t, 2048, pool.SlotSize())
	assert.Equal(t, 8, pool.Available())
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"log level", "pktedit:\n  log:\n    level: \"loud\"\n"},
		{"log format", "pktedit:\n  log:\n    format: \"xml\"\n"},
		{"file output without path", "pktedit:\n  log:\n    outputs:\n      file:\n        enabled: true\n        path: \"\"\n"},
		{"buffer policy", "pktedit:\n  buffer:\n    policy: \"elastic\"\n"},
		{"allocator", "pktedit:\n  buffer:\n    allocator: \"arena\"\n"},
		{"packet length", "pktedit:\n  buffer:\n    max_packet_len: 0\n"},
		{"fixed without slots", "pktedit:\n  buffer:\n    policy: \"fixed\"\n    slots: 0\n"},
		{"stop protocol", "pktedit:\n  parse:\n    stop_protocol: \"sctp\"\n"},
		{"stop layer", "pktedit:\n  parse:\n    stop_layer: \"9\"\n"},
		{"metrics listen", "pktedit:\n  metrics:\n    enabled: true\n    listen: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.ErrorIs(t, err, core.ErrConfigInvalid)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}
