package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bluebridge/internal/discovery"
	"bluebridge/internal/relay"
)

// isolate keeps the search paths and environment of the host out of Load.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("BLUEBRIDGE_CONFIG", "")
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, discovery.DefaultConfig(), cfg.Discovery)
	assert.Equal(t, relay.DefaultTCPListen, cfg.Relay.TCPListen)
}

func TestLoadExplicitFile(t *testing.T) {
	dir := isolate(t)
	p := writeFile(t, dir, "custom.yaml", `
log:
  level: debug
  format: json
  outputs: [stdout, /tmp/bluebridge.log]
discovery:
  backend: BlueZ
  device: 1
  inquiry_length: 8
  max_responses: 10
  flush_cache: false
session:
  connect_timeout: 5s
relay:
  tcp_listen: 127.0.0.1:5000
  queue_size: 4
`)

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, []string{"stdout", "/tmp/bluebridge.log"}, cfg.Log.Outputs)
	assert.Equal(t, discovery.Config{
		Backend:       discovery.BackendBlueZ,
		Device:        1,
		InquiryLength: 8,
		MaxResponses:  10,
		FlushCache:    false,
	}, cfg.Discovery)
	assert.Equal(t, 5*time.Second, cfg.Session.ConnectTimeout)
	assert.Equal(t, RelayConfig{TCPListen: "127.0.0.1:5000", QueueSize: 4}, cfg.Relay)
}

func TestLoadSearchPaths(t *testing.T) {
	dir := isolate(t)
	writeFile(t, dir, "configs/bluebridge.yaml", "log:\n  level: warn\n")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("BLUEBRIDGE_LOG_LEVEL", "error")
	t.Setenv("BLUEBRIDGE_DISCOVERY_BACKEND", "bluez")
	t.Setenv("BLUEBRIDGE_SESSION_CONNECT_TIMEOUT", "2s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, discovery.BackendBlueZ, cfg.Discovery.Backend)
	assert.Equal(t, 2*time.Second, cfg.Session.ConnectTimeout)
}

func TestLoadConfigEnvPath(t *testing.T) {
	dir := isolate(t)
	p := writeFile(t, dir, "elsewhere/b.yaml", "relay:\n  tcp_listen: \"\"\n")
	t.Setenv("BLUEBRIDGE_CONFIG", p)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Relay.TCPListen)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"level", "log:\n  level: loud\n"},
		{"format", "log:\n  format: xml\n"},
		{"backend", "discovery:\n  backend: usb\n"},
		{"inquiry length", "discovery:\n  inquiry_length: 49\n"},
		{"max responses", "discovery:\n  max_responses: 0\n"},
		{"timeout", "session:\n  connect_timeout: -1s\n"},
		{"yaml", "log: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := isolate(t)
			_, err := Load(writeFile(t, dir, "bad.yaml", tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	dir := isolate(t)
	_, err := Load(filepath.Join(dir, "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateFillsBlanks(t *testing.T) {
	c := Default()
	c.Log.Format = ""
	c.Log.Outputs = nil
	c.Discovery.Backend = " "
	c.Relay.QueueSize = 0
	require.NoError(t, c.validate())
	assert.Equal(t, "text", c.Log.Format)
	assert.Equal(t, []string{"stderr"}, c.Log.Outputs)
	assert.Equal(t, discovery.BackendHCI, c.Discovery.Backend)
	assert.Equal(t, relay.DefaultQueue, c.Relay.QueueSize)
}

func TestMustLoadPanics(t *testing.T) {
	dir := isolate(t)
	p := writeFile(t, dir, "bad.yaml", "log:\n  level: loud\n")
	assert.Panics(t, func() { MustLoad(p) })
}
