package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig.Node.PrimaryPort, cfg.Node.PrimaryPort)
	assert.Equal(t, "sqlite", cfg.State.Backend)
	assert.True(t, cfg.Network.AllowManagedIPs)
	assert.False(t, cfg.Network.AllowGlobalIPs)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meshnode.yaml")
	data := `
node:
  primaryPort: 19993
state:
  backend: file
  dir: /tmp/meshnode-test
network:
  allowManagedIPs: true
  allowGlobalIPs: true
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 19993, cfg.Node.PrimaryPort)
	assert.Equal(t, "file", cfg.State.Backend)
	assert.Equal(t, "/tmp/meshnode-test", cfg.State.Dir)
	assert.True(t, cfg.Network.AllowGlobalIPs)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("MESHNODE_PRIMARY_PORT", "12345")
	t.Setenv("MESHNODE_STATE_DIR", "/tmp/env-state")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 12345, cfg.Node.PrimaryPort)
	assert.Equal(t, "/tmp/env-state", cfg.State.Dir)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Node.PrimaryPort = 0 }},
		{"bad backend", func(c *Config) { c.State.Backend = "etcd" }},
		{"empty state dir", func(c *Config) { c.State.Dir = "" }},
		{"empty api bind", func(c *Config) { c.API.BindAddress = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "meshnode.yaml")

	cfg := DefaultConfig
	cfg.Node.PrimaryPort = 29993
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 29993, loaded.Node.PrimaryPort)
}
