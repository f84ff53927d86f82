package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowmap-stream-go/internal/protocol"
	"flowmap-stream-go/internal/store"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8888, cfg.Server.Port)
	assert.True(t, cfg.AutoConnect)

	cc := cfg.ClientConfig()
	assert.Equal(t, protocol.Streaming.Name, cc.Profile.Name)
	assert.Equal(t, store.AllClasses(), cc.Classes)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  address: 10.0.0.7
  port: 9000
auto_connect: false
blend_interval: 250ms
profile: annotation
classes: [flowmap, frame]
read_idle_timeout: 30s
redis:
  addr: localhost:6379
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "10.0.0.7", cfg.Server.Address)
	assert.False(t, cfg.AutoConnect)
	assert.Equal(t, 250*time.Millisecond, cfg.BlendInterval)
	assert.Equal(t, "flowmap:", cfg.Redis.KeyPrefix)

	cc := cfg.ClientConfig()
	assert.Equal(t, protocol.Annotation.Name, cc.Profile.Name)
	assert.Equal(t, []store.ImageClass{store.FlowMap, store.Frame}, cc.Classes)
	assert.Equal(t, 30*time.Second, cc.ReadIdleTimeout)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	cfg.Profile = "telnet"
	cfg.Classes = []string{"depth"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "telnet")
	assert.Contains(t, err.Error(), "depth")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
