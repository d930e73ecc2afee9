package control

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 4242, cfg.Server.Port)
	assert.True(t, cfg.Server.Docs)
	assert.Equal(t, LevelDebug, cfg.Logging.Level)
	assert.Equal(t, "GET, POST, PUT, PATCH, DELETE, OPTIONS, HEAD", cfg.CORS.Methods)
	assert.Equal(t, "Content-Type, Authorization", cfg.CORS.Headers)
	assert.False(t, cfg.CORS.Enabled())
	assert.Equal(t, "localhost:4242", cfg.Server.Address())
}

func TestYAMLThenEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 8080
  docs: false
  body_limit: 1024
logging:
  level: warn
cors:
  origin: "*"
metrics:
  interval: 5s
`), 0o600))

	t.Setenv("HIOLOAD_SERVER_PORT", "9090")
	t.Setenv("HIOLOAD_WEBSOCKET_MESSAGES_PER_SECOND", "20")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port, "env overrides file")
	assert.False(t, cfg.Server.Docs)
	assert.EqualValues(t, 1024, cfg.Server.BodyLimit)
	assert.Equal(t, LevelWarn, cfg.Logging.Level)
	assert.True(t, cfg.CORS.Enabled())
	assert.Equal(t, 5*time.Second, cfg.Metrics.Interval)
	assert.Equal(t, 20.0, cfg.WebSocket.MessagesPerSecond)
	assert.Equal(t, "localhost", cfg.Server.Host, "unset keys keep defaults")
}

func TestMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 4242, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "verbose"
	cfg.Server.Port = 70000
	cfg.Server.BodyLimit = -1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "body_limit")

	cfg = DefaultConfig()
	cfg.Logging.Level = LevelNope
	assert.NoError(t, cfg.Validate())
}

func TestBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [1, 2"), 0o600))
	_, err := Load(path)
	assert.ErrorContains(t, err, "failed to parse config file")
}
