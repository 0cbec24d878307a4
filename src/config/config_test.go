package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.Bridge.HandshakeTimeout.D())
	assert.Equal(t, 5*time.Second, cfg.Bridge.StopWatchdog.D())
	assert.Equal(t, 500*time.Millisecond, cfg.Bridge.RestartBackoff.D())
	assert.Equal(t, 5, cfg.Bridge.MaxConsecutiveFailures)
	assert.Equal(t, "https://lichess.org/analysis/external", cfg.Registration.URL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_ParsesFile(t *testing.T) {
	t.Setenv("REMOTE_UCI_TEST_ENGINE", "/opt/stockfish")
	path := writeFile(t, "config.yaml", `
engine:
  path: ${REMOTE_UCI_TEST_ENGINE}
  args: ["--bench-off"]
  max_threads: 4
  max_hash: 256
  options:
    Threads: "2"
  by_cpu:
    x86_64_avx2: /opt/stockfish-avx2
bridge:
  stop_watchdog: 1500ms
  restart_backoff: 1s
  max_restart_backoff: 8s
  max_consecutive_failures: 3
relay:
  url: ws://localhost:9670/socket
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/opt/stockfish", cfg.Engine.Path)
	assert.Equal(t, []string{"--bench-off"}, cfg.Engine.Args)
	assert.Equal(t, "/opt/stockfish-avx2", cfg.Engine.ByCPU.AVX2)
	assert.Equal(t, map[string]string{"Threads": "2"}, cfg.Engine.Options)
	assert.Equal(t, 1500*time.Millisecond, cfg.Bridge.StopWatchdog.D())
	assert.Equal(t, 8*time.Second, cfg.Bridge.MaxRestartBackoff.D())
	assert.Equal(t, 3, cfg.Bridge.MaxConsecutiveFailures)
	// untouched fields keep their defaults
	assert.Equal(t, 10*time.Second, cfg.Bridge.HandshakeTimeout.D())
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeFile(t, "config.yaml", "bridge:\n  stop_watchdog: soon\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := defaultConfig()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.path")
	assert.Contains(t, err.Error(), "relay.url")

	cfg.Engine.Path = "stockfish"
	cfg.Relay.URL = "http://example.com"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ws://")

	cfg.Relay.URL = "wss://example.com/socket"
	cfg.Log.Format = "xml"
	assert.Error(t, cfg.Validate())

	cfg.Log.Format = "json"
	assert.NoError(t, cfg.Validate())
}

func TestLoadDotEnv(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")))

	t.Setenv("REMOTE_UCI_DOTENV_TEST", "")
	os.Unsetenv("REMOTE_UCI_DOTENV_TEST")
	path := writeFile(t, ".env", "REMOTE_UCI_DOTENV_TEST=from-file\n")
	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("REMOTE_UCI_DOTENV_TEST"))
}
