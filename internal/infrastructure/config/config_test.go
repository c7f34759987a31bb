package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Server config
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.False(t, cfg.Server.ForwardProxy)

	// Agent config
	assert.Equal(t, "scoremaster-v13.0.0", cfg.Agent.Version)
	assert.Equal(t, "http://localhost:8080", cfg.Agent.Origin)
	assert.Equal(t, []string{"cdn.jsdelivr.net"}, cfg.Agent.CDNHosts)
	assert.Equal(t, "./ScoreMaster_PWA.html", cfg.Agent.ShellURL)
	assert.Equal(t, DefaultAssets(), cfg.Agent.Assets)
	assert.Equal(t, []string{"sync-scores"}, cfg.Agent.SyncTags)

	// Store config
	assert.Equal(t, BackendMemory, cfg.Store.Backend)

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	// Rate limit config
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)

	require.NoError(t, cfg.Validate())
}

func TestDefaultAssetsOrder(t *testing.T) {
	assets := DefaultAssets()
	require.Len(t, assets, 7)
	assert.Equal(t, "./", assets[0])
	assert.Equal(t, "https://cdn.jsdelivr.net/npm/canvas-confetti@1.6.0/dist/confetti.browser.min.js", assets[6])
}

func TestLoadMatchesDefault(t *testing.T) {
	// HOST is commonly exported by interactive shells
	t.Setenv("HOST", "0.0.0.0")
	t.Setenv("PORT", "8000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                   "9000",
		"HOST":                   "127.0.0.1",
		"FORWARD_PROXY":          "true",
		"AGENT_VERSION":          "scoremaster-v14.0.0",
		"AGENT_ORIGIN":           "https://scores.example.com",
		"AGENT_CDN_HOSTS":        "cdn.jsdelivr.net,*.unpkg.com",
		"AGENT_ASSETS":           "./,./app.js",
		"STORE_BACKEND":          "sqlite",
		"STORE_PATH":             "/var/lib/shellcache/cache.db",
		"FETCH_TIMEOUT":          "5s",
		"FETCH_RPS":              "2.5",
		"INSTALL_RETRY_INTERVAL": "1m",
		"LOG_LEVEL":              "debug",
		"LOG_DEV":                "true",
		"RATE_LIMIT_ENABLED":     "false",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.True(t, cfg.Server.ForwardProxy)
	assert.Equal(t, "scoremaster-v14.0.0", cfg.Agent.Version)
	assert.Equal(t, "https://scores.example.com", cfg.Agent.Origin)
	assert.Equal(t, []string{"cdn.jsdelivr.net", "*.unpkg.com"}, cfg.Agent.CDNHosts)
	assert.Equal(t, []string{"./", "./app.js"}, cfg.Agent.Assets)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "/var/lib/shellcache/cache.db", cfg.Store.Path)
	assert.Equal(t, 5*time.Second, cfg.Fetch.Timeout)
	assert.InDelta(t, 2.5, cfg.Fetch.RPS, 0.001)
	assert.Equal(t, time.Minute, cfg.Agent.InstallRetryInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"relative origin", "AGENT_ORIGIN", "/app"},
		{"unknown backend", "STORE_BACKEND", "etcd"},
		{"blank version", "AGENT_VERSION", "  "},
		{"parent directory version", "AGENT_VERSION", ".."},
		{"version with separator", "AGENT_VERSION", "v1/../../etc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadAppliesManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: scoremaster-v15.0.0
assets:
  - ./
  - ./index.html
cdn_hosts:
  - "*.jsdelivr.net"
`), 0o644))
	t.Setenv("AGENT_MANIFEST", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "scoremaster-v15.0.0", cfg.Agent.Version)
	assert.Equal(t, []string{"./", "./index.html"}, cfg.Agent.Assets)
	assert.Equal(t, []string{"*.jsdelivr.net"}, cfg.Agent.CDNHosts)
	// Untouched fields keep their environment values
	assert.Equal(t, DefaultShellURL, cfg.Agent.ShellURL)
}

func TestLoadFailsOnMissingManifest(t *testing.T) {
	t.Setenv("AGENT_MANIFEST", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	assert.Error(t, err)
}
