package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/GriffinCanCode/shellcache/internal/shared/utils"
)

// Store backends
const (
	BackendMemory = "memory"
	BackendDisk   = "disk"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// DefaultVersion names the cache bucket shipped with this build.
const DefaultVersion = "scoremaster-v13.0.0"

// DefaultShellURL is the offline document served to navigations.
const DefaultShellURL = "./ScoreMaster_PWA.html"

// DefaultSyncTag is the only background sync tag with a handler.
const DefaultSyncTag = "sync-scores"

// DefaultAssets returns the app shell populated at install time.
func DefaultAssets() []string {
	return []string{
		"./",
		"./ScoreMaster_PWA.html",
		"./manifest.json",
		"./icon-192.png",
		"./icon-512.png",
		"https://cdn.jsdelivr.net/npm/chart.js",
		"https://cdn.jsdelivr.net/npm/canvas-confetti@1.6.0/dist/confetti.browser.min.js",
	}
}

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Agent     AgentConfig
	Store     StoreConfig
	Fetch     FetchConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
	// ForwardProxy lets absolute-form requests reach any host. Off, they are
	// limited to the app origin and the CDN allow-list.
	ForwardProxy bool `envconfig:"FORWARD_PROXY" default:"false"`
}

// AgentConfig holds the cache agent's identity and asset manifest.
type AgentConfig struct {
	Version  string   `envconfig:"AGENT_VERSION" default:"scoremaster-v13.0.0"`
	Origin   string   `envconfig:"AGENT_ORIGIN" default:"http://localhost:8080"`
	CDNHosts []string `envconfig:"AGENT_CDN_HOSTS" default:"cdn.jsdelivr.net"`
	ShellURL string   `envconfig:"AGENT_SHELL_URL" default:"./ScoreMaster_PWA.html"`
	Assets   []string `envconfig:"AGENT_ASSETS"`
	SyncTags []string `envconfig:"AGENT_SYNC_TAGS" default:"sync-scores"`
	// Manifest is an optional YAML or TOML file overriding the fields above
	Manifest             string        `envconfig:"AGENT_MANIFEST"`
	InstallRetryInterval time.Duration `envconfig:"INSTALL_RETRY_INTERVAL" default:"30s"`
}

// StoreConfig selects and configures the bucket storage backend.
type StoreConfig struct {
	Backend       string `envconfig:"STORE_BACKEND" default:"memory"`
	Path          string `envconfig:"STORE_PATH" default:"/tmp/shellcache"`
	RedisAddress  string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	RedisPrefix   string `envconfig:"REDIS_PREFIX" default:"shellcache"`
}

// FetchConfig holds upstream client configuration.
type FetchConfig struct {
	Timeout   time.Duration `envconfig:"FETCH_TIMEOUT" default:"30s"`
	Retries   int           `envconfig:"FETCH_RETRIES" default:"2"`
	RPS       float64       `envconfig:"FETCH_RPS" default:"0"`
	UserAgent string        `envconfig:"FETCH_USER_AGENT" default:"shellcache/1.0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables, applies the
// manifest file if one is named and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if len(cfg.Agent.Assets) == 0 {
		cfg.Agent.Assets = DefaultAssets()
	}
	if cfg.Agent.Manifest != "" {
		manifest, err := LoadManifest(cfg.Agent.Manifest)
		if err != nil {
			return nil, err
		}
		manifest.Apply(&cfg.Agent)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Agent: AgentConfig{
			Version:              DefaultVersion,
			Origin:               "http://localhost:8080",
			CDNHosts:             []string{"cdn.jsdelivr.net"},
			ShellURL:             DefaultShellURL,
			Assets:               DefaultAssets(),
			SyncTags:             []string{DefaultSyncTag},
			InstallRetryInterval: 30 * time.Second,
		},
		Store: StoreConfig{
			Backend:      BackendMemory,
			Path:         "/tmp/shellcache",
			RedisAddress: "localhost:6379",
			RedisPrefix:  "shellcache",
		},
		Fetch: FetchConfig{
			Timeout:   30 * time.Second,
			Retries:   2,
			UserAgent: "shellcache/1.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

// Validate checks the fields the agent cannot run without.
func (c *Config) Validate() error {
	var errs []error

	if err := utils.ValidateName(c.Agent.Version); err != nil {
		errs = append(errs, fmt.Errorf("agent version: %w", err))
	}
	origin, err := url.Parse(c.Agent.Origin)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		errs = append(errs, fmt.Errorf("agent origin %q must be an absolute URL", c.Agent.Origin))
	}
	if strings.TrimSpace(c.Agent.ShellURL) == "" {
		errs = append(errs, errors.New("agent shell URL is required"))
	}

	switch c.Store.Backend {
	case BackendMemory, BackendDisk, BackendSQLite, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
