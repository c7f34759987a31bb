package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// Manifest is the on-disk form of the agent's asset manifest. Empty fields
// leave the environment configuration untouched.
type Manifest struct {
	Version  string   `yaml:"version" toml:"version"`
	Origin   string   `yaml:"origin" toml:"origin"`
	ShellURL string   `yaml:"shell_url" toml:"shell_url"`
	Assets   []string `yaml:"assets" toml:"assets"`
	CDNHosts []string `yaml:"cdn_hosts" toml:"cdn_hosts"`
	SyncTags []string `yaml:"sync_tags" toml:"sync_tags"`
}

// LoadManifest reads a manifest file. The format follows the extension:
// .toml is TOML, .yaml, .yml and .json are YAML.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to parse TOML manifest: %w", err)
		}
	case ".yaml", ".yml", ".json":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to parse YAML manifest: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported manifest format %q", ext)
	}
	return &m, nil
}

// Apply overrides agent configuration with the manifest's non-empty fields.
func (m *Manifest) Apply(cfg *AgentConfig) {
	if m.Version != "" {
		cfg.Version = m.Version
	}
	if m.Origin != "" {
		cfg.Origin = m.Origin
	}
	if m.ShellURL != "" {
		cfg.ShellURL = m.ShellURL
	}
	if len(m.Assets) > 0 {
		cfg.Assets = append([]string(nil), m.Assets...)
	}
	if len(m.CDNHosts) > 0 {
		cfg.CDNHosts = append([]string(nil), m.CDNHosts...)
	}
	if len(m.SyncTags) > 0 {
		cfg.SyncTags = append([]string(nil), m.SyncTags...)
	}
}
