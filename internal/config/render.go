package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Formats accepted by Render.
const (
	FormatYAML = "yaml"
	FormatTOML = "toml"
	FormatJSON = "json"
)

// Map returns the settings as nested maps keyed like the config file.
// Durations are rendered in time.Duration string form ("45s") so every
// output format reads back through Load. The auth token is redacted unless
// withSecrets is set.
func (c *Config) Map(withSecrets bool) map[string]any {
	token := c.Remote.AuthToken
	if token != "" && !withSecrets {
		token = "REDACTED"
	}
	d := func(v time.Duration) string { return v.String() }

	return map[string]any{
		"data_dir": c.DataDir,
		"local": map[string]any{
			"path": c.Local.Path,
		},
		"fallback": map[string]any{
			"dir":       c.Fallback.Dir,
			"max_bytes": c.Fallback.MaxBytes,
		},
		"remote": map[string]any{
			"url":        c.Remote.URL,
			"auth_token": token,
			"owner":      c.Remote.Owner,
			"timeout":    d(c.Remote.Timeout),
		},
		"sync": map[string]any{
			"ingest_delay": d(c.Sync.IngestDelay),
			"settle_delay": d(c.Sync.SettleDelay),
			"item_spacing": d(c.Sync.ItemSpacing),
			"max_items":    c.Sync.MaxItems,
			"max_duration": d(c.Sync.MaxDuration),
			"probe_ttl":    d(c.Sync.ProbeTTL),
		},
		"retention": map[string]any{
			"synced": d(c.Retention.Synced),
		},
		"daemon": map[string]any{
			"probe_interval":   d(c.Daemon.ProbeInterval),
			"cleanup_interval": d(c.Daemon.CleanupInterval),
			"inbox_dir":        c.Daemon.InboxDir,
		},
		"dashboard": map[string]any{
			"port": c.Dashboard.Port,
		},
		"log": map[string]any{
			"file":         c.Log.File,
			"max_size_mb":  c.Log.MaxSizeMB,
			"max_backups":  c.Log.MaxBackups,
			"max_age_days": c.Log.MaxAgeDays,
		},
	}
}

// Render encodes the settings in format (yaml, toml or json).
func Render(c *Config, format string, withSecrets bool) ([]byte, error) {
	m := c.Map(withSecrets)

	switch format {
	case FormatYAML, "yml", "":
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(m); err != nil {
			return nil, fmt.Errorf("failed to encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("failed to encode yaml: %w", err)
		}
		return buf.Bytes(), nil

	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(m); err != nil {
			return nil, fmt.Errorf("failed to encode toml: %w", err)
		}
		return buf.Bytes(), nil

	case FormatJSON:
		data, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode json: %w", err)
		}
		return append(data, '\n'), nil

	default:
		return nil, fmt.Errorf("unknown format %q (want yaml, toml or json)", format)
	}
}

// WriteFile writes the settings to path, choosing the format from the
// extension (.toml or .json, anything else is YAML). An existing file is
// only replaced when force is set.
func WriteFile(c *Config, path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}

	format := FormatYAML
	switch filepath.Ext(path) {
	case ".toml":
		format = FormatTOML
	case ".json":
		format = FormatJSON
	}

	data, err := Render(c, format, true)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
