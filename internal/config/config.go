// Package config loads docstage settings.
//
// Precedence, lowest first: built-in defaults, the config file
// (docstage.yaml or docstage.toml in the working directory or the data
// directory), DOCSTAGE_* environment variables, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// FileName is the base name of the config file, without extension.
const FileName = "docstage"

// EnvPrefix prefixes environment overrides: remote.url is DOCSTAGE_REMOTE_URL.
const EnvPrefix = "DOCSTAGE"

// Config is the full set of docstage settings.
type Config struct {
	DataDir   string          `mapstructure:"data_dir"`
	Local     LocalConfig     `mapstructure:"local"`
	Fallback  FallbackConfig  `mapstructure:"fallback"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Retention RetentionConfig `mapstructure:"retention"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`

	// File is the config file that was read, if any
	File string `mapstructure:"-"`
}

// LocalConfig locates the embedded durable store.
type LocalConfig struct {
	Path string `mapstructure:"path"` // empty = <data_dir>/docstage.db
}

// FallbackConfig locates the best-effort key-value area.
type FallbackConfig struct {
	Dir      string `mapstructure:"dir"`       // empty = <data_dir>/fallback
	MaxBytes int64  `mapstructure:"max_bytes"` // 0 = unlimited
}

// RemoteConfig points at the remote document table.
type RemoteConfig struct {
	URL       string        `mapstructure:"url"` // empty = offline only
	AuthToken string        `mapstructure:"auth_token"`
	Owner     string        `mapstructure:"owner"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// SyncConfig tunes the drain.
type SyncConfig struct {
	IngestDelay time.Duration `mapstructure:"ingest_delay"`
	SettleDelay time.Duration `mapstructure:"settle_delay"`
	ItemSpacing time.Duration `mapstructure:"item_spacing"`
	MaxItems    int           `mapstructure:"max_items"`
	MaxDuration time.Duration `mapstructure:"max_duration"`
	ProbeTTL    time.Duration `mapstructure:"probe_ttl"`
}

// RetentionConfig bounds how long synced documents are kept locally.
type RetentionConfig struct {
	Synced time.Duration `mapstructure:"synced"`
}

// DaemonConfig tunes the background process.
type DaemonConfig struct {
	ProbeInterval   time.Duration `mapstructure:"probe_interval"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	InboxDir        string        `mapstructure:"inbox_dir"` // empty = <data_dir>/inbox
}

// DashboardConfig configures the HTTP dashboard.
type DashboardConfig struct {
	Port int `mapstructure:"port"`
}

// LogConfig configures log output and rotation.
type LogConfig struct {
	File       string `mapstructure:"file"` // empty = stderr only
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// defaults lists every key with its default value.
var defaults = []struct {
	key   string
	value any
}{
	{"data_dir", defaultDataDir()},
	{"local.path", ""},
	{"fallback.dir", ""},
	{"fallback.max_bytes", int64(64 << 20)},
	{"remote.url", ""},
	{"remote.auth_token", ""},
	{"remote.owner", "default"},
	{"remote.timeout", 15 * time.Second},
	{"sync.ingest_delay", 1 * time.Second},
	{"sync.settle_delay", 5 * time.Second},
	{"sync.item_spacing", 2 * time.Second},
	{"sync.max_items", 100},
	{"sync.max_duration", 2 * time.Minute},
	{"sync.probe_ttl", 45 * time.Second},
	{"retention.synced", 30 * 24 * time.Hour},
	{"daemon.probe_interval", 30 * time.Second},
	{"daemon.cleanup_interval", 6 * time.Hour},
	{"daemon.inbox_dir", ""},
	{"dashboard.port", 8080},
	{"log.file", ""},
	{"log.max_size_mb", 10},
	{"log.max_backups", 3},
	{"log.max_age_days", 28},
}

// FlagKeys maps command-line flag names to the keys they override.
var FlagKeys = map[string]string{
	"data-dir":       "data_dir",
	"remote-url":     "remote.url",
	"remote-owner":   "remote.owner",
	"log-file":       "log.file",
	"dashboard-port": "dashboard.port",
	"inbox":          "daemon.inbox_dir",
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".docstage"
	}
	return filepath.Join(home, ".docstage")
}

// newViper returns a viper instance with defaults and env overrides wired.
func newViper() *viper.Viper {
	v := viper.New()
	for _, d := range defaults {
		v.SetDefault(d.key, d.value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads settings. file names an explicit config file (empty = search
// the working directory, then the data directory). flags may be nil; only
// flags named in FlagKeys that the user set take effect.
func Load(file string, flags *pflag.FlagSet) (*Config, error) {
	v := newViper()

	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(".")
		v.AddConfigPath(v.GetString("data_dir"))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in settings with paths resolved. No file or
// environment is consulted.
func Default() *Config {
	v := viper.New()
	for _, d := range defaults {
		v.SetDefault(d.key, d.value)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: invalid built-in defaults: %v", err))
	}
	cfg.resolvePaths()
	return &cfg
}

// resolvePaths fills derived locations under the data directory.
func (c *Config) resolvePaths() {
	if c.DataDir == "" {
		c.DataDir = defaultDataDir()
	}
	if c.Local.Path == "" {
		c.Local.Path = filepath.Join(c.DataDir, "docstage.db")
	}
	if c.Fallback.Dir == "" {
		c.Fallback.Dir = filepath.Join(c.DataDir, "fallback")
	}
	if c.Daemon.InboxDir == "" {
		c.Daemon.InboxDir = filepath.Join(c.DataDir, "inbox")
	}
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	var problems []string
	if c.Fallback.MaxBytes < 0 {
		problems = append(problems, "fallback.max_bytes must not be negative")
	}
	if c.Remote.Owner == "" {
		problems = append(problems, "remote.owner is required")
	}
	if c.Sync.MaxItems <= 0 {
		problems = append(problems, "sync.max_items must be positive")
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		problems = append(problems, fmt.Sprintf("dashboard.port %d out of range", c.Dashboard.Port))
	}
	for key, d := range map[string]time.Duration{
		"remote.timeout":          c.Remote.Timeout,
		"sync.ingest_delay":       c.Sync.IngestDelay,
		"sync.settle_delay":       c.Sync.SettleDelay,
		"sync.item_spacing":       c.Sync.ItemSpacing,
		"sync.max_duration":       c.Sync.MaxDuration,
		"sync.probe_ttl":          c.Sync.ProbeTTL,
		"retention.synced":        c.Retention.Synced,
		"daemon.probe_interval":   c.Daemon.ProbeInterval,
		"daemon.cleanup_interval": c.Daemon.CleanupInterval,
	} {
		if d < 0 {
			problems = append(problems, key+" must not be negative")
		}
	}
	if len(problems) == 0 {
		return nil
	}
	slices.Sort(problems)
	return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
}
