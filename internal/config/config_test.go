package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

// isolate points the data directory at a temp dir so no real config file is
// picked up.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DOCSTAGE_DATA_DIR", dir)
	return dir
}

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.File != "" {
		t.Errorf("expected no config file, got %s", cfg.File)
	}
	if cfg.Sync.ProbeTTL != 45*time.Second {
		t.Errorf("expected 45s probe ttl, got %v", cfg.Sync.ProbeTTL)
	}
	if cfg.Retention.Synced != 30*24*time.Hour {
		t.Errorf("expected 30 day retention, got %v", cfg.Retention.Synced)
	}
	if cfg.Local.Path != filepath.Join(dir, "docstage.db") {
		t.Errorf("unexpected local path %s", cfg.Local.Path)
	}
	if cfg.Fallback.Dir != filepath.Join(dir, "fallback") {
		t.Errorf("unexpected fallback dir %s", cfg.Fallback.Dir)
	}
	if cfg.Daemon.InboxDir != filepath.Join(dir, "inbox") {
		t.Errorf("unexpected inbox dir %s", cfg.Daemon.InboxDir)
	}
}

func TestLoad_Files(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"yaml", "docstage.yaml", `
remote:
  url: libsql://docs.example.turso.io
  owner: alice
sync:
  probe_ttl: 10s
  max_items: 7
`},
		{"toml", "docstage.toml", `
[remote]
url = "libsql://docs.example.turso.io"
owner = "alice"

[sync]
probe_ttl = "10s"
max_items = 7
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := isolate(t)
			path := writeConfig(t, dir, tt.file, tt.content)

			// Found by searching the data directory
			cfg, err := Load("", nil)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if cfg.File != path {
				t.Errorf("expected file %s, got %s", path, cfg.File)
			}
			if cfg.Remote.URL != "libsql://docs.example.turso.io" || cfg.Remote.Owner != "alice" {
				t.Errorf("unexpected remote settings: %+v", cfg.Remote)
			}
			if cfg.Sync.ProbeTTL != 10*time.Second || cfg.Sync.MaxItems != 7 {
				t.Errorf("unexpected sync settings: %+v", cfg.Sync)
			}
			// Unset keys keep defaults
			if cfg.Sync.SettleDelay != 5*time.Second {
				t.Errorf("expected default settle delay, got %v", cfg.Sync.SettleDelay)
			}
		})
	}
}

func TestLoad_Precedence(t *testing.T) {
	dir := isolate(t)
	path := writeConfig(t, dir, "custom.yaml", "remote:\n  owner: file-owner\n  url: libsql://file\n")

	t.Setenv("DOCSTAGE_REMOTE_OWNER", "env-owner")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("remote-url", "", "")
	flags.String("remote-owner", "", "")
	if err := flags.Parse([]string{"--remote-url", "libsql://flag"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	// flag > file
	if cfg.Remote.URL != "libsql://flag" {
		t.Errorf("expected flag url, got %s", cfg.Remote.URL)
	}
	// env > file, unset flag does not override
	if cfg.Remote.Owner != "env-owner" {
		t.Errorf("expected env owner, got %s", cfg.Remote.Owner)
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := isolate(t)

	if _, err := Load(filepath.Join(dir, "missing.yaml"), nil); err == nil {
		t.Error("expected error for missing explicit file")
	}

	bad := writeConfig(t, dir, "bad.yaml", "sync:\n  max_items: 0\n  probe_ttl: -1s\n")
	_, err := Load(bad, nil)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"sync.max_items", "sync.probe_ttl"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in error: %v", want, err)
		}
	}
}

func TestRender_RoundTrip(t *testing.T) {
	dir := isolate(t)

	original := Default()
	// The env override set by isolate wins over the file
	original.DataDir = dir
	original.Remote.URL = "libsql://docs.example.turso.io"
	original.Remote.AuthToken = "secret"
	original.Sync.ItemSpacing = 250 * time.Millisecond

	for _, ext := range []string{".yaml", ".toml", ".json"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "docstage"+ext)
			if err := WriteFile(original, path, false); err != nil {
				t.Fatalf("WriteFile failed: %v", err)
			}
			if err := WriteFile(original, path, false); err == nil {
				t.Error("expected error overwriting without force")
			}

			loaded, err := Load(path, nil)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			loaded.File = ""
			if !reflect.DeepEqual(loaded, original) {
				t.Errorf("round trip mismatch:\n got %+v\nwant %+v", loaded, original)
			}
		})
	}
}

func TestRender_RedactsToken(t *testing.T) {
	cfg := Default()
	cfg.Remote.AuthToken = "secret"

	for _, format := range []string{FormatYAML, FormatTOML, FormatJSON} {
		data, err := Render(cfg, format, false)
		if err != nil {
			t.Fatalf("Render(%s) failed: %v", format, err)
		}
		if strings.Contains(string(data), "secret") {
			t.Errorf("%s output leaks the auth token", format)
		}
		if !strings.Contains(string(data), "probe_ttl") {
			t.Errorf("%s output missing keys:\n%s", format, data)
		}
	}

	if _, err := Render(cfg, "ini", false); err == nil {
		t.Error("expected error for unknown format")
	}
}
