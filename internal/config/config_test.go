package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.ConfigVersion != Version {
		t.Errorf("version = %d, want %d", cfg.ConfigVersion, Version)
	}
	if cfg.Delivery.Method != "clipboard" {
		t.Errorf("delivery method = %q, want clipboard", cfg.Delivery.Method)
	}
	if cfg.Delivery.PasteDelayMs != 80 {
		t.Errorf("paste delay = %d, want 80", cfg.Delivery.PasteDelayMs)
	}
	if !strings.ContainsRune(cfg.Matching.BoundaryChars, ' ') {
		t.Error("boundary chars should include space")
	}
	if cfg.Matching.TriggerShortcut != "ctrl+alt+shift+b" {
		t.Errorf("trigger shortcut = %q", cfg.Matching.TriggerShortcut)
	}
	if !cfg.Rendering.KeepFinalSpace {
		t.Error("keep_final_space should default on")
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.ScriptTimeout(); got != 30*time.Second {
		t.Errorf("ScriptTimeout = %v, want 30s", got)
	}
	if got := cfg.PromptTimeout(); got != 0 {
		t.Errorf("PromptTimeout = %v, want 0", got)
	}
	if got := cfg.PasteDelay(); got != 80*time.Millisecond {
		t.Errorf("PasteDelay = %v, want 80ms", got)
	}
	if got := cfg.IPCTimeout(); got != 30*time.Second {
		t.Errorf("IPCTimeout = %v, want 30s", got)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeTemp(t, "expandd.toml", `
version = 1

[matching]
default_case_sensitive = true
trigger_shortcut = "ctrl+alt+x"

[delivery]
method = "keystrokes"
paste_delay_ms = 120
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Matching.DefaultCaseSensitive {
		t.Error("default_case_sensitive not applied")
	}
	if cfg.Matching.TriggerShortcut != "ctrl+alt+x" {
		t.Errorf("trigger shortcut = %q", cfg.Matching.TriggerShortcut)
	}
	if cfg.Delivery.Method != "keystrokes" {
		t.Errorf("method = %q", cfg.Delivery.Method)
	}
	if cfg.Delivery.PasteDelayMs != 120 {
		t.Errorf("paste delay = %d", cfg.Delivery.PasteDelayMs)
	}
	// Unset fields keep their defaults.
	if !cfg.Delivery.RestoreClipboard {
		t.Error("restore_clipboard default lost")
	}
	if cfg.Matching.BoundaryChars == "" {
		t.Error("boundary_chars default lost")
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeTemp(t, "expandd.json", `{
  "delivery": {"method": "keystrokes"},
  "audit": {"enabled": false}
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Delivery.Method != "keystrokes" {
		t.Errorf("method = %q", cfg.Delivery.Method)
	}
	if cfg.Audit.Enabled {
		t.Error("audit.enabled not applied")
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeTemp(t, "expandd.yaml", `
matching:
  buffer_slack: 32
logging:
  level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Matching.BufferSlack != 32 {
		t.Errorf("buffer_slack = %d", cfg.Matching.BufferSlack)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
}

func TestLoadAutoDetect(t *testing.T) {
	path := writeTemp(t, "expandd.conf", `
[rendering]
script_timeout_sec = 5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Rendering.ScriptTimeoutSec != 5 {
		t.Errorf("script_timeout_sec = %d", cfg.Rendering.ScriptTimeoutSec)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := writeTemp(t, "expandd.toml", `
[delivery]
method = "carrier-pigeon"
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("error type %T, want ValidationErrors", err)
	}
	if len(verrs) != 1 || verrs[0].Field != "delivery.method" {
		t.Errorf("unexpected errors: %v", verrs)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("EXPANDD_LOG_LEVEL", "debug")
	t.Setenv("EXPANDD_DELIVERY_METHOD", "keystrokes")
	t.Setenv("EXPANDD_AUTO_TRIGGER", "false")
	t.Setenv("EXPANDD_SCRIPT_TIMEOUT_SEC", "10")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
	if cfg.Delivery.Method != "keystrokes" {
		t.Errorf("method = %q", cfg.Delivery.Method)
	}
	if cfg.Matching.TriggerAutomatically {
		t.Error("auto trigger override not applied")
	}
	if cfg.Rendering.ScriptTimeoutSec != 10 {
		t.Errorf("script timeout = %d", cfg.Rendering.ScriptTimeoutSec)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty boundary chars", func(c *Config) { c.Matching.BoundaryChars = "" }, "matching.boundary_chars"},
		{"bad shortcut", func(c *Config) { c.Matching.TriggerShortcut = "ctrl+bogus+b" }, "matching.trigger_shortcut"},
		{"shortcut without chord modifier", func(c *Config) { c.Matching.TriggerShortcut = "shift+b" }, "matching.trigger_shortcut"},
		{"missing shortcut with auto off", func(c *Config) {
			c.Matching.TriggerShortcut = ""
			c.Matching.TriggerAutomatically = false
		}, "matching.trigger_shortcut"},
		{"negative buffer slack", func(c *Config) { c.Matching.BufferSlack = -1 }, "matching.buffer_slack"},
		{"zero script timeout", func(c *Config) { c.Rendering.ScriptTimeoutSec = 0 }, "rendering.script_timeout_sec"},
		{"negative prompt timeout", func(c *Config) { c.Rendering.PromptTimeoutSec = -5 }, "rendering.prompt_timeout_sec"},
		{"unknown delivery method", func(c *Config) { c.Delivery.Method = "osmosis" }, "delivery.method"},
		{"paste delay too large", func(c *Config) { c.Delivery.PasteDelayMs = 9999 }, "delivery.paste_delay_ms"},
		{"empty combos path", func(c *Config) { c.Combos.Path = "" }, "combos.path"},
		{"audit enabled without path", func(c *Config) { c.Audit.Path = "" }, "audit.path"},
		{"unknown log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"unknown log output", func(c *Config) { c.Logging.Output = "syslog" }, "logging.output"},
		{"ipc enabled without socket", func(c *Config) { c.IPC.SocketPath = "" }, "ipc.socket_path"},
		{"ipc timeout out of range", func(c *Config) { c.IPC.TimeoutSec = 0 }, "ipc.timeout_sec"},
		{"metrics bad listen addr", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.ListenAddr = "no-port"
		}, "metrics.listen_addr"},
		{"future version", func(c *Config) { c.ConfigVersion = Version + 1 }, "version"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := ValidateConfig(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("error type %T", err)
			}
			found := false
			for _, ve := range verrs {
				if ve.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("no error for field %s, got %v", tt.field, verrs)
			}
		})
	}
}

func TestValidateAllowsMissingShortcutWhenAutomatic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Matching.TriggerShortcut = ""
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidationErrorMessages(t *testing.T) {
	ve := ValidationError{Field: "delivery.method", Message: "unknown method"}
	if got := ve.Error(); got != "config: delivery.method: unknown method" {
		t.Errorf("Error() = %q", got)
	}

	verrs := ValidationErrors{
		{Field: "a", Message: "one"},
		{Field: "b", Message: "two"},
	}
	want := "config: a: one; config: b: two"
	if got := verrs.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "expandd.toml")
	cfg := DefaultConfig()
	cfg.Delivery.Method = "keystrokes"
	cfg.Matching.BufferSlack = 24

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !strings.HasPrefix(string(data), "# expandd configuration") {
		t.Error("missing header comment")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Delivery.Method != "keystrokes" {
		t.Errorf("method = %q", loaded.Delivery.Method)
	}
	if loaded.Matching.BufferSlack != 24 {
		t.Errorf("buffer_slack = %d", loaded.Matching.BufferSlack)
	}
}

func TestLoadOrCreateWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "expandd.toml")

	cfg, usedPath, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if usedPath != path {
		t.Errorf("path = %q, want %q", usedPath, path)
	}
	if cfg.Delivery.Method != "clipboard" {
		t.Errorf("method = %q", cfg.Delivery.Method)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	// Second call loads the file it wrote.
	again, _, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("second LoadOrCreate: %v", err)
	}
	if again.Delivery.Method != "clipboard" {
		t.Errorf("reloaded method = %q", again.Delivery.Method)
	}
}

func TestClone(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()
	clone.Delivery.Method = "keystrokes"
	clone.Matching.BoundaryChars = "#"

	if cfg.Delivery.Method != "clipboard" {
		t.Error("clone mutation leaked into original")
	}
	if cfg.Matching.BoundaryChars == "#" {
		t.Error("clone mutation leaked into original")
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := DefaultConfig()
	cfg.Combos.Path = filepath.Join(base, "data", "combos.json")
	cfg.Audit.Path = filepath.Join(base, "audit", "audit.db")
	cfg.Logging.FilePath = filepath.Join(base, "logs", "expandd.log")
	cfg.IPC.SocketPath = filepath.Join(base, "run", "expandd.sock")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{"data", "audit", "logs", "run"} {
		if _, err := os.Stat(filepath.Join(base, dir)); err != nil {
			t.Errorf("directory %s not created: %v", dir, err)
		}
	}
}

func TestFindConfigFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	dataDir := t.TempDir()
	t.Setenv("EXPANDD_DATA_DIR", dataDir)

	if _, ok := FindConfigFile(); ok {
		t.Fatal("found config in empty dirs")
	}

	want := filepath.Join(dataDir, "expandd.yaml")
	if err := os.WriteFile(want, []byte("{}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, ok := FindConfigFile()
	if !ok {
		t.Fatal("config not found")
	}
	if got != want {
		t.Errorf("found %q, want %q", got, want)
	}
}

func TestLoaderReloadsOnChange(t *testing.T) {
	path := writeTemp(t, "expandd.toml", "[delivery]\npaste_delay_ms = 80\n")

	loader, err := NewLoader(path)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	defer loader.Close()

	changed := make(chan *Config, 1)
	loader.OnChange(func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})

	if err := os.WriteFile(path, []byte("[delivery]\npaste_delay_ms = 120\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-changed:
		if cfg.Delivery.PasteDelayMs != 120 {
			t.Errorf("paste delay = %d, want 120", cfg.Delivery.PasteDelayMs)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reload callback never fired")
	}

	if got := loader.Current().Delivery.PasteDelayMs; got != 120 {
		t.Errorf("Current paste delay = %d, want 120", got)
	}
}

func TestLoaderKeepsOldConfigOnInvalidEdit(t *testing.T) {
	path := writeTemp(t, "expandd.toml", "[delivery]\nmethod = \"clipboard\"\n")

	loader, err := NewLoader(path)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	defer loader.Close()

	if err := os.WriteFile(path, []byte("[delivery]\nmethod = \"osmosis\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-loader.Errors():
		var verrs ValidationErrors
		if !errors.As(err, &verrs) {
			t.Errorf("error type %T, want ValidationErrors", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reload error never reported")
	}

	if got := loader.Current().Delivery.Method; got != "clipboard" {
		t.Errorf("Current method = %q, want clipboard", got)
	}
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}
