// Package config manages expandd configuration: defaults, multi-format
// loading, environment overrides, validation, and hot reload.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Version is the current configuration schema version.
const Version = 1

// Config is the root configuration for the expandd daemon.
type Config struct {
	// ConfigVersion is the schema version of this file.
	ConfigVersion int `toml:"version" json:"version" yaml:"version"`

	// Matching controls keyword detection.
	Matching MatchingConfig `toml:"matching" json:"matching" yaml:"matching"`

	// Rendering controls snippet rendering.
	Rendering RenderingConfig `toml:"rendering" json:"rendering" yaml:"rendering"`

	// Delivery controls how expanded text reaches the focused application.
	Delivery DeliveryConfig `toml:"delivery" json:"delivery" yaml:"delivery"`

	// Combos controls where the combo collection lives on disk.
	Combos CombosConfig `toml:"combos" json:"combos" yaml:"combos"`

	// Audit controls the expansion history database.
	Audit AuditConfig `toml:"audit" json:"audit" yaml:"audit"`

	// Logging controls log output.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// IPC controls the control socket.
	IPC IPCConfig `toml:"ipc" json:"ipc" yaml:"ipc"`

	// Notify controls desktop notifications.
	Notify NotifyConfig `toml:"notify" json:"notify" yaml:"notify"`

	// Metrics controls the metrics endpoint.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`
}

// MatchingConfig controls how typed text is matched against combo keywords.
type MatchingConfig struct {
	// DefaultCaseSensitive applies to combos that follow the global setting.
	DefaultCaseSensitive bool `toml:"default_case_sensitive" json:"default_case_sensitive" yaml:"default_case_sensitive"`

	// BoundaryChars are the characters that end a token.
	BoundaryChars string `toml:"boundary_chars" json:"boundary_chars" yaml:"boundary_chars"`

	// TriggerAutomatically fires combos as soon as they match. When false,
	// matches only fire through the manual trigger shortcut.
	TriggerAutomatically bool `toml:"trigger_automatically" json:"trigger_automatically" yaml:"trigger_automatically"`

	// TriggerShortcut is the manual trigger chord, e.g. "ctrl+alt+shift+b".
	TriggerShortcut string `toml:"trigger_shortcut" json:"trigger_shortcut" yaml:"trigger_shortcut"`

	// BufferSlack is how many runes the rolling buffer keeps beyond the
	// longest keyword.
	BufferSlack int `toml:"buffer_slack" json:"buffer_slack" yaml:"buffer_slack"`
}

// RenderingConfig controls snippet rendering.
type RenderingConfig struct {
	// KeepFinalSpace re-emits the boundary character typed after a keyword.
	KeepFinalSpace bool `toml:"keep_final_space" json:"keep_final_space" yaml:"keep_final_space"`

	// ScriptTimeoutSec bounds external script execution, in seconds.
	ScriptTimeoutSec int `toml:"script_timeout_sec" json:"script_timeout_sec" yaml:"script_timeout_sec"`

	// PromptTimeoutSec bounds user input prompts, in seconds. Zero waits
	// forever.
	PromptTimeoutSec int `toml:"prompt_timeout_sec" json:"prompt_timeout_sec" yaml:"prompt_timeout_sec"`
}

// DeliveryConfig controls text delivery.
type DeliveryConfig struct {
	// Method selects the delivery mechanism: "clipboard" or "keystrokes".
	Method string `toml:"method" json:"method" yaml:"method"`

	// PasteDelayMs is how long to wait after loading the clipboard before
	// issuing the paste keystroke, in milliseconds.
	PasteDelayMs int `toml:"paste_delay_ms" json:"paste_delay_ms" yaml:"paste_delay_ms"`

	// RestoreClipboard puts the previous clipboard content back after
	// pasting.
	RestoreClipboard bool `toml:"restore_clipboard" json:"restore_clipboard" yaml:"restore_clipboard"`

	// KeyIntervalMs is the pause between synthesized keystrokes, in
	// milliseconds.
	KeyIntervalMs int `toml:"key_interval_ms" json:"key_interval_ms" yaml:"key_interval_ms"`

	// EraseTypedBoundary erases the boundary character the user typed when
	// a combo fires at a boundary. Needed with key sources that observe
	// keystrokes without intercepting them.
	EraseTypedBoundary bool `toml:"erase_typed_boundary" json:"erase_typed_boundary" yaml:"erase_typed_boundary"`
}

// CombosConfig controls combo collection storage.
type CombosConfig struct {
	// Path is the combo list JSON file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// Watch reloads the combo list when the file changes on disk.
	Watch bool `toml:"watch" json:"watch" yaml:"watch"`

	// BackupOnSave keeps a .bak copy of the previous combo list on save.
	BackupOnSave bool `toml:"backup_on_save" json:"backup_on_save" yaml:"backup_on_save"`
}

// AuditConfig controls the expansion history database.
type AuditConfig struct {
	// Enabled turns expansion history recording on.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Path is the SQLite database file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// RetentionDays is how long fire records are kept. Zero keeps them
	// forever.
	RetentionDays int `toml:"retention_days" json:"retention_days" yaml:"retention_days"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, or error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: text or json.
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is where logs go: stdout, stderr, file, or both.
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file when Output includes "file". Empty uses the
	// platform default.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the log file size that triggers rotation.
	MaxSizeMB int64 `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is how many rotated log files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is how long rotated log files are kept.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress gzips rotated log files.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// IPCConfig controls the control socket.
type IPCConfig struct {
	// Enabled turns the control socket on.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// SocketPath is the unix socket path. Empty uses the platform default.
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`

	// MaxConnections caps concurrent control connections.
	MaxConnections int `toml:"max_connections" json:"max_connections" yaml:"max_connections"`

	// TimeoutSec is the per-request timeout, in seconds.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`
}

// NotifyConfig controls desktop notifications.
type NotifyConfig struct {
	// Desktop shows a desktop notification when an expansion fails.
	Desktop bool `toml:"desktop" json:"desktop" yaml:"desktop"`

	// SoundOnFire plays a sound when a combo fires.
	SoundOnFire bool `toml:"sound_on_fire" json:"sound_on_fire" yaml:"sound_on_fire"`
}

// MetricsConfig controls the metrics endpoint.
type MetricsConfig struct {
	// Enabled serves Prometheus metrics over HTTP.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// ListenAddr is the metrics listen address.
	ListenAddr string `toml:"listen_addr" json:"listen_addr" yaml:"listen_addr"`
}

// DefaultConfig returns the default expandd configuration.
func DefaultConfig() *Config {
	dataDir := ExpanddDir()
	return &Config{
		ConfigVersion: Version,
		Matching: MatchingConfig{
			DefaultCaseSensitive: false,
			BoundaryChars:        " \t\n.,;:!?\"'()[]{}<>/\\-",
			TriggerAutomatically: true,
			TriggerShortcut:      "ctrl+alt+shift+b",
			BufferSlack:          16,
		},
		Rendering: RenderingConfig{
			KeepFinalSpace:   true,
			ScriptTimeoutSec: 30,
			PromptTimeoutSec: 0, // wait forever
		},
		Delivery: DeliveryConfig{
			Method:             "clipboard",
			PasteDelayMs:       80,
			RestoreClipboard:   true,
			KeyIntervalMs:      0,
			EraseTypedBoundary: true,
		},
		Combos: CombosConfig{
			Path:         filepath.Join(dataDir, "combos.json"),
			Watch:        true,
			BackupOnSave: true,
		},
		Audit: AuditConfig{
			Enabled:       true,
			Path:          filepath.Join(dataDir, "audit.db"),
			RetentionDays: 90, // 3 months
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   "",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7, // 1 week
			Compress:   false,
		},
		IPC: IPCConfig{
			Enabled:        true,
			SocketPath:     defaultSocketPath(),
			MaxConnections: 10,
			TimeoutSec:     30,
		},
		Notify: NotifyConfig{
			Desktop:     true,
			SoundOnFire: false,
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:9214",
		},
	}
}

// ScriptTimeout returns the script timeout as a duration.
func (c *Config) ScriptTimeout() time.Duration {
	return time.Duration(c.Rendering.ScriptTimeoutSec) * time.Second
}

// PromptTimeout returns the prompt timeout as a duration. Zero means no
// timeout.
func (c *Config) PromptTimeout() time.Duration {
	return time.Duration(c.Rendering.PromptTimeoutSec) * time.Second
}

// PasteDelay returns the clipboard settle delay as a duration.
func (c *Config) PasteDelay() time.Duration {
	return time.Duration(c.Delivery.PasteDelayMs) * time.Millisecond
}

// KeyInterval returns the inter-keystroke pause as a duration.
func (c *Config) KeyInterval() time.Duration {
	return time.Duration(c.Delivery.KeyIntervalMs) * time.Millisecond
}

// IPCTimeout returns the per-request IPC timeout as a duration.
func (c *Config) IPCTimeout() time.Duration {
	return time.Duration(c.IPC.TimeoutSec) * time.Second
}

// Load reads a configuration file, applies environment overrides, and
// validates the result. The format is chosen by file extension, with
// content sniffing as a fallback for unknown extensions.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	case ".json":
		err = json.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = unmarshalDetect(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// unmarshalDetect tries TOML, JSON, then YAML.
func unmarshalDetect(data []byte, cfg *Config) error {
	if err := toml.Unmarshal(data, cfg); err == nil {
		return nil
	}
	if err := json.Unmarshal(data, cfg); err == nil {
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("unrecognized config format: %w", err)
	}
	return nil
}

var envOverrideMu sync.Mutex

// ApplyEnvOverrides overrides configuration fields from EXPANDD_*
// environment variables.
func (c *Config) ApplyEnvOverrides() {
	envOverrideMu.Lock()
	defer envOverrideMu.Unlock()

	if v := os.Getenv("EXPANDD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("EXPANDD_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("EXPANDD_LOG_OUTPUT"); v != "" {
		c.Logging.Output = v
	}
	if v := os.Getenv("EXPANDD_COMBOS_PATH"); v != "" {
		c.Combos.Path = v
	}
	if v := os.Getenv("EXPANDD_AUDIT_PATH"); v != "" {
		c.Audit.Path = v
	}
	if v := os.Getenv("EXPANDD_SOCKET_PATH"); v != "" {
		c.IPC.SocketPath = v
	}
	if v := os.Getenv("EXPANDD_DELIVERY_METHOD"); v != "" {
		c.Delivery.Method = v
	}
	if v := os.Getenv("EXPANDD_TRIGGER_SHORTCUT"); v != "" {
		c.Matching.TriggerShortcut = v
	}
	if v := os.Getenv("EXPANDD_AUTO_TRIGGER"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Matching.TriggerAutomatically = b
		}
	}
	if v := os.Getenv("EXPANDD_CASE_SENSITIVE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Matching.DefaultCaseSensitive = b
		}
	}
	if v := os.Getenv("EXPANDD_SCRIPT_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Rendering.ScriptTimeoutSec = n
		}
	}
	if v := os.Getenv("EXPANDD_METRICS_ADDR"); v != "" {
		c.Metrics.Enabled = true
		c.Metrics.ListenAddr = v
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// EnsureDirectories creates the directories the configuration points at.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Combos.Path),
	}
	if c.Audit.Enabled {
		dirs = append(dirs, filepath.Dir(c.Audit.Path))
	}
	if c.Logging.FilePath != "" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}
	if c.IPC.Enabled && c.IPC.SocketPath != "" {
		dirs = append(dirs, filepath.Dir(c.IPC.SocketPath))
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ExpanddDir returns the expandd data directory. EXPANDD_DATA_DIR
// overrides the platform default.
func ExpanddDir() string {
	if dir := os.Getenv("EXPANDD_DATA_DIR"); dir != "" {
		return dir
	}
	return PlatformDataDir()
}

// defaultSocketPath returns the control socket path, preferring the user
// runtime directory when available.
func defaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "expandd.sock")
	}
	return filepath.Join(ExpanddDir(), "expandd.sock")
}
