package config

import (
	"fmt"
	"net"
	"strings"

	"expandd/internal/keyevent"
)

// ValidationError describes a single invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors collects every invalid field found in one pass.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "config: no errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// ValidateConfig checks every section and returns all problems found, or
// nil when the configuration is valid.
func ValidateConfig(cfg *Config) error {
	var errs ValidationErrors

	if cfg.ConfigVersion > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("version %d is newer than supported version %d", cfg.ConfigVersion, Version),
		})
	}

	errs = append(errs, validateMatching(&cfg.Matching)...)
	errs = append(errs, validateRendering(&cfg.Rendering)...)
	errs = append(errs, validateDelivery(&cfg.Delivery)...)
	errs = append(errs, validateCombos(&cfg.Combos)...)
	errs = append(errs, validateAudit(&cfg.Audit)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateIPC(&cfg.IPC)...)
	errs = append(errs, validateMetrics(&cfg.Metrics)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateMatching(m *MatchingConfig) []ValidationError {
	var errs []ValidationError
	if m.BoundaryChars == "" {
		errs = append(errs, ValidationError{
			Field:   "matching.boundary_chars",
			Message: "must not be empty",
		})
	}
	if m.TriggerShortcut != "" {
		if _, err := keyevent.ParseShortcut(m.TriggerShortcut); err != nil {
			errs = append(errs, ValidationError{
				Field:   "matching.trigger_shortcut",
				Message: err.Error(),
			})
		}
	} else if !m.TriggerAutomatically {
		errs = append(errs, ValidationError{
			Field:   "matching.trigger_shortcut",
			Message: "must be set when trigger_automatically is off",
		})
	}
	if m.BufferSlack < 0 || m.BufferSlack > 256 {
		errs = append(errs, ValidationError{
			Field:   "matching.buffer_slack",
			Message: "must be between 0 and 256",
		})
	}
	return errs
}

func validateRendering(r *RenderingConfig) []ValidationError {
	var errs []ValidationError
	if r.ScriptTimeoutSec < 1 || r.ScriptTimeoutSec > 3600 {
		errs = append(errs, ValidationError{
			Field:   "rendering.script_timeout_sec",
			Message: "must be between 1 and 3600",
		})
	}
	if r.PromptTimeoutSec < 0 || r.PromptTimeoutSec > 86400 {
		errs = append(errs, ValidationError{
			Field:   "rendering.prompt_timeout_sec",
			Message: "must be between 0 and 86400",
		})
	}
	return errs
}

func validateDelivery(d *DeliveryConfig) []ValidationError {
	var errs []ValidationError
	switch d.Method {
	case "clipboard", "keystrokes":
	default:
		errs = append(errs, ValidationError{
			Field:   "delivery.method",
			Message: fmt.Sprintf("unknown method %q (want clipboard or keystrokes)", d.Method),
		})
	}
	if d.PasteDelayMs < 0 || d.PasteDelayMs > 5000 {
		errs = append(errs, ValidationError{
			Field:   "delivery.paste_delay_ms",
			Message: "must be between 0 and 5000",
		})
	}
	if d.KeyIntervalMs < 0 || d.KeyIntervalMs > 1000 {
		errs = append(errs, ValidationError{
			Field:   "delivery.key_interval_ms",
			Message: "must be between 0 and 1000",
		})
	}
	return errs
}

func validateCombos(c *CombosConfig) []ValidationError {
	var errs []ValidationError
	if c.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "combos.path",
			Message: "must not be empty",
		})
	}
	return errs
}

func validateAudit(a *AuditConfig) []ValidationError {
	var errs []ValidationError
	if a.Enabled && a.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "audit.path",
			Message: "must not be empty when audit is enabled",
		})
	}
	if a.RetentionDays < 0 || a.RetentionDays > 3650 {
		errs = append(errs, ValidationError{
			Field:   "audit.retention_days",
			Message: "must be between 0 and 3650",
		})
	}
	return errs
}

func validateLogging(l *LoggingConfig) []ValidationError {
	var errs []ValidationError
	switch l.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("unknown level %q", l.Level),
		})
	}
	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("unknown format %q (want text or json)", l.Format),
		})
	}
	switch l.Output {
	case "stdout", "stderr", "file", "both":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("unknown output %q (want stdout, stderr, file, or both)", l.Output),
		})
	}
	if l.MaxSizeMB < 1 || l.MaxSizeMB > 1024 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "must be between 1 and 1024",
		})
	}
	if l.MaxBackups < 0 || l.MaxBackups > 100 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "must be between 0 and 100",
		})
	}
	if l.MaxAgeDays < 0 || l.MaxAgeDays > 365 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "must be between 0 and 365",
		})
	}
	return errs
}

func validateIPC(i *IPCConfig) []ValidationError {
	var errs []ValidationError
	if !i.Enabled {
		return nil
	}
	if i.SocketPath == "" {
		errs = append(errs, ValidationError{
			Field:   "ipc.socket_path",
			Message: "must not be empty when ipc is enabled",
		})
	}
	if i.MaxConnections < 1 || i.MaxConnections > 128 {
		errs = append(errs, ValidationError{
			Field:   "ipc.max_connections",
			Message: "must be between 1 and 128",
		})
	}
	if i.TimeoutSec < 1 || i.TimeoutSec > 600 {
		errs = append(errs, ValidationError{
			Field:   "ipc.timeout_sec",
			Message: "must be between 1 and 600",
		})
	}
	return errs
}

func validateMetrics(m *MetricsConfig) []ValidationError {
	var errs []ValidationError
	if !m.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(m.ListenAddr); err != nil {
		errs = append(errs, ValidationError{
			Field:   "metrics.listen_addr",
			Message: fmt.Sprintf("invalid listen address %q", m.ListenAddr),
		})
	}
	return errs
}
