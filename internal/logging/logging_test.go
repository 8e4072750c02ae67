package logging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		hasError bool
	}{
		{"debug", LevelDebug, false},
		{"DEBUG", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"ERROR", LevelError, false},
		{"invalid", LevelInfo, true},
		{"", LevelInfo, true},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			level, err := ParseLevel(test.input)
			if test.hasError && err == nil {
				t.Error("expected error, got nil")
			}
			if !test.hasError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !test.hasError && level != test.expected {
				t.Errorf("expected %v, got %v", test.expected, level)
			}
		})
	}
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelDebug, "debug"},
		{LevelInfo, "info"},
		{LevelWarn, "warn"},
		{LevelError, "error"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			if got := LevelString(test.level); got != test.expected {
				t.Errorf("expected %q, got %q", test.expected, got)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("expected default level Info, got %v", cfg.Level)
	}
	if cfg.Format != FormatText {
		t.Errorf("expected default format Text, got %v", cfg.Format)
	}
	if cfg.Output != "stderr" {
		t.Errorf("expected default output stderr, got %s", cfg.Output)
	}
	if cfg.Component != "expandd" {
		t.Errorf("expected component expandd, got %s", cfg.Component)
	}
	if cfg.MaxSize <= 0 || cfg.MaxAge <= 0 || cfg.MaxBackups <= 0 {
		t.Error("rotation limits should be positive")
	}
}

func TestLoggerNew(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Output = "stderr"

	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Close()

	if logger.Logger == nil {
		t.Error("logger.Logger is nil")
	}
}

func TestLoggerFileOutput(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "expandd.log")

	cfg := DefaultConfig()
	cfg.Output = "file"
	cfg.Format = FormatJSON
	cfg.FilePath = logPath

	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	logger.Info("combo fired", "keyword", "btw")
	logger.Sync()
	logger.Close()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "combo fired") {
		t.Error("log file missing expected entry")
	}
}

func TestShouldRedact(t *testing.T) {
	tests := []struct {
		key      string
		expected bool
	}{
		{"password", true},
		{"PASSWORD", true},
		{"api_key", true},
		{"auth_token", true},
		{"clipboard", true},
		{"clipboard_content", true},
		{"typed_chars", true},
		{"buffer_text", true},
		{"rendered_text", true},
		{"keyword", false},
		{"combo_id", false},
		{"group", false},
		{"error", false},
	}

	for _, test := range tests {
		t.Run(test.key, func(t *testing.T) {
			if got := shouldRedact(test.key); got != test.expected {
				t.Errorf("shouldRedact(%q) = %v, expected %v", test.key, got, test.expected)
			}
		})
	}
}

func TestFireIDContext(t *testing.T) {
	ctx := context.Background()
	if FireIDFromContext(ctx) != "" {
		t.Error("expected empty fire ID from fresh context")
	}

	ctx = ContextWithFireID(ctx, "fire-42")
	if got := FireIDFromContext(ctx); got != "fire-42" {
		t.Errorf("expected fire-42, got %q", got)
	}

	if FireIDFromContext(nil) != "" {
		t.Error("expected empty fire ID from nil context")
	}
}

func TestNewFireID(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Output = "stderr"

	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Close()

	id1 := logger.NewFireID()
	id2 := logger.NewFireID()

	if id1 == "" {
		t.Error("NewFireID returned empty string")
	}
	if id1 == id2 {
		t.Error("NewFireID returned duplicate IDs")
	}
	if !strings.HasPrefix(id1, "fire-") {
		t.Errorf("fire ID should start with fire-, got %q", id1)
	}
}

func TestFileRotatorWrite(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "test.log")

	cfg := &Config{
		FilePath:   logPath,
		MaxSize:    1,
		MaxAge:     7,
		MaxBackups: 3,
		Compress:   false,
	}

	rotator, err := NewFileRotator(cfg)
	if err != nil {
		t.Fatalf("failed to create rotator: %v", err)
	}
	defer rotator.Close()

	testData := []byte("test log line\n")
	n, err := rotator.Write(testData)
	if err != nil {
		t.Fatalf("failed to write: %v", err)
	}
	if n != len(testData) {
		t.Errorf("expected to write %d bytes, wrote %d", len(testData), n)
	}

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		t.Error("log file was not created")
	}

	if err := rotator.Sync(); err != nil {
		t.Errorf("sync failed: %v", err)
	}
}

func TestFileRotatorRotatesOnSize(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "test.log")

	cfg := &Config{
		FilePath:   logPath,
		MaxSize:    1, // 1 MB
		MaxAge:     7,
		MaxBackups: 3,
		Compress:   false,
	}

	rotator, err := NewFileRotator(cfg)
	if err != nil {
		t.Fatalf("failed to create rotator: %v", err)
	}
	defer rotator.Close()

	chunk := []byte(strings.Repeat("x", 600*1024))
	if _, err := rotator.Write(chunk); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	// Second write exceeds 1 MB and must rotate.
	if _, err := rotator.Write(chunk); err != nil {
		t.Fatalf("second write failed: %v", err)
	}

	rotated, err := filepath.Glob(filepath.Join(tmpDir, "test-*.log"))
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	if len(rotated) != 1 {
		t.Errorf("expected 1 rotated file, got %d", len(rotated))
	}

	info, err := os.Stat(logPath)
	if err != nil {
		t.Fatalf("stat current log: %v", err)
	}
	if info.Size() != int64(len(chunk)) {
		t.Errorf("current log should hold only the post-rotation write, got %d bytes", info.Size())
	}
}

func TestCrashHandler(t *testing.T) {
	tmpDir := t.TempDir()

	handler := NewCrashHandler(&CrashHandlerConfig{
		CrashDir:  tmpDir,
		Version:   "1.0.0",
		Component: "test",
	})

	handler.HandlePanic("test panic value", map[string]interface{}{
		"test_key": "test_value",
	})

	reports, err := handler.GetCrashReports()
	if err != nil {
		t.Fatalf("failed to get crash reports: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected 1 crash report, got %d", len(reports))
	}

	report := reports[0]
	if report.PanicValue != "test panic value" {
		t.Errorf("expected panic value 'test panic value', got %q", report.PanicValue)
	}
	if report.Version != "1.0.0" {
		t.Errorf("expected version '1.0.0', got %q", report.Version)
	}
	if report.Component != "test" {
		t.Errorf("expected component 'test', got %q", report.Component)
	}
}

func TestCrashHandlerRecover(t *testing.T) {
	tmpDir := t.TempDir()

	handler := NewCrashHandler(&CrashHandlerConfig{
		CrashDir:  tmpDir,
		Component: "test",
	})

	ran := false
	handler.Recover(func() {
		ran = true
		panic("intentional test panic")
	})

	if !ran {
		t.Error("function did not run")
	}

	reports, _ := handler.GetCrashReports()
	if len(reports) == 0 {
		t.Error("crash report was not created for recovered panic")
	}
}

func TestRecoverGoroutine(t *testing.T) {
	tmpDir := t.TempDir()

	prev := DefaultCrashHandler()
	handler := NewCrashHandler(&CrashHandlerConfig{
		CrashDir:  tmpDir,
		Component: "test",
	})
	SetDefaultCrashHandler(handler)
	defer SetDefaultCrashHandler(prev)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer RecoverGoroutine("render")
		panic("worker panic")
	}()
	wg.Wait()

	reports, err := handler.GetCrashReports()
	if err != nil {
		t.Fatalf("failed to get crash reports: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected 1 crash report, got %d", len(reports))
	}
	if reports[0].Context["goroutine"] != "render" {
		t.Errorf("expected goroutine context 'render', got %v", reports[0].Context["goroutine"])
	}
}
