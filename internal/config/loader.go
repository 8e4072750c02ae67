package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces bursts of file events into one reload.
const reloadDebounce = 100 * time.Millisecond

// Loader loads a configuration file and reloads it when the file changes
// on disk. Invalid edits are reported on Errors and the previous
// configuration stays in effect.
type Loader struct {
	mu       sync.RWMutex
	path     string
	current  *Config
	watcher  *fsnotify.Watcher
	onChange []func(*Config)
	errChan  chan error
	done     chan struct{}
	debounce *time.Timer

	closeOnce sync.Once
}

// NewLoader loads the configuration at path and starts watching it for
// changes.
func NewLoader(path string) (*Loader, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	// Watch the directory, not the file: editors replace files on save
	// and the watch would die with the old inode.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}

	l := &Loader{
		path:    path,
		current: cfg,
		watcher: watcher,
		errChan: make(chan error, 1),
		done:    make(chan struct{}),
	}
	go l.watchLoop()
	return l, nil
}

// Current returns the active configuration. Callers must treat it as
// read-only.
func (l *Loader) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Path returns the configuration file being watched.
func (l *Loader) Path() string {
	return l.path
}

// OnChange registers a callback invoked with each successfully reloaded
// configuration.
func (l *Loader) OnChange(fn func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Errors reports reload failures, such as an invalid edit to the file.
func (l *Loader) Errors() <-chan error {
	return l.errChan
}

// Close stops watching the configuration file.
func (l *Loader) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.watcher.Close()
		l.mu.Lock()
		if l.debounce != nil {
			l.debounce.Stop()
		}
		l.mu.Unlock()
	})
	return err
}

func (l *Loader) watchLoop() {
	base := filepath.Base(l.path)
	for {
		select {
		case <-l.done:
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			l.scheduleReload()
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.reportError(fmt.Errorf("config watcher: %w", err))
		}
	}
}

func (l *Loader) scheduleReload() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.debounce != nil {
		l.debounce.Stop()
	}
	l.debounce = time.AfterFunc(reloadDebounce, l.reload)
}

func (l *Loader) reload() {
	select {
	case <-l.done:
		return
	default:
	}

	cfg, err := Load(l.path)
	if err != nil {
		l.reportError(err)
		return
	}

	l.mu.Lock()
	l.current = cfg
	callbacks := make([]func(*Config), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
}

func (l *Loader) reportError(err error) {
	select {
	case l.errChan <- err:
	default:
	}
}

// LoadOrCreate loads the configuration at path, writing the defaults
// there first if the file does not exist. An empty path searches the
// standard locations and falls back to the default config path.
func LoadOrCreate(path string) (*Config, string, error) {
	if path == "" {
		if found, ok := FindConfigFile(); ok {
			path = found
		} else {
			path = DefaultConfigPath()
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.ApplyEnvOverrides()
		if err := ValidateConfig(cfg); err != nil {
			return nil, "", err
		}
		if err := SaveConfig(cfg, path); err != nil {
			return nil, "", err
		}
		return cfg, path, nil
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// SaveConfig writes the configuration to path as TOML.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# expandd configuration\n")
	buf.WriteString("# Generated " + time.Now().Format(time.RFC3339) + "\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// LoadFromEnv builds a configuration from the defaults plus EXPANDD_*
// environment overrides, without touching the filesystem.
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
