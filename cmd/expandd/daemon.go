package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"expandd/internal/audit"
	"expandd/internal/clipboard"
	"expandd/internal/config"
	"expandd/internal/delivery"
	"expandd/internal/engine"
	"expandd/internal/input"
	"expandd/internal/ipc"
	"expandd/internal/logging"
	"expandd/internal/metrics"
	"expandd/internal/notify"
	"expandd/internal/prompt"
	"expandd/internal/script"
	"expandd/internal/snippet"
	"expandd/internal/store"
	"expandd/internal/watcher"
)

// comboSaveInterval is how often in-memory lastUsed stamps are flushed to
// the combo file. A fire is not worth a write of its own.
const comboSaveInterval = 5 * time.Minute

// Daemon owns everything the run command wires together: combo store,
// audit trail, engine, key source, file watcher, config reload, control
// socket and metrics endpoint.
type Daemon struct {
	cfg      *config.Config
	cfgPath  string
	detached bool

	logger     *logging.Logger
	store      *store.Store
	auditStore *audit.Store
	desktop    *notify.Desktop
	registry   *metrics.Registry
	engMetrics *metrics.EngineMetrics
	engine     *engine.Engine
	source     input.Source
	watcher    *watcher.Watcher
	loader     *config.Loader
	handler    *ipc.EngineHandler
	server     *ipc.Server
	metricsSrv *http.Server

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewDaemon creates a daemon for the given configuration. Start wires and
// launches everything.
func NewDaemon(cfg *config.Config, cfgPath string, detached bool) *Daemon {
	return &Daemon{
		cfg:      cfg,
		cfgPath:  cfgPath,
		detached: detached,
		stopCh:   make(chan struct{}),
	}
}

// Start brings the daemon up. On error everything already started is torn
// down again.
func (d *Daemon) Start() (err error) {
	defer func() {
		if err != nil {
			d.Stop()
		}
	}()

	if err = d.cfg.EnsureDirectories(); err != nil {
		return err
	}

	d.logger, err = newLogger(d.cfg, d.detached)
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	logging.SetDefault(d.logger)
	logging.DefaultCrashHandler().SetVersion(Version)

	d.store, err = store.Open(d.cfg.Combos.Path, store.Options{
		BackupOnSave: d.cfg.Combos.BackupOnSave,
		Logger:       d.logger.Logger,
	})
	if err != nil {
		return fmt.Errorf("open combo store: %w", err)
	}

	if d.cfg.Audit.Enabled {
		d.auditStore, err = audit.Open(d.cfg.Audit.Path)
		if err != nil {
			return fmt.Errorf("open audit store: %w", err)
		}
		d.pruneAudit()
	}

	board := clipboard.NewSystem()
	renderer := snippet.NewRenderer(snippet.Collaborators{
		Clipboard: board,
		Runner:    script.NewRunner(d.cfg.ScriptTimeout()),
		Prompter:  prompt.NewExecPrompter(d.cfg.PromptTimeout()),
	})

	deliverer, err := delivery.New(delivery.Method(d.cfg.Delivery.Method), board, delivery.Options{
		PasteDelay:       d.cfg.PasteDelay(),
		RestoreClipboard: d.cfg.Delivery.RestoreClipboard,
		KeyInterval:      d.cfg.KeyInterval(),
	})
	if err != nil {
		return fmt.Errorf("build deliverer: %w", err)
	}

	var notifier notify.Notifier = notify.Nop{}
	if d.cfg.Notify.Desktop || d.cfg.Notify.SoundOnFire {
		d.desktop = notify.NewDesktop(notify.Options{
			Desktop:     d.cfg.Notify.Desktop,
			SoundOnFire: d.cfg.Notify.SoundOnFire,
		}, d.logger.Logger)
		notifier = d.desktop
	}

	d.registry = metrics.NewRegistry("expandd")
	d.engMetrics = metrics.NewEngineMetrics(d.registry)

	d.engine, err = engine.New(engine.Options{
		Store:     d.store,
		Deliverer: deliverer,
		Renderer:  renderer,
		Audit:     d.auditStore,
		Notifier:  notifier,
		Metrics:   d.engMetrics,
		Logger:    d.logger.Logger,
		Config:    d.cfg,
	})
	if err != nil {
		return err
	}

	d.source = input.NewSystem(input.Options{Logger: d.logger.Logger})
	if ok, reason := d.source.Available(); !ok {
		return fmt.Errorf("key source: %s", reason)
	}

	if err = d.engine.Start(context.Background(), d.source); err != nil {
		return err
	}

	if d.cfg.Combos.Watch {
		d.startComboWatcher()
	}
	if d.cfg.IPC.Enabled {
		if err = d.startControlSocket(); err != nil {
			return err
		}
	}
	d.startConfigReload()
	if d.cfg.Metrics.Enabled {
		d.startMetricsEndpoint()
	}

	groups, combos, active := d.store.Stats()
	d.logger.Info("expandd started",
		"version", Version,
		"pid", os.Getpid(),
		"groups", groups,
		"combos", combos,
		"active", active,
		"delivery", d.cfg.Delivery.Method)
	return nil
}

// Stop tears the daemon down in dependency order: the engine first so
// fires cease, then the control socket so subscribers get the shutdown
// event, then everything else.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })

	if d.engine != nil {
		_ = d.engine.Stop()
	}
	if d.server != nil {
		_ = d.server.Stop()
	}
	if d.watcher != nil {
		_ = d.watcher.Stop()
	}
	if d.loader != nil {
		_ = d.loader.Close()
	}
	if d.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = d.metricsSrv.Shutdown(ctx)
		cancel()
	}
	d.wg.Wait()

	if d.store != nil {
		// Flush lastUsed stamps accumulated since the last periodic save.
		if err := d.store.Save(); err != nil && d.logger != nil {
			d.logger.Warn("final combo save failed", "error", err)
		}
	}
	if d.auditStore != nil {
		_ = d.auditStore.Close()
	}
	if d.desktop != nil {
		_ = d.desktop.Close()
	}
	if d.logger != nil {
		d.logger.Info("expandd stopped")
		_ = d.logger.Close()
	}
}

// pruneAudit applies the configured retention to the audit database.
func (d *Daemon) pruneAudit() {
	days := d.cfg.Audit.RetentionDays
	if days <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	n, err := d.auditStore.PruneOlderThan(cutoff)
	if err != nil {
		d.logger.Warn("audit prune failed", "error", err)
		return
	}
	if n > 0 {
		d.logger.Info("pruned audit records", "removed", n, "retention_days", days)
	}
}

// startComboWatcher reloads the engine when the combo file changes on
// disk. Best effort: a watch failure downgrades to manual reloads.
func (d *Daemon) startComboWatcher() {
	w, err := watcher.New(d.cfg.Combos.Path, 0)
	if err != nil {
		d.logger.Warn("combo file watching disabled", "error", err)
		return
	}
	if err := w.Start(); err != nil {
		d.logger.Warn("combo file watching disabled", "error", err)
		return
	}
	d.watcher = w

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer logging.RecoverGoroutine("combo-watcher")
		for {
			select {
			case ev, ok := <-w.Events():
				if !ok {
					return
				}
				d.logger.Info("combo file changed on disk", "size", ev.Size)
				if err := d.engine.ReloadStore(); err != nil {
					d.logger.Error("reload after file change failed", "error", err)
				}
			case err, ok := <-w.Errors():
				if !ok {
					return
				}
				d.logger.Warn("combo watcher", "error", err)
			}
		}
	}()
}

// startControlSocket opens the IPC server and connects it to the engine.
func (d *Daemon) startControlSocket() error {
	d.handler = ipc.NewEngineHandler(ipc.EngineHandlerConfig{
		Version:    Version,
		Engine:     d.engine,
		Store:      d.store,
		Audit:      d.auditStore,
		Config:     d.cfg,
		ConfigPath: d.cfgPath,
		KeySource:  systemKeySourceName(),
		SocketPath: d.cfg.IPC.SocketPath,
	})

	serverCfg := ipc.DefaultServerConfig(d.cfg.IPC.SocketPath)
	serverCfg.Version = Version
	serverCfg.MaxConnections = d.cfg.IPC.MaxConnections
	serverCfg.Logger = d.logger.Logger
	d.server = ipc.NewServer(serverCfg, d.handler)

	// Engine events flow out to subscribed clients.
	d.handler.SetBroadcaster(d.server.Broadcast)
	d.engine.OnEvent(d.handler.EngineEvent)

	if err := d.server.Start(); err != nil {
		return fmt.Errorf("start control socket: %w", err)
	}
	return nil
}

// startConfigReload watches the config file and applies edits live.
// Matching and rendering settings take effect immediately; delivery
// method and socket changes need a restart.
func (d *Daemon) startConfigReload() {
	loader, err := config.NewLoader(d.cfgPath)
	if err != nil {
		d.logger.Warn("config hot reload disabled", "error", err)
		return
	}
	d.loader = loader

	loader.OnChange(func(cfg *config.Config) {
		d.logger.Info("config reloaded", "path", d.cfgPath)
		d.engine.ApplyConfig(cfg)
		if d.handler != nil {
			d.handler.SetConfig(cfg)
		}
	})

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case err := <-loader.Errors():
				d.logger.Warn("config reload failed", "error", err)
			case <-d.stopCh:
				return
			}
		}
	}()
}

// startMetricsEndpoint serves the metrics registry over HTTP.
func (d *Daemon) startMetricsEndpoint() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.registry.HTTPHandler())

	srv := &http.Server{
		Addr:              d.cfg.Metrics.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	d.metricsSrv = srv

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer logging.RecoverGoroutine("metrics-http")
		d.logger.Info("metrics listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("metrics server failed", "error", err)
		}
	}()
}

func cmdRun() {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	detach := fs.Bool("detach", false, "Run in the background")
	fs.Parse(os.Args[2:])

	if pid, alive := readPidfile(pidfilePath()); alive {
		fmt.Fprintf(os.Stderr, "expandd already running (PID %d).\n", pid)
		os.Exit(1)
	}

	// The forked child comes back through here with the marker set.
	if os.Getenv("EXPANDD_DAEMON") == "1" {
		runDaemon(*configPath, true)
		return
	}

	if *detach {
		forkDaemon(*configPath)
		return
	}
	runDaemon(*configPath, false)
}

// runDaemon runs the daemon in the foreground until SIGINT or SIGTERM.
func runDaemon(configPath string, detached bool) {
	cfg, path, err := config.LoadOrCreate(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	pidfile := pidfilePath()
	if err := writePidfile(pidfile); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing pidfile: %v\n", err)
		os.Exit(1)
	}
	defer os.Remove(pidfile)

	d := NewDaemon(cfg, path, detached)
	if err := d.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting expandd: %v\n", err)
		if strings.Contains(err.Error(), "key source") {
			fmt.Fprintln(os.Stderr)
			fmt.Fprintln(os.Stderr, "On Linux: add yourself to the 'input' group or run as root")
		}
		os.Exit(1)
	}

	if !detached {
		fmt.Printf("expandd %s running (PID %d)\n", Version, os.Getpid())
		if cfg.IPC.Enabled {
			fmt.Printf("Control socket: %s\n", cfg.IPC.SocketPath)
		}
		fmt.Printf("Combo list:     %s\n", cfg.Combos.Path)
		fmt.Println()
		fmt.Println("Press Ctrl+C to stop")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	saveTicker := time.NewTicker(comboSaveInterval)
	defer saveTicker.Stop()
	statusTicker := time.NewTicker(30 * time.Second)
	defer statusTicker.Stop()

	for {
		select {
		case sig := <-sigChan:
			d.logger.Info("shutting down", "signal", sig.String())
			d.Stop()
			return

		case <-saveTicker.C:
			if err := d.store.Save(); err != nil {
				d.logger.Warn("periodic combo save failed", "error", err)
			}

		case <-statusTicker.C:
			d.engMetrics.UpdateUptime()
			if d.server != nil {
				d.logger.Debug("control socket", "clients", d.server.ClientCount())
			}
		}
	}
}

// forkDaemon re-executes this binary detached from the terminal and waits
// for it to come up.
func forkDaemon(configPath string) {
	exe, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error finding executable: %v\n", err)
		os.Exit(1)
	}

	args := []string{"run"}
	if configPath != "" {
		args = append(args, "-config", configPath)
	}

	cmd := exec.Command(exe, args...)
	cmd.Env = append(os.Environ(), "EXPANDD_DAEMON=1")
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	cmd.SysProcAttr = getDaemonSysProcAttr()

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting daemon: %v\n", err)
		os.Exit(1)
	}

	// The child writes its pidfile before wiring the engine, so poll a
	// little past that for the socket as well.
	cfg := loadConfig(configPath)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if pid, alive := readPidfile(pidfilePath()); alive {
			if !cfg.IPC.Enabled || ipc.IsSocketListening(cfg.IPC.SocketPath) {
				fmt.Printf("expandd started (PID %d)\n", pid)
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}

	if pid, alive := readPidfile(pidfilePath()); alive {
		fmt.Printf("expandd started (PID %d), control socket not ready yet\n", pid)
		return
	}

	fmt.Fprintln(os.Stderr, "Error: daemon failed to start.")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "On Linux: add yourself to the 'input' group or run as root")
	fmt.Fprintf(os.Stderr, "Check the log file, or run in the foreground: expandd run\n")
	os.Exit(1)
}

func cmdStop() {
	pidfile := pidfilePath()
	pid, alive := readPidfile(pidfile)
	if !alive {
		if pid != 0 {
			// Daemon died without cleaning up.
			os.Remove(pidfile)
		}
		fmt.Fprintln(os.Stderr, "expandd is not running.")
		os.Exit(1)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error finding process %d: %v\n", pid, err)
		os.Exit(1)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		fmt.Fprintf(os.Stderr, "Error stopping expandd: %v\n", err)
		os.Exit(1)
	}

	// Give it time to drain in-flight fires and close the socket.
	for i := 0; i < 50; i++ {
		if _, alive := readPidfile(pidfile); !alive {
			fmt.Println("expandd stopped.")
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	fmt.Fprintf(os.Stderr, "expandd (PID %d) did not exit within 5s.\n", pid)
	os.Exit(1)
}

// newLogger builds the logger from the logging section. A detached daemon
// has no terminal, so stream outputs are redirected to the log file.
func newLogger(cfg *config.Config, detached bool) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logging.LevelInfo
	}

	format := logging.FormatText
	if strings.EqualFold(cfg.Logging.Format, "json") {
		format = logging.FormatJSON
	}

	output := strings.ToLower(cfg.Logging.Output)
	if detached && output != "file" {
		output = "file"
	}

	filePath := cfg.Logging.FilePath
	if filePath == "" {
		filePath = logging.DefaultConfig().FilePath
	}

	return logging.New(&logging.Config{
		Level:      level,
		Format:     format,
		Output:     output,
		FilePath:   filePath,
		MaxSize:    cfg.Logging.MaxSizeMB,
		MaxAge:     cfg.Logging.MaxAgeDays,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
		Component:  "expandd",
	})
}

// systemKeySourceName labels the platform key source in status output.
func systemKeySourceName() string {
	if runtime.GOOS == "linux" {
		return "evdev"
	}
	return "none"
}

func pidfilePath() string {
	return filepath.Join(config.ExpanddDir(), "expandd.pid")
}

func writePidfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600)
}

// readPidfile reports the recorded PID and whether that process is alive.
// A missing or unreadable pidfile returns (0, false).
func readPidfile(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return pid, false
	}

	// On Unix, FindProcess always succeeds. Signal 0 probes existence.
	err = process.Signal(syscall.Signal(0))
	return pid, err == nil
}
