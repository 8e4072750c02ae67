//go:build integration

// Package integration exercises the expansion pipeline end to end: the
// combo file on disk, the matcher, the renderer, a recording deliverer,
// the audit log and the control socket.
//
// Run with: go test -tags=integration ./tests/integration/...
package integration

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"expandd/internal/audit"
	"expandd/internal/clipboard"
	"expandd/internal/combo"
	"expandd/internal/config"
	"expandd/internal/delivery"
	"expandd/internal/engine"
	"expandd/internal/input"
	"expandd/internal/ipc"
	"expandd/internal/notify"
	"expandd/internal/script"
	"expandd/internal/snippet"
	"expandd/internal/store"
)

// =============================================================================
// Test Environment Setup
// =============================================================================

// TestEnv wires a full expansion pipeline against a temp directory. The
// deliverer is a recorder, so nothing touches the real keyboard or
// clipboard.
type TestEnv struct {
	T         *testing.T
	TempDir   string
	ComboPath string

	Config    *config.Config
	Store     *store.Store
	Audit     *audit.Store
	Recorder  *delivery.Recorder
	Notify    *notify.Recorder
	Clipboard *clipboard.Memory
	Source    *input.Scripted
	Engine    *engine.Engine

	events chan engine.Event

	Ctx    context.Context
	Cancel context.CancelFunc
}

// fixedRand resolves keyword ties deterministically to the first
// candidate.
type fixedRand struct{}

func (fixedRand) Intn(int) int { return 0 }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewTestEnv creates the stores and configuration. Add combos, then call
// StartEngine.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	tempDir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Combos.Path = filepath.Join(tempDir, "combos.json")
	cfg.Audit.Enabled = true
	cfg.Audit.Path = filepath.Join(tempDir, "audit.db")
	cfg.IPC.SocketPath = filepath.Join(tempDir, "expandd.sock")
	cfg.Logging.Output = "stderr"

	st, err := store.Open(cfg.Combos.Path, store.Options{Logger: discardLogger()})
	if err != nil {
		cancel()
		t.Fatalf("failed to open combo store: %v", err)
	}

	auditStore, err := audit.Open(cfg.Audit.Path)
	if err != nil {
		cancel()
		t.Fatalf("failed to open audit store: %v", err)
	}

	return &TestEnv{
		T:         t,
		TempDir:   tempDir,
		ComboPath: cfg.Combos.Path,
		Config:    cfg,
		Store:     st,
		Audit:     auditStore,
		Recorder:  delivery.NewRecorder(),
		Notify:    &notify.Recorder{},
		Clipboard: clipboard.NewMemory("clip-content"),
		Source:    input.NewScripted(),
		events:    make(chan engine.Event, 256),
		Ctx:       ctx,
		Cancel:    cancel,
	}
}

// AddCombo stores a strict, default-sensitivity combo.
func (env *TestEnv) AddCombo(name, keyword, snippet string) *combo.Combo {
	env.T.Helper()
	c := combo.New(name, keyword, snippet)
	env.MustAdd(c)
	return c
}

// MustAdd stores a fully customized combo.
func (env *TestEnv) MustAdd(c *combo.Combo) {
	env.T.Helper()
	if err := env.Store.Add(c); err != nil {
		env.T.Fatalf("failed to add combo %q: %v", c.Keyword, err)
	}
	if env.Engine != nil {
		env.Engine.RebuildIndex()
	}
}

// StartEngine builds the engine over the current store content and starts
// it on the scripted source.
func (env *TestEnv) StartEngine() {
	env.T.Helper()

	renderer := snippet.NewRenderer(snippet.Collaborators{
		Clipboard: env.Clipboard,
		Env: func(name string) string {
			if name == "USER" {
				return "tester"
			}
			return ""
		},
		Runner: script.NewRunner(5 * time.Second),
	})

	eng, err := engine.New(engine.Options{
		Store:     env.Store,
		Deliverer: env.Recorder,
		Renderer:  renderer,
		Audit:     env.Audit,
		Notifier:  env.Notify,
		Logger:    discardLogger(),
		Config:    env.Config,
		Rand:      fixedRand{},
	})
	if err != nil {
		env.T.Fatalf("failed to build engine: %v", err)
	}
	eng.OnEvent(func(ev engine.Event) {
		select {
		case env.events <- ev:
		default:
		}
	})

	if err := eng.Start(env.Ctx, env.Source); err != nil {
		env.T.Fatalf("failed to start engine: %v", err)
	}
	env.Engine = eng
}

// StopEngine stops the engine, draining in-flight fires. Safe to call
// twice.
func (env *TestEnv) StopEngine() {
	if env.Engine != nil {
		env.Engine.Stop()
	}
}

// Cleanup releases everything the environment holds.
func (env *TestEnv) Cleanup() {
	env.StopEngine()
	if env.Audit != nil {
		env.Audit.Close()
	}
	env.Cancel()
}

// WaitFor blocks until an event of the given type arrives. Events of
// other types are consumed and dropped.
func (env *TestEnv) WaitFor(t engine.EventType, timeout time.Duration) engine.Event {
	env.T.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-env.events:
			if ev.Type == t {
				return ev
			}
		case <-deadline:
			env.T.Fatalf("timed out after %s waiting for %s event", timeout, t)
			return engine.Event{}
		}
	}
}

// WaitForFire waits for a fire of the given keyword.
func (env *TestEnv) WaitForFire(keyword string, timeout time.Duration) engine.Event {
	env.T.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-env.events:
			if ev.Type == engine.EventFire && ev.Keyword == keyword {
				return ev
			}
		case <-deadline:
			env.T.Fatalf("timed out after %s waiting for %q to fire", timeout, keyword)
			return engine.Event{}
		}
	}
}

// DrainEvents drops all buffered events.
func (env *TestEnv) DrainEvents() {
	for {
		select {
		case <-env.events:
		default:
			return
		}
	}
}

// =============================================================================
// Control Socket Setup
// =============================================================================

// ControlEnv runs an IPC server wired to the environment's engine, the
// way the daemon does it.
type ControlEnv struct {
	Server  *ipc.Server
	Handler *ipc.EngineHandler
}

// StartControl starts a control socket for the running engine.
func (env *TestEnv) StartControl() *ControlEnv {
	env.T.Helper()

	handler := ipc.NewEngineHandler(ipc.EngineHandlerConfig{
		Version:    "test",
		Engine:     env.Engine,
		Store:      env.Store,
		Audit:      env.Audit,
		Config:     env.Config,
		KeySource:  "scripted",
		SocketPath: env.Config.IPC.SocketPath,
	})

	serverCfg := ipc.DefaultServerConfig(env.Config.IPC.SocketPath)
	serverCfg.Version = "test"
	serverCfg.Logger = discardLogger()

	server := ipc.NewServer(serverCfg, handler)
	if err := server.Start(); err != nil {
		env.T.Fatalf("failed to start control socket: %v", err)
	}

	handler.SetBroadcaster(server.Broadcast)
	env.Engine.OnEvent(handler.EngineEvent)

	env.T.Cleanup(func() { server.Stop() })
	return &ControlEnv{Server: server, Handler: handler}
}

// DialControl connects a client to the environment's control socket.
func (env *TestEnv) DialControl() *ipc.Client {
	env.T.Helper()

	cfg := ipc.DefaultClientConfig(env.Config.IPC.SocketPath)
	cfg.ClientName = "integration-test"
	cfg.AutoReconnect = false
	cfg.RequestTimeout = 5 * time.Second

	client := ipc.NewClient(cfg)
	if err := client.Connect(); err != nil {
		env.T.Fatalf("failed to connect control client: %v", err)
	}
	env.T.Cleanup(func() { client.Close() })
	return client
}

// =============================================================================
// Combo File Helpers
// =============================================================================

// WriteComboFile replaces the combo file on disk with a document holding
// the given combos, bypassing the store the way an external editor would.
func (env *TestEnv) WriteComboFile(combos ...*combo.Combo) {
	env.T.Helper()

	list := combo.NewList()
	def := list.DefaultGroup().ID
	for _, c := range combos {
		if c.GroupID == "" {
			c.GroupID = def
		}
		if err := list.AddCombo(c); err != nil {
			env.T.Fatalf("failed to build combo document: %v", err)
		}
	}

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		env.T.Fatalf("failed to marshal combo document: %v", err)
	}
	tmp := env.ComboPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		env.T.Fatalf("failed to write combo document: %v", err)
	}
	if err := os.Rename(tmp, env.ComboPath); err != nil {
		env.T.Fatalf("failed to replace combo document: %v", err)
	}
}

// =============================================================================
// Assertion Helpers
// =============================================================================

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error, msg string) {
	t.Helper()
	if err == nil {
		t.Fatalf("%s: expected error but got nil", msg)
	}
}

// AssertEqual fails the test if expected != actual.
func AssertEqual[T comparable](t *testing.T, expected, actual T, msg string) {
	t.Helper()
	if expected != actual {
		t.Fatalf("%s: expected %v, got %v", msg, expected, actual)
	}
}

// AssertTrue fails the test if condition is false.
func AssertTrue(t *testing.T, condition bool, msg string) {
	t.Helper()
	if !condition {
		t.Fatalf("%s: expected true", msg)
	}
}

// AssertFalse fails the test if condition is true.
func AssertFalse(t *testing.T, condition bool, msg string) {
	t.Helper()
	if condition {
		t.Fatalf("%s: expected false", msg)
	}
}

// AssertOps checks the kinds of the recorded delivery operations in
// order.
func AssertOps(t *testing.T, ops []delivery.RecordedOp, kinds ...delivery.OpKind) {
	t.Helper()
	if len(ops) != len(kinds) {
		t.Fatalf("expected %d delivery operations, got %d: %+v", len(kinds), len(ops), ops)
	}
	for i, kind := range kinds {
		if ops[i].Kind != kind {
			t.Fatalf("operation %d: expected %s, got %s (%+v)", i, kind, ops[i].Kind, ops[i])
		}
	}
}
