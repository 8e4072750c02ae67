// Package engine runs the expansion pipeline. The loop goroutine owns the
// matcher and feeds it every key event; each match is rendered on its own
// worker goroutine so a slow script or prompt never stalls typing, while
// delivery is serialized so two fires cannot interleave keystrokes. Fire
// outcomes come back to the loop over a completion channel, which is where
// usage stamps, audit records and notifications happen.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"expandd/internal/audit"
	"expandd/internal/config"
	"expandd/internal/delivery"
	"expandd/internal/input"
	"expandd/internal/keyevent"
	"expandd/internal/logging"
	"expandd/internal/matcher"
	"expandd/internal/metrics"
	"expandd/internal/notify"
	"expandd/internal/snippet"
	"expandd/internal/store"
)

var (
	ErrAlreadyRunning = errors.New("engine already running")
	ErrStopped        = errors.New("engine stopped")
)

// stopGrace is how long Stop waits for in-flight renders before the run
// context is cancelled under them.
const stopGrace = 5 * time.Second

// State is the expansion gate, independent of whether the loop is running.
// A paused engine keeps its typing buffer current but drops every match.
type State string

const (
	StateRunning State = "running"
	StatePaused  State = "paused"
)

// EventType identifies a broadcast engine event.
type EventType string

const (
	EventFire           EventType = "fire"
	EventRenderFailed   EventType = "render_failed"
	EventDeliveryFailed EventType = "delivery_failed"
	EventStateChanged   EventType = "state_changed"
	EventStoreReloaded  EventType = "store_reloaded"
	EventConfigApplied  EventType = "config_applied"
)

// Event is pushed to OnEvent subscribers. Subscribers are called from the
// engine loop and occasionally from API goroutines, so they must be safe for
// concurrent use and must return quickly.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	ComboID   string    `json:"combo_id,omitempty"`
	ComboName string    `json:"combo_name,omitempty"`
	Keyword   string    `json:"keyword,omitempty"`
	State     State     `json:"state,omitempty"`
	Combos    int       `json:"combos,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Status is a point-in-time snapshot of the engine.
type Status struct {
	Running          bool          `json:"running"`
	State            State         `json:"state"`
	StartedAt        time.Time     `json:"started_at,omitzero"`
	Uptime           time.Duration `json:"uptime"`
	Groups           int           `json:"groups"`
	Combos           int           `json:"combos"`
	ActiveCombos     int           `json:"active_combos"`
	IndexedCombos    int           `json:"indexed_combos"`
	Fires            uint64        `json:"fires"`
	ManualTriggers   uint64        `json:"manual_triggers"`
	RenderFailures   uint64        `json:"render_failures"`
	DeliveryFailures uint64        `json:"delivery_failures"`
	ActiveRenders    int64         `json:"active_renders"`
}

// Options configures a new Engine. Store and Deliverer are required.
type Options struct {
	Store     *store.Store
	Deliverer delivery.Deliverer

	// Renderer defaults to one with no collaborators, which still covers
	// text, date and positioning fragments.
	Renderer *snippet.Renderer

	// Audit records fire outcomes when set.
	Audit *audit.Store

	// Notifier surfaces failures and fire sounds. Defaults to notify.Nop.
	Notifier notify.Notifier

	// Metrics defaults to a private registry so tests never collide.
	Metrics *metrics.EngineMetrics

	Logger *slog.Logger

	// Config seeds matching and delivery settings. When nil the engine
	// uses automatic triggering with the stock boundary set, keeps no
	// final space and erases nothing beyond the keyword.
	Config *config.Config

	// Rand drives tie-breaking between combos sharing a keyword.
	Rand matcher.RandSource
}

// settings is the mutable slice of the config the loop consults per fire.
type settings struct {
	shortcut           keyevent.Shortcut
	caseSensitive      bool
	keepFinalSpace     bool
	eraseTypedBoundary bool
	promptTimeout      time.Duration
}

type fireStage int

const (
	stageRender fireStage = iota
	stageDelivery
)

// fireResult travels from a render worker back to the loop.
type fireResult struct {
	match          *matcher.Match
	rendering      *snippet.Rendering
	fireID         string
	firedAt        time.Time
	renderDuration time.Duration
	total          time.Duration
	stage          fireStage
	err            error
}

// Engine wires a key source into the matcher, renderer and deliverer.
type Engine struct {
	store      *store.Store
	deliverer  delivery.Deliverer
	renderer   *snippet.Renderer
	auditStore *audit.Store
	notifier   notify.Notifier
	metrics    *metrics.EngineMetrics
	logger     *slog.Logger
	matcher    *matcher.Matcher
	rand       matcher.RandSource

	mu      sync.Mutex // lifecycle
	running bool
	stopped bool
	source  input.Source
	cancel  context.CancelFunc
	done    chan struct{}

	stateMu     sync.RWMutex // state, settings, subscribers
	state       State
	startedAt   time.Time
	settings    settings
	subscribers []func(Event)

	commands    chan func(context.Context)
	completions chan *fireResult
	deliveryMu  sync.Mutex // serializes erase/emit/caret sequences
	renderWG    sync.WaitGroup
	fireSeq     atomic.Uint64
}

// New builds an Engine. It does not touch the key source; Start does.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	if opts.Deliverer == nil {
		return nil, errors.New("engine: deliverer is required")
	}

	e := &Engine{
		store:       opts.Store,
		deliverer:   opts.Deliverer,
		renderer:    opts.Renderer,
		auditStore:  opts.Audit,
		notifier:    opts.Notifier,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		rand:        opts.Rand,
		state:       StateRunning,
		done:        make(chan struct{}),
		commands:    make(chan func(context.Context), 16),
		completions: make(chan *fireResult, 8),
	}
	if e.renderer == nil {
		e.renderer = snippet.NewRenderer(snippet.Collaborators{})
	}
	if e.notifier == nil {
		e.notifier = notify.Nop{}
	}
	if e.metrics == nil {
		e.metrics = metrics.NewEngineMetrics(metrics.NewRegistry("expandd"))
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}

	mopts := matcher.Options{TriggerAutomatically: true, Rand: e.rand}
	e.settings = settings{shortcut: keyevent.DefaultTriggerShortcut}
	if opts.Config != nil {
		mopts = matcherOptions(opts.Config, e.rand)
		e.settings = e.settingsFromConfig(opts.Config)
	}
	e.matcher = matcher.New(mopts)
	return e, nil
}

// Start builds the combo index, starts the key source and spawns the loop.
// The engine is single-use: once stopped it cannot be started again.
func (e *Engine) Start(ctx context.Context, source input.Source) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return ErrStopped
	}
	if e.running {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := source.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("start key source: %w", err)
	}

	e.RebuildIndex()
	e.source = source
	e.cancel = cancel
	e.running = true
	e.stateMu.Lock()
	e.startedAt = time.Now()
	e.stateMu.Unlock()

	go e.loop(runCtx)
	e.logger.Info("engine started",
		"combos", e.matcher.Index().Size(),
		"state", string(e.State()))
	return nil
}

// Stop shuts the key source, lets in-flight renders finish and waits for the
// loop to drain their outcomes. Renders still running after the grace period
// lose their context. Stop is idempotent.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.stopped = true
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.stopped = true
	source := e.source
	cancel := e.cancel
	e.mu.Unlock()

	source.Stop()
	select {
	case <-e.done:
	case <-time.After(stopGrace):
		cancel()
		<-e.done
	}
	cancel()
	e.logger.Info("engine stopped")
	return nil
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.done)
	defer logging.RecoverGoroutine("engine-loop")

	events := e.source.Events()
	for {
		select {
		case <-ctx.Done():
			e.drain()
			return
		case ev, ok := <-events:
			if !ok {
				e.drain()
				return
			}
			e.handleEvent(ctx, ev)
		case fn := <-e.commands:
			fn(ctx)
		case res := <-e.completions:
			e.finishFire(res)
		}
	}
}

// drain collects outcomes of renders that were in flight when the source
// closed, so every fire is still stamped and audited.
func (e *Engine) drain() {
	go func() {
		e.renderWG.Wait()
		close(e.completions)
	}()
	for res := range e.completions {
		e.finishFire(res)
	}
}

func (e *Engine) handleEvent(ctx context.Context, ev keyevent.Event) {
	e.metrics.RecordKeyEvent()

	if sc := e.snapshot().shortcut; !sc.IsZero() && sc.Matches(ev) {
		e.triggerNow(ctx)
		return
	}

	start := time.Now()
	m := e.matcher.Feed(ev)
	e.metrics.ObserveMatchLatency(time.Since(start))
	if m == nil {
		return
	}
	if e.State() == StatePaused {
		e.logger.Debug("match dropped while paused", "keyword", m.Combo.Keyword)
		return
	}
	e.dispatch(ctx, m)
}

func (e *Engine) triggerNow(ctx context.Context) {
	e.metrics.RecordManualTrigger()
	if e.State() == StatePaused {
		return
	}
	if m := e.matcher.TriggerManual(); m != nil {
		e.dispatch(ctx, m)
	}
}

func (e *Engine) dispatch(ctx context.Context, m *matcher.Match) {
	e.metrics.RenderStarted()
	e.renderWG.Add(1)
	go e.fire(ctx, m)
}

// fire runs on its own goroutine: render, then deliver under the delivery
// lock. The result always goes back to the loop, success or not.
func (e *Engine) fire(ctx context.Context, m *matcher.Match) {
	defer e.renderWG.Done()
	defer logging.RecoverGoroutine("engine-fire")

	res := &fireResult{
		match:   m,
		fireID:  fmt.Sprintf("fire-%d", e.fireSeq.Add(1)),
		firedAt: time.Now(),
	}
	s := e.snapshot()

	renderCtx := ctx
	if s.promptTimeout > 0 {
		var cancelRender context.CancelFunc
		renderCtx, cancelRender = context.WithTimeout(ctx, s.promptTimeout)
		defer cancelRender()
	}

	renderStart := time.Now()
	rendering, err := e.renderer.Render(renderCtx, m.Combo)
	res.renderDuration = time.Since(renderStart)
	if err != nil {
		res.stage = stageRender
		res.err = err
	} else {
		res.rendering = rendering
		timer := e.metrics.StartDeliveryTimer()
		e.deliveryMu.Lock()
		err = e.deliver(m, rendering, s)
		e.deliveryMu.Unlock()
		timer.Stop()
		if err != nil {
			res.stage = stageDelivery
			res.err = err
		}
	}
	res.total = time.Since(res.firedAt)
	e.completions <- res
}

// deliver replaces the typed keyword with the rendering. The boundary
// keystroke is not part of ConsumedLength; with an observing key source it
// already landed on screen, so eraseTypedBoundary removes it and
// keepFinalSpace re-emits it after the snippet.
func (e *Engine) deliver(m *matcher.Match, r *snippet.Rendering, s settings) error {
	erase := m.ConsumedLength
	text := r.Text
	if m.Boundary != 0 {
		if s.eraseTypedBoundary {
			erase++
		}
		if s.keepFinalSpace {
			text += string(m.Boundary)
		}
	}

	if erase > 0 {
		if err := e.deliverer.EraseCharacters(erase); err != nil {
			return fmt.Errorf("erase %d characters: %w", erase, err)
		}
	}
	if err := e.deliverer.Emit(text, r.Delays); err != nil {
		return fmt.Errorf("emit text: %w", err)
	}
	if r.CursorOffset >= 0 {
		if back := utf8.RuneCountInString(text) - r.CursorOffset; back > 0 {
			if err := e.deliverer.MoveCaret(back); err != nil {
				return fmt.Errorf("move caret: %w", err)
			}
		}
	}
	return nil
}

// finishFire runs on the loop. Only here does a fire touch the store, the
// audit log and the subscribers, so those never see two fires at once.
func (e *Engine) finishFire(res *fireResult) {
	e.metrics.RenderFinished()
	c := res.match.Combo
	logger := e.logger.With("fire_id", res.fireID, "combo", c.Name, "keyword", c.Keyword)

	outcome := audit.OutcomeDelivered
	switch {
	case res.err == nil:
		e.metrics.RecordFire(res.renderDuration)
		e.store.MarkUsed(c.ID, res.firedAt)
		e.notifier.FireSound()
		logger.Info("combo fired",
			"manual", res.match.Manual,
			"render_ms", res.renderDuration.Milliseconds(),
			"total_ms", res.total.Milliseconds())
		e.broadcast(Event{
			Type:      EventFire,
			Timestamp: res.firedAt,
			ComboID:   c.ID,
			ComboName: c.Name,
			Keyword:   c.Keyword,
		})
	case res.stage == stageRender:
		e.metrics.RecordRenderFailure()
		outcome = audit.OutcomeRenderFailed
		logger.Warn("render failed", "error", res.err)
		e.notifier.ExpansionFailed(c.Name, res.err)
		e.broadcast(Event{
			Type:      EventRenderFailed,
			ComboID:   c.ID,
			ComboName: c.Name,
			Keyword:   c.Keyword,
			Error:     res.err.Error(),
		})
	default:
		e.metrics.RecordDeliveryFailure()
		outcome = audit.OutcomeDeliveryFailed
		// The screen state is unknown, so the typing buffer is useless.
		e.matcher.Reset()
		logger.Error("delivery failed", "error", res.err)
		e.notifier.ExpansionFailed(c.Name, res.err)
		e.broadcast(Event{
			Type:      EventDeliveryFailed,
			ComboID:   c.ID,
			ComboName: c.Name,
			Keyword:   c.Keyword,
			Error:     res.err.Error(),
		})
	}

	if e.auditStore != nil {
		f := &audit.Fire{
			ComboID:  c.ID,
			Keyword:  c.Keyword,
			FiredAt:  res.firedAt,
			Duration: res.total,
			Outcome:  outcome,
		}
		if res.err != nil {
			f.Error = res.err.Error()
		}
		if _, err := e.auditStore.RecordFire(f); err != nil {
			logger.Warn("audit record failed", "error", err)
		}
	}
}

// do runs fn on the loop goroutine. Before Start there is no loop and fn
// runs inline; after Stop it is dropped.
func (e *Engine) do(fn func(context.Context)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	if !e.running {
		fn(context.Background())
		return
	}
	select {
	case e.commands <- fn:
	case <-e.done:
	}
}

// Pause stops matches from firing. The typing buffer keeps rolling so
// Resume picks up mid-word.
func (e *Engine) Pause() {
	e.do(func(context.Context) { e.setState(StatePaused) })
}

// Resume re-enables firing.
func (e *Engine) Resume() {
	e.do(func(context.Context) { e.setState(StateRunning) })
}

func (e *Engine) setState(next State) {
	e.stateMu.Lock()
	if e.state == next {
		e.stateMu.Unlock()
		return
	}
	e.state = next
	e.stateMu.Unlock()

	e.metrics.SetPaused(next == StatePaused)
	e.logger.Info("engine state changed", "state", string(next))
	e.broadcast(Event{Type: EventStateChanged, State: next})
}

// Trigger fires the longest keyword ending the current buffer, exactly as
// the trigger shortcut would.
func (e *Engine) Trigger() {
	e.do(e.triggerNow)
}

// ApplyConfig applies the matching, rendering and delivery sections of cfg
// live. Everything else in cfg needs a restart.
func (e *Engine) ApplyConfig(cfg *config.Config) {
	e.do(func(context.Context) {
		old := e.snapshot()
		next := e.settingsFromConfig(cfg)
		e.stateMu.Lock()
		e.settings = next
		e.stateMu.Unlock()

		e.matcher.UpdateOptions(matcherOptions(cfg, e.rand))
		if next.caseSensitive != old.caseSensitive {
			idx := matcher.BuildIndex(e.store.Active(), next.caseSensitive)
			e.matcher.SetIndex(idx)
			e.metrics.RecordIndexRebuild(idx.Size())
		}
		e.metrics.RecordConfigReload()
		e.logger.Info("engine config applied",
			"trigger_automatically", cfg.Matching.TriggerAutomatically,
			"case_sensitive", next.caseSensitive,
			"keep_final_space", next.keepFinalSpace)
		e.broadcast(Event{Type: EventConfigApplied})
	})
}

// ReloadStore re-reads combo files from disk and swaps in a fresh index.
// Safe from any goroutine.
func (e *Engine) ReloadStore() error {
	if err := e.store.Reload(); err != nil {
		return fmt.Errorf("reload store: %w", err)
	}
	e.RebuildIndex()
	groups, combos, active := e.store.Stats()
	e.logger.Info("combo store reloaded",
		"groups", groups, "combos", combos, "active", active)
	e.broadcast(Event{Type: EventStoreReloaded, Combos: active})
	return nil
}

// RebuildIndex rebuilds the keyword index from the store's active combos
// and swaps it in atomically. Safe from any goroutine.
func (e *Engine) RebuildIndex() {
	e.stateMu.RLock()
	cs := e.settings.caseSensitive
	e.stateMu.RUnlock()

	idx := matcher.BuildIndex(e.store.Active(), cs)
	e.matcher.SetIndex(idx)
	e.metrics.RecordIndexRebuild(idx.Size())
	e.logger.Debug("combo index rebuilt", "combos", idx.Size())
}

// OnEvent registers fn for engine events. Register before Start; fn must be
// safe for concurrent use.
func (e *Engine) OnEvent(fn func(Event)) {
	e.stateMu.Lock()
	e.subscribers = append(e.subscribers, fn)
	e.stateMu.Unlock()
}

func (e *Engine) broadcast(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	e.stateMu.RLock()
	subs := make([]func(Event), len(e.subscribers))
	copy(subs, e.subscribers)
	e.stateMu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// State reports whether matches currently fire.
func (e *Engine) State() State {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state
}

// Status returns a snapshot for the status command and the control socket.
func (e *Engine) Status() Status {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()

	e.stateMu.RLock()
	state := e.state
	startedAt := e.startedAt
	e.stateMu.RUnlock()

	groups, combos, active := e.store.Stats()
	st := Status{
		Running:          running,
		State:            state,
		StartedAt:        startedAt,
		Groups:           groups,
		Combos:           combos,
		ActiveCombos:     active,
		IndexedCombos:    e.matcher.Index().Size(),
		Fires:            e.metrics.FiresTotal.Value(),
		ManualTriggers:   e.metrics.ManualTriggersTotal.Value(),
		RenderFailures:   e.metrics.RenderFailuresTotal.Value(),
		DeliveryFailures: e.metrics.DeliveryFailuresTotal.Value(),
		ActiveRenders:    e.metrics.ActiveRenders.Value(),
	}
	if running && !startedAt.IsZero() {
		st.Uptime = time.Since(startedAt)
	}
	return st
}

func (e *Engine) snapshot() settings {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.settings
}

func (e *Engine) settingsFromConfig(cfg *config.Config) settings {
	s := settings{
		shortcut:           keyevent.Shortcut{},
		caseSensitive:      cfg.Matching.DefaultCaseSensitive,
		keepFinalSpace:     cfg.Rendering.KeepFinalSpace,
		eraseTypedBoundary: cfg.Delivery.EraseTypedBoundary,
	}
	if cfg.Rendering.PromptTimeoutSec > 0 {
		s.promptTimeout = time.Duration(cfg.Rendering.PromptTimeoutSec) * time.Second
	}
	if chord := cfg.Matching.TriggerShortcut; chord != "" {
		sc, err := keyevent.ParseShortcut(chord)
		if err != nil {
			e.logger.Warn("invalid trigger shortcut, manual trigger disabled",
				"chord", chord, "error", err)
		} else {
			s.shortcut = sc
		}
	}
	return s
}

func matcherOptions(cfg *config.Config, rnd matcher.RandSource) matcher.Options {
	return matcher.Options{
		DefaultCaseSensitive: cfg.Matching.DefaultCaseSensitive,
		BoundaryChars:        cfg.Matching.BoundaryChars,
		TriggerAutomatically: cfg.Matching.TriggerAutomatically,
		BufferSlack:          cfg.Matching.BufferSlack,
		Rand:                 rnd,
	}
}
