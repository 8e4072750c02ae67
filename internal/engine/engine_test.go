package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expandd/internal/combo"
	"expandd/internal/config"
	"expandd/internal/delivery"
	"expandd/internal/input"
	"expandd/internal/keyevent"
	"expandd/internal/matcher"
	"expandd/internal/notify"
	"expandd/internal/snippet"
	"expandd/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// plainConfig has automatic triggering, nothing appended, nothing extra
// erased. The live daemon defaults differ; tests opt into those explicitly.
func plainConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Rendering.KeepFinalSpace = false
	cfg.Delivery.EraseTypedBoundary = false
	return cfg
}

type fixture struct {
	store  *store.Store
	rec    *delivery.Recorder
	notes  *notify.Recorder
	source *input.Scripted
	events chan Event
	eng    *Engine
}

func newFixture(t *testing.T, opts Options, combos ...*combo.Combo) *fixture {
	t.Helper()

	path := filepath.Join(t.TempDir(), "combos.json")
	st, err := store.Open(path, store.Options{Logger: quietLogger()})
	require.NoError(t, err)
	for _, c := range combos {
		require.NoError(t, st.Add(c))
	}

	f := &fixture{
		store:  st,
		rec:    delivery.NewRecorder(),
		notes:  &notify.Recorder{},
		source: input.NewScripted(),
		events: make(chan Event, 32),
	}

	opts.Store = st
	opts.Deliverer = f.rec
	opts.Notifier = f.notes
	opts.Logger = quietLogger()
	f.eng, err = New(opts)
	require.NoError(t, err)
	f.eng.OnEvent(func(ev Event) { f.events <- ev })
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.eng.Start(context.Background(), f.source))
	t.Cleanup(func() { _ = f.eng.Stop() })
}

// await discards events until one of the wanted type arrives.
func (f *fixture) await(t *testing.T, want EventType) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-f.events:
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func TestAutoFireReplacesKeyword(t *testing.T) {
	f := newFixture(t, Options{Config: plainConfig()},
		combo.New("By the way", "btw", "by the way"))
	f.start(t)

	f.source.Type("btw ")
	ev := f.await(t, EventFire)

	assert.Equal(t, "btw", ev.Keyword)
	assert.Equal(t, "By the way", ev.ComboName)
	assert.NotEmpty(t, ev.ComboID)

	ops := f.rec.Operations()
	require.Len(t, ops, 2)
	assert.Equal(t, delivery.OpErase, ops[0].Kind)
	assert.Equal(t, 3, ops[0].Count)
	assert.Equal(t, delivery.OpEmit, ops[1].Kind)
	assert.Equal(t, "by the way", ops[1].Text)

	st := f.eng.Status()
	assert.True(t, st.Running)
	assert.Equal(t, StateRunning, st.State)
	assert.Equal(t, uint64(1), st.Fires)
	assert.Equal(t, 1, st.IndexedCombos)
}

func TestDaemonDefaultsKeepBoundary(t *testing.T) {
	// Stock config: the typed boundary is erased with the keyword and
	// re-emitted after the snippet.
	f := newFixture(t, Options{Config: config.DefaultConfig()},
		combo.New("By the way", "btw", "by the way"))
	f.start(t)

	f.source.Type("btw ")
	f.await(t, EventFire)

	ops := f.rec.Operations()
	require.Len(t, ops, 2)
	assert.Equal(t, 4, ops[0].Count)
	assert.Equal(t, "by the way ", ops[1].Text)
}

func TestManualTriggerChord(t *testing.T) {
	cfg := plainConfig()
	cfg.Matching.TriggerAutomatically = false
	f := newFixture(t, Options{Config: cfg},
		combo.New("By the way", "btw", "by the way"))
	f.start(t)

	f.source.Type("btw")
	f.source.Chord(keyevent.DefaultTriggerShortcut)
	f.await(t, EventFire)

	ops := f.rec.Operations()
	require.Len(t, ops, 2, "typing alone must not have fired")
	assert.Equal(t, 3, ops[0].Count)
	assert.Equal(t, "by the way", ops[1].Text)
	assert.Equal(t, uint64(1), f.eng.Status().ManualTriggers)
}

func TestTriggerMethod(t *testing.T) {
	f := newFixture(t, Options{Config: plainConfig()},
		combo.New("By the way", "btw", "by the way"))
	f.start(t)

	f.source.Type("btw")
	f.eng.Trigger()
	f.await(t, EventFire)

	ops := f.rec.Operations()
	require.Len(t, ops, 2)
	assert.Equal(t, 3, ops[0].Count)
	assert.Equal(t, "by the way", ops[1].Text)
}

func TestPauseDropsMatches(t *testing.T) {
	f := newFixture(t, Options{Config: plainConfig()},
		combo.New("By the way", "btw", "by the way"),
		combo.New("Signature", "sig", "Alice"))
	f.start(t)

	f.eng.Pause()
	ev := f.await(t, EventStateChanged)
	assert.Equal(t, StatePaused, ev.State)
	assert.Equal(t, StatePaused, f.eng.Status().State)

	f.source.Type("btw ")

	f.eng.Resume()
	ev = f.await(t, EventStateChanged)
	assert.Equal(t, StateRunning, ev.State)

	f.source.Type("sig ")
	f.await(t, EventFire)

	for _, op := range f.rec.Operations() {
		assert.NotEqual(t, "by the way", op.Text, "paused match must not deliver")
	}
	assert.Equal(t, uint64(1), f.eng.Status().Fires)
}

func TestPauseBeforeStart(t *testing.T) {
	f := newFixture(t, Options{Config: plainConfig()},
		combo.New("By the way", "btw", "by the way"))

	f.eng.Pause()
	f.start(t)
	assert.Equal(t, StatePaused, f.eng.Status().State)

	f.source.Type("btw ")
	f.eng.Resume()
	f.await(t, EventStateChanged)

	f.source.Type("btw ")
	f.await(t, EventFire)
	assert.Equal(t, uint64(1), f.eng.Status().Fires)
}

type failRunner struct{ err error }

func (r failRunner) Run(ctx context.Context, path string, args []string) (string, error) {
	return "", r.err
}

func TestRenderFailureAbortsFire(t *testing.T) {
	renderer := snippet.NewRenderer(snippet.Collaborators{
		Runner: failRunner{err: errors.New("exit status 3")},
	})
	f := newFixture(t, Options{Config: plainConfig(), Renderer: renderer},
		combo.New("Lookup", "addr", "#{script:/usr/local/bin/lookup.sh}"))
	f.start(t)

	f.source.Type("addr ")
	ev := f.await(t, EventRenderFailed)

	assert.Contains(t, ev.Error, "exit status 3")
	assert.Empty(t, f.rec.Operations(), "a failed render must deliver nothing")

	failures := f.notes.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "Lookup", failures[0].ComboName)

	st := f.eng.Status()
	assert.Equal(t, uint64(0), st.Fires)
	assert.Equal(t, uint64(1), st.RenderFailures)
}

func TestDeliveryFailureFlushesBuffer(t *testing.T) {
	f := newFixture(t, Options{Config: plainConfig()},
		combo.New("By the way", "btw", "by the way"))
	f.rec.Fail = errors.New("keystroke synthesis unavailable")
	f.start(t)

	f.source.Type("btw ")
	ev := f.await(t, EventDeliveryFailed)
	assert.Contains(t, ev.Error, "keystroke synthesis unavailable")
	require.Len(t, f.notes.Failures(), 1)

	// Recovered deliverer: the next full keyword still fires.
	f.rec.Fail = nil
	f.source.Type("x ")
	f.source.Type("btw ")
	f.await(t, EventFire)

	ops := f.rec.Operations()
	require.Len(t, ops, 2)
	assert.Equal(t, 3, ops[0].Count)

	st := f.eng.Status()
	assert.Equal(t, uint64(1), st.Fires)
	assert.Equal(t, uint64(1), st.DeliveryFailures)
}

func TestCursorPositioning(t *testing.T) {
	f := newFixture(t, Options{Config: plainConfig()},
		combo.New("Greeting", "hey", "Hello #{cursor}World"))
	f.start(t)

	f.source.Type("hey ")
	f.await(t, EventFire)

	ops := f.rec.Operations()
	require.Len(t, ops, 3)
	assert.Equal(t, delivery.OpEmit, ops[1].Kind)
	assert.Equal(t, "Hello World", ops[1].Text)
	assert.Equal(t, delivery.OpMoveCaret, ops[2].Kind)
	assert.Equal(t, 5, ops[2].Count)
}

type cycleRand struct {
	vals []int
	i    int
}

func (r *cycleRand) Intn(n int) int {
	v := r.vals[r.i%len(r.vals)] % n
	r.i++
	return v
}

func TestSharedKeywordTieBreak(t *testing.T) {
	home := combo.New("Home address", "addr", "12 Oak Lane")
	work := combo.New("Work address", "addr", "1 Main Street")
	f := newFixture(t, Options{
		Config: plainConfig(),
		Rand:   &cycleRand{vals: []int{0, 1}},
	}, home, work)
	f.start(t)

	fired := map[string]bool{}
	for i := 0; i < 2; i++ {
		f.source.Type("addr ")
		ev := f.await(t, EventFire)
		fired[ev.ComboID] = true
	}
	assert.Len(t, fired, 2, "cycling rand must pick both combos")
}

func TestReloadStorePicksUpNewCombos(t *testing.T) {
	f := newFixture(t, Options{Config: plainConfig()},
		combo.New("By the way", "btw", "by the way"))
	f.start(t)

	require.NoError(t, f.store.Add(combo.New("Signature", "sig", "Alice")))
	require.NoError(t, f.eng.ReloadStore())
	ev := f.await(t, EventStoreReloaded)
	assert.Equal(t, 2, ev.Combos)

	f.source.Type("sig ")
	f.await(t, EventFire)
	assert.Equal(t, 2, f.eng.Status().IndexedCombos)
}

func TestApplyConfigLive(t *testing.T) {
	f := newFixture(t, Options{Config: plainConfig()},
		combo.New("By the way", "btw", "by the way"))
	f.start(t)

	next := plainConfig()
	next.Matching.TriggerAutomatically = false
	f.eng.ApplyConfig(next)
	f.await(t, EventConfigApplied)

	f.source.Type("btw")
	f.eng.Trigger()
	f.await(t, EventFire)

	ops := f.rec.Operations()
	require.Len(t, ops, 2, "auto trigger must be off after the config change")
	assert.Equal(t, "by the way", ops[1].Text)
}

type slowPrompter struct {
	started chan struct{}
	value   string
}

func (p *slowPrompter) Ask(ctx context.Context, prompt, defaultValue string) (string, bool, error) {
	p.started <- struct{}{}
	select {
	case <-time.After(100 * time.Millisecond):
		return p.value, true, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

func TestStopDrainsInFlightRenders(t *testing.T) {
	prompter := &slowPrompter{started: make(chan struct{}, 1), value: "Bob"}
	renderer := snippet.NewRenderer(snippet.Collaborators{Prompter: prompter})
	f := newFixture(t, Options{Config: plainConfig(), Renderer: renderer},
		combo.New("Name", "who", "#{input:Your name}"))
	f.start(t)

	f.source.Type("who ")
	<-prompter.started
	require.NoError(t, f.eng.Stop())

	ops := f.rec.Operations()
	require.Len(t, ops, 2, "in-flight render must finish before Stop returns")
	assert.Equal(t, "Bob", ops[1].Text)
	assert.Equal(t, uint64(1), f.eng.Status().Fires)
}

func TestLifecycle(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	_, err = New(Options{Deliverer: delivery.NewRecorder()})
	require.Error(t, err)

	f := newFixture(t, Options{Config: plainConfig()})
	require.NoError(t, f.eng.Start(context.Background(), f.source))
	assert.ErrorIs(t, f.eng.Start(context.Background(), f.source), ErrAlreadyRunning)

	require.NoError(t, f.eng.Stop())
	require.NoError(t, f.eng.Stop())
	assert.ErrorIs(t, f.eng.Start(context.Background(), input.NewScripted()), ErrStopped)
	assert.False(t, f.eng.Status().Running)
}

func TestNilConfigDefaults(t *testing.T) {
	f := newFixture(t, Options{},
		combo.New("By the way", "btw", "by the way"))
	f.start(t)

	f.source.Type("btw ")
	f.await(t, EventFire)

	// Zero-value settings: no boundary erase, no re-emitted space.
	ops := f.rec.Operations()
	require.Len(t, ops, 2)
	assert.Equal(t, 3, ops[0].Count)
	assert.Equal(t, "by the way", ops[1].Text)
}

var _ matcher.RandSource = (*cycleRand)(nil)
