// Package matcher implements the incremental keyword matcher: a rolling
// buffer of recently typed characters, a keyword index over the active
// combos, and the firing rules for Strict and Loose matching.
package matcher

import (
	"math/rand"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"expandd/internal/combo"
	"expandd/internal/keyevent"
)

// DefaultBoundaryChars is the boundary set used when none is configured.
// A Strict combo fires when one of these follows its keyword.
const DefaultBoundaryChars = " \t\n.,;:!?\"'()[]{}<>/\\-"

// DefaultBufferSlack is the headroom kept in the rolling buffer beyond
// the longest keyword, so token context survives a few extra characters.
const DefaultBufferSlack = 16

// RandSource yields uniform ints in [0, n). Conflict resolution draws
// from it, so tests inject a seeded source.
type RandSource interface {
	Intn(n int) int
}

// Options configures a Matcher.
type Options struct {
	// DefaultCaseSensitive resolves combos with CaseDefault sensitivity.
	DefaultCaseSensitive bool

	// BoundaryChars is the set of characters that end a token and fire
	// Strict combos. Empty means DefaultBoundaryChars.
	BoundaryChars string

	// TriggerAutomatically enables firing from the key stream. When
	// false, nothing fires until the manual trigger resolves the buffer.
	TriggerAutomatically bool

	// BufferSlack is extra rolling-buffer headroom beyond the longest
	// keyword. Zero means DefaultBufferSlack.
	BufferSlack int

	// Rand is the tie-break source. Nil means a time-seeded source.
	Rand RandSource
}

// Match is the outcome of a fired combo.
type Match struct {
	// Combo is the definition chosen to fire.
	Combo *combo.Combo

	// ConsumedLength is the number of typed characters (runes) the
	// delivery must erase: always the matched keyword's length. The
	// boundary character is never part of it.
	ConsumedLength int

	// Boundary is the character that triggered a Strict fire, 0 for
	// Loose immediate fires and manual triggers.
	Boundary rune

	// Manual marks a fire forced by the trigger shortcut.
	Manual bool

	// Exact reports that the keyword equals the whole trailing token.
	// Substring-only Loose fires leave it false.
	Exact bool
}

// Matcher consumes one key event at a time and decides when a combo
// fires. It is single-threaded: Feed, TriggerManual and the setters must
// be called from one goroutine (the engine loop). Only the index pointer
// is shared with rebuilders, via atomic swap.
type Matcher struct {
	index   atomic.Pointer[Index]
	opts    Options
	rand    RandSource
	buf     []rune
	enabled bool
}

// New creates a matcher with an empty index.
func New(opts Options) *Matcher {
	if opts.BoundaryChars == "" {
		opts.BoundaryChars = DefaultBoundaryChars
	}
	if opts.BufferSlack <= 0 {
		opts.BufferSlack = DefaultBufferSlack
	}
	r := opts.Rand
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	m := &Matcher{
		opts:    opts,
		rand:    r,
		enabled: true,
	}
	m.index.Store(BuildIndex(nil, opts.DefaultCaseSensitive))
	return m
}

// SetIndex swaps in a freshly built index. Safe to call while the event
// loop reads: a concurrent Feed sees the old or the new index in full.
func (m *Matcher) SetIndex(idx *Index) {
	if idx == nil {
		idx = BuildIndex(nil, m.opts.DefaultCaseSensitive)
	}
	m.index.Store(idx)
}

// Index returns the active index.
func (m *Matcher) Index() *Index {
	return m.index.Load()
}

// UpdateOptions applies new matching options. Called from the engine loop
// only; the index must be rebuilt separately if DefaultCaseSensitive
// changed.
func (m *Matcher) UpdateOptions(opts Options) {
	if opts.BoundaryChars == "" {
		opts.BoundaryChars = DefaultBoundaryChars
	}
	if opts.BufferSlack <= 0 {
		opts.BufferSlack = DefaultBufferSlack
	}
	if opts.Rand != nil {
		m.rand = opts.Rand
	}
	m.opts = opts
}

// SetEnabled toggles matching. While disabled the buffer keeps rolling
// but nothing fires.
func (m *Matcher) SetEnabled(enabled bool) {
	m.enabled = enabled
}

// Enabled reports whether matching is active.
func (m *Matcher) Enabled() bool {
	return m.enabled
}

// Reset clears the rolling buffer.
func (m *Matcher) Reset() {
	m.buf = m.buf[:0]
}

// BufferLen returns the rolling buffer length in runes.
func (m *Matcher) BufferLen() int {
	return len(m.buf)
}

// Feed consumes one key event and returns a match when a combo fires.
// At most one match is produced per event.
func (m *Matcher) Feed(ev keyevent.Event) *Match {
	switch {
	case ev.Kind == keyevent.KindFocusChange, ev.Kind == keyevent.KindOther:
		m.Reset()
		return nil
	case ev.IsModified():
		// Chords move the caret or change context; the buffer no
		// longer mirrors erasable screen text.
		m.Reset()
		return nil
	case ev.Kind == keyevent.KindBackspace:
		if n := len(m.buf); n > 0 {
			m.buf = m.buf[:n-1]
		}
		return nil
	case ev.Kind == keyevent.KindEnter:
		return m.onBoundary('\n')
	case ev.Kind == keyevent.KindTab:
		return m.onBoundary('\t')
	case ev.IsChar():
		if m.isBoundary(ev.Rune) {
			return m.onBoundary(ev.Rune)
		}
		m.push(ev.Rune)
		if m.enabled && m.opts.TriggerAutomatically {
			return m.matchLoose()
		}
		return nil
	default:
		return nil
	}
}

// TriggerManual forces a match attempt against the current buffer, with
// no boundary requirement. Deferred Loose matches resolve here too.
func (m *Matcher) TriggerManual() *Match {
	if !m.enabled {
		return nil
	}
	return m.resolve(0, true)
}

// onBoundary runs the Strict fire path for a boundary character. When
// nothing fires the character joins the buffer as token separator.
func (m *Matcher) onBoundary(r rune) *Match {
	if m.enabled && m.opts.TriggerAutomatically {
		if match := m.resolve(r, false); match != nil {
			return match
		}
	}
	m.push(r)
	return nil
}

// matchLoose is the per-character Loose path: fire the longest completed
// Loose keyword ending the buffer, unless it could still extend into a
// longer keyword (longest-match deferral).
func (m *Matcher) matchLoose() *Match {
	idx := m.index.Load()
	if idx.Empty() {
		return nil
	}

	limit := min(len(m.buf), idx.MaxKeywordLen())
	for l := limit; l >= 1; l-- {
		suffix := string(m.buf[len(m.buf)-l:])
		cands := idx.lookupLoose(suffix)
		if len(cands) == 0 {
			continue
		}
		if idx.isExtendable(suffix) {
			// A longer keyword is still reachable; wait. The match
			// resolves at the next boundary or dies on deviation.
			return nil
		}
		chosen := m.pick(cands)
		token := m.trailingToken()
		exact := len(token) == l
		m.Reset()
		return &Match{
			Combo:          chosen,
			ConsumedLength: l,
			Exact:          exact,
		}
	}
	return nil
}

// resolve runs the token resolution shared by boundary fires and the
// manual trigger. Exact matches (keyword equals the whole trailing
// token, either mode) outrank substring-only Loose matches; within the
// exact set the winner is drawn uniformly at random.
func (m *Matcher) resolve(boundary rune, manual bool) *Match {
	idx := m.index.Load()
	if idx.Empty() {
		return nil
	}

	token := m.trailingToken()
	if len(token) == 0 {
		return nil
	}

	if len(token) <= idx.MaxKeywordLen() {
		if exact := idx.lookup(string(token)); len(exact) > 0 {
			chosen := m.pick(exact)
			m.Reset()
			return &Match{
				Combo:          chosen,
				ConsumedLength: len(token),
				Boundary:       boundary,
				Manual:         manual,
				Exact:          true,
			}
		}
	}

	// Substring resolution: longest Loose keyword ending the token.
	for l := min(len(token)-1, idx.MaxKeywordLen()); l >= 1; l-- {
		cands := idx.lookupLoose(string(token[len(token)-l:]))
		if len(cands) == 0 {
			continue
		}
		chosen := m.pick(cands)
		m.Reset()
		return &Match{
			Combo:          chosen,
			ConsumedLength: l,
			Boundary:       boundary,
			Manual:         manual,
		}
	}
	return nil
}

// pick draws one combo from the candidates.
func (m *Matcher) pick(cands []*combo.Combo) *combo.Combo {
	if len(cands) == 1 {
		return cands[0]
	}
	return cands[m.rand.Intn(len(cands))]
}

// push appends a rune and trims the buffer to its rolling bound.
func (m *Matcher) push(r rune) {
	m.buf = append(m.buf, r)
	bound := m.index.Load().MaxKeywordLen() + m.opts.BufferSlack
	if bound < m.opts.BufferSlack {
		bound = m.opts.BufferSlack
	}
	if len(m.buf) > bound {
		m.buf = m.buf[len(m.buf)-bound:]
	}
}

// trailingToken returns the maximal run of non-boundary runes ending the
// buffer. The rune before it is a boundary or the buffer start, which is
// exactly the Strict preceding-character requirement.
func (m *Matcher) trailingToken() []rune {
	start := len(m.buf)
	for start > 0 && !m.isBoundary(m.buf[start-1]) {
		start--
	}
	return m.buf[start:]
}

// isBoundary reports whether r separates tokens.
func (m *Matcher) isBoundary(r rune) bool {
	return strings.ContainsRune(m.opts.BoundaryChars, r)
}

// KeywordLen returns the rune length of a keyword; delivery erase counts
// are expressed in runes.
func KeywordLen(keyword string) int {
	return utf8.RuneCountInString(keyword)
}
