// Package delivery performs the text replacement in the foreground
// application: erasing the typed keyword, emitting the rendered snippet
// and placing the caret.
package delivery

import (
	"fmt"
	"sync"

	"expandd/internal/clipboard"
	"expandd/internal/snippet"
)

// Method selects the substitution mechanism.
type Method string

const (
	// MethodClipboard pastes the rendered text via the clipboard and a
	// synthesized paste chord. Robust for unicode and large snippets.
	MethodClipboard Method = "clipboard"

	// MethodKeystrokes types the rendered text key by key. ASCII only,
	// but leaves the clipboard untouched.
	MethodKeystrokes Method = "keystrokes"
)

// Valid reports whether m names a known method.
func (m Method) Valid() bool {
	return m == MethodClipboard || m == MethodKeystrokes
}

// Deliverer applies one fire to the foreground application. Failures are
// recoverable: the engine logs them and abandons the fire.
type Deliverer interface {
	// EraseCharacters removes the last n typed characters.
	EraseCharacters(n int) error

	// Emit inserts text, pausing at each delay point in order.
	Emit(text string, delays []snippet.DelayPoint) error

	// MoveCaret moves the input caret left by back positions.
	MoveCaret(back int) error
}

// New builds the deliverer for the configured method.
func New(method Method, board clipboard.Accessor, opts Options) (Deliverer, error) {
	switch method {
	case MethodClipboard:
		return NewClipboardPaste(board, opts)
	case MethodKeystrokes:
		return NewKeystrokes(opts)
	default:
		return nil, fmt.Errorf("unknown delivery method %q", method)
	}
}

// OpKind tags one recorded delivery operation.
type OpKind string

const (
	OpErase     OpKind = "erase"
	OpEmit      OpKind = "emit"
	OpMoveCaret OpKind = "move_caret"
)

// RecordedOp is one operation captured by a Recorder.
type RecordedOp struct {
	Kind   OpKind
	Count  int
	Text   string
	Delays []snippet.DelayPoint
}

// Recorder is a deliverer that captures the operation sequence instead of
// touching the system. Tests and the simulate command use it.
type Recorder struct {
	mu  sync.Mutex
	ops []RecordedOp

	// Fail, when set, is returned from every operation.
	Fail error
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) EraseCharacters(n int) error {
	if r.Fail != nil {
		return r.Fail
	}
	r.record(RecordedOp{Kind: OpErase, Count: n})
	return nil
}

func (r *Recorder) Emit(text string, delays []snippet.DelayPoint) error {
	if r.Fail != nil {
		return r.Fail
	}
	r.record(RecordedOp{Kind: OpEmit, Text: text, Delays: delays})
	return nil
}

func (r *Recorder) MoveCaret(back int) error {
	if r.Fail != nil {
		return r.Fail
	}
	r.record(RecordedOp{Kind: OpMoveCaret, Count: back})
	return nil
}

// Operations returns a copy of the captured sequence.
func (r *Recorder) Operations() []RecordedOp {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecordedOp, len(r.ops))
	copy(out, r.ops)
	return out
}

// Reset drops the captured sequence.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = nil
}

func (r *Recorder) record(op RecordedOp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
}

// tapN repeats one synthesized key press n times.
func tapN(n int, tap func() error, verb string) error {
	for i := 0; i < n; i++ {
		if err := tap(); err != nil {
			return fmt.Errorf("%s: %w", verb, err)
		}
	}
	return nil
}

// segments splits text at the delay offsets, which are expressed in runes
// and ordered. Both deliverers emit segment by segment, sleeping between.
type segment struct {
	text  string
	after *snippet.DelayPoint
}

func splitSegments(text string, delays []snippet.DelayPoint) []segment {
	runes := []rune(text)
	var segs []segment
	prev := 0
	for i := range delays {
		d := delays[i]
		off := d.Offset
		if off < prev {
			off = prev
		}
		if off > len(runes) {
			off = len(runes)
		}
		segs = append(segs, segment{text: string(runes[prev:off]), after: &d})
		prev = off
	}
	segs = append(segs, segment{text: string(runes[prev:])})
	return segs
}
