package snippet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"expandd/internal/combo"
)

// ErrInputCancelled marks an input prompt the user dismissed without a
// value. The fire is abandoned, not failed.
var ErrInputCancelled = errors.New("input cancelled")

// RenderFailure aborts a single fire: the external script failed or the
// user cancelled an input prompt. Nothing is delivered and the typed
// keyword stays on screen.
type RenderFailure struct {
	ComboID   string
	ComboName string
	Fragment  FragmentKind
	Err       error
}

func (e *RenderFailure) Error() string {
	return fmt.Sprintf("rendering %s fragment of combo %q: %v", e.Fragment, e.ComboName, e.Err)
}

func (e *RenderFailure) Unwrap() error {
	return e.Err
}

// ClipboardReader supplies the clipboard-snapshot fragment.
type ClipboardReader interface {
	ReadText() (string, error)
}

// ScriptRunner executes an external program and captures its stdout.
// Timeouts are the runner's concern.
type ScriptRunner interface {
	Run(ctx context.Context, path string, args []string) (string, error)
}

// Prompter asks the user for a value. ok is false when the prompt was
// dismissed.
type Prompter interface {
	Ask(ctx context.Context, prompt, defaultValue string) (value string, ok bool, err error)
}

// Collaborators are the narrow externals fragments draw on. Nil Clipboard
// renders empty; nil Env and Now fall back to os.Getenv and time.Now; nil
// Runner or Prompter fails any render that needs them.
type Collaborators struct {
	Clipboard ClipboardReader
	Env       func(name string) string
	Runner    ScriptRunner
	Prompter  Prompter
	Now       func() time.Time
}

// DelayPoint schedules a pause once the delivery has emitted Offset runes
// of the rendered text.
type DelayPoint struct {
	Offset   int
	Duration time.Duration
}

// Rendering is the evaluated output of one fire.
type Rendering struct {
	Text string

	// CursorOffset is the caret position in runes from the start of
	// Text, -1 when the template has no cursor marker.
	CursorOffset int

	// Delays are ordered by Offset, the order fragments appeared in.
	Delays []DelayPoint
}

// RuneLen returns the emitted text length in runes, the unit delivery
// erase and caret moves are counted in.
func (r *Rendering) RuneLen() int {
	return utf8.RuneCountInString(r.Text)
}

// Renderer evaluates parsed templates. Fragments are re-evaluated fresh
// on every call; nothing persists between renders.
type Renderer struct {
	collab Collaborators
}

// NewRenderer creates a renderer over the given collaborators.
func NewRenderer(collab Collaborators) *Renderer {
	if collab.Env == nil {
		collab.Env = os.Getenv
	}
	if collab.Now == nil {
		collab.Now = time.Now
	}
	return &Renderer{collab: collab}
}

// Render evaluates the combo's template in fragment order. A script
// failure or cancelled input aborts with *RenderFailure; every other
// fragment kind is infallible and renders empty on missing data.
func (r *Renderer) Render(ctx context.Context, c *combo.Combo) (*Rendering, error) {
	out := &Rendering{CursorOffset: -1}
	var b strings.Builder
	runes := 0
	emit := func(s string) {
		b.WriteString(s)
		runes += utf8.RuneCountInString(s)
	}

	for _, f := range Parse(c.Snippet) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch f.Kind {
		case KindLiteral:
			emit(f.Text)

		case KindDelay:
			out.Delays = append(out.Delays, DelayPoint{Offset: runes, Duration: f.Wait})

		case KindClipboard:
			if r.collab.Clipboard != nil {
				if text, err := r.collab.Clipboard.ReadText(); err == nil {
					emit(text)
				}
			}

		case KindDateTime:
			emit(formatDateTime(r.collab.Now(), f.Style, f.Pattern))

		case KindEnvVar:
			emit(r.collab.Env(f.Name))

		case KindComboName:
			emit(f.Transform.apply(c.Name))

		case KindCursor:
			if out.CursorOffset < 0 {
				out.CursorOffset = runes
			}

		case KindScript:
			if r.collab.Runner == nil {
				return nil, r.failure(c, f.Kind, errors.New("no script runner configured"))
			}
			stdout, err := r.collab.Runner.Run(ctx, f.Path, f.Args)
			if err != nil {
				return nil, r.failure(c, f.Kind, err)
			}
			emit(strings.TrimRight(stdout, "\r\n"))

		case KindInput:
			if r.collab.Prompter == nil {
				return nil, r.failure(c, f.Kind, errors.New("no prompter configured"))
			}
			value, ok, err := r.collab.Prompter.Ask(ctx, f.Prompt, f.Default)
			if err != nil {
				return nil, r.failure(c, f.Kind, err)
			}
			if !ok {
				return nil, r.failure(c, f.Kind, ErrInputCancelled)
			}
			emit(value)
		}
	}

	out.Text = b.String()
	return out, nil
}

func (r *Renderer) failure(c *combo.Combo, kind FragmentKind, err error) error {
	return &RenderFailure{ComboID: c.ID, ComboName: c.Name, Fragment: kind, Err: err}
}

func formatDateTime(t time.Time, style DateStyle, pattern string) string {
	switch style {
	case StyleDate:
		return t.Format(LayoutDate)
	case StyleTime:
		return t.Format(LayoutTime)
	case StyleCustom:
		return t.Format(pattern)
	default:
		return t.Format(LayoutDateTime)
	}
}
