// Package snippet implements the combo snippet pipeline: parsing template
// text into a fragment sequence and rendering that sequence into the final
// output text, cursor offset and delay points.
//
// Template syntax is "#{variable}" with an optional colon-separated
// payload, e.g. "hello #{envVar:USER}, it is #{time}". The parser is
// total: anything that is not a well-formed known variable stays in the
// output as literal text.
package snippet

import (
	"fmt"
	"strings"
	"time"
)

// FragmentKind identifies one variant of the fragment union.
type FragmentKind uint8

const (
	KindLiteral FragmentKind = iota
	KindDelay
	KindClipboard
	KindDateTime
	KindEnvVar
	KindComboName
	KindCursor
	KindScript
	KindInput
)

// String returns the variable name for the kind, "literal" for plain text.
func (k FragmentKind) String() string {
	switch k {
	case KindLiteral:
		return "literal"
	case KindDelay:
		return "delay"
	case KindClipboard:
		return "clipboard"
	case KindDateTime:
		return "dateTime"
	case KindEnvVar:
		return "envVar"
	case KindComboName:
		return "name"
	case KindCursor:
		return "cursor"
	case KindScript:
		return "script"
	case KindInput:
		return "input"
	default:
		return fmt.Sprintf("FragmentKind(%d)", uint8(k))
	}
}

// DateStyle selects the formatting of a date/time fragment.
type DateStyle uint8

const (
	StyleDate DateStyle = iota
	StyleTime
	StyleDateTime
	StyleCustom
)

// Layouts for the fixed date styles, in Go reference-time notation.
const (
	LayoutDate     = "2006-01-02"
	LayoutTime     = "15:04:05"
	LayoutDateTime = "2006-01-02 15:04:05"
)

// CaseTransform adjusts the combo name inserted by a name fragment.
type CaseTransform uint8

const (
	CaseAsIs CaseTransform = iota
	CaseUpper
	CaseLower
	CaseTrimmed
)

// Fragment is one unit of a parsed snippet template. Kind selects the
// variant; only the fields of that variant are meaningful.
type Fragment struct {
	Kind FragmentKind

	// Text is the literal content (KindLiteral).
	Text string

	// Wait is the pause duration (KindDelay).
	Wait time.Duration

	// Style and Pattern select date/time formatting (KindDateTime).
	// Pattern is a Go time layout, used when Style is StyleCustom.
	Style   DateStyle
	Pattern string

	// Name is the environment variable name (KindEnvVar).
	Name string

	// Transform adjusts the inserted combo name (KindComboName).
	Transform CaseTransform

	// Path and Args identify the external program (KindScript).
	Path string
	Args []string

	// Prompt and Default parameterize the user dialog (KindInput).
	Prompt  string
	Default string
}

// Literal returns a plain-text fragment.
func Literal(text string) Fragment {
	return Fragment{Kind: KindLiteral, Text: text}
}

// Delay returns a rendering pause fragment.
func Delay(d time.Duration) Fragment {
	return Fragment{Kind: KindDelay, Wait: d}
}

// Clipboard returns a clipboard-snapshot fragment.
func Clipboard() Fragment {
	return Fragment{Kind: KindClipboard}
}

// DateTime returns a formatted date/time fragment. Pattern is ignored
// unless style is StyleCustom.
func DateTime(style DateStyle, pattern string) Fragment {
	return Fragment{Kind: KindDateTime, Style: style, Pattern: pattern}
}

// EnvVar returns an environment-variable fragment.
func EnvVar(name string) Fragment {
	return Fragment{Kind: KindEnvVar, Name: name}
}

// ComboName returns a fragment inserting the firing combo's display name.
func ComboName(transform CaseTransform) Fragment {
	return Fragment{Kind: KindComboName, Transform: transform}
}

// Cursor returns the zero-width caret-placement marker.
func Cursor() Fragment {
	return Fragment{Kind: KindCursor}
}

// Script returns an external-program fragment.
func Script(path string, args []string) Fragment {
	if len(args) == 0 {
		args = nil
	}
	return Fragment{Kind: KindScript, Path: path, Args: args}
}

// Input returns a user-prompt fragment.
func Input(prompt, def string) Fragment {
	return Fragment{Kind: KindInput, Prompt: prompt, Default: def}
}

// Blocking reports whether the fragment can stall rendering on external
// activity: a subprocess, a modal prompt, or a timed pause.
func (f Fragment) Blocking() bool {
	switch f.Kind {
	case KindScript, KindInput, KindDelay:
		return true
	default:
		return false
	}
}

// apply runs the case transform over a combo name.
func (t CaseTransform) apply(name string) string {
	switch t {
	case CaseUpper:
		return strings.ToUpper(name)
	case CaseLower:
		return strings.ToLower(name)
	case CaseTrimmed:
		return strings.TrimSpace(name)
	default:
		return name
	}
}
