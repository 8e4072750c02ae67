// Package keyevent defines the key event and shortcut values shared by the
// key sources, the matcher and the engine.
package keyevent

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Kind classifies a key event for the matcher.
type Kind uint8

const (
	// KindChar is a printable character key.
	KindChar Kind = iota

	// KindBackspace removes the previously typed character.
	KindBackspace

	// KindEnter is the Enter/Return key.
	KindEnter

	// KindTab is the Tab key.
	KindTab

	// KindFocusChange signals that the focused application changed.
	// It carries no key; the matcher flushes its buffer.
	KindFocusChange

	// KindOther is any key the matcher has no use for (arrows, function
	// keys, Escape). The typing context may have moved, so the matcher
	// treats it as a buffer reset.
	KindOther
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindChar:
		return "char"
	case KindBackspace:
		return "backspace"
	case KindEnter:
		return "enter"
	case KindTab:
		return "tab"
	case KindFocusChange:
		return "focus-change"
	default:
		return "other"
	}
}

// Event represents a single key press observed by a key source.
type Event struct {
	// Kind identifies the event class.
	Kind Kind

	// Rune is the character for KindChar events.
	Rune rune

	// Modifiers contains the active modifier keys.
	Modifiers Modifier

	// Timestamp is when the event occurred.
	Timestamp time.Time

	// App is an optional hint naming the focused application.
	App string
}

// NewChar creates a character event with the current timestamp.
func NewChar(r rune, mods Modifier) Event {
	return Event{
		Kind:      KindChar,
		Rune:      r,
		Modifiers: mods,
		Timestamp: time.Now(),
	}
}

// NewKey creates a non-character event with the current timestamp.
func NewKey(kind Kind, mods Modifier) Event {
	return Event{
		Kind:      kind,
		Modifiers: mods,
		Timestamp: time.Now(),
	}
}

// NewFocusChange creates a focus-change event for the named application.
func NewFocusChange(app string) Event {
	return Event{
		Kind:      KindFocusChange,
		Timestamp: time.Now(),
		App:       app,
	}
}

// IsChar returns true if this is a printable character event.
func (e Event) IsChar() bool {
	return e.Kind == KindChar && e.Rune != 0 && unicode.IsPrint(e.Rune)
}

// IsModified returns true if a caret-moving modifier is pressed.
// Shift alone is not considered modified for character events, since
// Shift changes the character itself.
func (e Event) IsModified() bool {
	if e.Kind == KindChar {
		return e.Modifiers&(ModCtrl|ModAlt|ModMeta) != 0
	}
	return !e.Modifiers.IsEmpty()
}

// Equals returns true if two events represent the same key press.
// Timestamps and app hints are not compared.
func (e Event) Equals(other Event) bool {
	return e.Kind == other.Kind &&
		e.Rune == other.Rune &&
		e.Modifiers == other.Modifiers
}

// String returns a canonical representation like "a", "ctrl+alt+shift+b"
// or "enter".
func (e Event) String() string {
	var keyName string
	switch e.Kind {
	case KindChar:
		if e.Rune == ' ' {
			keyName = "space"
		} else {
			keyName = string(e.Rune)
		}
	default:
		keyName = e.Kind.String()
	}

	if mods := e.Modifiers.String(); mods != "" {
		return mods + "+" + keyName
	}
	return keyName
}

// GoString implements fmt.GoStringer for debugging.
func (e Event) GoString() string {
	return fmt.Sprintf("Event{Kind: %s, Rune: %q, Modifiers: %s}",
		e.Kind.String(), e.Rune, e.Modifiers.String())
}

// normalizeKeyName lowers a key name for comparisons.
func normalizeKeyName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
