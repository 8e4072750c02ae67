package keyevent

import (
	"fmt"
	"strings"
	"unicode"
)

// Shortcut is an immutable key combination used for the manual trigger.
// The scan code is informational; matching uses the modifier set and the
// key rune.
type Shortcut struct {
	// Modifiers is the required modifier set.
	Modifiers Modifier

	// Key is the triggering key, canonically upper-cased for letters.
	Key rune

	// ScanCode is the platform scan code of the key, when known.
	ScanCode uint32
}

// DefaultTriggerShortcut is the manual substitution chord.
var DefaultTriggerShortcut = Shortcut{
	Modifiers: ModCtrl | ModAlt | ModShift,
	Key:       'B',
	ScanCode:  48,
}

// ParseShortcut parses a chord like "ctrl+alt+shift+b".
// The last segment is the key; everything before must name modifiers.
func ParseShortcut(s string) (Shortcut, error) {
	parts := strings.Split(s, "+")
	if len(parts) == 0 || strings.TrimSpace(s) == "" {
		return Shortcut{}, fmt.Errorf("empty shortcut")
	}

	var sc Shortcut
	for i, part := range parts {
		name := normalizeKeyName(part)
		if i == len(parts)-1 {
			runes := []rune(name)
			if len(runes) != 1 {
				return Shortcut{}, fmt.Errorf("shortcut key %q must be a single character", part)
			}
			sc.Key = unicode.ToUpper(runes[0])
			continue
		}
		mod := ModifierFromName(name)
		if mod == ModNone {
			return Shortcut{}, fmt.Errorf("unknown modifier %q in shortcut %q", part, s)
		}
		sc.Modifiers = sc.Modifiers.With(mod)
	}

	if sc.Modifiers&(ModCtrl|ModAlt|ModMeta) == 0 {
		return Shortcut{}, fmt.Errorf("shortcut %q needs at least one of ctrl, alt or meta", s)
	}
	return sc, nil
}

// String returns the canonical chord notation, e.g. "ctrl+alt+shift+b".
func (s Shortcut) String() string {
	key := string(unicode.ToLower(s.Key))
	if mods := s.Modifiers.String(); mods != "" {
		return mods + "+" + key
	}
	return key
}

// IsZero reports whether the shortcut is unset.
func (s Shortcut) IsZero() bool {
	return s.Key == 0 && s.Modifiers == ModNone
}

// Matches reports whether a key event invokes this shortcut.
// Letter comparison ignores case: the Shift in the chord already forces
// the upper-case variant on most layouts.
func (s Shortcut) Matches(e Event) bool {
	if s.IsZero() || e.Kind != KindChar {
		return false
	}
	if e.Modifiers != s.Modifiers {
		return false
	}
	return unicode.ToUpper(e.Rune) == unicode.ToUpper(s.Key)
}
