package keyevent

import (
	"testing"
)

func TestEventIsChar(t *testing.T) {
	tests := []struct {
		name     string
		event    Event
		expected bool
	}{
		{"letter", NewChar('a', ModNone), true},
		{"digit", NewChar('7', ModNone), true},
		{"space", NewChar(' ', ModNone), true},
		{"unicode", NewChar('é', ModNone), true},
		{"shifted letter", NewChar('A', ModShift), true},
		{"zero rune", Event{Kind: KindChar}, false},
		{"control rune", NewChar('\x07', ModNone), false},
		{"backspace", NewKey(KindBackspace, ModNone), false},
		{"enter", NewKey(KindEnter, ModNone), false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := test.event.IsChar(); got != test.expected {
				t.Errorf("IsChar() = %v, expected %v", got, test.expected)
			}
		})
	}
}

func TestEventIsModified(t *testing.T) {
	if NewChar('a', ModShift).IsModified() {
		t.Error("shift alone should not count as modified for chars")
	}
	if !NewChar('a', ModCtrl).IsModified() {
		t.Error("ctrl+a should be modified")
	}
	if !NewKey(KindEnter, ModShift).IsModified() {
		t.Error("shift+enter should be modified")
	}
	if NewKey(KindEnter, ModNone).IsModified() {
		t.Error("plain enter should not be modified")
	}
}

func TestEventString(t *testing.T) {
	tests := []struct {
		event    Event
		expected string
	}{
		{NewChar('a', ModNone), "a"},
		{NewChar(' ', ModNone), "space"},
		{NewChar('b', ModCtrl|ModAlt|ModShift), "ctrl+alt+shift+b"},
		{NewKey(KindEnter, ModNone), "enter"},
		{NewKey(KindBackspace, ModNone), "backspace"},
	}

	for _, test := range tests {
		if got := test.event.String(); got != test.expected {
			t.Errorf("String() = %q, expected %q", got, test.expected)
		}
	}
}

func TestParseShortcut(t *testing.T) {
	tests := []struct {
		input    string
		expected Shortcut
		wantErr  bool
	}{
		{"ctrl+alt+shift+b", Shortcut{Modifiers: ModCtrl | ModAlt | ModShift, Key: 'B'}, false},
		{"Ctrl+Shift+X", Shortcut{Modifiers: ModCtrl | ModShift, Key: 'X'}, false},
		{"meta+e", Shortcut{Modifiers: ModMeta, Key: 'E'}, false},
		{"ctrl+1", Shortcut{Modifiers: ModCtrl, Key: '1'}, false},
		{"shift+b", Shortcut{}, true}, // shift alone cannot anchor a global chord
		{"b", Shortcut{}, true},
		{"", Shortcut{}, true},
		{"ctrl+enter+b", Shortcut{}, true},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			sc, err := ParseShortcut(test.input)
			if test.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", test.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if sc.Modifiers != test.expected.Modifiers || sc.Key != test.expected.Key {
				t.Errorf("got %+v, expected %+v", sc, test.expected)
			}
		})
	}
}

func TestShortcutRoundTrip(t *testing.T) {
	sc, err := ParseShortcut(DefaultTriggerShortcut.String())
	if err != nil {
		t.Fatalf("parse default shortcut: %v", err)
	}
	if sc.Modifiers != DefaultTriggerShortcut.Modifiers || sc.Key != DefaultTriggerShortcut.Key {
		t.Errorf("round trip mismatch: %+v vs %+v", sc, DefaultTriggerShortcut)
	}
}

func TestShortcutMatches(t *testing.T) {
	sc := DefaultTriggerShortcut

	if !sc.Matches(NewChar('b', ModCtrl|ModAlt|ModShift)) {
		t.Error("lower-case rune with full chord should match")
	}
	if !sc.Matches(NewChar('B', ModCtrl|ModAlt|ModShift)) {
		t.Error("upper-case rune with full chord should match")
	}
	if sc.Matches(NewChar('b', ModCtrl|ModAlt)) {
		t.Error("missing shift should not match")
	}
	if sc.Matches(NewChar('c', ModCtrl|ModAlt|ModShift)) {
		t.Error("wrong key should not match")
	}
	if sc.Matches(NewKey(KindEnter, ModCtrl|ModAlt|ModShift)) {
		t.Error("non-char event should not match")
	}
	if (Shortcut{}).Matches(NewChar('b', ModNone)) {
		t.Error("zero shortcut should match nothing")
	}
}
