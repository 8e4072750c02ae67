//go:build linux

package input

import (
	"unicode"

	"expandd/internal/keyevent"
)

// Linux key codes from input-event-codes.h, limited to what a text
// expander needs on a US layout.
const (
	codeEsc        = 1
	codeBackspace  = 14
	codeTab        = 15
	codeEnter      = 28
	codeLeftCtrl   = 29
	codeLeftShift  = 42
	codeRightShift = 54
	codeLeftAlt    = 56
	codeSpace      = 57
	codeCapsLock   = 58
	codeNumLock    = 69
	codeScrollLock = 70
	codeKPEnter    = 96
	codeRightCtrl  = 97
	codeRightAlt   = 100
	codeLeftMeta   = 125
	codeRightMeta  = 126
)

type keysym struct {
	base    rune
	shifted rune
}

// usKeymap maps key codes to their US-layout characters.
var usKeymap = map[uint16]keysym{
	2:  {'1', '!'},
	3:  {'2', '@'},
	4:  {'3', '#'},
	5:  {'4', '$'},
	6:  {'5', '%'},
	7:  {'6', '^'},
	8:  {'7', '&'},
	9:  {'8', '*'},
	10: {'9', '('},
	11: {'0', ')'},
	12: {'-', '_'},
	13: {'=', '+'},
	16: {'q', 'Q'},
	17: {'w', 'W'},
	18: {'e', 'E'},
	19: {'r', 'R'},
	20: {'t', 'T'},
	21: {'y', 'Y'},
	22: {'u', 'U'},
	23: {'i', 'I'},
	24: {'o', 'O'},
	25: {'p', 'P'},
	26: {'[', '{'},
	27: {']', '}'},
	30: {'a', 'A'},
	31: {'s', 'S'},
	32: {'d', 'D'},
	33: {'f', 'F'},
	34: {'g', 'G'},
	35: {'h', 'H'},
	36: {'j', 'J'},
	37: {'k', 'K'},
	38: {'l', 'L'},
	39: {';', ':'},
	40: {'\'', '"'},
	41: {'`', '~'},
	43: {'\\', '|'},
	44: {'z', 'Z'},
	45: {'x', 'X'},
	46: {'c', 'C'},
	47: {'v', 'V'},
	48: {'b', 'B'},
	49: {'n', 'N'},
	50: {'m', 'M'},
	51: {',', '<'},
	52: {'.', '>'},
	53: {'/', '?'},
	55: {'*', '*'}, // keypad asterisk
	57: {' ', ' '},
	71: {'7', '7'},
	72: {'8', '8'},
	73: {'9', '9'},
	74: {'-', '-'},
	75: {'4', '4'},
	76: {'5', '5'},
	77: {'6', '6'},
	78: {'+', '+'},
	79: {'1', '1'},
	80: {'2', '2'},
	81: {'3', '3'},
	82: {'0', '0'},
	83: {'.', '.'},
	98: {'/', '/'}, // keypad slash
}

// translate maps a key code to its character under the current shift
// and caps-lock state. Caps lock only inverts letters.
func translate(code uint16, shift, caps bool) (rune, bool) {
	sym, ok := usKeymap[code]
	if !ok {
		return 0, false
	}
	upper := shift
	if caps && unicode.IsLetter(sym.base) {
		upper = !upper
	}
	if upper {
		return sym.shifted, true
	}
	return sym.base, true
}

// modState tracks the modifier keys of one device.
type modState struct {
	shiftL, shiftR bool
	ctrlL, ctrlR   bool
	altL, altR     bool
	metaL, metaR   bool
	caps           bool
}

func (s *modState) modifiers() keyevent.Modifier {
	var m keyevent.Modifier
	if s.shiftL || s.shiftR {
		m = m.With(keyevent.ModShift)
	}
	if s.ctrlL || s.ctrlR {
		m = m.With(keyevent.ModCtrl)
	}
	if s.altL || s.altR {
		m = m.With(keyevent.ModAlt)
	}
	if s.metaL || s.metaR {
		m = m.With(keyevent.ModMeta)
	}
	return m
}

// apply consumes one raw key event and returns the engine event it
// maps to, if any. Modifier keys and releases update state silently;
// auto-repeat counts as another press.
func (s *modState) apply(code uint16, value int32) (keyevent.Event, bool) {
	held := value != keyRelease

	switch code {
	case codeLeftShift:
		s.shiftL = held
		return keyevent.Event{}, false
	case codeRightShift:
		s.shiftR = held
		return keyevent.Event{}, false
	case codeLeftCtrl:
		s.ctrlL = held
		return keyevent.Event{}, false
	case codeRightCtrl:
		s.ctrlR = held
		return keyevent.Event{}, false
	case codeLeftAlt:
		s.altL = held
		return keyevent.Event{}, false
	case codeRightAlt:
		s.altR = held
		return keyevent.Event{}, false
	case codeLeftMeta:
		s.metaL = held
		return keyevent.Event{}, false
	case codeRightMeta:
		s.metaR = held
		return keyevent.Event{}, false
	case codeCapsLock:
		if value == keyPress {
			s.caps = !s.caps
		}
		return keyevent.Event{}, false
	case codeNumLock, codeScrollLock:
		return keyevent.Event{}, false
	}

	if value == keyRelease {
		return keyevent.Event{}, false
	}

	mods := s.modifiers()
	switch code {
	case codeBackspace:
		return keyevent.NewKey(keyevent.KindBackspace, mods), true
	case codeEnter, codeKPEnter:
		return keyevent.NewKey(keyevent.KindEnter, mods), true
	case codeTab:
		return keyevent.NewKey(keyevent.KindTab, mods), true
	}

	if r, ok := translate(code, s.shiftL || s.shiftR, s.caps); ok {
		return keyevent.NewChar(r, mods), true
	}

	// Arrows, function keys, Escape: the caret may have moved.
	return keyevent.NewKey(keyevent.KindOther, mods), true
}
