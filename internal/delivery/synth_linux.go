//go:build linux && cgo

package delivery

import (
	"fmt"
	"time"

	"github.com/micmonay/keybd_event"
)

// synthesizer taps keys through uinput. One instance is created per
// deliverer and reused; opening uinput per keystroke is too slow.
type synthesizer struct {
	kb       keybd_event.KeyBonding
	interval time.Duration
}

func newSynthesizer(interval time.Duration) (*synthesizer, error) {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return nil, fmt.Errorf("open key synthesizer: %w", err)
	}
	return &synthesizer{kb: kb, interval: interval}, nil
}

// tap presses and releases one key. Every modifier is set explicitly so
// state never leaks between taps.
func (s *synthesizer) tap(vk int, shift, ctrl bool) error {
	s.kb.SetKeys(vk)
	s.kb.HasSHIFT(shift)
	s.kb.HasCTRL(ctrl)
	if err := s.kb.Launching(); err != nil {
		return fmt.Errorf("synthesize key: %w", err)
	}
	if s.interval > 0 {
		time.Sleep(s.interval)
	}
	return nil
}

func (s *synthesizer) TapBackspace() error {
	return s.tap(keybd_event.VK_BACKSPACE, false, false)
}

func (s *synthesizer) TapLeft() error {
	return s.tap(keybd_event.VK_LEFT, false, false)
}

func (s *synthesizer) TapPaste() error {
	return s.tap(keybd_event.VK_V, false, true)
}

func (s *synthesizer) TypeRune(r rune) error {
	ks, ok := runeStrokes[r]
	if !ok {
		return fmt.Errorf("no key mapping for %q", r)
	}
	return s.tap(ks.vk, ks.shift, false)
}

type keyStroke struct {
	vk    int
	shift bool
}

// runeStrokes maps printable ASCII (plus newline and tab) to US-layout
// key taps.
var runeStrokes = buildRuneStrokes()

func buildRuneStrokes() map[rune]keyStroke {
	m := map[rune]keyStroke{
		' ':  {keybd_event.VK_SPACE, false},
		'\n': {keybd_event.VK_ENTER, false},
		'\t': {keybd_event.VK_TAB, false},

		'-':  {keybd_event.VK_MINUS, false},
		'=':  {keybd_event.VK_EQUAL, false},
		'[':  {keybd_event.VK_LEFTBRACE, false},
		']':  {keybd_event.VK_RIGHTBRACE, false},
		';':  {keybd_event.VK_SEMICOLON, false},
		'\'': {keybd_event.VK_APOSTROPHE, false},
		'`':  {keybd_event.VK_GRAVE, false},
		'\\': {keybd_event.VK_BACKSLASH, false},
		',':  {keybd_event.VK_COMMA, false},
		'.':  {keybd_event.VK_DOT, false},
		'/':  {keybd_event.VK_SLASH, false},

		'_': {keybd_event.VK_MINUS, true},
		'+': {keybd_event.VK_EQUAL, true},
		'{': {keybd_event.VK_LEFTBRACE, true},
		'}': {keybd_event.VK_RIGHTBRACE, true},
		':': {keybd_event.VK_SEMICOLON, true},
		'"': {keybd_event.VK_APOSTROPHE, true},
		'~': {keybd_event.VK_GRAVE, true},
		'|': {keybd_event.VK_BACKSLASH, true},
		'<': {keybd_event.VK_COMMA, true},
		'>': {keybd_event.VK_DOT, true},
		'?': {keybd_event.VK_SLASH, true},

		'!': {keybd_event.VK_1, true},
		'@': {keybd_event.VK_2, true},
		'#': {keybd_event.VK_3, true},
		'$': {keybd_event.VK_4, true},
		'%': {keybd_event.VK_5, true},
		'^': {keybd_event.VK_6, true},
		'&': {keybd_event.VK_7, true},
		'*': {keybd_event.VK_8, true},
		'(': {keybd_event.VK_9, true},
		')': {keybd_event.VK_0, true},
	}

	letters := []int{
		keybd_event.VK_A, keybd_event.VK_B, keybd_event.VK_C, keybd_event.VK_D,
		keybd_event.VK_E, keybd_event.VK_F, keybd_event.VK_G, keybd_event.VK_H,
		keybd_event.VK_I, keybd_event.VK_J, keybd_event.VK_K, keybd_event.VK_L,
		keybd_event.VK_M, keybd_event.VK_N, keybd_event.VK_O, keybd_event.VK_P,
		keybd_event.VK_Q, keybd_event.VK_R, keybd_event.VK_S, keybd_event.VK_T,
		keybd_event.VK_U, keybd_event.VK_V, keybd_event.VK_W, keybd_event.VK_X,
		keybd_event.VK_Y, keybd_event.VK_Z,
	}
	for i, vk := range letters {
		m[rune('a'+i)] = keyStroke{vk, false}
		m[rune('A'+i)] = keyStroke{vk, true}
	}

	digits := []int{
		keybd_event.VK_0, keybd_event.VK_1, keybd_event.VK_2, keybd_event.VK_3,
		keybd_event.VK_4, keybd_event.VK_5, keybd_event.VK_6, keybd_event.VK_7,
		keybd_event.VK_8, keybd_event.VK_9,
	}
	for i, vk := range digits {
		m[rune('0'+i)] = keyStroke{vk, false}
	}

	return m
}
