package delivery

import (
	"fmt"
	"time"

	"expandd/internal/snippet"
)

// Keystrokes delivers by typing the rendered text key by key. The rune
// map covers printable ASCII on a US layout; anything else fails the
// delivery, which the engine reports as recoverable.
type Keystrokes struct {
	keys  tapper
	sleep func(time.Duration)
}

// NewKeystrokes builds the key-by-key deliverer over the platform key
// synthesizer.
func NewKeystrokes(opts Options) (*Keystrokes, error) {
	keys, err := newSynthesizer(opts.KeyInterval)
	if err != nil {
		return nil, err
	}
	return newKeystrokes(keys), nil
}

func newKeystrokes(keys tapper) *Keystrokes {
	return &Keystrokes{keys: keys, sleep: time.Sleep}
}

func (d *Keystrokes) EraseCharacters(n int) error {
	return tapN(n, d.keys.TapBackspace, "erase")
}

func (d *Keystrokes) Emit(text string, delays []snippet.DelayPoint) error {
	for _, seg := range splitSegments(text, delays) {
		for _, r := range seg.text {
			if err := d.keys.TypeRune(r); err != nil {
				return fmt.Errorf("type text: %w", err)
			}
		}
		if seg.after != nil {
			d.sleep(seg.after.Duration)
		}
	}
	return nil
}

func (d *Keystrokes) MoveCaret(back int) error {
	return tapN(back, d.keys.TapLeft, "move caret")
}
