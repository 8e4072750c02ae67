package delivery

import (
	"fmt"
	"time"

	"expandd/internal/clipboard"
	"expandd/internal/snippet"
)

// DefaultPasteDelay is the settle time between staging the clipboard and
// sending the paste chord. Pasting too early reads the old content.
const DefaultPasteDelay = 80 * time.Millisecond

// tapper is the synthesized-key dependency of the concrete deliverers.
type tapper interface {
	TapBackspace() error
	TapLeft() error
	TapPaste() error
	TypeRune(r rune) error
}

// Options tune the concrete deliverers.
type Options struct {
	// PasteDelay overrides DefaultPasteDelay when positive.
	PasteDelay time.Duration

	// RestoreClipboard puts the previous clipboard content back after
	// the paste.
	RestoreClipboard bool

	// KeyInterval spaces successive synthesized keystrokes.
	KeyInterval time.Duration
}

// ClipboardPaste delivers by staging the rendered text on the clipboard
// and synthesizing the paste chord, one segment per delay point. Handles
// arbitrary unicode, at the cost of touching the clipboard.
type ClipboardPaste struct {
	board clipboard.Accessor
	keys  tapper
	opts  Options
	sleep func(time.Duration)
}

// NewClipboardPaste builds the clipboard deliverer over the platform key
// synthesizer.
func NewClipboardPaste(board clipboard.Accessor, opts Options) (*ClipboardPaste, error) {
	keys, err := newSynthesizer(opts.KeyInterval)
	if err != nil {
		return nil, err
	}
	return newClipboardPaste(board, keys, opts), nil
}

func newClipboardPaste(board clipboard.Accessor, keys tapper, opts Options) *ClipboardPaste {
	if opts.PasteDelay <= 0 {
		opts.PasteDelay = DefaultPasteDelay
	}
	return &ClipboardPaste{board: board, keys: keys, opts: opts, sleep: time.Sleep}
}

func (d *ClipboardPaste) EraseCharacters(n int) error {
	return tapN(n, d.keys.TapBackspace, "erase")
}

func (d *ClipboardPaste) Emit(text string, delays []snippet.DelayPoint) error {
	saved := ""
	restore := false
	if d.opts.RestoreClipboard {
		if prev, err := d.board.ReadText(); err == nil {
			saved, restore = prev, true
		}
	}

	for _, seg := range splitSegments(text, delays) {
		if seg.text != "" {
			if err := d.pasteSegment(seg.text); err != nil {
				return err
			}
		}
		if seg.after != nil {
			d.sleep(seg.after.Duration)
		}
	}

	if restore {
		d.sleep(d.opts.PasteDelay)
		if err := d.board.WriteText(saved); err != nil {
			return fmt.Errorf("restore clipboard: %w", err)
		}
	}
	return nil
}

func (d *ClipboardPaste) pasteSegment(text string) error {
	if err := d.board.WriteText(text); err != nil {
		return fmt.Errorf("stage clipboard: %w", err)
	}
	d.sleep(d.opts.PasteDelay)
	if err := d.keys.TapPaste(); err != nil {
		return fmt.Errorf("paste chord: %w", err)
	}
	return nil
}

func (d *ClipboardPaste) MoveCaret(back int) error {
	return tapN(back, d.keys.TapLeft, "move caret")
}
