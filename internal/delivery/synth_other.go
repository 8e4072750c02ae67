//go:build !linux || !cgo

package delivery

import (
	"errors"
	"time"
)

// ErrUnsupported is returned when key synthesis is unavailable on this
// platform. The recording deliverer still works everywhere.
var ErrUnsupported = errors.New("key synthesis not supported on this platform")

type synthesizer struct{}

func newSynthesizer(time.Duration) (*synthesizer, error) {
	return nil, ErrUnsupported
}

func (s *synthesizer) TapBackspace() error { return ErrUnsupported }
func (s *synthesizer) TapLeft() error      { return ErrUnsupported }
func (s *synthesizer) TapPaste() error     { return ErrUnsupported }
func (s *synthesizer) TypeRune(rune) error { return ErrUnsupported }
