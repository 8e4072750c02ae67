package input

import (
	"context"
	"sync"

	"expandd/internal/keyevent"
)

// Scripted is a key source fed from code instead of hardware. It backs
// the simulate command and the engine tests.
//
// Events queued before Start are buffered and delivered once a
// consumer reads the channel. The buffer holds scriptedBufferSize
// events; feeding more than that without a consumer blocks.
type Scripted struct {
	mu      sync.Mutex
	running bool
	stopped bool
	events  chan keyevent.Event
}

const scriptedBufferSize = 256

// NewScripted creates a scripted source.
func NewScripted() *Scripted {
	return &Scripted{
		events: make(chan keyevent.Event, scriptedBufferSize),
	}
}

// Start implements Source.
func (s *Scripted) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.running {
		return ErrAlreadyRunning
	}
	s.running = true
	return nil
}

// Stop implements Source.
func (s *Scripted) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	s.running = false
	close(s.events)
	return nil
}

// Events implements Source.
func (s *Scripted) Events() <-chan keyevent.Event {
	return s.events
}

// Available implements Source.
func (s *Scripted) Available() (bool, string) {
	return true, "scripted source"
}

// Emit queues one event. Events emitted after Stop are discarded.
func (s *Scripted) Emit(ev keyevent.Event) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.events <- ev
}

// Type queues the characters of text as individual key events.
// Newline becomes Enter and tab becomes Tab, as a keyboard would
// produce them.
func (s *Scripted) Type(text string) {
	for _, r := range text {
		switch r {
		case '\n':
			s.Emit(keyevent.NewKey(keyevent.KindEnter, keyevent.ModNone))
		case '\t':
			s.Emit(keyevent.NewKey(keyevent.KindTab, keyevent.ModNone))
		default:
			s.Emit(keyevent.NewChar(r, keyevent.ModNone))
		}
	}
}

// Backspace queues n backspace presses.
func (s *Scripted) Backspace(n int) {
	for i := 0; i < n; i++ {
		s.Emit(keyevent.NewKey(keyevent.KindBackspace, keyevent.ModNone))
	}
}

// Key queues a single non-character key.
func (s *Scripted) Key(kind keyevent.Kind) {
	s.Emit(keyevent.NewKey(kind, keyevent.ModNone))
}

// Chord queues the key event a shortcut chord produces.
func (s *Scripted) Chord(sc keyevent.Shortcut) {
	s.Emit(keyevent.NewChar(sc.Key, sc.Modifiers))
}

// FocusChange queues a focus change to the named application.
func (s *Scripted) FocusChange(app string) {
	s.Emit(keyevent.NewFocusChange(app))
}
