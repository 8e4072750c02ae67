// Package input provides key event sources for the expansion engine.
//
// A Source watches the keyboard and emits keyevent.Event values; the
// engine consumes them without knowing where they came from. Two
// sources exist: the platform source reading real hardware (evdev on
// Linux) and a scripted source that replays programmed sequences for
// tests and the simulate command.
//
// Platform support:
//   - Linux: /dev/input/event* (requires the input group or root)
//   - other platforms: no system source
package input

import (
	"context"
	"errors"
	"log/slog"

	"expandd/internal/keyevent"
)

// Options configure the system key source.
type Options struct {
	// Devices lists input device paths to read. Empty means discover
	// keyboards automatically.
	Devices []string

	// Logger receives device-level warnings. Nil uses slog.Default.
	Logger *slog.Logger

	// ChannelSize is the event channel capacity. Zero means 128.
	ChannelSize int
}

// Source emits key events from somewhere: hardware or a script.
type Source interface {
	// Start begins emitting events. The source stops when ctx is
	// cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop stops the source and closes the event channel. A source is
	// single-use: once stopped it cannot be restarted.
	Stop() error

	// Events returns the event channel. It is closed by Stop.
	Events() <-chan keyevent.Event

	// Available reports whether the source can run on this platform
	// with current permissions, with a human-readable reason.
	Available() (bool, string)
}

// ErrNotAvailable is returned when no key source can run on this
// platform with the current permissions.
var ErrNotAvailable = errors.New("key source not available")

// ErrAlreadyRunning is returned when Start is called twice.
var ErrAlreadyRunning = errors.New("key source already running")

// ErrStopped is returned when a stopped source is started again.
var ErrStopped = errors.New("key source already stopped")

// NewSystem returns the key source for the current platform.
func NewSystem(opts Options) Source {
	return newSystemSource(opts)
}
