//go:build !linux

package input

import (
	"context"

	"expandd/internal/keyevent"
)

func newSystemSource(opts Options) Source {
	return &unavailableSource{events: make(chan keyevent.Event)}
}

// unavailableSource is the system source on platforms without a
// keyboard reader.
type unavailableSource struct {
	events chan keyevent.Event
}

func (u *unavailableSource) Start(ctx context.Context) error {
	return ErrNotAvailable
}

func (u *unavailableSource) Stop() error {
	return nil
}

func (u *unavailableSource) Events() <-chan keyevent.Event {
	return u.events
}

func (u *unavailableSource) Available() (bool, string) {
	return false, "no system key source on this platform"
}
