package notify

import (
	"errors"
	"io"
	"log/slog"
	"testing"
)

var (
	_ Notifier = Nop{}
	_ Notifier = (*Desktop)(nil)
	_ Notifier = (*Recorder)(nil)
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDisabledDesktopNeverDialsBus(t *testing.T) {
	d := NewDesktop(Options{Desktop: false, SoundOnFire: false}, quietLogger())
	defer d.Close()

	d.ExpansionFailed("email", errors.New("script timed out"))
	d.FireSound()

	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn != nil {
		t.Fatal("disabled notifier opened a bus connection")
	}
}

func TestCloseWithoutConnection(t *testing.T) {
	d := NewDesktop(Options{Desktop: true}, quietLogger())
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestRecorder(t *testing.T) {
	rec := &Recorder{}

	rec.ExpansionFailed("sig", errors.New("clipboard unavailable"))
	rec.ExpansionFailed("addr", errors.New("cancelled"))
	rec.FireSound()
	rec.FireSound()
	rec.FireSound()

	failures := rec.Failures()
	if len(failures) != 2 {
		t.Fatalf("failures = %d, want 2", len(failures))
	}
	if failures[0].ComboName != "sig" || failures[1].ComboName != "addr" {
		t.Fatalf("failure order = %q, %q", failures[0].ComboName, failures[1].ComboName)
	}
	if failures[0].Err.Error() != "clipboard unavailable" {
		t.Fatalf("failure error = %q", failures[0].Err)
	}
	if got := rec.Sounds(); got != 3 {
		t.Fatalf("sounds = %d, want 3", got)
	}
}

func TestRecorderCopiesFailures(t *testing.T) {
	rec := &Recorder{}
	rec.ExpansionFailed("a", errors.New("x"))

	first := rec.Failures()
	rec.ExpansionFailed("b", errors.New("y"))

	if len(first) != 1 {
		t.Fatalf("earlier snapshot grew to %d entries", len(first))
	}
}
