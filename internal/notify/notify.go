// Package notify surfaces expansion failures on the desktop. Failures
// are the one thing a daemon without a window must tell the user about;
// successful fires stay silent apart from the optional sound.
package notify

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/beeep"
	"github.com/godbus/dbus/v5"
)

// Notifier is the engine's notification sink.
type Notifier interface {
	// ExpansionFailed reports a combo whose rendering or delivery failed.
	ExpansionFailed(comboName string, err error)

	// FireSound marks a successful fire audibly.
	FireSound()
}

// Nop discards all notifications.
type Nop struct{}

func (Nop) ExpansionFailed(string, error) {}
func (Nop) FireSound()                    {}

// Failure is one recorded ExpansionFailed call.
type Failure struct {
	ComboName string
	Err       error
}

// Recorder captures notifications for tests.
type Recorder struct {
	mu       sync.Mutex
	failures []Failure
	sounds   int
}

func (r *Recorder) ExpansionFailed(comboName string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, Failure{ComboName: comboName, Err: err})
}

func (r *Recorder) FireSound() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sounds++
}

// Failures returns the recorded failures in order.
func (r *Recorder) Failures() []Failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Failure(nil), r.failures...)
}

// Sounds returns how many times FireSound was called.
func (r *Recorder) Sounds() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sounds
}

const (
	notifyBusName = "org.freedesktop.Notifications"
	notifyObjPath = dbus.ObjectPath("/org/freedesktop/Notifications")
	notifyMethod  = "org.freedesktop.Notifications.Notify"

	appName   = "expandd"
	timeoutMs = int32(5000)
)

// Options configure a Desktop notifier.
type Options struct {
	// Desktop posts a desktop notification on expansion failure.
	Desktop bool

	// SoundOnFire beeps on every successful fire.
	SoundOnFire bool
}

// Desktop posts notifications via org.freedesktop.Notifications on the
// session bus, falling back to beeep when no bus is reachable.
type Desktop struct {
	opts   Options
	logger *slog.Logger

	mu   sync.Mutex
	conn *dbus.Conn
}

// NewDesktop creates a desktop notifier. The session bus is dialed on
// first use, not here, so a headless start does not fail.
func NewDesktop(opts Options, logger *slog.Logger) *Desktop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Desktop{opts: opts, logger: logger}
}

// ExpansionFailed implements Notifier.
func (d *Desktop) ExpansionFailed(comboName string, err error) {
	if !d.opts.Desktop {
		return
	}

	summary := "Text expansion failed"
	body := fmt.Sprintf("Combo %q: %v", comboName, err)

	if dbusErr := d.post(summary, body); dbusErr != nil {
		d.logger.Debug("dbus notification failed, using fallback", "error", dbusErr)
		if beepErr := beeep.Notify(appName, body, ""); beepErr != nil {
			d.logger.Warn("desktop notification failed", "combo", comboName, "error", beepErr)
		}
	}
}

// FireSound implements Notifier.
func (d *Desktop) FireSound() {
	if !d.opts.SoundOnFire {
		return
	}
	if err := beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration); err != nil {
		d.logger.Debug("fire sound failed", "error", err)
	}
}

// Close releases the bus connection.
func (d *Desktop) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}

func (d *Desktop) post(summary, body string) error {
	conn, err := d.session()
	if err != nil {
		return err
	}

	hints := map[string]dbus.Variant{
		// Failures should outlive the popup timeout queue.
		"urgency": dbus.MakeVariant(byte(2)),
	}
	call := conn.Object(notifyBusName, notifyObjPath).Call(notifyMethod, 0,
		appName,
		uint32(0), // not replacing an earlier notification
		"",        // no icon
		summary,
		body,
		[]string{}, // no actions
		hints,
		timeoutMs,
	)
	return call.Err
}

func (d *Desktop) session() (*dbus.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		return d.conn, nil
	}
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	d.conn = conn
	return conn, nil
}
