//go:build linux

package input

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"expandd/internal/keyevent"
)

func newSystemSource(opts Options) Source {
	return NewEvdev(opts)
}

// Evdev reads key events from the Linux input subsystem. Every
// discovered keyboard gets its own reader goroutine; all of them feed
// one event channel.
type Evdev struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	stopped bool
	events  chan keyevent.Event
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewEvdev creates an evdev key source.
func NewEvdev(opts Options) *Evdev {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	size := opts.ChannelSize
	if size <= 0 {
		size = 128
	}
	return &Evdev{
		opts:   opts,
		logger: logger,
		events: make(chan keyevent.Event, size),
		done:   make(chan struct{}),
	}
}

// Available implements Source.
func (e *Evdev) Available() (bool, string) {
	devices := e.opts.Devices
	if len(devices) == 0 {
		found, err := findKeyboardDevices()
		if err != nil {
			return false, fmt.Sprintf("cannot find keyboard devices: %v", err)
		}
		devices = found
	}
	if len(devices) == 0 {
		return false, "no keyboard devices found"
	}

	for _, dev := range devices {
		fd, err := unix.Open(dev, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if err == nil {
			unix.Close(fd)
			return true, fmt.Sprintf("found keyboard device: %s", dev)
		}
	}

	return false, "cannot read keyboard devices (need to be in the 'input' group or run as root)"
}

// Start implements Source.
func (e *Evdev) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return ErrStopped
	}
	if e.running {
		return ErrAlreadyRunning
	}

	devices := e.opts.Devices
	if len(devices) == 0 {
		found, err := findKeyboardDevices()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNotAvailable, err)
		}
		devices = found
	}
	if len(devices) == 0 {
		return ErrNotAvailable
	}

	opened := 0
	for _, dev := range devices {
		fd, err := unix.Open(dev, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if err != nil {
			e.logger.Warn("cannot open input device", "device", dev, "error", err)
			continue
		}
		opened++
		e.wg.Add(1)
		go e.readLoop(ctx, fd, dev)
	}
	if opened == 0 {
		return ErrNotAvailable
	}

	e.logger.Info("key source started", "devices", opened)
	e.running = true
	return nil
}

// Stop implements Source.
func (e *Evdev) Stop() error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	e.running = false
	close(e.done)
	e.mu.Unlock()

	e.wg.Wait()
	close(e.events)
	return nil
}

// Events implements Source.
func (e *Evdev) Events() <-chan keyevent.Event {
	return e.events
}

// input_event on 64-bit Linux: 16 bytes of timeval, then type, code
// and value.
const eventSize = 24

const (
	evKey      = 1
	keyRelease = 0
	keyPress   = 1
	keyRepeat  = 2
)

func (e *Evdev) readLoop(ctx context.Context, fd int, dev string) {
	defer e.wg.Done()
	defer unix.Close(fd)

	var state modState
	buf := make([]byte, 64*eventSize)
	pfds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		default:
		}

		pfds[0].Revents = 0
		n, err := unix.Poll(pfds, 250)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			e.logger.Warn("poll failed on input device", "device", dev, "error", err)
			return
		}
		if n == 0 {
			continue
		}

		nr, err := unix.Read(fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			e.logger.Warn("input device read failed", "device", dev, "error", err)
			return
		}

		for off := 0; off+eventSize <= nr; off += eventSize {
			typ := binary.LittleEndian.Uint16(buf[off+16 : off+18])
			code := binary.LittleEndian.Uint16(buf[off+18 : off+20])
			value := int32(binary.LittleEndian.Uint32(buf[off+20 : off+24]))
			if typ != evKey {
				continue
			}
			if ev, ok := state.apply(code, value); ok {
				e.send(ev)
			}
		}
	}
}

func (e *Evdev) send(ev keyevent.Event) {
	select {
	case e.events <- ev:
	default:
		// Channel full, skip.
		e.logger.Debug("dropping key event, channel full")
	}
}

// findKeyboardDevices locates /dev/input devices the kernel treats as
// keyboards.
func findKeyboardDevices() ([]string, error) {
	f, err := os.Open("/proc/bus/input/devices")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	devices := parseInputDevices(f)

	matches, _ := filepath.Glob("/dev/input/by-id/*-kbd")
	devices = append(devices, matches...)

	return dedupeDevices(devices), nil
}

// parseInputDevices extracts event paths for keyboard devices. A
// keyboard must carry the kernel's kbd handler AND a wide KEY bitmap:
// mice report button bits without the handler, power buttons get the
// handler with a near-empty bitmap.
func parseInputDevices(r io.Reader) []string {
	var devices []string

	scanner := bufio.NewScanner(r)
	var handler string
	hasKbd := false
	keyBits := 0

	flush := func() {
		if hasKbd && keyBits > 32 && handler != "" {
			devices = append(devices, handler)
		}
		handler = ""
		hasKbd = false
		keyBits = 0
	}

	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "H: Handlers=") {
			for _, part := range strings.Fields(strings.TrimPrefix(line, "H: Handlers=")) {
				if part == "kbd" {
					hasKbd = true
				}
				if strings.HasPrefix(part, "event") {
					handler = "/dev/input/" + part
				}
			}
		}

		if strings.HasPrefix(line, "B: KEY=") {
			keyBits = len(strings.TrimPrefix(line, "B: KEY="))
		}

		if line == "" {
			flush()
		}
	}
	flush()

	return devices
}

// dedupeDevices resolves symlinks so a by-id alias and its event node
// count once. Reading the same keyboard twice would double every
// keystroke.
func dedupeDevices(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	var out []string
	for _, p := range paths {
		resolved, err := filepath.EvalSymlinks(p)
		if err != nil {
			resolved = p
		}
		if _, ok := seen[resolved]; ok {
			continue
		}
		seen[resolved] = struct{}{}
		out = append(out, p)
	}
	return out
}
