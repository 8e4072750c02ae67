// Package clipboard wraps system clipboard access for snippet rendering
// and clipboard-paste delivery.
package clipboard

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/atotto/clipboard"
)

// Accessor reads and writes system clipboard text.
type Accessor interface {
	ReadText() (string, error)
	WriteText(text string) error
}

// System is the platform clipboard. X11, macOS and Windows go through
// atotto/clipboard; Wayland sessions fall back to wl-paste/wl-copy when
// the X11 selection is unreachable.
type System struct{}

// NewSystem returns the platform clipboard accessor.
func NewSystem() *System {
	return &System{}
}

func (s *System) ReadText() (string, error) {
	text, err := clipboard.ReadAll()
	if err != nil {
		if out, werr := waylandRead(); werr == nil {
			return out, nil
		}
		return "", fmt.Errorf("read clipboard: %w", err)
	}
	return text, nil
}

func (s *System) WriteText(text string) error {
	if err := clipboard.WriteAll(text); err != nil {
		if werr := waylandWrite(text); werr == nil {
			return nil
		}
		return fmt.Errorf("write clipboard: %w", err)
	}
	return nil
}

func waylandRead() (string, error) {
	if os.Getenv("WAYLAND_DISPLAY") == "" {
		return "", fmt.Errorf("not a wayland session")
	}
	out, err := exec.Command("wl-paste", "--no-newline").Output()
	if err != nil {
		return "", fmt.Errorf("wl-paste: %w", err)
	}
	return string(out), nil
}

func waylandWrite(text string) error {
	if os.Getenv("WAYLAND_DISPLAY") == "" {
		return fmt.Errorf("not a wayland session")
	}
	cmd := exec.Command("wl-copy")
	cmd.Stdin = strings.NewReader(text)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("wl-copy: %w", err)
	}
	return nil
}

// Memory is an in-process clipboard for tests and the simulate command.
type Memory struct {
	mu   sync.Mutex
	text string
}

// NewMemory returns a memory clipboard holding the given initial text.
func NewMemory(text string) *Memory {
	return &Memory{text: text}
}

func (m *Memory) ReadText() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text, nil
}

func (m *Memory) WriteText(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text = text
	return nil
}
