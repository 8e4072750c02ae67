// Package watcher monitors the combo list file for external edits.
package watcher

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces editor write bursts into one event.
const DefaultDebounce = 300 * time.Millisecond

// Event reports that the watched file changed content.
type Event struct {
	Path      string
	Hash      [32]byte
	Size      int64
	Timestamp time.Time
}

// Watcher monitors one file. Events fire only when the content hash
// actually changes, so touch(1) and editors rewriting identical bytes
// stay quiet.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	path      string
	debounce  time.Duration

	mu       sync.Mutex
	lastHash [32]byte
	timer    *time.Timer

	// checks funnels debounce expiry into the event loop, so hashing and
	// event emission always run on the loop goroutine.
	checks chan struct{}

	events chan Event
	errors chan error
	done   chan struct{}
	wg     sync.WaitGroup
}

// New creates a watcher for the given file. A non-positive debounce uses
// DefaultDebounce.
func New(path string, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("resolve watch path: %w", err)
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		path:      absPath,
		debounce:  debounce,
		checks:    make(chan struct{}, 1),
		events:    make(chan Event, 8),
		errors:    make(chan error, 8),
		done:      make(chan struct{}),
	}, nil
}

// Events returns the channel of content-change events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of watch errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Path returns the watched file.
func (w *Watcher) Path() string {
	return w.path
}

// Start begins watching. The directory is watched rather than the file,
// so saves that replace the inode keep working.
func (w *Watcher) Start() error {
	if err := w.fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch directory: %w", err)
	}

	// Seed the hash so startup does not report the current content as a
	// change.
	if hash, _, err := HashFile(w.path); err == nil {
		w.lastHash = hash
	}

	w.wg.Add(1)
	go w.eventLoop()
	return nil
}

// Stop shuts the watcher down and closes its channels.
func (w *Watcher) Stop() error {
	close(w.done)
	err := w.fsWatcher.Close()
	w.wg.Wait()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	close(w.events)
	close(w.errors)
	return err
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	base := filepath.Base(w.path)
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleCheck()

		case <-w.checks:
			w.checkContent()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.reportError(fmt.Errorf("file watcher: %w", err))
		}
	}
}

func (w *Watcher) scheduleCheck() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case w.checks <- struct{}{}:
		default:
		}
	})
}

// checkContent hashes the file and emits an event when the content
// differs from the last observed hash.
func (w *Watcher) checkContent() {
	hash, size, err := HashFile(w.path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.reportError(fmt.Errorf("hash %s: %w", w.path, err))
		}
		return
	}

	w.mu.Lock()
	same := hash == w.lastHash
	if !same {
		w.lastHash = hash
	}
	w.mu.Unlock()

	if same {
		return
	}

	select {
	case w.events <- Event{Path: w.path, Hash: hash, Size: size, Timestamp: time.Now()}:
	case <-w.done:
	}
}

func (w *Watcher) reportError(err error) {
	select {
	case w.errors <- err:
	default:
	}
}

// HashFile computes the streaming SHA-256 of a file.
func HashFile(path string) ([32]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return [32]byte{}, 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return [32]byte{}, 0, err
	}

	var hash [32]byte
	copy(hash[:], h.Sum(nil))
	return hash, size, nil
}
