package watcher

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func startWatcher(t *testing.T, path string, debounce time.Duration) *Watcher {
	t.Helper()
	w, err := New(path, debounce)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { w.Stop() })
	return w
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "combos.json")
	content := []byte("test content for hashing")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	hash, size, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if size != int64(len(content)) {
		t.Errorf("size = %d, want %d", size, len(content))
	}
	if want := sha256.Sum256(content); hash != want {
		t.Error("streaming hash differs from in-memory hash")
	}

	if err := os.WriteFile(path, []byte("different"), 0o600); err != nil {
		t.Fatal(err)
	}
	hash2, _, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if hash == hash2 {
		t.Error("different content should produce a different hash")
	}
}

func TestHashFileNotFound(t *testing.T) {
	if _, _, err := HashFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestWatcherEmitsOnContentChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "combos.json")
	if err := os.WriteFile(path, []byte("v1"), 0o600); err != nil {
		t.Fatal(err)
	}
	w := startWatcher(t, path, 50*time.Millisecond)

	if err := os.WriteFile(path, []byte("v2"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case event := <-w.Events():
		if event.Path != w.Path() {
			t.Errorf("path = %q, want %q", event.Path, w.Path())
		}
		if event.Size != 2 {
			t.Errorf("size = %d, want 2", event.Size)
		}
		if want := sha256.Sum256([]byte("v2")); event.Hash != want {
			t.Error("event hash does not match new content")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for change event")
	}
}

func TestWatcherSuppressesIdenticalContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "combos.json")
	if err := os.WriteFile(path, []byte("same"), 0o600); err != nil {
		t.Fatal(err)
	}
	w := startWatcher(t, path, 50*time.Millisecond)

	// Rewrite the same bytes: the mtime changes, the content does not.
	if err := os.WriteFile(path, []byte("same"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case event := <-w.Events():
		t.Fatalf("unexpected event for identical content: %+v", event)
	case <-time.After(600 * time.Millisecond):
	}
}

func TestWatcherCoalescesWriteBursts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "combos.json")
	if err := os.WriteFile(path, []byte("v0"), 0o600); err != nil {
		t.Fatal(err)
	}
	w := startWatcher(t, path, 300*time.Millisecond)

	for i := 1; i <= 5; i++ {
		if err := os.WriteFile(path, []byte{'v', byte('0' + i)}, 0o600); err != nil {
			t.Fatal(err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	select {
	case event := <-w.Events():
		if want := sha256.Sum256([]byte("v5")); event.Hash != want {
			t.Error("coalesced event should carry the final content")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for coalesced event")
	}

	select {
	case event := <-w.Events():
		t.Fatalf("burst produced a second event: %+v", event)
	case <-time.After(600 * time.Millisecond):
	}
}

func TestWatcherSeesAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "combos.json")
	if err := os.WriteFile(path, []byte("v1"), 0o600); err != nil {
		t.Fatal(err)
	}
	w := startWatcher(t, path, 50*time.Millisecond)

	// Editor-style save: write a sibling, rename over the target.
	temp := filepath.Join(dir, "combos.json.tmp")
	if err := os.WriteFile(temp, []byte("v2"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(temp, path); err != nil {
		t.Fatal(err)
	}

	select {
	case event := <-w.Events():
		if want := sha256.Sum256([]byte("v2")); event.Hash != want {
			t.Error("replace event should carry the new content")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for replace event")
	}
}

func TestWatcherFileCreatedLater(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "combos.json")
	w := startWatcher(t, path, 50*time.Millisecond)

	if err := os.WriteFile(path, []byte("first"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case event := <-w.Events():
		if want := sha256.Sum256([]byte("first")); event.Hash != want {
			t.Error("creation event should carry the file content")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for creation event")
	}
}

func TestWatcherStopClosesChannels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "combos.json")
	if err := os.WriteFile(path, []byte("v1"), 0o600); err != nil {
		t.Fatal(err)
	}

	w, err := New(path, 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if _, ok := <-w.Events(); ok {
		t.Error("Events should be closed after Stop")
	}
	if _, ok := <-w.Errors(); ok {
		t.Error("Errors should be closed after Stop")
	}
}
