package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) add(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) has(path string, types ...EventType) bool {
	for _, e := range r.snapshot() {
		if e.Path != path {
			continue
		}
		for _, typ := range types {
			if e.Type == typ {
				return true
			}
		}
	}
	return false
}

func startWatcher(t *testing.T, root string, rec *recorder) *Watcher {
	t.Helper()
	w, err := New(root, 50*time.Millisecond, rec.add)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { w.Close() })
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	// Give the watcher time to start
	time.Sleep(100 * time.Millisecond)
	return w
}

func TestNewInvalidPath(t *testing.T) {
	_, err := New("/nonexistent/path/that/does/not/exist", 100*time.Millisecond, func(e Event) {})
	if err == nil {
		t.Fatal("New() should return error for invalid path")
	}
}

func TestWatcherCreateAndModify(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "src"), 0755); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	startWatcher(t, root, rec)

	file := filepath.Join(root, "src", "App.jsx")
	if err := os.WriteFile(file, []byte("v1"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	// Wait for debounce and event processing
	time.Sleep(200 * time.Millisecond)

	if !rec.has("/src/App.jsx", EventCreate, EventModify) {
		t.Fatalf("Expected event for /src/App.jsx, got %+v", rec.snapshot())
	}

	for _, e := range rec.snapshot() {
		if e.Path == "/src/App.jsx" && e.AbsPath != file {
			t.Errorf("Expected AbsPath %s, got %s", file, e.AbsPath)
		}
	}
}

func TestWatcherNewDirectory(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{}
	startWatcher(t, root, rec)

	dir := filepath.Join(root, "components")
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "Button.jsx"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)

	if !rec.has("/components/Button.jsx", EventCreate, EventModify) {
		t.Errorf("Expected event in new directory, got %+v", rec.snapshot())
	}
}

func TestWatcherDeleteEvent(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "index.js")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	startWatcher(t, root, rec)

	if err := os.Remove(file); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)

	if !rec.has("/index.js", EventDelete) {
		t.Errorf("Expected delete event, got %+v", rec.snapshot())
	}
}

func TestWatcherIgnoresGeneratedDirs(t *testing.T) {
	root := t.TempDir()
	modules := filepath.Join(root, "node_modules", "react")
	if err := os.MkdirAll(modules, 0755); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	startWatcher(t, root, rec)

	if err := os.WriteFile(filepath.Join(modules, "index.js"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "node_modules", ".package-lock.json"), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)

	if events := rec.snapshot(); len(events) != 0 {
		t.Errorf("Expected no events from node_modules, got %+v", events)
	}
}

func TestWatcherDebouncing(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{}
	w, err := New(root, 150*time.Millisecond, rec.add)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer w.Close()
	w.Start()
	time.Sleep(100 * time.Millisecond)

	file := filepath.Join(root, "index.js")
	for i := 0; i < 5; i++ {
		os.WriteFile(file, []byte{byte('a' + i)}, 0644)
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(400 * time.Millisecond)

	if n := len(rec.snapshot()); n != 1 {
		t.Errorf("Expected 1 debounced event, got %d", n)
	}
}

func TestWatcherClose(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, 50*time.Millisecond, func(e Event) {})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Second Close() error = %v", err)
	}
	if err := w.Start(); err == nil {
		t.Error("Start() after Close() should fail")
	}
}
