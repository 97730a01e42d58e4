// Package watcher reports file changes inside a sandbox directory as
// workspace paths.
package watcher

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"askh/internal/filetree"
	"askh/internal/logging"
)

// EventType represents the type of file system event
type EventType string

const (
	EventCreate EventType = "create"
	EventModify EventType = "modify"
	EventDelete EventType = "delete"
	EventRename EventType = "rename"
)

// Event is a debounced change to one file. Path is the workspace path
// ("/src/App.jsx"), AbsPath the location on disk.
type Event struct {
	Path    string
	AbsPath string
	Type    EventType
}

// ignoredDirs are generated by the toolchain and never part of the workspace
var ignoredDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"dist":         true,
	".vite":        true,
	".cache":       true,
}

// Watcher watches a sandbox tree for file system events with debouncing
type Watcher struct {
	root       string
	debounce   time.Duration
	callback   func(Event)
	watcher    *fsnotify.Watcher
	done       chan struct{}
	started    bool
	closed     bool
	mu         sync.Mutex
	debouncer  map[string]*time.Timer
	debounceMu sync.Mutex
}

// New creates a Watcher for root and every directory below it
func New(root string, debounce time.Duration, callback func(Event)) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		root:      root,
		debounce:  debounce,
		callback:  callback,
		watcher:   watcher,
		done:      make(chan struct{}),
		debouncer: make(map[string]*time.Timer),
	}

	if err := w.addTree(root); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch path %s: %w", root, err)
	}

	return w, nil
}

// addTree registers dir and its subdirectories, skipping generated ones
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && ignoredDirs[d.Name()] {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// Start starts watching for events
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("watcher is closed")
	}

	if w.started {
		return fmt.Errorf("watcher already started")
	}

	w.started = true

	go w.watch()

	return nil
}

// Close stops watching and cleans up resources
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true

	if w.started {
		close(w.done)
	}

	// Cancel all pending debounce timers
	w.debounceMu.Lock()
	for _, timer := range w.debouncer {
		timer.Stop()
	}
	w.debouncer = make(map[string]*time.Timer)
	w.debounceMu.Unlock()

	return w.watcher.Close()
}

// watch is the main event loop
func (w *Watcher) watch() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Log error but continue watching
			logging.Warn("watcher error", "component", "watcher", "error", err)

		case <-w.done:
			return
		}
	}
}

// handleEvent processes a fsnotify event with debouncing
func (w *Watcher) handleEvent(event fsnotify.Event) {
	rel, ok := w.workspacePath(event.Name)
	if !ok {
		return
	}

	var eventType EventType

	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !ignoredDirs[info.Name()] {
				if err := w.addTree(event.Name); err != nil {
					logging.Warn("failed to watch new directory", "component", "watcher", "path", event.Name, "error", err)
				}
			}
			return
		}
		eventType = EventCreate
	case event.Op&fsnotify.Write == fsnotify.Write:
		eventType = EventModify
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		eventType = EventDelete
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		eventType = EventRename
	default:
		// Chmod and unknown events carry no content change
		return
	}

	// Debounce the event
	w.debounceEvent(Event{
		Path:    rel,
		AbsPath: event.Name,
		Type:    eventType,
	})
}

// workspacePath maps an absolute path under root to a workspace path.
// Paths inside ignored directories are rejected.
func (w *Watcher) workspacePath(abs string) (string, bool) {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	parts := filetree.SplitPath(filepath.ToSlash(rel))
	for _, part := range parts[:len(parts)-1] {
		if ignoredDirs[part] {
			return "", false
		}
	}
	return filetree.NormalizePath(filepath.ToSlash(rel)), true
}

// debounceEvent debounces events for the same file
func (w *Watcher) debounceEvent(e Event) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	// Cancel existing timer for this path if any
	if timer, exists := w.debouncer[e.Path]; exists {
		timer.Stop()
	}

	// Create new timer
	w.debouncer[e.Path] = time.AfterFunc(w.debounce, func() {
		// Remove timer from map
		w.debounceMu.Lock()
		delete(w.debouncer, e.Path)
		w.debounceMu.Unlock()

		// Call the callback
		w.callback(e)
	})
}
