package apperror

import (
	"strings"
	"sync"
	"time"
)

// DefaultQuietWindow is how long the batcher waits for more errors
const DefaultQuietWindow = 2 * time.Second

// RepairSeparator joins error details in a repair request
const RepairSeparator = "\n\n---\n\n"

// Batch is a coalesced set of errors offered as one repair action
type Batch struct {
	Errors  []*AppError `json:"errors"`
	Context string      `json:"context"`
}

// RepairContext joins the details of errs into a single repair prompt body
func RepairContext(errs []*AppError) string {
	details := make([]string, 0, len(errs))
	for _, e := range errs {
		details = append(details, e.Detail)
	}
	return strings.Join(details, RepairSeparator)
}

// Batcher coalesces actionable errors that arrive close together into one
// Batch. Every Add restarts the quiet window; when it expires the pending
// errors are delivered to the callback.
type Batcher struct {
	mu       sync.Mutex
	window   time.Duration
	pending  []*AppError
	timer    *time.Timer
	callback func(Batch)
	last     *Batch
}

// NewBatcher creates a batcher. A non-positive window uses DefaultQuietWindow.
func NewBatcher(window time.Duration, callback func(Batch)) *Batcher {
	if window <= 0 {
		window = DefaultQuietWindow
	}
	return &Batcher{window: window, callback: callback}
}

// Add queues err and restarts the quiet window
func (b *Batcher) Add(err *AppError) {
	if err == nil || !err.Actionable() {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = append(b.pending, err)
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.window, func() {
		b.Flush()
	})
}

// Reset drops pending errors, e.g. when a new model response starts a fresh
// attribution window.
func (b *Batcher) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked()
	b.pending = nil
	b.last = nil
}

// Flush delivers pending errors immediately. It returns false when nothing
// was pending.
func (b *Batcher) Flush() bool {
	b.mu.Lock()
	b.stopLocked()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return false
	}
	batch := Batch{Errors: b.pending, Context: RepairContext(b.pending)}
	b.pending = nil
	b.last = &batch
	callback := b.callback
	b.mu.Unlock()

	if callback != nil {
		callback(batch)
	}
	return true
}

// Last returns the most recently delivered batch
func (b *Batcher) Last() (Batch, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil {
		return Batch{}, false
	}
	return *b.last, true
}

// Close stops the pending timer without delivering
func (b *Batcher) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked()
}

func (b *Batcher) stopLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
