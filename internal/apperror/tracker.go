package apperror

import (
	"sync"
	"time"
)

// Tracker holds the live error set of one workspace and attributes new
// errors to the model or the user.
type Tracker struct {
	mu        sync.Mutex
	live      map[string]*AppError
	order     []string
	current   *AppError
	lastModel time.Time
	lastEdit  time.Time
	now       func() time.Time
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{
		live: make(map[string]*AppError),
		now:  time.Now,
	}
}

// SetClock overrides the time source
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Report records err. It returns false when err is nil or an error with the
// same dedup key is already live, in which case nothing changes.
func (t *Tracker) Report(err *AppError) bool {
	if err == nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.live[err.DedupKey]; exists {
		return false
	}

	err.IsModelCaused = t.modelCausedLocked()
	t.live[err.DedupKey] = err
	t.order = append(t.order, err.DedupKey)
	t.current = err
	return true
}

// ModelApplied stamps the time a model response was fully applied
func (t *Tracker) ModelApplied() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastModel = t.stampLocked(t.lastEdit)
}

// UserEdited stamps a direct user edit and clears the displayed errors
func (t *Tracker) UserEdited() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastEdit = t.stampLocked(t.lastModel)
	t.clearLocked()
}

// Success clears every live error after the dev server reports a good build.
// The model response that preceded it built cleanly, so it stops being
// blamed for later errors.
func (t *Tracker) Success() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastModel = time.Time{}
	t.clearLocked()
}

// Clear drops every live error
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearLocked()
}

// Current returns the most recently reported live error, or nil
func (t *Tracker) Current() *AppError {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return nil
	}
	c := *t.current
	return &c
}

// Live returns the live errors in report order
func (t *Tracker) Live() []*AppError {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := make([]*AppError, 0, len(t.order))
	for _, key := range t.order {
		c := *t.live[key]
		result = append(result, &c)
	}
	return result
}

// IsModelCaused reports how an error reported now would be attributed
func (t *Tracker) IsModelCaused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.modelCausedLocked()
}

func (t *Tracker) modelCausedLocked() bool {
	if t.lastModel.IsZero() {
		return false
	}
	if t.lastEdit.IsZero() {
		return true
	}
	return t.lastModel.After(t.lastEdit)
}

// stampLocked returns the current time, nudged past other so the two
// timestamps stay strictly ordered by arrival.
func (t *Tracker) stampLocked(other time.Time) time.Time {
	now := t.now()
	if !other.IsZero() && !now.After(other) {
		now = other.Add(time.Nanosecond)
	}
	return now
}

func (t *Tracker) clearLocked() {
	t.live = make(map[string]*AppError)
	t.order = nil
	t.current = nil
}
