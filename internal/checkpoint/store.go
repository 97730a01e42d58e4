// internal/checkpoint/store.go
package checkpoint

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"askh/internal/filetree"
	"askh/internal/llm"
)

var (
	// ErrNotFound is returned for unknown checkpoint ids or blobs
	ErrNotFound = errors.New("checkpoint not found")
	// ErrVersionGap is returned when a version would break the 1..n sequence
	ErrVersionGap = errors.New("checkpoint version out of sequence")
)

// Store is the append-only checkpoint list of a single workspace
type Store struct {
	mu          sync.RWMutex
	checkpoints []*Checkpoint
	pool        *BlobPool
	now         func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithBlobPool interns file bodies in pool instead of copying them per checkpoint
func WithBlobPool(pool *BlobPool) Option {
	return func(s *Store) {
		s.pool = pool
	}
}

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates an empty store
func NewStore(opts ...Option) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateID generates a new checkpoint ID
func GenerateID() string {
	return uuid.New().String()
}

// Create snapshots tree and messages as the next version
func (s *Store) Create(tree []*filetree.FileNode, messages []llm.Message, label string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(tree, messages, label, len(s.checkpoints)+1)
}

// CreateVersion snapshots tree and messages with an explicit version, which
// must be exactly one past the latest checkpoint.
func (s *Store) CreateVersion(tree []*filetree.FileNode, messages []llm.Message, label string, version int) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if want := len(s.checkpoints) + 1; version != want {
		return nil, fmt.Errorf("version %d, expected %d: %w", version, want, ErrVersionGap)
	}
	return s.appendLocked(tree, messages, label, version)
}

func (s *Store) appendLocked(tree []*filetree.FileNode, messages []llm.Message, label string, version int) (*Checkpoint, error) {
	flat := filetree.Flatten(tree)
	cp := &Checkpoint{
		ID:        GenerateID(),
		Version:   version,
		Label:     label,
		CreatedAt: s.now(),
		Tree:      make(map[string]string, len(flat)),
		Messages:  llm.CloneMessages(messages),
	}
	if cp.Messages == nil {
		cp.Messages = []llm.Message{}
	}

	if s.pool != nil {
		cp.Hashed = true
		for _, f := range flat {
			if old, dup := cp.Tree[f.Path]; dup {
				s.pool.Release(old)
			}
			cp.Tree[f.Path] = s.pool.Put(f.Content)
		}
	} else {
		for _, f := range flat {
			cp.Tree[f.Path] = f.Content
		}
	}

	s.checkpoints = append(s.checkpoints, cp)
	return cp.clone(), nil
}

// Restore materializes the checkpoint without touching the list.
// ok is false for unknown ids.
func (s *Store) Restore(id string) (*Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return nil, false
	}
	snap, err := s.snapshotLocked(s.checkpoints[idx])
	if err != nil {
		return nil, false
	}
	return snap, true
}

// Revert restores the checkpoint and discards every later one.
// This is irreversible; callers must confirm with the user first.
func (s *Store) Revert(id string) (*Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return nil, false
	}
	snap, err := s.snapshotLocked(s.checkpoints[idx])
	if err != nil {
		return nil, false
	}

	for _, dropped := range s.checkpoints[idx+1:] {
		s.releaseLocked(dropped)
	}
	for i := idx + 1; i < len(s.checkpoints); i++ {
		s.checkpoints[i] = nil
	}
	s.checkpoints = s.checkpoints[:idx+1]
	return snap, true
}

// Get returns a copy of the checkpoint with the given id
func (s *Store) Get(id string) (*Checkpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return nil, false
	}
	return s.checkpoints[idx].clone(), true
}

// Files returns the flattened contents of a checkpoint, sorted by path
func (s *Store) Files(id string) ([]filetree.FlatFile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return nil, false
	}
	files, err := s.filesLocked(s.checkpoints[idx])
	if err != nil {
		return nil, false
	}
	return files, true
}

// List returns summaries in version order
func (s *Store) List() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Summary, len(s.checkpoints))
	for i, cp := range s.checkpoints {
		out[i] = cp.summary()
	}
	return out
}

// Latest returns the newest checkpoint, or nil
func (s *Store) Latest() *Checkpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.checkpoints) == 0 {
		return nil
	}
	return s.checkpoints[len(s.checkpoints)-1].clone()
}

// Len returns the number of checkpoints
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.checkpoints)
}

// Clear drops every checkpoint
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cp := range s.checkpoints {
		s.releaseLocked(cp)
	}
	s.checkpoints = nil
}

func (s *Store) indexLocked(id string) int {
	for i, cp := range s.checkpoints {
		if cp.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) filesLocked(cp *Checkpoint) ([]filetree.FlatFile, error) {
	if !cp.Hashed {
		return filetree.FromMap(cp.Tree), nil
	}

	contents := make(map[string]string, len(cp.Tree))
	for path, hash := range cp.Tree {
		content, err := s.pool.Get(hash)
		if err != nil {
			return nil, fmt.Errorf("checkpoint %s: %w", cp.ID, err)
		}
		contents[path] = content
	}
	return filetree.FromMap(contents), nil
}

func (s *Store) snapshotLocked(cp *Checkpoint) (*Snapshot, error) {
	files, err := s.filesLocked(cp)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Checkpoint: cp.summary(),
		Tree:       filetree.Rebuild(files),
		Files:      files,
		Messages:   llm.CloneMessages(cp.Messages),
	}, nil
}

func (s *Store) releaseLocked(cp *Checkpoint) {
	if !cp.Hashed || s.pool == nil {
		return
	}
	for _, hash := range cp.Tree {
		s.pool.Release(hash)
	}
}
