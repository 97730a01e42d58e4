// internal/checkpoint/models.go
package checkpoint

import (
	"time"

	"askh/internal/filetree"
	"askh/internal/llm"
)

// Checkpoint is an immutable snapshot of the workspace after a model response
type Checkpoint struct {
	ID        string    `json:"id"`
	Version   int       `json:"version"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
	// Tree maps path to content. When the store interns content it holds
	// blob hashes instead and Hashed is set.
	Tree     map[string]string `json:"tree"`
	Hashed   bool              `json:"hashed,omitempty"`
	Messages []llm.Message     `json:"messages"`
}

// Summary is the list view of a checkpoint
type Summary struct {
	ID        string    `json:"id"`
	Version   int       `json:"version"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
	FileCount int       `json:"file_count"`
}

// Snapshot is the materialized state of a checkpoint
type Snapshot struct {
	Checkpoint Summary              `json:"checkpoint"`
	Tree       []*filetree.FileNode `json:"tree"`
	Files      []filetree.FlatFile  `json:"files"`
	Messages   []llm.Message        `json:"messages"`
}

// FileChange describes one path in a checkpoint diff
type FileChange struct {
	Path         string `json:"path"`
	FromHash     string `json:"from_hash,omitempty"`
	ToHash       string `json:"to_hash,omitempty"`
	LinesAdded   int    `json:"lines_added"`
	LinesRemoved int    `json:"lines_removed"`
}

// DiffResult compares two checkpoints
type DiffResult struct {
	FromID   string       `json:"from_checkpoint_id"`
	ToID     string       `json:"to_checkpoint_id"`
	Added    []FileChange `json:"added_files"`
	Modified []FileChange `json:"modified_files"`
	Deleted  []FileChange `json:"deleted_files"`
}

func (c *Checkpoint) summary() Summary {
	return Summary{
		ID:        c.ID,
		Version:   c.Version,
		Label:     c.Label,
		CreatedAt: c.CreatedAt,
		FileCount: len(c.Tree),
	}
}

func (c *Checkpoint) clone() *Checkpoint {
	out := *c
	out.Tree = make(map[string]string, len(c.Tree))
	for k, v := range c.Tree {
		out.Tree[k] = v
	}
	out.Messages = llm.CloneMessages(c.Messages)
	return &out
}
