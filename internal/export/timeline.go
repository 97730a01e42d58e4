package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"askh/internal/checkpoint"
	"askh/internal/filetree"
	"askh/internal/llm"
)

// Version is one materialized checkpoint
type Version struct {
	ID        string              `json:"id"`
	Version   int                 `json:"version"`
	Label     string              `json:"label"`
	CreatedAt time.Time           `json:"created_at"`
	Files     []filetree.FlatFile `json:"files"`
}

// Timeline is a saved checkpoint history, written on request and read by
// the export command
type Timeline struct {
	WorkspaceID string        `json:"workspace_id"`
	SavedAt     time.Time     `json:"saved_at"`
	Versions    []Version     `json:"versions"`
	Messages    []llm.Message `json:"messages,omitempty"`
}

// FromStore materializes every checkpoint in store
func FromStore(workspaceID string, store *checkpoint.Store) (*Timeline, error) {
	t := &Timeline{WorkspaceID: workspaceID, SavedAt: time.Now().UTC()}
	for _, s := range store.List() {
		files, ok := store.Files(s.ID)
		if !ok {
			return nil, fmt.Errorf("checkpoint %s: %w", s.ID, checkpoint.ErrNotFound)
		}
		t.Versions = append(t.Versions, Version{
			ID:        s.ID,
			Version:   s.Version,
			Label:     s.Label,
			CreatedAt: s.CreatedAt,
			Files:     files,
		})
	}
	if latest := store.Latest(); latest != nil {
		t.Messages = latest.Messages
	}
	return t, nil
}

// Latest returns the newest version, or nil for an empty timeline
func (t *Timeline) Latest() *Version {
	if len(t.Versions) == 0 {
		return nil
	}
	return &t.Versions[len(t.Versions)-1]
}

// Find returns the version with the given id or version number
func (t *Timeline) Find(ref string) (*Version, bool) {
	for i := range t.Versions {
		v := &t.Versions[i]
		if v.ID == ref || fmt.Sprintf("%d", v.Version) == ref || fmt.Sprintf("v%d", v.Version) == ref {
			return v, true
		}
	}
	return nil, false
}

// SaveTimeline writes t as indented JSON, replacing path atomically
func SaveTimeline(path string, t *Timeline) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create timeline dir: %w", err)
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("encode timeline: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write timeline: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadTimeline reads a file written by SaveTimeline
func LoadTimeline(path string) (*Timeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read timeline: %w", err)
	}
	var t Timeline
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode timeline %s: %w", path, err)
	}
	return &t, nil
}
