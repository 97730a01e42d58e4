// Package chat keeps the display timeline of a workspace conversation.
package chat

import (
	"sync"

	"askh/internal/llm"
)

// ItemType identifies a timeline entry
type ItemType string

const (
	ItemUser       ItemType = "user"
	ItemAssistant  ItemType = "assistant"
	ItemCheckpoint ItemType = "checkpoint"
)

// Item is one entry of the timeline. CheckpointID is set only for
// checkpoint markers.
type Item struct {
	Type         ItemType `json:"type"`
	Content      string   `json:"content,omitempty"`
	CheckpointID string   `json:"checkpoint_id,omitempty"`
}

// Log is the ordered chat timeline
type Log struct {
	mu    sync.RWMutex
	items []Item
}

// NewLog creates an empty timeline
func NewLog() *Log {
	return &Log{}
}

// AppendUser adds a user message
func (l *Log) AppendUser(content string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, Item{Type: ItemUser, Content: content})
}

// Append adds messages followed by a marker for checkpointID
func (l *Log) Append(messages []llm.Message, checkpointID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, m := range messages {
		typ := ItemUser
		if m.Role == llm.RoleAssistant {
			typ = ItemAssistant
		}
		l.items = append(l.items, Item{Type: typ, Content: m.Content})
	}
	l.items = append(l.items, Item{Type: ItemCheckpoint, CheckpointID: checkpointID})
}

// TruncateAfterCheckpoint keeps items up to and including the last marker
// for checkpointID. Reports false (and changes nothing) if there is none.
func (l *Log) TruncateAfterCheckpoint(checkpointID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := len(l.items) - 1; i >= 0; i-- {
		if l.items[i].Type == ItemCheckpoint && l.items[i].CheckpointID == checkpointID {
			l.items = l.items[:i+1]
			return true
		}
	}
	return false
}

// Items returns a copy of the timeline
func (l *Log) Items() []Item {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Item, len(l.items))
	copy(out, l.items)
	return out
}

// Clear empties the timeline
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = nil
}
