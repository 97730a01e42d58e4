// internal/checkpoint/diff.go
package checkpoint

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"askh/internal/filetree"
)

// Diff compares two checkpoints of the store
func (s *Store) Diff(fromID, toID string) (*DiffResult, error) {
	fromFiles, ok := s.Files(fromID)
	if !ok {
		return nil, fmt.Errorf("load from checkpoint %s: %w", fromID, ErrNotFound)
	}
	toFiles, ok := s.Files(toID)
	if !ok {
		return nil, fmt.Errorf("load to checkpoint %s: %w", toID, ErrNotFound)
	}

	result := CompareFiles(fromFiles, toFiles)
	result.FromID = fromID
	result.ToID = toID
	return result, nil
}

// CompareFiles classifies every path of two snapshots as added, modified
// or deleted, with line statistics for modified files.
func CompareFiles(from, to []filetree.FlatFile) *DiffResult {
	fromMap := filetree.ToMap(from)
	toMap := filetree.ToMap(to)
	result := &DiffResult{}

	for path, fromContent := range fromMap {
		toContent, exists := toMap[path]
		if !exists {
			result.Deleted = append(result.Deleted, FileChange{
				Path:         path,
				FromHash:     CalculateHash(fromContent),
				LinesRemoved: countLines(fromContent),
			})
			continue
		}
		if fromContent == toContent {
			continue
		}
		added, removed := lineStats(fromContent, toContent)
		result.Modified = append(result.Modified, FileChange{
			Path:         path,
			FromHash:     CalculateHash(fromContent),
			ToHash:       CalculateHash(toContent),
			LinesAdded:   added,
			LinesRemoved: removed,
		})
	}

	for path, toContent := range toMap {
		if _, exists := fromMap[path]; !exists {
			result.Added = append(result.Added, FileChange{
				Path:       path,
				ToHash:     CalculateHash(toContent),
				LinesAdded: countLines(toContent),
			})
		}
	}

	for _, list := range [][]FileChange{result.Added, result.Modified, result.Deleted} {
		sort.Slice(list, func(i, j int) bool { return list[i].Path < list[j].Path })
	}
	return result
}

// lineStats counts inserted and deleted lines using a line-mode diff
func lineStats(oldContent, newContent string) (added, removed int) {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			removed += countLines(d.Text)
		}
	}
	return added, removed
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
