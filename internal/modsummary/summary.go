// Package modsummary briefs the model about edits the user made to the
// workspace since the model last saw it.
package modsummary

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"askh/internal/filetree"
)

// ChangeKind classifies a modified path
type ChangeKind string

const (
	KindAdded    ChangeKind = "added"
	KindModified ChangeKind = "modified"
	KindDeleted  ChangeKind = "deleted"
)

// Change is one user modification. Body holds a unified diff for modified
// files, the full content for added files (or when the diff is larger than
// the file), and is empty for deletions.
type Change struct {
	Path   string     `json:"path"`
	Kind   ChangeKind `json:"kind"`
	Body   string     `json:"body,omitempty"`
	IsDiff bool       `json:"is_diff"`
}

const (
	openTag  = "<bolt_file_modifications>"
	closeTag = "</bolt_file_modifications>"
)

var blockPattern = regexp.MustCompile(`(?s)<bolt_file_modifications>.*?</bolt_file_modifications>\s*`)

// Changes computes the modifications between the files the model last saw
// and the current files, sorted by path.
func Changes(lastSeen, current []filetree.FlatFile) []Change {
	before := filetree.ToMap(lastSeen)
	after := filetree.ToMap(current)
	var changes []Change

	for path, content := range after {
		old, existed := before[path]
		switch {
		case !existed:
			changes = append(changes, Change{Path: path, Kind: KindAdded, Body: content})
		case old != content:
			changes = append(changes, modified(path, old, content))
		}
	}
	for path := range before {
		if _, ok := after[path]; !ok {
			changes = append(changes, Change{Path: path, Kind: KindDeleted})
		}
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes
}

// Build renders the modification block prepended to a follow-up prompt.
// Returns "" when nothing changed.
func Build(lastSeen, current []filetree.FlatFile) string {
	changes := Changes(lastSeen, current)
	if len(changes) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(openTag + "\n")
	for _, c := range changes {
		switch {
		case c.Kind == KindDeleted:
			fmt.Fprintf(&b, "<deleted path=%q />\n", c.Path)
		case c.IsDiff:
			fmt.Fprintf(&b, "<diff path=%q>\n%s</diff>\n", c.Path, ensureNewline(c.Body))
		default:
			fmt.Fprintf(&b, "<file path=%q>\n%s</file>\n", c.Path, ensureNewline(c.Body))
		}
	}
	b.WriteString(closeTag)
	return b.String()
}

// Prepend prefixes prompt with the modification block, if any
func Prepend(lastSeen, current []filetree.FlatFile, prompt string) string {
	block := Build(lastSeen, current)
	if block == "" {
		return prompt
	}
	return block + "\n\n" + prompt
}

// Strip removes modification blocks from a user message for display
func Strip(content string) string {
	return strings.TrimSpace(blockPattern.ReplaceAllString(content, ""))
}

func modified(path, old, content string) Change {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(old),
		B:        difflib.SplitLines(content),
		FromFile: path,
		ToFile:   path,
		Context:  3,
	})
	if err != nil || diff == "" || len(diff) >= len(content) {
		return Change{Path: path, Kind: KindModified, Body: content}
	}
	return Change{Path: path, Kind: KindModified, Body: diff, IsDiff: true}
}

func ensureNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
