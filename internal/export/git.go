package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"askh/internal/filetree"
)

// ErrNotEmpty is returned when the git target directory already has content
var ErrNotEmpty = errors.New("target directory is not empty")

// Author signs exported commits
type Author struct {
	Name  string
	Email string
}

// DefaultAuthor is used when no author is given
var DefaultAuthor = Author{Name: "askh", Email: "askh@localhost"}

// WriteGit initializes a repository in dir and commits every version in
// order, so the linear checkpoint history becomes the commit history.
// Files missing from a version are deleted in its commit.
func WriteGit(dir string, versions []Version, author Author) (int, error) {
	if author.Name == "" {
		author = DefaultAuthor
	}
	if entries, err := os.ReadDir(dir); err == nil && len(entries) > 0 {
		return 0, fmt.Errorf("%s: %w", dir, ErrNotEmpty)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("create %s: %w", dir, err)
	}

	repo, err := git.PlainInit(dir, false)
	if err != nil {
		return 0, fmt.Errorf("failed to init git repository: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return 0, fmt.Errorf("failed to get worktree: %w", err)
	}

	var prev []filetree.FlatFile
	commits := 0
	for _, v := range versions {
		for _, p := range filetree.Removed(prev, v.Files) {
			if _, err := worktree.Remove(relPath(p)); err != nil {
				return commits, fmt.Errorf("v%d: remove %s: %w", v.Version, p, err)
			}
		}
		for _, f := range filetree.Diff(prev, v.Files) {
			rel := relPath(f.Path)
			if rel == "" {
				continue
			}
			abs := filepath.Join(dir, filepath.FromSlash(rel))
			if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
				return commits, fmt.Errorf("v%d: %w", v.Version, err)
			}
			if err := os.WriteFile(abs, []byte(f.Content), 0644); err != nil {
				return commits, fmt.Errorf("v%d: write %s: %w", v.Version, rel, err)
			}
			if _, err := worktree.Add(rel); err != nil {
				return commits, fmt.Errorf("v%d: add %s: %w", v.Version, rel, err)
			}
		}

		when := v.CreatedAt
		if when.IsZero() {
			when = time.Now()
		}
		_, err := worktree.Commit(commitMessage(v), &git.CommitOptions{
			Author: &object.Signature{
				Name:  author.Name,
				Email: author.Email,
				When:  when,
			},
			AllowEmptyCommits: true,
		})
		if err != nil {
			return commits, fmt.Errorf("v%d: commit: %w", v.Version, err)
		}
		commits++
		prev = v.Files
	}
	return commits, nil
}

func commitMessage(v Version) string {
	label := strings.TrimSpace(v.Label)
	if label == "" {
		label = "Checkpoint"
	}
	return fmt.Sprintf("%s\n\nCheckpoint v%d (%s)\n", label, v.Version, v.ID)
}

func relPath(p string) string {
	return strings.TrimPrefix(filetree.NormalizePath(p), "/")
}
