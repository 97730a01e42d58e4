// internal/filetree/ops.go
package filetree

import "fmt"

// OpType is the kind of a decoded model operation
type OpType string

const (
	OpCreateFile   OpType = "create-file"
	OpCreateFolder OpType = "create-folder"
	OpEditFile     OpType = "edit-file"
	OpDeleteFile   OpType = "delete-file"
	OpRunScript    OpType = "run-script"
)

// Operation is one step of a model-generated script
type Operation struct {
	Type    OpType `json:"type"`
	Path    string `json:"path,omitempty"`
	Content string `json:"content,omitempty"`
	Command string `json:"command,omitempty"`
}

// Result is the outcome of ApplyOperations
type Result struct {
	Tree []*FileNode `json:"tree"`
	// Scripts holds run-script commands in order; they never touch the tree
	Scripts []string `json:"scripts,omitempty"`
	// Touched lists the normalized paths mutated by the batch, in first-touch order
	Touched  []string `json:"touched,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// ApplyOperations replays ops in order onto a copy of base.
// The base tree is never mutated.
func ApplyOperations(base []*FileNode, ops []Operation) Result {
	roots := CloneTree(base)
	result := Result{}
	seen := make(map[string]bool)

	touch := func(p string) {
		if !seen[p] {
			seen[p] = true
			result.Touched = append(result.Touched, p)
		}
	}

	for i, op := range ops {
		if op.Type == OpRunScript {
			if op.Command != "" {
				result.Scripts = append(result.Scripts, op.Command)
			}
			continue
		}

		p := NormalizePath(op.Path)
		if p == "/" {
			result.Warnings = append(result.Warnings, fmt.Sprintf("op %d (%s): empty path", i, op.Type))
			continue
		}

		switch op.Type {
		case OpCreateFile, OpEditFile:
			roots = upsertFile(roots, p, op.Content)
			touch(p)
		case OpCreateFolder:
			roots, _ = ensureFolders(roots, SplitPath(p))
			touch(p)
		case OpDeleteFile:
			var removed bool
			roots, removed = removeNode(roots, p)
			if !removed {
				result.Warnings = append(result.Warnings, fmt.Sprintf("op %d: delete %s: not found", i, p))
				continue
			}
			touch(p)
		default:
			result.Warnings = append(result.Warnings, fmt.Sprintf("op %d: unknown type %q", i, op.Type))
		}
	}

	sortTree(roots)
	result.Tree = roots
	return result
}
