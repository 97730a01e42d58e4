// internal/filetree/tree.go
package filetree

import (
	"sort"
	"strings"
)

// Flatten walks the tree depth-first and returns one entry per file.
// Folders contribute only their descendants.
func Flatten(nodes []*FileNode) []FlatFile {
	var out []FlatFile
	var walk func([]*FileNode)
	walk = func(list []*FileNode) {
		for _, n := range list {
			if n == nil {
				continue
			}
			if n.IsFolder() {
				walk(n.Children)
				continue
			}
			out = append(out, FlatFile{Path: NormalizePath(n.Path), Content: n.Content})
		}
	}
	walk(nodes)
	return out
}

// Rebuild builds a tree from a flat list. Folders are created on demand
// and children are ordered folders first, then by name.
func Rebuild(files []FlatFile) []*FileNode {
	var roots []*FileNode
	for _, f := range files {
		roots = upsertFile(roots, f.Path, f.Content)
	}
	sortTree(roots)
	return roots
}

// UpdateByPath returns a copy of the tree with the content of the file at
// path replaced. The second return value is false when no file matches,
// in which case the input tree is returned unchanged.
func UpdateByPath(nodes []*FileNode, path, content string) ([]*FileNode, bool) {
	target := NormalizePath(path)
	if n := Find(nodes, target); n == nil || !n.IsFile() {
		return nodes, false
	}

	out := CloneTree(nodes)
	n := Find(out, target)
	n.Content = content
	return out, true
}

// Find returns the node at path, or nil
func Find(nodes []*FileNode, path string) *FileNode {
	parts := SplitPath(path)
	if len(parts) == 0 {
		return nil
	}

	list := nodes
	var current *FileNode
	for _, part := range parts {
		current = childNamed(list, part)
		if current == nil {
			return nil
		}
		list = current.Children
	}
	return current
}

// ToMap converts a flat list into a path -> content map
func ToMap(files []FlatFile) map[string]string {
	m := make(map[string]string, len(files))
	for _, f := range files {
		m[NormalizePath(f.Path)] = f.Content
	}
	return m
}

// FromMap converts a path -> content map into a flat list sorted by path
func FromMap(m map[string]string) []FlatFile {
	out := make([]FlatFile, 0, len(m))
	for p, c := range m {
		out = append(out, FlatFile{Path: p, Content: c})
	}
	SortFlat(out)
	return out
}

// SortFlat sorts a flat list by path in place
func SortFlat(files []FlatFile) {
	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})
}

// Count returns the number of file nodes in the tree
func Count(nodes []*FileNode) int {
	return len(Flatten(nodes))
}

func childNamed(list []*FileNode, name string) *FileNode {
	for _, n := range list {
		if n != nil && n.Name == name {
			return n
		}
	}
	return nil
}

// upsertFile inserts or replaces the file at path, creating missing
// folders. A file standing where a folder is needed is replaced by the folder.
func upsertFile(roots []*FileNode, path, content string) []*FileNode {
	parts := SplitPath(path)
	if len(parts) == 0 {
		return roots
	}

	roots, parent := ensureFolders(roots, parts[:len(parts)-1])
	name := parts[len(parts)-1]
	full := "/" + strings.Join(parts, "/")

	siblings := roots
	if parent != nil {
		siblings = parent.Children
	}

	if existing := childNamed(siblings, name); existing != nil {
		existing.Type = TypeFile
		existing.Children = nil
		existing.Content = content
		return roots
	}

	node := &FileNode{Name: name, Type: TypeFile, Path: full, Content: content}
	if parent == nil {
		return append(roots, node)
	}
	parent.Children = append(parent.Children, node)
	return roots
}

// ensureFolders makes sure every segment in parts exists as a folder and
// returns the deepest one (nil for the root level).
func ensureFolders(roots []*FileNode, parts []string) ([]*FileNode, *FileNode) {
	var parent *FileNode
	for i, part := range parts {
		siblings := roots
		if parent != nil {
			siblings = parent.Children
		}

		node := childNamed(siblings, part)
		switch {
		case node == nil:
			node = &FileNode{
				Name: part,
				Type: TypeFolder,
				Path: "/" + strings.Join(parts[:i+1], "/"),
			}
			if parent == nil {
				roots = append(roots, node)
			} else {
				parent.Children = append(parent.Children, node)
			}
		case node.IsFile():
			node.Type = TypeFolder
			node.Content = ""
		}
		parent = node
	}
	return roots, parent
}

// removeNode deletes the node at path (file or folder). Reports whether
// anything was removed.
func removeNode(roots []*FileNode, path string) ([]*FileNode, bool) {
	parts := SplitPath(path)
	if len(parts) == 0 {
		return roots, false
	}

	if len(parts) == 1 {
		return removeChild(roots, parts[0])
	}

	parent := Find(roots, "/"+strings.Join(parts[:len(parts)-1], "/"))
	if parent == nil || !parent.IsFolder() {
		return roots, false
	}
	children, ok := removeChild(parent.Children, parts[len(parts)-1])
	parent.Children = children
	return roots, ok
}

func removeChild(list []*FileNode, name string) ([]*FileNode, bool) {
	for i, n := range list {
		if n != nil && n.Name == name {
			return append(list[:i:i], list[i+1:]...), true
		}
	}
	return list, false
}

func sortTree(nodes []*FileNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Type != nodes[j].Type {
			return nodes[i].IsFolder()
		}
		return nodes[i].Name < nodes[j].Name
	})
	for _, n := range nodes {
		if n.IsFolder() {
			sortTree(n.Children)
		}
	}
}
