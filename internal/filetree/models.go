// internal/filetree/models.go
package filetree

// NodeType distinguishes files from folders
type NodeType string

const (
	TypeFile   NodeType = "file"
	TypeFolder NodeType = "folder"
)

// FileNode is a single entry of a project's file tree.
// Files never carry Children and folders never carry Content.
type FileNode struct {
	Name     string      `json:"name"`
	Type     NodeType    `json:"type"`
	Path     string      `json:"path"`
	Content  string      `json:"content,omitempty"`
	Children []*FileNode `json:"children,omitempty"`
}

// IsFile reports whether the node is a file
func (n *FileNode) IsFile() bool {
	return n.Type == TypeFile
}

// IsFolder reports whether the node is a folder
func (n *FileNode) IsFolder() bool {
	return n.Type == TypeFolder
}

// FlatFile is the flattened projection of a file node
type FlatFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Clone returns a deep copy of the node
func (n *FileNode) Clone() *FileNode {
	if n == nil {
		return nil
	}
	c := &FileNode{
		Name:    n.Name,
		Type:    n.Type,
		Path:    n.Path,
		Content: n.Content,
	}
	if len(n.Children) > 0 {
		c.Children = make([]*FileNode, len(n.Children))
		for i, child := range n.Children {
			c.Children[i] = child.Clone()
		}
	}
	return c
}

// CloneTree deep-copies a list of root nodes
func CloneTree(nodes []*FileNode) []*FileNode {
	if nodes == nil {
		return nil
	}
	out := make([]*FileNode, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
	}
	return out
}
