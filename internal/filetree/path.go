// internal/filetree/path.go
package filetree

import (
	"path"
	"strings"
)

// NormalizePath converts a path to the canonical tree form:
// leading slash, no trailing slash, no empty or dot segments, root is "/".
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.ReplaceAll(p, "\\", "/")
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	// path.Clean collapses "//", "." and "..", and strips the trailing slash
	return path.Clean(p)
}

// SplitPath returns the non-empty segments of a normalized path
func SplitPath(p string) []string {
	p = NormalizePath(p)
	if p == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(p, "/"), "/")
}

// BaseName returns the last segment of a path
func BaseName(p string) string {
	parts := SplitPath(p)
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}
