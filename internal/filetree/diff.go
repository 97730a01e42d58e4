// internal/filetree/diff.go
package filetree

// DefaultManifestPath is the dependency manifest of a node project
const DefaultManifestPath = "/package.json"

// Diff returns every entry of curr whose path is new or whose content
// differs from prev. Deleted paths are reported by Removed.
func Diff(prev, curr []FlatFile) []FlatFile {
	before := ToMap(prev)
	var changed []FlatFile
	for _, f := range curr {
		p := NormalizePath(f.Path)
		old, ok := before[p]
		if !ok || old != f.Content {
			changed = append(changed, FlatFile{Path: p, Content: f.Content})
		}
	}
	return changed
}

// Removed returns the paths present in prev but absent from curr
func Removed(prev, curr []FlatFile) []string {
	after := ToMap(curr)
	var removed []string
	for _, f := range prev {
		p := NormalizePath(f.Path)
		if _, ok := after[p]; !ok {
			removed = append(removed, p)
		}
	}
	return removed
}

// Equal reports whether two snapshots hold identical path -> content pairs
func Equal(a, b []FlatFile) bool {
	am, bm := ToMap(a), ToMap(b)
	if len(am) != len(bm) {
		return false
	}
	for p, c := range am {
		if other, ok := bm[p]; !ok || other != c {
			return false
		}
	}
	return true
}

// DidManifestChange reports whether the manifest content differs between
// the two snapshots. A manifest appearing or disappearing counts as a change.
func DidManifestChange(prev, curr []FlatFile, manifestPath string) bool {
	if manifestPath == "" {
		manifestPath = DefaultManifestPath
	}
	manifestPath = NormalizePath(manifestPath)

	before, hadBefore := ToMap(prev)[manifestPath]
	after, hasAfter := ToMap(curr)[manifestPath]
	if hadBefore != hasAfter {
		return true
	}
	return before != after
}

// HasPath reports whether the snapshot contains path
func HasPath(files []FlatFile, path string) bool {
	path = NormalizePath(path)
	for _, f := range files {
		if NormalizePath(f.Path) == path {
			return true
		}
	}
	return false
}
