// Package export writes a workspace out of the app: as a zip download, as
// a git repository with one commit per checkpoint, or as a timeline file.
package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"askh/internal/filetree"
)

// FixedZipTime keeps archives byte-for-byte reproducible (1980-01-01 UTC)
var FixedZipTime = time.Unix(315532800, 0).UTC()

// WriteZip writes files as a deflated archive under an optional root folder
func WriteZip(w io.Writer, root string, files []filetree.FlatFile) error {
	sorted := append([]filetree.FlatFile(nil), files...)
	filetree.SortFlat(sorted)

	root = strings.Trim(filetree.NormalizePath(root), "/")

	zw := zip.NewWriter(w)
	for _, f := range sorted {
		name := entryName(root, f.Path)
		if name == "" {
			continue
		}
		h := &zip.FileHeader{Name: name, Method: zip.Deflate}
		h.SetMode(0o644)
		h.Modified = FixedZipTime

		fw, err := zw.CreateHeader(h)
		if err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}
		if _, err := io.WriteString(fw, f.Content); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return nil
}

// entryName maps a tree path to a zip entry name. NormalizePath already
// resolves ".." against the root, so the result cannot escape it.
func entryName(root, p string) string {
	rel := strings.TrimPrefix(filetree.NormalizePath(p), "/")
	if rel == "" {
		return ""
	}
	if root == "" {
		return rel
	}
	return root + "/" + rel
}
