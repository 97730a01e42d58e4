// Package artifact decodes the file-operation scripts that the model
// embeds in its responses.
package artifact

import (
	"errors"
	"html"
	"regexp"
	"strings"

	"askh/internal/filetree"
)

// ErrNoArtifact is returned when a response carries no artifact block
var ErrNoArtifact = errors.New("no artifact in response")

// DefaultTitle labels artifacts that carry no title attribute
const DefaultTitle = "Generated artifact"

// Artifact is one decoded <boltArtifact> block
type Artifact struct {
	ID         string               `json:"id"`
	Title      string               `json:"title"`
	Operations []filetree.Operation `json:"operations"`
}

var (
	artifactPattern = regexp.MustCompile(`(?is)<boltArtifact\b([^>]*)>(.*?)</boltArtifact>`)
	openTagPattern  = regexp.MustCompile(`(?i)<boltAction\b([^>]*)>`)
	closeTagPattern = regexp.MustCompile(`(?i)</boltAction>`)
	attrPattern     = regexp.MustCompile(`([a-zA-Z][\w-]*)\s*=\s*"([^"]*)"`)
)

// Parse decodes every artifact in text into a single ordered operation
// list. The title of the first artifact wins.
func Parse(text string) (*Artifact, error) {
	blocks := artifactPattern.FindAllStringSubmatch(text, -1)
	if len(blocks) == 0 {
		return nil, ErrNoArtifact
	}

	out := &Artifact{}
	for i, block := range blocks {
		attrs := parseAttrs(block[1])
		if i == 0 {
			out.ID = attrs["id"]
			out.Title = strings.TrimSpace(attrs["title"])
		}
		out.Operations = append(out.Operations, parseActions(block[2])...)
	}
	if out.Title == "" {
		out.Title = DefaultTitle
	}
	return out, nil
}

// Title returns the label of the first artifact in text
func Title(text string) string {
	a, err := Parse(text)
	if err != nil {
		return DefaultTitle
	}
	return a.Title
}

// Narrative strips artifact blocks and returns the surrounding prose
func Narrative(text string) string {
	rest := strings.TrimSpace(artifactPattern.ReplaceAllString(text, ""))
	if rest == "" {
		return DefaultTitle
	}
	return rest
}

// Build renders files as a single artifact, used for project templates
func Build(id, title string, files []filetree.FlatFile) string {
	var b strings.Builder
	b.WriteString(`<boltArtifact id="` + html.EscapeString(id) + `" title="` + html.EscapeString(title) + `">`)
	for _, f := range files {
		path := strings.TrimPrefix(filetree.NormalizePath(f.Path), "/")
		b.WriteString(`<boltAction type="file" filePath="` + strings.ReplaceAll(path, `"`, "&quot;") + `">`)
		b.WriteString(f.Content)
		b.WriteString(`</boltAction>`)
	}
	b.WriteString(`</boltArtifact>`)
	return b.String()
}

func parseActions(body string) []filetree.Operation {
	var ops []filetree.Operation
	rest := body
	for {
		loc := openTagPattern.FindStringSubmatchIndex(rest)
		if loc == nil {
			return ops
		}
		rawAttrs := rest[loc[2]:loc[3]]
		rest = rest[loc[1]:]

		if strings.HasSuffix(strings.TrimSpace(rawAttrs), "/") {
			if op, ok := toOperation(parseAttrs(rawAttrs), ""); ok {
				ops = append(ops, op)
			}
			continue
		}

		end := closeTagPattern.FindStringIndex(rest)
		if end == nil {
			// unterminated action: the model output was cut off
			return ops
		}
		if op, ok := toOperation(parseAttrs(rawAttrs), rest[:end[0]]); ok {
			ops = append(ops, op)
		}
		rest = rest[end[1]:]
	}
}

func toOperation(attrs map[string]string, body string) (filetree.Operation, bool) {
	path := attrs["filePath"]
	switch strings.ToLower(attrs["type"]) {
	case "file":
		if path == "" {
			return filetree.Operation{}, false
		}
		return filetree.Operation{Type: filetree.OpCreateFile, Path: path, Content: trimContent(body)}, true
	case "edit":
		if path == "" {
			return filetree.Operation{}, false
		}
		return filetree.Operation{Type: filetree.OpEditFile, Path: path, Content: trimContent(body)}, true
	case "folder":
		return filetree.Operation{Type: filetree.OpCreateFolder, Path: path}, path != ""
	case "delete":
		return filetree.Operation{Type: filetree.OpDeleteFile, Path: path}, path != ""
	case "shell":
		cmd := strings.TrimSpace(body)
		return filetree.Operation{Type: filetree.OpRunScript, Command: cmd}, cmd != ""
	}
	return filetree.Operation{}, false
}

// trimContent drops the single newline models put after the opening tag
func trimContent(s string) string {
	s = strings.TrimPrefix(s, "\r\n")
	s = strings.TrimPrefix(s, "\n")
	return s
}

func parseAttrs(s string) map[string]string {
	attrs := make(map[string]string)
	for _, m := range attrPattern.FindAllStringSubmatch(s, -1) {
		attrs[m[1]] = html.UnescapeString(m[2])
	}
	return attrs
}
