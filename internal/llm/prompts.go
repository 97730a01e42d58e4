package llm

import (
	"context"
	"fmt"
	"strings"
)

// ProjectType is the kind of project a prompt asks for
type ProjectType string

const (
	ProjectWebapp  ProjectType = "webapp"
	ProjectService ProjectType = "service"
)

// SystemPrompt instructs the model to answer with an artifact script
const SystemPrompt = `You are an expert software engineer building small web applications inside a sandbox that runs Node.js, npm and Vite.

Reply with a short explanation followed by exactly one artifact:

<boltArtifact id="kebab-case-id" title="Short title">
  <boltAction type="file" filePath="/path/to/file">full file content</boltAction>
  <boltAction type="delete" filePath="/path/to/obsolete/file" />
  <boltAction type="shell">npm install some-package</boltAction>
</boltArtifact>

Rules:
- Always write the complete content of every file you change. Never use placeholders or partial diffs.
- Paths are absolute from the project root.
- Add new dependencies to /package.json instead of installing them with shell actions when possible.
- The dev server is started for you. Do not run it yourself.
- When the user message starts with <bolt_file_modifications>, those are edits the user made by hand since your last reply. Keep them.`

const classifyPrompt = "Return exactly one word: webapp or service. Only return that word. Base your answer on whether the user wants a frontend web application or a backend/service/API."

const hiddenFilesNote = "\n\nHere is a list of files that exist on the file system but are not being shown to you:\n\n  - .gitignore\n  - package-lock.json\n"

// Classify asks the model whether prompt describes a web app or a service.
// Anything other than a clear "service" answer is a web app.
func Classify(ctx context.Context, client Client, prompt string) (ProjectType, error) {
	resp, err := client.Chat(ctx, []Message{
		{Role: RoleSystem, Content: classifyPrompt},
		{Role: RoleUser, Content: prompt},
	}, nil)
	if err != nil {
		return ProjectWebapp, err
	}
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(resp)), string(ProjectService)) {
		return ProjectService, nil
	}
	return ProjectWebapp, nil
}

// TemplatePrompt wraps a template artifact into the user message that shows
// the model the starting project
func TemplatePrompt(templateArtifact string) string {
	return "Here is an artifact that contains all files of the project visible to you.\n" +
		"Consider the contents of ALL files in the project.\n\n" +
		templateArtifact + hiddenFilesNote
}

// EnhancePrompt asks the model to rewrite a prompt with more detail
func EnhancePrompt(ctx context.Context, client Client, prompt string, onDelta func(string)) (string, error) {
	resp, err := client.Chat(ctx, []Message{{
		Role: RoleUser,
		Content: fmt.Sprintf("Enhance this prompt to be more specific and detailed. "+
			"Reply with the improved prompt and nothing else.\n\n<original_prompt>\n%s\n</original_prompt>", prompt),
	}}, onDelta)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp), nil
}
