package apperror

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"
	"github.com/google/uuid"
)

const (
	fallbackCompilationSummary = "Dev server compilation error"
	npmPrefix                  = "npm ERR!"
	npmErrorPrefix             = "npm error"
	maxInstallLines            = 10
)

var (
	compilationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\[vite\]\s*Internal server error:`),
		regexp.MustCompile(`(?i)SyntaxError:`),
		regexp.MustCompile(`(?i)TypeError:`),
		regexp.MustCompile(`(?i)ReferenceError:`),
		regexp.MustCompile(`(?i)Cannot find module`),
		regexp.MustCompile(`(?i)Failed to resolve import`),
		regexp.MustCompile(`(?i)Unexpected token`),
		regexp.MustCompile(`(?i)Module not found`),
		regexp.MustCompile(`(?i)does not provide an export named`),
		regexp.MustCompile(`(?i)Error:`),
	}

	successPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)ready in \d+(\.\d+)?\s*ms`),
		regexp.MustCompile(`(?i)dev server running`),
		regexp.MustCompile(`(?i)built in \d+(\.\d+)?\s*ms`),
		regexp.MustCompile(`(?i)hmr update`),
		regexp.MustCompile(`(?i)page reload`),
	}

	// code-frame decoration emitted below compiler errors
	framePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^\s*\d+\s*\|`),
		regexp.MustCompile(`^\s*>\s*\d+\s*\|`),
		regexp.MustCompile(`^\s*\^`),
		regexp.MustCompile(`^\s*\|`),
		regexp.MustCompile(`^[\s^~]+$`),
	}

	filePattern       = regexp.MustCompile(`(?i)File:\s*(.+)`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	npmPrefixPattern  = regexp.MustCompile(`(?i)^(npm ERR!|npm error)\s*`)
)

// StripANSI removes terminal escape sequences
func StripANSI(s string) string {
	return ansi.Strip(s)
}

// Parser classifies raw output into AppErrors
type Parser struct {
	limits Limits
	now    func() time.Time
}

// NewParser creates a parser. Zero limits fall back to DefaultLimits.
func NewParser(limits Limits) *Parser {
	return &Parser{limits: limits.orDefault(), now: time.Now}
}

// Compilation classifies dev-process output. Returns nil when the text
// carries no compilation signature.
func (p *Parser) Compilation(output string) *AppError {
	cleaned := StripANSI(output)
	if !matchesAny(compilationPatterns, cleaned) {
		return nil
	}

	summary := firstMeaningfulLine(cleaned)
	if summary == "" {
		summary = fallbackCompilationSummary
	}

	e := p.newError(CategoryCompilation, SourceDevProcess, summary, cleaned)
	if m := filePattern.FindStringSubmatch(cleaned); m != nil {
		e.FilePath = strings.TrimSpace(m[1])
	}
	return e
}

// Install classifies a finished install run. Returns nil for exit code 0.
func (p *Parser) Install(exitCode int, output string) *AppError {
	if exitCode == 0 {
		return nil
	}

	var errLines []string
	for _, line := range strings.Split(StripANSI(output), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, npmPrefix) || strings.HasPrefix(strings.ToLower(line), npmErrorPrefix) {
			errLines = append(errLines, line)
		}
	}

	if len(errLines) == 0 {
		return p.newError(CategoryInstall, SourceInstall,
			fmt.Sprintf("npm install failed with exit code %d", exitCode),
			fmt.Sprintf("The npm install command exited with code %d.", exitCode))
	}

	if len(errLines) > maxInstallLines {
		errLines = errLines[:maxInstallLines]
	}
	summary := strings.TrimSpace(npmPrefixPattern.ReplaceAllString(errLines[0], ""))
	if summary == "" {
		summary = fmt.Sprintf("npm install failed with exit code %d", exitCode)
	}
	return p.newError(CategoryInstall, SourceInstall, summary, strings.Join(errLines, "\n"))
}

// Runtime classifies an exception relayed from the previewed page
func (p *Parser) Runtime(message, stack string) *AppError {
	message = StripANSI(message)
	summary, _, _ := strings.Cut(message, "\n")
	detail := message
	if stack != "" {
		detail = message + "\n" + StripANSI(stack)
	}
	if strings.TrimSpace(summary) == "" {
		summary = "Uncaught runtime error"
	}
	return p.newError(CategoryRuntime, SourceRuntimeMessage, strings.TrimSpace(summary), detail)
}

// ProcessExit classifies an unexpected dev-process exit. Detail keeps the
// tail of the output, where the crash reason usually is.
func (p *Parser) ProcessExit(exitCode int, output string) *AppError {
	cleaned := strings.TrimSpace(StripANSI(output))
	summary := fmt.Sprintf("Dev server exited with code %d", exitCode)
	if line := lastErrorLine(cleaned); line != "" {
		summary = line
	}
	detail := summary
	if cleaned != "" {
		detail = tail(cleaned, p.limits.Detail)
	}
	return p.newError(CategoryCompilation, SourceDevProcess, summary, detail)
}

// DedupKey normalizes a summary into the identity used for deduplication
func (p *Parser) DedupKey(category Category, summary string) string {
	return DedupKey(category, summary, p.limits.Key)
}

// IsSuccess reports whether dev-process output signals a successful build
func IsSuccess(output string) bool {
	return matchesAny(successPatterns, StripANSI(output))
}

// DedupKey lower-cases and whitespace-collapses summary, bounded to max runes
func DedupKey(category Category, summary string, max int) string {
	normalized := strings.TrimSpace(whitespacePattern.ReplaceAllString(strings.ToLower(summary), " "))
	return string(category) + "::" + truncate(normalized, max)
}

func (p *Parser) newError(category Category, source Source, summary, detail string) *AppError {
	summary = truncate(summary, p.limits.Summary)
	return &AppError{
		ID:        uuid.New().String(),
		DedupKey:  p.DedupKey(category, summary),
		Summary:   summary,
		Detail:    truncate(detail, p.limits.Detail),
		Category:  category,
		Source:    source,
		Timestamp: p.now(),
	}
}

func firstMeaningfulLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if isFrameLine(line) {
			continue
		}
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func isFrameLine(line string) bool {
	return matchesAny(framePatterns, line)
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// tail keeps the last max runes of s
func tail(s string, max int) string {
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	return string(runes[len(runes)-max:])
}

// lastErrorLine returns the last line carrying a compilation signature
func lastErrorLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" && !isFrameLine(lines[i]) && matchesAny(compilationPatterns, line) {
			return line
		}
	}
	return ""
}

// truncate cuts s to at most max runes
func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
