package apperror

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

const maxBlockLines = 30

// lines that belong to the error block above them
var continuationPattern = regexp.MustCompile(`(?i)^\s*(File|Plugin|Id|Frame|at)\b\s*:?`)

// Collector groups dev-process output lines into error blocks before they
// are classified. A block starts at a line carrying a compilation signature
// and takes the continuation lines after it (indented, File:, Plugin: and
// code-frame lines). It is classified when an unrelated line arrives, when
// no line arrives for the quiet period, or on Flush.
type Collector struct {
	mu      sync.Mutex
	parser  *Parser
	quiet   time.Duration
	emit    func(*AppError)
	pending []string
	timer   *time.Timer
	gen     int
}

// NewCollector creates a collector that passes classified blocks to emit.
// A zero quiet period disables the timer; blocks then wait for the next
// line or Flush.
func NewCollector(parser *Parser, quiet time.Duration, emit func(*AppError)) *Collector {
	return &Collector{parser: parser, quiet: quiet, emit: emit}
}

// Line feeds one line of dev output
func (c *Collector) Line(line string) {
	cleaned := strings.TrimRight(StripANSI(line), "\r")

	c.mu.Lock()
	if len(c.pending) > 0 && isContinuation(cleaned) {
		if len(c.pending) < maxBlockLines {
			c.pending = append(c.pending, cleaned)
		}
		c.armLocked()
		c.mu.Unlock()
		return
	}

	block := c.takeLocked()
	if matchesAny(compilationPatterns, cleaned) {
		c.pending = []string{cleaned}
		c.armLocked()
	}
	c.mu.Unlock()

	c.classify(block)
}

// Flush classifies the pending block now
func (c *Collector) Flush() {
	c.mu.Lock()
	block := c.takeLocked()
	c.mu.Unlock()
	c.classify(block)
}

// Reset drops the pending block without reporting it
func (c *Collector) Reset() {
	c.mu.Lock()
	c.takeLocked()
	c.mu.Unlock()
}

func (c *Collector) armLocked() {
	if c.quiet <= 0 {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.timer = time.AfterFunc(c.quiet, func() {
		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			return
		}
		block := c.takeLocked()
		c.mu.Unlock()
		c.classify(block)
	})
}

func (c *Collector) takeLocked() []string {
	block := c.pending
	c.pending = nil
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	return block
}

func (c *Collector) classify(block []string) {
	if len(block) == 0 {
		return
	}
	if e := c.parser.Compilation(strings.Join(block, "\n")); e != nil && c.emit != nil {
		c.emit(e)
	}
}

func isContinuation(line string) bool {
	if strings.TrimSpace(line) == "" {
		return true
	}
	if line[0] == ' ' || line[0] == '\t' {
		return true
	}
	return isFrameLine(line) || continuationPattern.MatchString(line)
}
