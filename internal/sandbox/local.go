package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"askh/internal/apperror"
	"askh/internal/filetree"
	"askh/internal/logging"
	"askh/internal/process"
)

// readyPattern finds the local URL a dev server prints once it listens
var readyPattern = regexp.MustCompile(`https?://(?:localhost|127\.0\.0\.1|0\.0\.0\.0|\[::1?\]):(\d+)/?\S*`)

// LocalHost runs the app from a working directory with OS processes
type LocalHost struct {
	dir    string
	usePTY bool
	procs  *process.Manager
	seq    atomic.Int64

	mu     sync.Mutex
	subs   map[int]func(Event)
	nextID int
}

// LocalOption configures a LocalHost
type LocalOption func(*LocalHost)

// WithPTY runs spawned processes under a pseudo terminal
func WithPTY(enabled bool) LocalOption {
	return func(h *LocalHost) {
		h.usePTY = enabled
	}
}

// NewLocalHost creates a host rooted at dir. Processes are bound to ctx.
func NewLocalHost(ctx context.Context, dir string, opts ...LocalOption) (*LocalHost, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sandbox dir: %w", err)
	}

	h := &LocalHost{
		dir:   abs,
		procs: process.NewManager(ctx),
		subs:  make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Dir returns the sandbox root on disk
func (h *LocalHost) Dir() string {
	return h.dir
}

// Mount writes every file under the sandbox root. Files the workspace does
// not know about are left alone so installed dependencies survive.
func (h *LocalHost) Mount(ctx context.Context, files []filetree.FlatFile) error {
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.write(f.Path, f.Content); err != nil {
			return err
		}
	}
	logging.Debug("sandbox mounted", "component", "sandbox", "dir", h.dir, "files", len(files))
	return nil
}

// WriteFile writes one workspace file
func (h *LocalHost) WriteFile(ctx context.Context, path, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return h.write(path, content)
}

// RemoveFile deletes one workspace file
func (h *LocalHost) RemoveFile(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(h.abs(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// ReadFile returns the on-disk content of a workspace file
func (h *LocalHost) ReadFile(path string) (string, error) {
	data, err := os.ReadFile(h.abs(path))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Spawn starts cmd in the sandbox root. Lines that announce a local URL
// publish a server-ready event.
func (h *LocalHost) Spawn(ctx context.Context, cmd Command, onLine func(string)) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := cmd.Role
	if key == "" {
		key = fmt.Sprintf("%s-%d", filepath.Base(cmd.Name), h.seq.Add(1))
	}
	announced := ""
	proc, err := h.procs.Spawn(key, process.Spec{
		Command: cmd.Name,
		Args:    cmd.Args,
		Dir:     h.dir,
		Env:     append(os.Environ(), "FORCE_COLOR=1", "BROWSER=none"),
		PTY:     h.usePTY,
		OnLine: func(line string) {
			if url, port, ok := readyURL(line); ok && url != announced {
				announced = url
				h.publish(Event{Type: EventServerReady, URL: url, Port: port})
			}
			if onLine != nil {
				onLine(line)
			}
		},
	})
	if err != nil {
		return nil, err
	}

	logging.Info("sandbox process started", "component", "sandbox", "key", key, "cmd", cmd.String(), "pid", proc.PID)
	return &localHandle{key: key, proc: proc}, nil
}

// Processes lists the processes running in the sandbox
func (h *LocalHost) Processes() []process.Info {
	return h.procs.Running()
}

// Subscribe registers fn for host events
func (h *LocalHost) Subscribe(fn func(Event)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}
}

// RelayRuntimeMessage publishes an exception reported by the previewed page
func (h *LocalHost) RelayRuntimeMessage(message, stack string) {
	h.publish(Event{Type: EventRuntimeMessage, Message: message, Stack: stack})
}

// Close kills every process started by the host
func (h *LocalHost) Close() error {
	h.procs.KillAll()
	return nil
}

func readyURL(line string) (string, int, bool) {
	m := readyPattern.FindStringSubmatch(apperror.StripANSI(line))
	if m == nil {
		return "", 0, false
	}
	port, _ := strconv.Atoi(m[1])
	return m[0], port, true
}

func (h *LocalHost) publish(e Event) {
	h.mu.Lock()
	subs := make([]func(Event), 0, len(h.subs))
	for _, fn := range h.subs {
		subs = append(subs, fn)
	}
	h.mu.Unlock()

	for _, fn := range subs {
		fn(e)
	}
}

func (h *LocalHost) abs(path string) string {
	return filepath.Join(h.dir, filepath.FromSlash(filetree.NormalizePath(path)))
}

func (h *LocalHost) write(path, content string) error {
	target := h.abs(path)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(target, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

type localHandle struct {
	key  string
	proc *process.Process
}

func (l *localHandle) Wait(ctx context.Context) (int, error) {
	return l.proc.Wait(ctx)
}

func (l *localHandle) Output() string {
	return l.proc.Output()
}

func (l *localHandle) Kill() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := l.proc.GracefulShutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop %s: %w", l.key, err)
	}
	return nil
}
