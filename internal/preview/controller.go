package preview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"askh/internal/apperror"
	"askh/internal/filetree"
	"askh/internal/logging"
	"askh/internal/sandbox"
)

// Session is the transient synchronization state of one sandbox
type Session struct {
	install sandbox.Handle
	dev     sandbox.Handle
	// devGen identifies the current dev process; output and exits of older
	// processes are ignored
	devGen      int
	synced      []filetree.FlatFile
	inFlight    bool
	startedOnce bool
	state       State
}

// Controller keeps a sandbox host in step with the workspace files
type Controller struct {
	host      sandbox.Host
	opts      Options
	parser    *apperror.Parser
	collector *apperror.Collector
	tracker   *apperror.Tracker
	log       *slog.Logger
	now       func() time.Time

	onStatus  func(State)
	onError   func(*apperror.AppError)
	onCleared func()

	// syncMu serializes FilesChanged calls
	syncMu sync.Mutex

	mu         sync.Mutex
	session    Session
	latest     []filetree.FlatFile
	generating bool
	ready      chan string
	closed     bool

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	unsubscribe func()
}

// Option configures a Controller
type Option func(*Controller)

// WithStatusListener is called after every status transition
func WithStatusListener(fn func(State)) Option {
	return func(c *Controller) {
		c.onStatus = fn
	}
}

// WithErrorListener is called for every newly reported error
func WithErrorListener(fn func(*apperror.AppError)) Option {
	return func(c *Controller) {
		c.onError = fn
	}
}

// WithClearListener is called when a successful build clears live errors
func WithClearListener(fn func()) Option {
	return func(c *Controller) {
		c.onCleared = fn
	}
}

// WithParser replaces the default error parser
func WithParser(p *apperror.Parser) Option {
	return func(c *Controller) {
		c.parser = p
	}
}

// New creates a controller for host. Errors are recorded in tracker.
func New(host sandbox.Host, tracker *apperror.Tracker, opts Options, options ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		host:    host,
		opts:    opts.withDefaults(),
		parser:  apperror.NewParser(apperror.Limits{}),
		tracker: tracker,
		log:     logging.Component("preview"),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, o := range options {
		o(c)
	}
	c.collector = apperror.NewCollector(c.parser, c.opts.OutputQuiet, c.report)
	c.session.state = State{Status: StatusIdle, UpdatedAt: c.now()}
	c.unsubscribe = host.Subscribe(c.handleHostEvent)
	return c
}

// State returns the current lifecycle state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.state
}

// Started reports whether the dev server has been ready at least once
func (c *Controller) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.startedOnce
}

// FilesChanged is the single entry point for a committed batch of workspace
// changes. Before the first successful start it triggers the start sequence
// once the manifest is present and the model is idle; afterwards it writes
// the changed files and restarts the processes only when the manifest
// changed. Calls arriving while a start is in flight are ignored.
func (c *Controller) FilesChanged(files []filetree.FlatFile, generating bool) {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	files = append([]filetree.FlatFile(nil), files...)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.latest = files
	c.generating = generating
	s := &c.session

	if s.inFlight {
		c.mu.Unlock()
		c.log.Debug("start in flight, skipping sync", "files", len(files))
		return
	}
	if !s.startedOnce {
		if generating && len(files) > 0 {
			building := s.state.Status != StatusBuilding
			c.mu.Unlock()
			if building {
				c.transition(StatusBuilding, "", "")
			}
			return
		}
		if !filetree.HasPath(files, c.opts.ManifestPath) {
			// generation ended without anything to start
			idle := s.state.Status == StatusBuilding
			c.mu.Unlock()
			if idle {
				c.transition(StatusIdle, "", "")
			}
			return
		}
		c.launchLocked(func() error { return c.startSequence(files, true) })
		c.mu.Unlock()
		return
	}

	if len(files) == 0 {
		c.mu.Unlock()
		return
	}

	changed := filetree.Diff(s.synced, files)
	var removed []string
	if c.opts.SyncDeletions {
		removed = filetree.Removed(s.synced, files)
	}
	if len(changed) == 0 && len(removed) == 0 {
		c.mu.Unlock()
		return
	}

	if filetree.DidManifestChange(s.synced, files, c.opts.ManifestPath) {
		c.log.Info("manifest changed, restarting", "changed", len(changed))
		c.launchLocked(func() error {
			if err := c.write(changed, removed); err != nil {
				return err
			}
			return c.startSequence(files, false)
		})
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.write(changed, removed); err != nil {
		c.log.Error("sync failed", "error", err)
		return
	}

	c.mu.Lock()
	s.synced = files
	c.mu.Unlock()
	c.log.Debug("synced files", "changed", len(changed), "removed", len(removed))
}

// Retry reruns the start sequence from the idle or error state
func (c *Controller) Retry() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.closed:
		return ErrClosed
	case c.session.inFlight:
		return ErrBusy
	case c.session.state.Status != StatusIdle && c.session.state.Status != StatusError:
		return ErrNotRetryable
	case !filetree.HasPath(c.latest, c.opts.ManifestPath):
		return ErrNoManifest
	}

	files := c.latest
	c.launchLocked(func() error { return c.startSequence(files, true) })
	return nil
}

// RunScripts runs shell commands from a model response inside the sandbox,
// in order, once the files they came with are synced. They are skipped
// before the first successful start and while a start is in flight, since
// the install stage covers them. A failing script is reported as an install
// error and stops the remaining ones.
func (c *Controller) RunScripts(scripts []string) {
	if len(scripts) == 0 {
		return
	}

	c.mu.Lock()
	if c.closed || !c.session.startedOnce || c.session.inFlight {
		c.mu.Unlock()
		c.log.Debug("skipping scripts", "count", len(scripts))
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	for _, script := range scripts {
		if err := c.runScript(script); err != nil {
			c.log.Warn("script failed", "script", script, "error", err)
			return
		}
	}
}

func (c *Controller) runScript(script string) error {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.InstallTimeout)
	defer cancel()

	h, err := c.host.Spawn(ctx, sandbox.Shell(script), nil)
	if err != nil {
		return err
	}
	code, err := h.Wait(ctx)
	if err != nil {
		h.Kill()
		return stageError("script", c.opts.InstallTimeout, err)
	}
	if appErr := c.parser.Install(code, h.Output()); appErr != nil {
		c.report(appErr)
		return appErr
	}
	return nil
}

// Wait blocks until no start sequence is running
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close kills both processes. Kill failures are ignored.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.unsubscribe()
	c.cancel()
	c.killProcesses()
	c.wg.Wait()
	return nil
}

// launchLocked marks a start in flight and runs fn in the background
func (c *Controller) launchLocked(fn func() error) {
	c.session.inFlight = true
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := fn()

		c.mu.Lock()
		c.session.inFlight = false
		c.mu.Unlock()

		if err != nil {
			c.fail(err)
		}
	}()
}

func (c *Controller) startSequence(files []filetree.FlatFile, mount bool) error {
	c.killProcesses()

	if mount {
		c.transition(StatusMounting, "", "")
		ctx, cancel := context.WithTimeout(c.ctx, c.opts.MountTimeout)
		err := c.host.Mount(ctx, files)
		cancel()
		if err != nil {
			return stageError("mount", c.opts.MountTimeout, err)
		}
	}

	c.transition(StatusInstalling, "", "")
	if err := c.install(); err != nil {
		return err
	}

	c.transition(StatusStarting, "", "")
	url, gen, exited, err := c.startDev()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.session.startedOnce = true
	c.session.synced = files
	c.mu.Unlock()

	c.tracker.Success()
	if c.onCleared != nil {
		c.onCleared()
	}
	c.transition(StatusRunning, url, "")

	go c.monitorDev(gen, exited)
	return nil
}

func (c *Controller) install() error {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.InstallTimeout)
	defer cancel()

	cmd := c.opts.InstallCommand
	cmd.Role = sandbox.RoleInstall
	h, err := c.host.Spawn(ctx, cmd, nil)
	if err != nil {
		return stageError("install", c.opts.InstallTimeout, err)
	}

	c.mu.Lock()
	c.session.install = h
	c.mu.Unlock()

	code, err := h.Wait(ctx)
	if err != nil {
		h.Kill()
		return stageError("install", c.opts.InstallTimeout, err)
	}

	if appErr := c.parser.Install(code, h.Output()); appErr != nil {
		c.report(appErr)
		return appErr
	}
	return nil
}

// devExit carries the handle so crash output can be classified
type devExit struct {
	handle sandbox.Handle
	code   int
}

func (c *Controller) startDev() (string, int, <-chan devExit, error) {
	ready := make(chan string, 1)

	c.mu.Lock()
	c.ready = ready
	c.session.devGen++
	gen := c.session.devGen
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.ready == ready {
			c.ready = nil
		}
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(c.ctx, c.opts.StartTimeout)
	defer cancel()

	cmd := c.opts.DevCommand
	cmd.Role = sandbox.RoleDev
	h, err := c.host.Spawn(ctx, cmd, func(line string) {
		c.handleDevLine(gen, line)
	})
	if err != nil {
		return "", 0, nil, stageError("start", c.opts.StartTimeout, err)
	}

	c.mu.Lock()
	c.session.dev = h
	c.mu.Unlock()

	exited := make(chan devExit, 1)
	go func() {
		code, err := h.Wait(c.ctx)
		if err != nil {
			return
		}
		exited <- devExit{handle: h, code: code}
	}()

	select {
	case url := <-ready:
		return url, gen, exited, nil
	case exit := <-exited:
		c.collector.Flush()
		appErr := c.parser.ProcessExit(exit.code, exit.handle.Output())
		c.report(appErr)
		return "", 0, nil, appErr
	case <-ctx.Done():
		h.Kill()
		return "", 0, nil, stageError("start", c.opts.StartTimeout, ctx.Err())
	}
}

// monitorDev reports a dev process that dies after it was ready
func (c *Controller) monitorDev(gen int, exited <-chan devExit) {
	select {
	case exit := <-exited:
		c.mu.Lock()
		current := c.session.devGen == gen && !c.closed
		c.mu.Unlock()
		if !current {
			return
		}
		c.collector.Flush()
		appErr := c.parser.ProcessExit(exit.code, exit.handle.Output())
		c.report(appErr)
		c.fail(appErr)
	case <-c.ctx.Done():
	}
}

func (c *Controller) handleDevLine(gen int, line string) {
	c.mu.Lock()
	current := c.session.devGen == gen
	c.mu.Unlock()
	if !current {
		return
	}

	if apperror.IsSuccess(line) {
		c.collector.Reset()
		if len(c.tracker.Live()) > 0 {
			c.tracker.Success()
			if c.onCleared != nil {
				c.onCleared()
			}
		}
		return
	}
	c.collector.Line(line)
}

func (c *Controller) handleHostEvent(e sandbox.Event) {
	switch e.Type {
	case sandbox.EventServerReady:
		c.mu.Lock()
		ready := c.ready
		c.mu.Unlock()
		if ready == nil {
			return
		}
		select {
		case ready <- e.URL:
		default:
		}
	case sandbox.EventRuntimeMessage:
		c.report(c.parser.Runtime(e.Message, e.Stack))
	}
}

func (c *Controller) report(e *apperror.AppError) {
	if !c.tracker.Report(e) {
		return
	}
	c.log.Warn("app error", "category", e.Category, "source", e.Source, "summary", e.Summary, "model_caused", e.IsModelCaused)
	if c.onError != nil {
		c.onError(e)
	}
}

// write pushes changed files to the host and applies the deletion policy
func (c *Controller) write(changed []filetree.FlatFile, removed []string) error {
	for _, f := range changed {
		if err := c.host.WriteFile(c.ctx, f.Path, f.Content); err != nil {
			return fmt.Errorf("failed to sync %s: %w", f.Path, err)
		}
	}

	if len(removed) == 0 {
		return nil
	}
	remover, ok := c.host.(sandbox.Remover)
	if !ok {
		return nil
	}
	for _, path := range removed {
		if err := remover.RemoveFile(c.ctx, path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	return nil
}

// killProcesses stops both processes best-effort and retires the current
// dev generation
func (c *Controller) killProcesses() {
	c.mu.Lock()
	install, dev := c.session.install, c.session.dev
	c.session.install, c.session.dev = nil, nil
	c.session.devGen++
	c.mu.Unlock()
	c.collector.Reset()

	for _, h := range []sandbox.Handle{install, dev} {
		if h == nil {
			continue
		}
		if err := h.Kill(); err != nil {
			c.log.Debug("kill failed", "error", err)
		}
	}
}

func (c *Controller) fail(err error) {
	message := err.Error()
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		message = appErr.Summary
	}
	c.log.Error("preview failed", "error", err)
	c.transition(StatusError, "", message)
}

func (c *Controller) transition(status Status, url, message string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	st := State{Status: status, URL: url, Message: message, UpdatedAt: c.now()}
	c.session.state = st
	fn := c.onStatus
	c.mu.Unlock()

	c.log.Info("preview status", "status", status, "url", url)
	if fn != nil {
		fn(st)
	}
}

func stageError(stage string, limit time.Duration, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s exceeded %s", ErrStageTimeout, stage, limit)
	}
	return fmt.Errorf("%s failed: %w", stage, err)
}
