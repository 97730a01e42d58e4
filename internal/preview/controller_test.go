package preview

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"askh/internal/apperror"
	"askh/internal/filetree"
	"askh/internal/sandbox"
)

const readyURL = "http://localhost:5173/"

type fakeHandle struct {
	cmd    sandbox.Command
	onLine func(string)
	done   chan struct{}
	once   sync.Once

	mu     sync.Mutex
	output string
	code   int
	killed bool
}

func newFakeHandle(cmd sandbox.Command, onLine func(string)) *fakeHandle {
	return &fakeHandle{cmd: cmd, onLine: onLine, done: make(chan struct{})}
}

func (h *fakeHandle) exit(code int, output string) {
	h.once.Do(func() {
		h.mu.Lock()
		h.code = code
		h.output += output
		h.mu.Unlock()
		close(h.done)
	})
}

func (h *fakeHandle) emit(line string) {
	h.mu.Lock()
	h.output += line + "\n"
	h.mu.Unlock()
	if h.onLine != nil {
		h.onLine(line)
	}
}

func (h *fakeHandle) Wait(ctx context.Context) (int, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.code, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

func (h *fakeHandle) Output() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.output
}

func (h *fakeHandle) Kill() error {
	h.mu.Lock()
	h.killed = true
	h.mu.Unlock()
	h.exit(-1, "")
	return nil
}

func (h *fakeHandle) wasKilled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.killed
}

type fakeHost struct {
	mu      sync.Mutex
	mounts  int
	writes  []string
	removes []string
	spawns  []*fakeHandle
	subs    map[int]func(sandbox.Event)
	nextSub int

	installCode   int
	installOutput string
	installHang   bool
	devSilent     bool
	scriptCode    int
}

func newFakeHost() *fakeHost {
	return &fakeHost{subs: make(map[int]func(sandbox.Event))}
}

func (f *fakeHost) Mount(ctx context.Context, files []filetree.FlatFile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mounts++
	return nil
}

func (f *fakeHost) WriteFile(ctx context.Context, path, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, path)
	return nil
}

func (f *fakeHost) Spawn(ctx context.Context, cmd sandbox.Command, onLine func(string)) (sandbox.Handle, error) {
	h := newFakeHandle(cmd, onLine)

	f.mu.Lock()
	f.spawns = append(f.spawns, h)
	hang, code, output, silent := f.installHang, f.installCode, f.installOutput, f.devSilent
	scriptCode := f.scriptCode
	f.mu.Unlock()

	switch cmd.Name {
	case "sh":
		if scriptCode != 0 {
			h.exit(scriptCode, "npm ERR! 404 Not Found - left-padx\n")
		} else {
			h.exit(0, "added 1 package\n")
		}
	case "install":
		if !hang {
			h.exit(code, output)
		}
	case "dev":
		h.emit("VITE v5.0.0  ready in 120 ms")
		if !silent {
			f.publish(sandbox.Event{Type: sandbox.EventServerReady, URL: readyURL, Port: 5173})
		}
	}
	return h, nil
}

func (f *fakeHost) Subscribe(fn func(sandbox.Event)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

func (f *fakeHost) publish(e sandbox.Event) {
	f.mu.Lock()
	var subs []func(sandbox.Event)
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()
	for _, fn := range subs {
		fn(e)
	}
}

func (f *fakeHost) set(fn func(*fakeHost)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeHost) spawned() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.spawns))
	for _, h := range f.spawns {
		names = append(names, h.cmd.Name)
	}
	return names
}

func (f *fakeHost) handle(i int) *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spawns[i]
}

func (f *fakeHost) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func (f *fakeHost) mountCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mounts
}

// removingHost also supports deleting files
type removingHost struct {
	*fakeHost
}

func (r removingHost) RemoveFile(ctx context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removes = append(r.removes, path)
	return nil
}

type recorder struct {
	mu       sync.Mutex
	statuses []Status
	errs     []*apperror.AppError
	cleared  int
}

func (r *recorder) options() []Option {
	return []Option{
		WithStatusListener(func(s State) {
			r.mu.Lock()
			r.statuses = append(r.statuses, s.Status)
			r.mu.Unlock()
		}),
		WithErrorListener(func(e *apperror.AppError) {
			r.mu.Lock()
			r.errs = append(r.errs, e)
			r.mu.Unlock()
		}),
		WithClearListener(func() {
			r.mu.Lock()
			r.cleared++
			r.mu.Unlock()
		}),
	}
}

func (r *recorder) errors() []*apperror.AppError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*apperror.AppError(nil), r.errs...)
}

func testOptions() Options {
	return Options{
		ManifestPath:   "/package.json",
		InstallCommand: sandbox.Command{Name: "install"},
		DevCommand:     sandbox.Command{Name: "dev"},
		MountTimeout:   time.Second,
		InstallTimeout: 2 * time.Second,
		StartTimeout:   2 * time.Second,
		SyncDeletions:  true,
	}
}

func baseFiles() []filetree.FlatFile {
	return []filetree.FlatFile{
		{Path: "/package.json", Content: `{"name":"app"}`},
		{Path: "/index.js", Content: "console.log(1)"},
	}
}

func newController(t *testing.T, host sandbox.Host, opts Options, rec *recorder) (*Controller, *apperror.Tracker) {
	t.Helper()
	tracker := apperror.NewTracker()
	c := New(host, tracker, opts, rec.options()...)
	t.Cleanup(func() { c.Close() })
	return c, tracker
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func startRunning(t *testing.T, c *Controller, files []filetree.FlatFile) {
	t.Helper()
	c.FilesChanged(files, false)
	c.Wait()
	if st := c.State(); st.Status != StatusRunning {
		t.Fatalf("Expected running, got %+v", st)
	}
}

func TestFirstStart(t *testing.T) {
	host := newFakeHost()
	rec := &recorder{}
	c, _ := newController(t, host, testOptions(), rec)

	startRunning(t, c, baseFiles())

	st := c.State()
	if st.URL != readyURL {
		t.Errorf("Expected URL %s, got %s", readyURL, st.URL)
	}
	if host.mountCount() != 1 {
		t.Errorf("Expected 1 mount, got %d", host.mountCount())
	}
	if got := strings.Join(host.spawned(), ","); got != "install,dev" {
		t.Errorf("Expected install,dev spawned, got %s", got)
	}
	if install, dev := host.handle(0).cmd.Role, host.handle(1).cmd.Role; install != sandbox.RoleInstall || dev != sandbox.RoleDev {
		t.Errorf("Expected role-keyed spawns, got %q and %q", install, dev)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	want := []Status{StatusMounting, StatusInstalling, StatusStarting, StatusRunning}
	if len(rec.statuses) != len(want) {
		t.Fatalf("Expected statuses %v, got %v", want, rec.statuses)
	}
	for i := range want {
		if rec.statuses[i] != want[i] {
			t.Errorf("Status %d = %s, want %s", i, rec.statuses[i], want[i])
		}
	}
}

func TestBuildingAndMissingManifest(t *testing.T) {
	host := newFakeHost()
	c, _ := newController(t, host, testOptions(), &recorder{})

	c.FilesChanged(baseFiles(), true)
	c.Wait()
	if st := c.State(); st.Status != StatusBuilding {
		t.Errorf("Expected building while generating, got %s", st.Status)
	}
	if host.mountCount() != 0 {
		t.Error("Expected no mount while generating")
	}
	if err := c.Retry(); err != ErrNotRetryable {
		t.Errorf("Expected ErrNotRetryable from building, got %v", err)
	}

	c.FilesChanged([]filetree.FlatFile{{Path: "/index.js", Content: "x"}}, false)
	c.Wait()
	if host.mountCount() != 0 {
		t.Error("Expected no mount without manifest")
	}
	if st := c.State(); st.Status != StatusIdle {
		t.Errorf("Expected idle once generation ended without a manifest, got %s", st.Status)
	}
	if err := c.Retry(); err != ErrNoManifest {
		t.Errorf("Expected ErrNoManifest, got %v", err)
	}

	c.FilesChanged(baseFiles(), false)
	c.Wait()
	if st := c.State(); st.Status != StatusRunning {
		t.Errorf("Expected running once generation finished, got %s", st.Status)
	}
}

func TestGenerationAbandoned(t *testing.T) {
	host := newFakeHost()
	c, _ := newController(t, host, testOptions(), &recorder{})

	c.FilesChanged(baseFiles(), true)
	if st := c.State(); st.Status != StatusBuilding {
		t.Fatalf("Expected building, got %s", st.Status)
	}

	c.FilesChanged(nil, false)
	c.Wait()
	if st := c.State(); st.Status != StatusIdle {
		t.Errorf("Expected idle after an empty tree, got %s", st.Status)
	}
	if host.mountCount() != 0 {
		t.Error("Expected no mount for an empty tree")
	}
}

func TestRetryWithoutManifest(t *testing.T) {
	c, _ := newController(t, newFakeHost(), testOptions(), &recorder{})
	c.FilesChanged([]filetree.FlatFile{{Path: "/index.js", Content: "x"}}, false)
	if err := c.Retry(); err != ErrNoManifest {
		t.Errorf("Expected ErrNoManifest, got %v", err)
	}
}

func TestIncrementalSyncAndManifestRestart(t *testing.T) {
	host := newFakeHost()
	c, _ := newController(t, host, testOptions(), &recorder{})
	startRunning(t, c, baseFiles())

	// Touching a regular file writes only that file
	files := baseFiles()
	files[1].Content = "console.log(2)"
	c.FilesChanged(files, false)
	c.Wait()

	if got := host.written(); len(got) != 1 || got[0] != "/index.js" {
		t.Fatalf("Expected only /index.js written, got %v", got)
	}
	if n := len(host.spawned()); n != 2 {
		t.Fatalf("Expected no respawn, got %d spawns", n)
	}
	if st := c.State(); st.Status != StatusRunning {
		t.Errorf("Expected still running, got %s", st.Status)
	}

	// Identical batch does nothing
	c.FilesChanged(files, false)
	if n := len(host.written()); n != 1 {
		t.Errorf("Expected no writes for identical batch, got %d", n)
	}

	// Changing the manifest respawns both processes
	oldDev := host.handle(1)
	files[0].Content = `{"name":"app","dependencies":{"react":"^18"}}`
	c.FilesChanged(files, false)
	c.Wait()

	if got := strings.Join(host.spawned(), ","); got != "install,dev,install,dev" {
		t.Errorf("Expected both processes respawned, got %s", got)
	}
	written := host.written()
	if written[len(written)-1] != "/package.json" {
		t.Errorf("Expected manifest written before restart, got %v", written)
	}
	if !oldDev.wasKilled() {
		t.Error("Expected previous dev process killed")
	}
	if host.mountCount() != 1 {
		t.Errorf("Expected no remount on restart, got %d", host.mountCount())
	}
	if st := c.State(); st.Status != StatusRunning {
		t.Errorf("Expected running after restart, got %s", st.Status)
	}
}

func TestDeletionPolicy(t *testing.T) {
	tests := []struct {
		name string
		sync bool
		want int
	}{
		{"sync deletions", true, 1},
		{"keep stale files", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := removingHost{newFakeHost()}
			opts := testOptions()
			opts.SyncDeletions = tt.sync
			c, _ := newController(t, host, opts, &recorder{})
			startRunning(t, c, baseFiles())

			c.FilesChanged(baseFiles()[:1], false)

			host.mu.Lock()
			removes := append([]string(nil), host.removes...)
			host.mu.Unlock()
			if len(removes) != tt.want {
				t.Fatalf("Expected %d removals, got %v", tt.want, removes)
			}
			if tt.want == 1 && removes[0] != "/index.js" {
				t.Errorf("Expected /index.js removed, got %s", removes[0])
			}
		})
	}
}

func TestInstallFailureAndRetry(t *testing.T) {
	host := newFakeHost()
	host.installCode = 1
	host.installOutput = "npm ERR! code E404\nnpm ERR! 404 Not Found\n"
	rec := &recorder{}
	c, tracker := newController(t, host, testOptions(), rec)

	c.FilesChanged(baseFiles(), false)
	c.Wait()

	st := c.State()
	if st.Status != StatusError {
		t.Fatalf("Expected error, got %s", st.Status)
	}
	if st.Message != "code E404" {
		t.Errorf("Expected summary message, got %q", st.Message)
	}
	errs := rec.errors()
	if len(errs) != 1 || errs[0].Category != apperror.CategoryInstall {
		t.Fatalf("Expected one install error, got %+v", errs)
	}
	if errs[0].Detail != "npm ERR! code E404\nnpm ERR! 404 Not Found" {
		t.Errorf("Unexpected detail %q", errs[0].Detail)
	}
	if got := strings.Join(host.spawned(), ","); got != "install" {
		t.Errorf("Expected dev server not started, got %s", got)
	}

	host.set(func(f *fakeHost) { f.installCode = 0 })
	if err := c.Retry(); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	c.Wait()
	if st := c.State(); st.Status != StatusRunning {
		t.Errorf("Expected running after retry, got %s", st.Status)
	}
	if len(tracker.Live()) != 0 {
		t.Error("Expected ready to clear live errors")
	}
	if err := c.Retry(); err != ErrNotRetryable {
		t.Errorf("Expected ErrNotRetryable while running, got %v", err)
	}
}

func TestStageTimeouts(t *testing.T) {
	t.Run("install", func(t *testing.T) {
		host := newFakeHost()
		host.installHang = true
		opts := testOptions()
		opts.InstallTimeout = 50 * time.Millisecond
		c, _ := newController(t, host, opts, &recorder{})

		c.FilesChanged(baseFiles(), false)
		c.Wait()

		st := c.State()
		if st.Status != StatusError || !strings.Contains(st.Message, ErrStageTimeout.Error()) {
			t.Errorf("Expected install timeout, got %+v", st)
		}
		if !host.handle(0).wasKilled() {
			t.Error("Expected hung install killed")
		}
	})

	t.Run("start", func(t *testing.T) {
		host := newFakeHost()
		host.devSilent = true
		opts := testOptions()
		opts.StartTimeout = 50 * time.Millisecond
		c, _ := newController(t, host, opts, &recorder{})

		c.FilesChanged(baseFiles(), false)
		c.Wait()

		st := c.State()
		if st.Status != StatusError || !strings.Contains(st.Message, "start exceeded") {
			t.Errorf("Expected start timeout, got %+v", st)
		}
		if c.Started() {
			t.Error("Expected controller not started")
		}
	})
}

func TestSingleStartInFlight(t *testing.T) {
	host := newFakeHost()
	host.installHang = true
	c, _ := newController(t, host, testOptions(), &recorder{})

	c.FilesChanged(baseFiles(), false)
	waitFor(t, "installing", func() bool { return c.State().Status == StatusInstalling })

	files := baseFiles()
	files[1].Content = "changed"
	c.FilesChanged(files, false)
	if err := c.Retry(); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy, got %v", err)
	}
	if host.mountCount() != 1 {
		t.Errorf("Expected re-entrant trigger ignored, got %d mounts", host.mountCount())
	}

	host.handle(0).exit(0, "")
	c.Wait()
	if st := c.State(); st.Status != StatusRunning {
		t.Errorf("Expected running, got %s", st.Status)
	}

	// The missed change is picked up by the next trigger
	c.FilesChanged(files, false)
	if got := host.written(); len(got) != 1 || got[0] != "/index.js" {
		t.Errorf("Expected missed change synced, got %v", got)
	}
}

func TestDevOutputErrors(t *testing.T) {
	host := newFakeHost()
	rec := &recorder{}
	c, tracker := newController(t, host, testOptions(), rec)
	startRunning(t, c, baseFiles())

	dev := host.handle(1)
	dev.emit("SyntaxError: Unexpected token")
	dev.emit("SyntaxError: Unexpected token")

	errs := rec.errors()
	if len(errs) != 1 {
		t.Fatalf("Expected one deduplicated error, got %d", len(errs))
	}
	if errs[0].Category != apperror.CategoryCompilation || !strings.Contains(errs[0].Summary, "SyntaxError: Unexpected token") {
		t.Errorf("Unexpected error %+v", errs[0])
	}

	dev.emit("[vite] hmr update /index.js")
	if len(tracker.Live()) != 0 {
		t.Error("Expected success output to clear live errors")
	}
	rec.mu.Lock()
	cleared := rec.cleared
	rec.mu.Unlock()
	if cleared < 2 {
		t.Errorf("Expected clear notifications on ready and hmr update, got %d", cleared)
	}
}

func TestDevOutputErrorBlock(t *testing.T) {
	host := newFakeHost()
	rec := &recorder{}
	c, _ := newController(t, host, testOptions(), rec)
	startRunning(t, c, baseFiles())

	dev := host.handle(1)
	for _, line := range []string{
		`[vite] Internal server error: Failed to resolve import "./Missing" from "src/App.jsx". Does the file exist?`,
		"  Plugin: vite:import-analysis",
		"  File: /src/App.jsx:3:17",
		"  1  |  import React from 'react'",
		"  3  |  import Missing from './Missing'",
		"     |                    ^",
	} {
		dev.emit(line)
	}

	waitFor(t, "error block", func() bool { return len(rec.errors()) == 1 })
	e := rec.errors()[0]
	if e.FilePath != "/src/App.jsx:3:17" {
		t.Errorf("Expected file path from the block, got %q", e.FilePath)
	}
	if !strings.HasPrefix(e.Summary, "[vite] Internal server error:") {
		t.Errorf("Unexpected summary %q", e.Summary)
	}
	if !strings.Contains(e.Detail, "import Missing from './Missing'") {
		t.Errorf("Expected code frame in detail, got %q", e.Detail)
	}
}

func TestRuntimeMessage(t *testing.T) {
	host := newFakeHost()
	rec := &recorder{}
	c, _ := newController(t, host, testOptions(), rec)
	startRunning(t, c, baseFiles())

	host.publish(sandbox.Event{Type: sandbox.EventRuntimeMessage, Message: "TypeError: x is undefined", Stack: "at App"})

	errs := rec.errors()
	if len(errs) != 1 || errs[0].Category != apperror.CategoryRuntime {
		t.Fatalf("Expected runtime error, got %+v", errs)
	}
}

func TestDevCrashAfterReady(t *testing.T) {
	host := newFakeHost()
	rec := &recorder{}
	c, _ := newController(t, host, testOptions(), rec)
	startRunning(t, c, baseFiles())

	host.handle(1).exit(1, "Error: listen EADDRINUSE\n")
	waitFor(t, "error status", func() bool { return c.State().Status == StatusError })

	errs := rec.errors()
	if len(errs) != 1 || errs[0].Summary != "Error: listen EADDRINUSE" {
		t.Errorf("Expected crash reported, got %+v", errs)
	}
	if err := c.Retry(); err != nil {
		t.Errorf("Expected retry allowed after crash, got %v", err)
	}
	c.Wait()
	if st := c.State(); st.Status != StatusRunning {
		t.Errorf("Expected running after retry, got %s", st.Status)
	}
}

func TestClose(t *testing.T) {
	host := newFakeHost()
	c, _ := newController(t, host, testOptions(), &recorder{})
	startRunning(t, c, baseFiles())

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !host.handle(1).wasKilled() {
		t.Error("Expected dev process killed")
	}
	if err := c.Retry(); err != ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}

	c.FilesChanged(baseFiles()[:1], false)
	if n := len(host.written()); n != 0 {
		t.Errorf("Expected no sync after close, got %d writes", n)
	}
}

func TestRunScripts(t *testing.T) {
	host := newFakeHost()
	rec := &recorder{}
	c, tracker := newController(t, host, testOptions(), rec)

	// nothing runs before the first start
	c.RunScripts([]string{"npm install clsx"})
	if len(host.spawned()) != 0 {
		t.Fatalf("Expected no spawns before start, got %v", host.spawned())
	}

	startRunning(t, c, baseFiles())

	c.RunScripts([]string{"npm install clsx", "npm install dayjs"})
	if got := strings.Join(host.spawned(), ","); got != "install,dev,sh,sh" {
		t.Errorf("Expected two scripts after install,dev, got %s", got)
	}
	if len(tracker.Live()) != 0 {
		t.Errorf("Expected no errors, got %v", tracker.Live())
	}

	host.set(func(f *fakeHost) { f.scriptCode = 1 })
	c.RunScripts([]string{"npm install left-padx", "npm install never-runs"})
	if got := len(host.spawned()); got != 5 {
		t.Errorf("Expected the failing script to stop the rest, got %d spawns", got)
	}
	errs := rec.errors()
	if len(errs) != 1 || errs[0].Category != apperror.CategoryInstall {
		t.Fatalf("Expected one install error, got %v", errs)
	}
	if c.State().Status != StatusRunning {
		t.Errorf("A failing script must not stop the preview, got %s", c.State().Status)
	}
}
