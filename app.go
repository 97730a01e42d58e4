// app.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"askh/internal/apperror"
	"askh/internal/chat"
	"askh/internal/checkpoint"
	"askh/internal/config"
	"askh/internal/eventhub"
	"askh/internal/export"
	"askh/internal/filetree"
	"askh/internal/llm"
	"askh/internal/logging"
	"askh/internal/preview"
	"askh/internal/process"
	"askh/internal/sandbox"
	"askh/internal/watcher"
	"askh/internal/workspace"
)

// ErrWorkspaceNotFound is returned for an unknown workspace id
var ErrWorkspaceNotFound = errors.New("workspace not found")

// session bundles everything that belongs to one workspace
type session struct {
	ws      *workspace.Workspace
	host    *sandbox.LocalHost
	preview *preview.Controller
	batcher *apperror.Batcher
	watcher *watcher.Watcher
	pool    *checkpoint.BlobPool
}

// App is the RPC surface served over the websocket. Every exported method
// is callable by the UI.
type App struct {
	ctx      context.Context
	config   *config.Config
	client   llm.Client
	eventHub *eventhub.EventHub
	log      *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewApp creates an App using client for model requests
func NewApp(cfg *config.Config, client llm.Client) *App {
	return &App{
		config:   cfg,
		client:   client,
		log:      logging.Component("app"),
		sessions: make(map[string]*session),
	}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
	a.eventHub = eventhub.New(ctx)
	a.log.Info("askh started", "model_host", a.config.Model.Host, "model", a.config.Model.Name)
}

func (a *App) shutdown(ctx context.Context) {
	a.mu.Lock()
	sessions := a.sessions
	a.sessions = make(map[string]*session)
	a.mu.Unlock()

	for id, s := range sessions {
		s.close()
		a.log.Debug("workspace closed", "workspace", id)
	}
	a.log.Info("askh shutdown complete")
}

func (a *App) setBroadcaster(b eventhub.Broadcaster) {
	a.eventHub.SetBroadcaster(b)
}

// CreateWorkspace allocates a sandbox directory and an empty workspace
func (a *App) CreateWorkspace() (string, error) {
	id := uuid.New().String()
	s, err := a.newSession(id)
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	a.sessions[id] = s
	a.mu.Unlock()

	a.log.Info("workspace created", "workspace", id, "sandbox", s.host.Dir())
	return id, nil
}

func (a *App) newSession(id string) (*session, error) {
	cfg := a.config
	s := &session{}

	host, err := sandbox.NewLocalHost(a.ctx, cfg.GetSandboxPath(id), sandbox.WithPTY(cfg.Preview.UsePTY))
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox: %w", err)
	}
	s.host = host

	storeOpts := []checkpoint.Option{}
	if cfg.Checkpoint.Intern {
		pool, err := checkpoint.NewBlobPool(cfg.Checkpoint.CompressionLevel)
		if err != nil {
			host.Close()
			return nil, fmt.Errorf("failed to create blob pool: %w", err)
		}
		s.pool = pool
		storeOpts = append(storeOpts, checkpoint.WithBlobPool(pool))
	}

	tracker := apperror.NewTracker()
	s.batcher = apperror.NewBatcher(cfg.Errors.QuietWindow, func(b apperror.Batch) {
		a.eventHub.EmitRepairReady(id, b)
	})

	s.preview = preview.New(host, tracker, previewOptions(cfg),
		preview.WithParser(apperror.NewParser(apperror.Limits{
			Summary: cfg.Errors.SummaryLimit,
			Detail:  cfg.Errors.DetailLimit,
			Key:     cfg.Errors.KeyLimit,
		})),
		preview.WithStatusListener(func(st preview.State) {
			a.eventHub.EmitPreviewStatus(id, st)
		}),
		preview.WithErrorListener(func(e *apperror.AppError) {
			a.eventHub.EmitAppError(id, e)
			s.batcher.Add(e)
		}),
		preview.WithClearListener(func() {
			s.batcher.Reset()
			a.eventHub.EmitErrorsCleared(id)
		}),
	)

	s.ws = workspace.New(id, a.client,
		workspace.WithStore(checkpoint.NewStore(storeOpts...)),
		workspace.WithTracker(tracker),
		workspace.WithBatcher(s.batcher),
		workspace.WithDeltaListener(func(delta string) {
			a.eventHub.EmitModelDelta(id, delta)
		}),
	)
	s.ws.OnChange(func(c workspace.Change) {
		a.eventHub.EmitWorkspaceChanged(eventhub.WorkspaceChangedEvent{
			WorkspaceID: id,
			Reason:      string(c.Reason),
			Files:       c.Files,
			Generating:  c.Generating,
		})
		if c.Reason == workspace.ReasonModel && c.Checkpoint != nil {
			a.eventHub.EmitCheckpointCreated(id, *c.Checkpoint)
		}
		s.preview.FilesChanged(c.Files, c.Generating)
		if len(c.Scripts) > 0 {
			go s.preview.RunScripts(c.Scripts)
		}
	})

	w, err := watcher.New(host.Dir(), cfg.Preview.WatchDebounce, func(e watcher.Event) {
		a.diskChanged(s, e)
	})
	if err != nil {
		a.log.Warn("sandbox watcher unavailable", "workspace", id, "error", err)
	} else if err := w.Start(); err != nil {
		a.log.Warn("sandbox watcher failed to start", "workspace", id, "error", err)
		w.Close()
	} else {
		s.watcher = w
	}
	return s, nil
}

// diskChanged turns an edit made directly in the sandbox directory into a
// user edit. Writes made by the sync itself carry the workspace content and
// are no-ops.
func (a *App) diskChanged(s *session, e watcher.Event) {
	if e.Type == watcher.EventDelete || e.Type == watcher.EventRename {
		return
	}
	data, err := os.ReadFile(e.AbsPath)
	if err != nil {
		return
	}
	if err := s.ws.EditFile(e.Path, string(data)); err != nil && !errors.Is(err, workspace.ErrNotFound) {
		a.log.Warn("failed to apply disk edit", "path", e.Path, "error", err)
	}
}

func (s *session) close() {
	if s.watcher != nil {
		s.watcher.Close()
	}
	s.batcher.Close()
	s.preview.Close()
	s.host.Close()
	if s.pool != nil {
		s.pool.Close()
	}
}

func previewOptions(cfg *config.Config) preview.Options {
	opts := preview.Options{
		ManifestPath:   cfg.Preview.ManifestPath,
		MountTimeout:   cfg.Preview.MountTimeout,
		InstallTimeout: cfg.Preview.InstallTimeout,
		StartTimeout:   cfg.Preview.StartTimeout,
		SyncDeletions:  cfg.Preview.SyncDeletions,
	}
	if c := cfg.Preview.InstallCommand; len(c) > 0 {
		opts.InstallCommand = sandbox.Command{Name: c[0], Args: c[1:]}
	}
	if c := cfg.Preview.DevCommand; len(c) > 0 {
		opts.DevCommand = sandbox.Command{Name: c[0], Args: c[1:]}
	}
	return opts
}

func (a *App) get(id string) (*session, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkspaceNotFound, id)
	}
	return s, nil
}

// ListWorkspaces returns the open workspace ids
func (a *App) ListWorkspaces() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := make([]string, 0, len(a.sessions))
	for id := range a.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CloseWorkspace stops the preview and forgets the workspace. The sandbox
// directory is removed.
func (a *App) CloseWorkspace(id string) error {
	a.mu.Lock()
	s, ok := a.sessions[id]
	delete(a.sessions, id)
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkspaceNotFound, id)
	}
	s.close()
	return os.RemoveAll(s.host.Dir())
}

// InitWorkspace generates the first version of the app from prompt
func (a *App) InitWorkspace(ctx context.Context, id, prompt string) (*checkpoint.Checkpoint, error) {
	s, err := a.get(id)
	if err != nil {
		return nil, err
	}
	return s.ws.Init(ctx, prompt)
}

// FollowUp asks the model for the next change
func (a *App) FollowUp(ctx context.Context, id, prompt string) (*checkpoint.Checkpoint, error) {
	s, err := a.get(id)
	if err != nil {
		return nil, err
	}
	return s.ws.FollowUp(ctx, prompt)
}

// ApplyResponse applies a model reply produced elsewhere
func (a *App) ApplyResponse(id, text string) (*checkpoint.Checkpoint, error) {
	s, err := a.get(id)
	if err != nil {
		return nil, err
	}
	return s.ws.ApplyResponse(text)
}

// EnhancePrompt rewrites a prompt with more detail
func (a *App) EnhancePrompt(ctx context.Context, prompt string) (string, error) {
	return llm.EnhancePrompt(ctx, a.client, prompt, nil)
}

// RequestFix sends the latest error batch to the model
func (a *App) RequestFix(ctx context.Context, id string) (*checkpoint.Checkpoint, error) {
	s, err := a.get(id)
	if err != nil {
		return nil, err
	}
	return s.ws.RequestFix(ctx)
}

// EditFile saves a user edit from the editor
func (a *App) EditFile(id, path, content string) error {
	s, err := a.get(id)
	if err != nil {
		return err
	}
	return s.ws.EditFile(path, content)
}

// GetFiles returns the current files
func (a *App) GetFiles(id string) ([]filetree.FlatFile, error) {
	s, err := a.get(id)
	if err != nil {
		return nil, err
	}
	return s.ws.Files(), nil
}

// GetTree returns the current file tree
func (a *App) GetTree(id string) ([]*filetree.FileNode, error) {
	s, err := a.get(id)
	if err != nil {
		return nil, err
	}
	return s.ws.Tree(), nil
}

// GetChat returns the display timeline
func (a *App) GetChat(id string) ([]chat.Item, error) {
	s, err := a.get(id)
	if err != nil {
		return nil, err
	}
	return s.ws.Chat(), nil
}

// GetPendingChanges returns the user edits the next follow-up will report
func (a *App) GetPendingChanges(id string) (string, error) {
	s, err := a.get(id)
	if err != nil {
		return "", err
	}
	return s.ws.Pending(), nil
}

// ListCheckpoints returns the checkpoint timeline
func (a *App) ListCheckpoints(id string) ([]checkpoint.Summary, error) {
	s, err := a.get(id)
	if err != nil {
		return nil, err
	}
	return s.ws.Checkpoints(), nil
}

// RestoreCheckpoint previews an earlier checkpoint, keeping later ones
func (a *App) RestoreCheckpoint(id, checkpointID string) (*checkpoint.Snapshot, error) {
	s, err := a.get(id)
	if err != nil {
		return nil, err
	}
	snap, ok := s.ws.Restore(checkpointID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", checkpoint.ErrNotFound, checkpointID)
	}
	return snap, nil
}

// RevertCheckpoint returns to an earlier checkpoint and discards everything
// after it. The UI confirms before calling.
func (a *App) RevertCheckpoint(id, checkpointID string) (*checkpoint.Snapshot, error) {
	s, err := a.get(id)
	if err != nil {
		return nil, err
	}
	snap, ok := s.ws.Revert(checkpointID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", checkpoint.ErrNotFound, checkpointID)
	}
	return snap, nil
}

// DiffCheckpoints compares two checkpoints
func (a *App) DiffCheckpoints(id, fromID, toID string) (*checkpoint.DiffResult, error) {
	s, err := a.get(id)
	if err != nil {
		return nil, err
	}
	return s.ws.Store().Diff(fromID, toID)
}

// GetPreviewState returns the preview lifecycle state
func (a *App) GetPreviewState(id string) (preview.State, error) {
	s, err := a.get(id)
	if err != nil {
		return preview.State{}, err
	}
	return s.preview.State(), nil
}

// GetProcesses lists the install, dev and script processes of the sandbox
func (a *App) GetProcesses(id string) ([]process.Info, error) {
	s, err := a.get(id)
	if err != nil {
		return nil, err
	}
	return s.host.Processes(), nil
}

// RetryPreview reruns the start sequence after a failure
func (a *App) RetryPreview(id string) error {
	s, err := a.get(id)
	if err != nil {
		return err
	}
	return s.preview.Retry()
}

// RelayRuntimeMessage forwards an uncaught exception from the previewed page
func (a *App) RelayRuntimeMessage(id, message, stack string) error {
	s, err := a.get(id)
	if err != nil {
		return err
	}
	s.host.RelayRuntimeMessage(message, stack)
	return nil
}

// GetErrors returns the live errors, oldest first
func (a *App) GetErrors(id string) ([]*apperror.AppError, error) {
	s, err := a.get(id)
	if err != nil {
		return nil, err
	}
	return s.ws.Tracker().Live(), nil
}

// SaveTimeline writes the checkpoint history to the data directory and
// returns the file path
func (a *App) SaveTimeline(id string) (string, error) {
	s, err := a.get(id)
	if err != nil {
		return "", err
	}
	tl, err := export.FromStore(id, s.ws.Store())
	if err != nil {
		return "", err
	}
	path := a.config.GetTimelinePath(id)
	if err := export.SaveTimeline(path, tl); err != nil {
		return "", err
	}
	return path, nil
}

// ExportZip writes the current files as a zip archive under the exports
// folder and returns its path. An empty name picks a timestamped one.
func (a *App) ExportZip(id, name string) (string, error) {
	s, err := a.get(id)
	if err != nil {
		return "", err
	}
	if name == "" {
		name = fmt.Sprintf("%s-%s.zip", id, time.Now().Format("20060102-150405"))
	}
	dest, err := a.config.ExportPath(name)
	if err != nil {
		return "", err
	}
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer f.Close()

	if err := export.WriteZip(f, "project", s.ws.Files()); err != nil {
		return "", err
	}
	return dest, f.Close()
}

// ExportGit writes the checkpoint history into a new git repository under
// the exports folder and returns its path
func (a *App) ExportGit(id, name string) (string, error) {
	s, err := a.get(id)
	if err != nil {
		return "", err
	}
	if name == "" {
		name = fmt.Sprintf("%s-%s", id, time.Now().Format("20060102-150405"))
	}
	dir, err := a.config.ExportPath(name)
	if err != nil {
		return "", err
	}
	tl, err := export.FromStore(id, s.ws.Store())
	if err != nil {
		return "", err
	}
	n, err := export.WriteGit(dir, tl.Versions, export.Author{})
	if err != nil {
		return "", err
	}
	a.log.Info("git history exported", "workspace", id, "dir", dir, "commits", n)
	return dir, nil
}

// CheckModel verifies that the configured model is available
func (a *App) CheckModel(ctx context.Context) error {
	checker, ok := a.client.(interface {
		CheckModel(context.Context) error
	})
	if !ok {
		return nil
	}
	return checker.CheckModel(ctx)
}
