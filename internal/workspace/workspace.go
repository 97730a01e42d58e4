// Package workspace drives one prompt-to-app session: it owns the current
// file tree and model conversation, applies model responses and user edits,
// and snapshots every model response into the checkpoint store.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"askh/internal/apperror"
	"askh/internal/artifact"
	"askh/internal/chat"
	"askh/internal/checkpoint"
	"askh/internal/filetree"
	"askh/internal/llm"
	"askh/internal/logging"
	"askh/internal/modsummary"
)

var (
	// ErrBusy is returned when a model request is already running
	ErrBusy = errors.New("model request already in progress")
	// ErrNotFound is returned by EditFile for a path that is not in the tree
	ErrNotFound = errors.New("file not found")
	// ErrInitialized is returned by Init on a workspace that already has files
	ErrInitialized = errors.New("workspace already initialized")
	// ErrNothingToFix is returned by RequestFix when no actionable error is known
	ErrNothingToFix = errors.New("no errors to fix")
)

// Phase is the generation phase of the workspace
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseBuilding Phase = "building"
	PhaseReady    Phase = "ready"
)

// Reason says what produced a Change
type Reason string

const (
	ReasonTemplate Reason = "template"
	ReasonModel    Reason = "model"
	ReasonEdit     Reason = "edit"
	ReasonRestore  Reason = "restore"
	ReasonRevert   Reason = "revert"
)

// Change is delivered to listeners once per committed batch of file changes
type Change struct {
	Reason     Reason              `json:"reason"`
	Files      []filetree.FlatFile `json:"files"`
	Generating bool                `json:"generating"`
	// Scripts are run-script commands from a model response, in order
	Scripts []string `json:"scripts,omitempty"`
	// Checkpoint is set when the change created or restored a checkpoint
	Checkpoint *checkpoint.Summary `json:"checkpoint,omitempty"`
}

// Option configures a Workspace
type Option func(*Workspace)

// WithStore uses store instead of a fresh in-memory store
func WithStore(store *checkpoint.Store) Option {
	return func(w *Workspace) { w.store = store }
}

// WithTracker shares an error tracker with the preview controller
func WithTracker(t *apperror.Tracker) Option {
	return func(w *Workspace) { w.tracker = t }
}

// WithBatcher supplies the batcher whose last batch RequestFix sends
func WithBatcher(b *apperror.Batcher) Option {
	return func(w *Workspace) { w.batcher = b }
}

// WithDeltaListener receives streamed model text
func WithDeltaListener(fn func(string)) Option {
	return func(w *Workspace) { w.onDelta = fn }
}

// Workspace is safe for concurrent use
type Workspace struct {
	ID string

	client  llm.Client
	store   *checkpoint.Store
	chat    *chat.Log
	tracker *apperror.Tracker
	batcher *apperror.Batcher
	onDelta func(string)
	log     *slog.Logger

	mu       sync.Mutex
	tree     []*filetree.FileNode
	messages []llm.Message
	phase    Phase
	// lastSeen is the flat tree as of the last model response; nil until
	// the model has answered once
	lastSeen []filetree.FlatFile

	listenerMu sync.RWMutex
	listeners  []func(Change)
}

// New creates an empty workspace backed by client
func New(id string, client llm.Client, opts ...Option) *Workspace {
	w := &Workspace{
		ID:     id,
		client: client,
		chat:   chat.NewLog(),
		phase:  PhaseIdle,
		log:    logging.Component("workspace").With("workspace", id),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.store == nil {
		w.store = checkpoint.NewStore()
	}
	if w.tracker == nil {
		w.tracker = apperror.NewTracker()
	}
	return w
}

// OnChange registers fn for every committed change
func (w *Workspace) OnChange(fn func(Change)) {
	w.listenerMu.Lock()
	defer w.listenerMu.Unlock()
	w.listeners = append(w.listeners, fn)
}

func (w *Workspace) notify(c Change) {
	w.listenerMu.RLock()
	listeners := make([]func(Change), len(w.listeners))
	copy(listeners, w.listeners)
	w.listenerMu.RUnlock()

	for _, fn := range listeners {
		fn(c)
	}
}

// Init seeds the workspace from a project template and asks the model to
// build prompt on top of it. The response becomes checkpoint v1.
func (w *Workspace) Init(ctx context.Context, prompt string) (*checkpoint.Checkpoint, error) {
	w.mu.Lock()
	if w.phase == PhaseBuilding {
		w.mu.Unlock()
		return nil, ErrBusy
	}
	if len(w.tree) > 0 || w.store.Len() > 0 {
		w.mu.Unlock()
		return nil, ErrInitialized
	}
	w.phase = PhaseBuilding
	w.mu.Unlock()

	kind, err := llm.Classify(ctx, w.client, prompt)
	if err != nil {
		if ctx.Err() != nil {
			w.setPhase(PhaseIdle)
			return nil, ctx.Err()
		}
		w.log.Warn("project classification failed", "error", err, "fallback", kind)
	}
	w.log.Info("initializing workspace", "project_type", kind)

	templateArtifact := artifact.Build("project-import", "Project Files", llm.Template(kind))
	tmpl, err := artifact.Parse(templateArtifact)
	if err != nil {
		w.setPhase(PhaseIdle)
		return nil, fmt.Errorf("template artifact: %w", err)
	}
	applied := filetree.ApplyOperations(nil, tmpl.Operations)

	w.mu.Lock()
	w.tree = applied.Tree
	files := filetree.Flatten(w.tree)
	w.mu.Unlock()
	w.chat.AppendUser(prompt)
	w.notify(Change{Reason: ReasonTemplate, Files: files, Generating: true})

	prompts := []llm.Message{
		{Role: llm.RoleUser, Content: llm.TemplatePrompt(templateArtifact)},
		{Role: llm.RoleUser, Content: prompt},
	}
	resp, err := w.client.Chat(ctx, withSystem(prompts), w.onDelta)
	if err != nil {
		w.rollbackInit()
		return nil, fmt.Errorf("model request: %w", err)
	}
	return w.commit(prompts, resp, true)
}

// rollbackInit drops the template after a failed first request so Init can
// be called again. Listeners see the empty tree with generation finished.
func (w *Workspace) rollbackInit() {
	w.mu.Lock()
	w.tree = nil
	w.phase = PhaseIdle
	w.mu.Unlock()
	w.chat.Clear()
	w.notify(Change{Reason: ReasonTemplate})
}

// FollowUp sends prompt as the next user turn. Edits made since the last
// model response are summarized in front of it.
func (w *Workspace) FollowUp(ctx context.Context, prompt string) (*checkpoint.Checkpoint, error) {
	w.mu.Lock()
	if w.phase == PhaseBuilding {
		w.mu.Unlock()
		return nil, ErrBusy
	}
	content := prompt
	if w.lastSeen != nil {
		content = modsummary.Prepend(w.lastSeen, filetree.Flatten(w.tree), prompt)
	}
	user := llm.Message{Role: llm.RoleUser, Content: content}
	messages := append(llm.CloneMessages(w.messages), user)
	w.phase = PhaseBuilding
	w.mu.Unlock()

	w.chat.AppendUser(prompt)

	resp, err := w.client.Chat(ctx, withSystem(messages), w.onDelta)
	if err != nil {
		w.setPhase(PhaseReady)
		return nil, fmt.Errorf("model request: %w", err)
	}
	return w.commit([]llm.Message{user}, resp, false)
}

// ApplyResponse applies a model reply that was obtained out of band, as if
// it answered the current conversation.
func (w *Workspace) ApplyResponse(text string) (*checkpoint.Checkpoint, error) {
	w.mu.Lock()
	if w.phase == PhaseBuilding {
		w.mu.Unlock()
		return nil, ErrBusy
	}
	w.mu.Unlock()
	return w.commit(nil, text, false)
}

// commit applies resp, appends the exchange to the conversation and
// snapshots the result.
func (w *Workspace) commit(userMessages []llm.Message, resp string, fresh bool) (*checkpoint.Checkpoint, error) {
	var ops []filetree.Operation
	a, err := artifact.Parse(resp)
	switch {
	case err == nil:
		ops = a.Operations
	case errors.Is(err, artifact.ErrNoArtifact):
		w.log.Info("model response carries no artifact")
	default:
		w.setPhase(PhaseReady)
		return nil, fmt.Errorf("parse model response: %w", err)
	}

	w.mu.Lock()
	result := filetree.ApplyOperations(w.tree, ops)
	for _, warning := range result.Warnings {
		w.log.Warn("skipped operation", "detail", warning)
	}

	messages := append(llm.CloneMessages(w.messages), userMessages...)
	messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp})

	cp, err := w.store.Create(result.Tree, messages, artifact.Title(resp))
	if err != nil {
		w.phase = PhaseReady
		w.mu.Unlock()
		return nil, fmt.Errorf("create checkpoint: %w", err)
	}

	w.tree = result.Tree
	w.messages = messages
	w.lastSeen = filetree.Flatten(w.tree)
	w.phase = PhaseReady
	files := append([]filetree.FlatFile(nil), w.lastSeen...)
	w.mu.Unlock()

	w.tracker.ModelApplied()
	if fresh {
		w.tracker.Clear()
	}
	if w.batcher != nil {
		w.batcher.Reset()
	}
	w.chat.Append([]llm.Message{{Role: llm.RoleAssistant, Content: artifact.Narrative(resp)}}, cp.ID)

	w.log.Info("checkpoint created", "checkpoint", cp.ID, "version", cp.Version,
		"touched", len(result.Touched), "scripts", len(result.Scripts))

	sum := summaryOf(cp, len(files))
	w.notify(Change{Reason: ReasonModel, Files: files, Scripts: result.Scripts, Checkpoint: &sum})
	return cp, nil
}

// EditFile replaces the content of an existing file on behalf of the user
func (w *Workspace) EditFile(path, content string) error {
	path = filetree.NormalizePath(path)

	w.mu.Lock()
	if node := filetree.Find(w.tree, path); node != nil && node.IsFile() && node.Content == content {
		w.mu.Unlock()
		return nil
	}
	tree, ok := filetree.UpdateByPath(w.tree, path, content)
	if !ok {
		w.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	w.tree = tree
	files := filetree.Flatten(w.tree)
	generating := w.phase == PhaseBuilding
	w.mu.Unlock()

	w.tracker.UserEdited()
	w.log.Debug("file edited", "path", path)
	w.notify(Change{Reason: ReasonEdit, Files: files, Generating: generating})
	return nil
}

// Restore makes checkpoint id the current state without discarding later
// checkpoints. ok is false for unknown ids.
func (w *Workspace) Restore(id string) (*checkpoint.Snapshot, bool) {
	snap, ok := w.store.Restore(id)
	if !ok {
		return nil, false
	}
	w.apply(snap, ReasonRestore)
	return snap, true
}

// Revert restores checkpoint id and discards every later checkpoint and
// the chat history that followed it.
func (w *Workspace) Revert(id string) (*checkpoint.Snapshot, bool) {
	snap, ok := w.store.Revert(id)
	if !ok {
		return nil, false
	}
	w.chat.TruncateAfterCheckpoint(id)
	w.apply(snap, ReasonRevert)
	return snap, true
}

func (w *Workspace) apply(snap *checkpoint.Snapshot, reason Reason) {
	w.mu.Lock()
	w.tree = filetree.CloneTree(snap.Tree)
	w.messages = llm.CloneMessages(snap.Messages)
	w.lastSeen = append([]filetree.FlatFile(nil), snap.Files...)
	w.phase = PhaseReady
	files := append([]filetree.FlatFile(nil), snap.Files...)
	w.mu.Unlock()

	// the restored files are what the model saw when it produced them
	w.tracker.ModelApplied()
	w.tracker.Clear()
	if w.batcher != nil {
		w.batcher.Reset()
	}

	w.log.Info("checkpoint applied", "reason", reason, "checkpoint", snap.Checkpoint.ID,
		"version", snap.Checkpoint.Version)
	sum := snap.Checkpoint
	w.notify(Change{Reason: reason, Files: files, Checkpoint: &sum})
}

// RequestFix asks the model to repair the most recent batch of errors
func (w *Workspace) RequestFix(ctx context.Context) (*checkpoint.Checkpoint, error) {
	var body string
	if w.batcher != nil {
		w.batcher.Flush()
		if batch, ok := w.batcher.Last(); ok {
			body = batch.Context
		}
	}
	if body == "" {
		var actionable []*apperror.AppError
		for _, e := range w.tracker.Live() {
			if e.Actionable() {
				actionable = append(actionable, e)
			}
		}
		body = apperror.RepairContext(actionable)
	}
	if body == "" {
		return nil, ErrNothingToFix
	}
	return w.FollowUp(ctx, FixPrompt(body))
}

// FixPrompt is the follow-up prompt for a repair request
func FixPrompt(details string) string {
	return "The app reports the following errors. Fix them:\n\n" + details
}

// EnhancePrompt rewrites prompt with more detail without touching the
// conversation
func (w *Workspace) EnhancePrompt(ctx context.Context, prompt string) (string, error) {
	return llm.EnhancePrompt(ctx, w.client, prompt, w.onDelta)
}

func (w *Workspace) setPhase(p Phase) {
	w.mu.Lock()
	w.phase = p
	w.mu.Unlock()
}

// Phase returns the current phase
func (w *Workspace) Phase() Phase {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.phase
}

// Files returns the current flat file list
func (w *Workspace) Files() []filetree.FlatFile {
	w.mu.Lock()
	defer w.mu.Unlock()
	return filetree.Flatten(w.tree)
}

// Tree returns a copy of the current tree
func (w *Workspace) Tree() []*filetree.FileNode {
	w.mu.Lock()
	defer w.mu.Unlock()
	return filetree.CloneTree(w.tree)
}

// Messages returns a copy of the model conversation
func (w *Workspace) Messages() []llm.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return llm.CloneMessages(w.messages)
}

// Pending returns the modification summary the next follow-up would carry
func (w *Workspace) Pending() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lastSeen == nil {
		return ""
	}
	return modsummary.Build(w.lastSeen, filetree.Flatten(w.tree))
}

// Chat returns the display timeline
func (w *Workspace) Chat() []chat.Item {
	return w.chat.Items()
}

// Checkpoints lists the checkpoint timeline
func (w *Workspace) Checkpoints() []checkpoint.Summary {
	return w.store.List()
}

// Store exposes the checkpoint store
func (w *Workspace) Store() *checkpoint.Store {
	return w.store
}

// Tracker exposes the error tracker
func (w *Workspace) Tracker() *apperror.Tracker {
	return w.tracker
}

func withSystem(messages []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages)+1)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: llm.SystemPrompt})
	return append(out, messages...)
}

func summaryOf(cp *checkpoint.Checkpoint, fileCount int) checkpoint.Summary {
	return checkpoint.Summary{
		ID:        cp.ID,
		Version:   cp.Version,
		Label:     cp.Label,
		CreatedAt: cp.CreatedAt,
		FileCount: fileCount,
	}
}
