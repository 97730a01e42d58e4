package eventhub

import (
	"context"
	"sync"

	"askh/internal/apperror"
	"askh/internal/checkpoint"
	"askh/internal/filetree"
	"askh/internal/preview"
)

// Event names pushed to the UI
const (
	EventPreviewStatus     = "preview:status"
	EventPreviewError      = "preview:error"
	EventAppError          = "app-error"
	EventErrorsCleared     = "app-error:cleared"
	EventCheckpointCreated = "checkpoint:created"
	EventWorkspaceChanged  = "workspace:changed"
	EventRepairReady       = "repair:ready"
	EventModelDelta        = "model:delta"
)

// Broadcaster pushes an event to every connected client
type Broadcaster interface {
	BroadcastEvent(eventType string, payload interface{})
}

// EventHub fans workspace and preview events out to the transport
type EventHub struct {
	ctx         context.Context
	mu          sync.RWMutex
	broadcaster Broadcaster
}

// New creates an EventHub with no broadcaster; events are dropped until one
// is set
func New(ctx context.Context) *EventHub {
	return &EventHub{ctx: ctx}
}

// SetBroadcaster sets the transport
func (h *EventHub) SetBroadcaster(b Broadcaster) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcaster = b
}

func (h *EventHub) emit(eventName string, payload interface{}) {
	if h.ctx != nil && h.ctx.Err() != nil {
		return
	}
	h.mu.RLock()
	b := h.broadcaster
	h.mu.RUnlock()
	if b != nil {
		b.BroadcastEvent(eventName, payload)
	}
}

// Emit sends an arbitrary event
func (h *EventHub) Emit(eventName string, payload interface{}) {
	h.emit(eventName, payload)
}

type PreviewStatusEvent struct {
	WorkspaceID string        `json:"workspace_id"`
	State       preview.State `json:"state"`
}

func (h *EventHub) EmitPreviewStatus(workspaceID string, state preview.State) {
	h.emit(EventPreviewStatus, PreviewStatusEvent{WorkspaceID: workspaceID, State: state})
}

// AppErrorEvent carries a classified error. Preview errors come from the
// install and dev-server stages, app errors from the running page.
type AppErrorEvent struct {
	WorkspaceID string             `json:"workspace_id"`
	Error       *apperror.AppError `json:"error"`
}

func (h *EventHub) EmitAppError(workspaceID string, err *apperror.AppError) {
	name := EventPreviewError
	if err.Source == apperror.SourceRuntimeMessage {
		name = EventAppError
	}
	h.emit(name, AppErrorEvent{WorkspaceID: workspaceID, Error: err})
}

func (h *EventHub) EmitErrorsCleared(workspaceID string) {
	h.emit(EventErrorsCleared, map[string]interface{}{
		"workspace_id": workspaceID,
	})
}

type CheckpointCreatedEvent struct {
	WorkspaceID string             `json:"workspace_id"`
	Checkpoint  checkpoint.Summary `json:"checkpoint"`
}

func (h *EventHub) EmitCheckpointCreated(workspaceID string, cp checkpoint.Summary) {
	h.emit(EventCheckpointCreated, CheckpointCreatedEvent{WorkspaceID: workspaceID, Checkpoint: cp})
}

type WorkspaceChangedEvent struct {
	WorkspaceID string              `json:"workspace_id"`
	Reason      string              `json:"reason"`
	Files       []filetree.FlatFile `json:"files"`
	Generating  bool                `json:"generating"`
}

func (h *EventHub) EmitWorkspaceChanged(event WorkspaceChangedEvent) {
	h.emit(EventWorkspaceChanged, event)
}

type RepairReadyEvent struct {
	WorkspaceID string         `json:"workspace_id"`
	Batch       apperror.Batch `json:"batch"`
}

func (h *EventHub) EmitRepairReady(workspaceID string, batch apperror.Batch) {
	h.emit(EventRepairReady, RepairReadyEvent{WorkspaceID: workspaceID, Batch: batch})
}

// EmitModelDelta streams model output while a response is generated
func (h *EventHub) EmitModelDelta(workspaceID, delta string) {
	h.emit(EventModelDelta, map[string]interface{}{
		"workspace_id": workspaceID,
		"delta":        delta,
	})
}
