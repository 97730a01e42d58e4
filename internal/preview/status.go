// Package preview keeps a sandbox in step with the workspace files and
// drives the install and dev-server lifecycle of the live preview.
package preview

import (
	"errors"
	"time"

	"askh/internal/sandbox"
)

// Status is the lifecycle state of the preview
type Status string

const (
	StatusIdle       Status = "idle"
	StatusBuilding   Status = "building"
	StatusMounting   Status = "mounting"
	StatusInstalling Status = "installing"
	StatusStarting   Status = "starting"
	StatusRunning    Status = "running"
	StatusError      Status = "error"
)

var (
	// ErrBusy is returned when a start sequence is already in flight
	ErrBusy = errors.New("preview start already in progress")
	// ErrNotRetryable is returned by Retry outside the idle and error states
	ErrNotRetryable = errors.New("preview can only be retried from idle or error")
	// ErrStageTimeout marks a mount, install or start stage that ran too long
	ErrStageTimeout = errors.New("preview stage timed out")
	// ErrNoManifest is returned when the workspace has no dependency manifest
	ErrNoManifest = errors.New("workspace has no dependency manifest")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("preview controller closed")
)

// State is a snapshot of the preview lifecycle
type State struct {
	Status    Status    `json:"status"`
	URL       string    `json:"url,omitempty"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Options configure a Controller
type Options struct {
	ManifestPath   string
	InstallCommand sandbox.Command
	DevCommand     sandbox.Command
	MountTimeout   time.Duration
	InstallTimeout time.Duration
	StartTimeout   time.Duration
	// OutputQuiet is how long a multi-line error block in dev output may
	// wait for more lines before it is classified
	OutputQuiet time.Duration
	// SyncDeletions removes files from the sandbox when they disappear from
	// the workspace. Without it removed files stay behind.
	SyncDeletions bool
}

// DefaultOptions returns options for an npm + vite project
func DefaultOptions() Options {
	return Options{
		ManifestPath:   "/package.json",
		InstallCommand: sandbox.Command{Name: "npm", Args: []string{"install"}},
		DevCommand:     sandbox.Command{Name: "npm", Args: []string{"run", "dev"}},
		MountTimeout:   30 * time.Second,
		InstallTimeout: 5 * time.Minute,
		StartTimeout:   2 * time.Minute,
		OutputQuiet:    150 * time.Millisecond,
		SyncDeletions:  true,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ManifestPath == "" {
		o.ManifestPath = d.ManifestPath
	}
	if o.InstallCommand.Name == "" {
		o.InstallCommand = d.InstallCommand
	}
	if o.DevCommand.Name == "" {
		o.DevCommand = d.DevCommand
	}
	if o.MountTimeout <= 0 {
		o.MountTimeout = d.MountTimeout
	}
	if o.InstallTimeout <= 0 {
		o.InstallTimeout = d.InstallTimeout
	}
	if o.StartTimeout <= 0 {
		o.StartTimeout = d.StartTimeout
	}
	if o.OutputQuiet <= 0 {
		o.OutputQuiet = d.OutputQuiet
	}
	return o
}
