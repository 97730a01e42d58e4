// Package sandbox is the boundary to the environment that runs the
// generated app: it mounts files, runs install and dev processes and relays
// events from the previewed page.
package sandbox

import (
	"context"
	"strings"

	"askh/internal/filetree"
)

// EventType names host events
type EventType string

const (
	// EventRuntimeMessage is an uncaught exception or unhandled rejection
	// relayed from the previewed page
	EventRuntimeMessage EventType = "runtime-message"
	// EventServerReady carries the URL the dev server listens on
	EventServerReady EventType = "server-ready"
)

// Event is emitted by a Host
type Event struct {
	Type    EventType `json:"type"`
	URL     string    `json:"url,omitempty"`
	Port    int       `json:"port,omitempty"`
	Message string    `json:"message,omitempty"`
	Stack   string    `json:"stack,omitempty"`
}

// Command is a program and its arguments
type Command struct {
	Name string
	Args []string
	// Role names the long-lived process slot ("install", "dev"). Starting a
	// role again replaces the process that held it. Empty for one-off runs.
	Role string
}

const (
	RoleInstall = "install"
	RoleDev     = "dev"
)

// Shell wraps a script in sh -c
func Shell(script string) Command {
	return Command{Name: "sh", Args: []string{"-c", script}}
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Handle is a running process
type Handle interface {
	// Wait blocks until the process exits and returns its exit code
	Wait(ctx context.Context) (int, error)
	// Output returns the combined output captured so far
	Output() string
	Kill() error
}

// Host runs the generated app
type Host interface {
	Mount(ctx context.Context, files []filetree.FlatFile) error
	// Spawn starts cmd. onLine receives each output line in order.
	Spawn(ctx context.Context, cmd Command, onLine func(string)) (Handle, error)
	WriteFile(ctx context.Context, path, content string) error
	// Subscribe registers fn for host events and returns a function that
	// removes it
	Subscribe(fn func(Event)) (unsubscribe func())
}

// Remover is implemented by hosts that can delete files
type Remover interface {
	RemoveFile(ctx context.Context, path string) error
}
