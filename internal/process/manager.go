package process

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Info describes a tracked process
type Info struct {
	Key     string `json:"key"`
	Command string `json:"command"`
	PID     int    `json:"pid"`
}

// Manager tracks the processes of one sandbox by key. Keys name a role
// ("install", "dev"); starting a role again stops its previous process
// first, so a sandbox never runs two dev servers.
type Manager struct {
	ctx       context.Context
	processes map[string]*Process
	mu        sync.RWMutex
}

// NewManager creates a manager whose processes are bound to ctx
func NewManager(ctx context.Context) *Manager {
	return &Manager{
		ctx:       ctx,
		processes: make(map[string]*Process),
	}
}

// Spawn starts spec under key, stopping the process that held key before
func (m *Manager) Spawn(key string, spec Spec) (*Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if previous, ok := m.processes[key]; ok {
		previous.GracefulShutdown(m.ctx)
		delete(m.processes, key)
	}

	proc := newProcess(key, spec)
	var err error
	if spec.PTY {
		err = proc.startPTY(m.ctx, spec)
	} else {
		err = proc.start(m.ctx, spec)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", spec.String(), err)
	}
	m.processes[key] = proc

	go func() {
		<-proc.Done()
		m.mu.Lock()
		if m.processes[key] == proc {
			delete(m.processes, key)
		}
		m.mu.Unlock()
	}()

	return proc, nil
}

// Running returns the live processes sorted by key
func (m *Manager) Running() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]Info, 0, len(m.processes))
	for key, proc := range m.processes {
		infos = append(infos, Info{Key: key, Command: proc.Command, PID: proc.PID})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos
}

// KillAll stops every process concurrently and forgets them
func (m *Manager) KillAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var wg sync.WaitGroup
	for _, proc := range m.processes {
		wg.Add(1)
		go func(p *Process) {
			defer wg.Done()
			p.GracefulShutdown(m.ctx)
		}(proc)
	}
	wg.Wait()

	m.processes = make(map[string]*Process)
}
