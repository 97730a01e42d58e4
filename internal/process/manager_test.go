package process

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

func sleeper() Spec {
	return Spec{Command: "sleep", Args: []string{"10"}, Dir: "/tmp"}
}

func waitRunning(t *testing.T, m *Manager, want int) []Info {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		infos := m.Running()
		if len(infos) == want || time.Now().After(deadline) {
			return infos
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestManagerSpawnCapturesOutput(t *testing.T) {
	ctx := context.Background()
	manager := NewManager(ctx)

	var mu sync.Mutex
	var lines []string
	proc, err := manager.Spawn("install", Spec{
		Command: "sh",
		Args:    []string{"-c", "echo hello; echo oops 1>&2; exit 3"},
		Dir:     t.TempDir(),
		OnLine: func(line string) {
			mu.Lock()
			lines = append(lines, line)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	if proc.Key != "install" {
		t.Errorf("Expected key 'install', got '%s'", proc.Key)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	code, err := proc.Wait(waitCtx)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if code != 3 {
		t.Errorf("Expected exit code 3, got %d", code)
	}

	out := proc.Output()
	if !strings.Contains(out, "hello") || !strings.Contains(out, "oops") {
		t.Errorf("Expected combined output, got %q", out)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(lines) != 2 {
		t.Errorf("Expected 2 lines, got %v", lines)
	}

	if infos := waitRunning(t, manager, 0); len(infos) != 0 {
		t.Errorf("Expected exited process to be forgotten, got %v", infos)
	}
}

func TestManagerSpawnMissingCommand(t *testing.T) {
	manager := NewManager(context.Background())
	if _, err := manager.Spawn("dev", Spec{Command: "definitely-not-a-command-askh"}); err == nil {
		t.Error("Expected error for missing command")
	}
	if len(manager.Running()) != 0 {
		t.Error("Expected nothing tracked after a failed spawn")
	}
}

func TestManagerRespawnReplacesRole(t *testing.T) {
	manager := NewManager(context.Background())
	defer manager.KillAll()

	first, err := manager.Spawn("dev", sleeper())
	if err != nil {
		t.Fatalf("First spawn failed: %v", err)
	}
	second, err := manager.Spawn("dev", sleeper())
	if err != nil {
		t.Fatalf("Second spawn failed: %v", err)
	}

	select {
	case <-first.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Expected the previous dev process to be stopped")
	}

	// the old process exiting must not evict its successor
	time.Sleep(100 * time.Millisecond)
	infos := manager.Running()
	if len(infos) != 1 || infos[0].Key != "dev" || infos[0].PID != second.PID {
		t.Errorf("Expected only the new dev process, got %v", infos)
	}
}

func TestManagerRunningAndKillAll(t *testing.T) {
	manager := NewManager(context.Background())

	for _, key := range []string{"script-1", "dev", "install"} {
		if _, err := manager.Spawn(key, sleeper()); err != nil {
			t.Fatalf("Spawn %s failed: %v", key, err)
		}
	}

	infos := manager.Running()
	if len(infos) != 3 {
		t.Fatalf("Expected 3 processes, got %v", infos)
	}
	if infos[0].Key != "dev" || infos[1].Key != "install" || infos[2].Key != "script-1" {
		t.Errorf("Expected processes sorted by key, got %v", infos)
	}
	if infos[0].Command != "sleep 10" || infos[0].PID == 0 {
		t.Errorf("Unexpected info %+v", infos[0])
	}

	manager.KillAll()
	if len(manager.Running()) != 0 {
		t.Error("Expected no processes after KillAll")
	}
}
