// internal/process/process.go
package process

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// maxOutput is the amount of combined output kept for classification
const maxOutput = 64 * 1024

// Spec describes a process to start
type Spec struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
	// PTY runs the command under a pseudo terminal so tools keep their
	// colored, line-buffered output.
	PTY bool
	// OnLine receives each line of combined output, in order, on the
	// reader goroutine.
	OnLine func(line string)
}

// String returns the command line
func (s Spec) String() string {
	return strings.TrimSpace(s.Command + " " + strings.Join(s.Args, " "))
}

// Process represents a managed process
type Process struct {
	Key     string
	Command string
	PID     int

	mu       sync.Mutex
	done     chan struct{}
	running  bool
	exitCode int
	waitErr  error
	output   []byte

	signal func(os.Signal) error
}

func newProcess(key string, spec Spec) *Process {
	return &Process{
		Key:      key,
		Command:  spec.String(),
		done:     make(chan struct{}),
		exitCode: -1,
	}
}

// start launches spec with stdout and stderr merged into one pipe
func (p *Process) start(ctx context.Context, spec Spec) error {
	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	if spec.Env != nil {
		cmd.Env = spec.Env
	}

	// Set process group for proper signal handling
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	r, w, err := os.Pipe()
	if err != nil {
		return err
	}
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return err
	}
	w.Close()

	p.mu.Lock()
	p.PID = cmd.Process.Pid
	p.running = true
	p.signal = func(sig os.Signal) error {
		if s, ok := sig.(syscall.Signal); ok {
			return syscall.Kill(-cmd.Process.Pid, s)
		}
		return cmd.Process.Signal(sig)
	}
	p.mu.Unlock()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		p.readLines(r, spec.OnLine)
		r.Close()
	}()

	// Wait goroutine
	go func() {
		err := cmd.Wait()
		<-readDone
		p.finish(exitCodeOf(cmd.ProcessState, err), err)
	}()

	return nil
}

func (p *Process) readLines(r io.Reader, onLine func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		p.appendOutput(line)
		if onLine != nil {
			onLine(line)
		}
	}
}

func (p *Process) appendOutput(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.output = append(p.output, line...)
	p.output = append(p.output, '\n')
	if len(p.output) > maxOutput {
		p.output = p.output[len(p.output)-maxOutput:]
	}
}

func (p *Process) finish(code int, err error) {
	p.mu.Lock()
	p.running = false
	p.exitCode = code
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.waitErr = err
	}
	p.mu.Unlock()
	close(p.done)
}

func exitCodeOf(state *os.ProcessState, err error) int {
	if state != nil {
		return state.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

// IsRunning returns whether the process is running
func (p *Process) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Output returns the tail of the combined output seen so far
func (p *Process) Output() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.output)
}

// ExitCode returns the exit code, or -1 while running or when killed by a
// signal
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Signal sends a signal to the process group
func (p *Process) Signal(sig os.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running || p.signal == nil {
		return nil
	}

	return p.signal(sig)
}

// GracefulShutdown attempts to gracefully shutdown the process
func (p *Process) GracefulShutdown(ctx context.Context) error {
	// 1. Try SIGINT first
	p.Signal(syscall.SIGINT)

	select {
	case <-p.done:
		return nil
	case <-time.After(5 * time.Second):
	case <-ctx.Done():
		return ctx.Err()
	}

	// 2. Try SIGTERM
	p.Signal(syscall.SIGTERM)

	select {
	case <-p.done:
		return nil
	case <-time.After(3 * time.Second):
	case <-ctx.Done():
		return ctx.Err()
	}

	// 3. Force SIGKILL
	return p.Signal(syscall.SIGKILL)
}

// Wait blocks until the process exits or ctx is done and returns the exit
// code
func (p *Process) Wait(ctx context.Context) (int, error) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.exitCode, p.waitErr
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// Done returns a channel that closes when the process exits
func (p *Process) Done() <-chan struct{} {
	return p.done
}
